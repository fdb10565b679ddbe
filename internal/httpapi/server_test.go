package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vanish-chat/vanish/internal/auth"
	"github.com/vanish-chat/vanish/internal/lifecycle"
	"github.com/vanish-chat/vanish/internal/message"
	"github.com/vanish-chat/vanish/internal/room"
)

type fakeBus struct {
	mu       sync.Mutex
	messages int
	destroys int
}

func (b *fakeBus) PublishMessage(string, *message.Message) error {
	b.mu.Lock()
	b.messages++
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) PublishDestroy(string) error {
	b.mu.Lock()
	b.destroys++
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) counts() (messages, destroys int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.messages, b.destroys
}

func newTestServer(t *testing.T, config Config) (*httptest.Server, *fakeBus, *redis.Client) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	rooms := room.NewStore(client, 60*time.Second)
	bus := &fakeBus{}
	ctrl := lifecycle.NewController(rooms, room.NewGate(client), message.NewStore(client), bus, nil)
	resolver := auth.NewResolver(rooms, false)

	srv := New(ctrl, resolver, nil, config)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, bus, client
}

func doJSON(t *testing.T, method, url string, body interface{}, cookie *http.Cookie) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	fields := map[string]json.RawMessage{}
	if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
		t.Fatalf("%s %s: decode response: %v", method, url, err)
	}
	return resp, fields
}

func jsonString(t *testing.T, fields map[string]json.RawMessage, key string) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(fields[key], &s); err != nil {
		t.Fatalf("field %q: %v", key, err)
	}
	return s
}

func authCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == auth.CookieName {
			return c
		}
	}
	t.Fatal("response did not set the auth cookie")
	return nil
}

// TestRoomScenario drives the full life of a room: create, two joins, a
// rejected third join, a posted message visible to both members with the
// author token redacted for the non-author, and destruction.
func TestRoomScenario(t *testing.T) {
	ts, bus, _ := newTestServer(t, DefaultConfig())

	// Create.
	resp, fields := doJSON(t, "POST", ts.URL+"/api/room/create", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: status %d", resp.StatusCode)
	}
	roomID := jsonString(t, fields, "roomId")
	joinCode := jsonString(t, fields, "joinCode")
	if roomID == "" || len(joinCode) != room.JoinCodeDigits {
		t.Fatalf("create returned roomId=%q joinCode=%q", roomID, joinCode)
	}

	// Two distinct clients join via the code.
	join := func() (*http.Cookie, string) {
		resp, fields := doJSON(t, "POST", ts.URL+"/api/room/join", map[string]string{"code": joinCode}, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("join: status %d", resp.StatusCode)
		}
		if got := jsonString(t, fields, "roomId"); got != roomID {
			t.Fatalf("join resolved %q, want %q", got, roomID)
		}
		c := authCookie(t, resp)
		return c, c.Value
	}
	cookieA, tokenA := join()
	cookieB, tokenB := join()
	if tokenA == tokenB {
		t.Fatal("both members received the same token")
	}

	// Third join is rejected with a distinct capacity error.
	resp, fields = doJSON(t, "POST", ts.URL+"/api/room/join", map[string]string{"code": joinCode}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("third join: status %d", resp.StatusCode)
	}
	if got := jsonString(t, fields, "error"); got != "room_full" {
		t.Fatalf("third join: error %q", got)
	}

	// Member A posts a message.
	resp, _ = doJSON(t, "POST", ts.URL+"/api/messages?roomId="+roomID,
		map[string]string{"sender": "alice", "text": "hello"}, cookieA)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("post message: status %d", resp.StatusCode)
	}
	if n, _ := bus.counts(); n != 1 {
		t.Errorf("expected one message event published, got %d", n)
	}

	// Both members list; the author token is visible only to the author.
	list := func(c *http.Cookie) []message.Message {
		resp, fields := doJSON(t, "GET", ts.URL+"/api/messages?roomId="+roomID, nil, c)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("list: status %d", resp.StatusCode)
		}
		var msgs []message.Message
		if err := json.Unmarshal(fields["messages"], &msgs); err != nil {
			t.Fatalf("decode messages: %v", err)
		}
		return msgs
	}
	forA := list(cookieA)
	if len(forA) != 1 || forA[0].Text != "hello" || forA[0].Token != tokenA {
		t.Errorf("author listing wrong: %+v", forA)
	}
	forB := list(cookieB)
	if len(forB) != 1 || forB[0].Token != "" {
		t.Errorf("non-author listing must redact token: %+v", forB)
	}

	// TTL reads: authorized sees the countdown, unauthorized sees zero.
	resp, fields = doJSON(t, "GET", ts.URL+"/api/room/ttl?roomId="+roomID, nil, cookieA)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ttl: status %d", resp.StatusCode)
	}
	var ttl int64
	json.Unmarshal(fields["ttl"], &ttl)
	if ttl <= 0 || ttl > 60 {
		t.Errorf("ttl out of range: %d", ttl)
	}
	resp, fields = doJSON(t, "GET", ts.URL+"/api/room/ttl?roomId="+roomID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unauthorized ttl: status %d", resp.StatusCode)
	}
	json.Unmarshal(fields["ttl"], &ttl)
	if ttl != 0 {
		t.Errorf("unauthorized ttl must read 0, got %d", ttl)
	}

	// Destroy.
	resp, _ = doJSON(t, "DELETE", ts.URL+"/api/room?roomId="+roomID, nil, cookieB)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("destroy: status %d", resp.StatusCode)
	}
	if _, n := bus.counts(); n != 1 {
		t.Errorf("expected exactly one destroy event, got %d", n)
	}

	// The room is gone: the credential no longer resolves, and the TTL
	// reads as expired.
	resp, _ = doJSON(t, "GET", ts.URL+"/api/messages?roomId="+roomID, nil, cookieA)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("list after destroy: status %d, want 401", resp.StatusCode)
	}
	resp, fields = doJSON(t, "GET", ts.URL+"/api/room/ttl?roomId="+roomID, nil, cookieA)
	json.Unmarshal(fields["ttl"], &ttl)
	if ttl != 0 {
		t.Errorf("ttl after destroy must read 0, got %d", ttl)
	}
}

func TestJoin_InvalidCode(t *testing.T) {
	ts, _, _ := newTestServer(t, DefaultConfig())

	resp, fields := doJSON(t, "POST", ts.URL+"/api/room/join", map[string]string{"code": "999999"}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d, want 404", resp.StatusCode)
	}
	if got := jsonString(t, fields, "error"); got != "invalid_or_expired_code" {
		t.Errorf("error %q, want invalid_or_expired_code", got)
	}
}

func TestEnterRoom_SetsCookie(t *testing.T) {
	ts, _, _ := newTestServer(t, DefaultConfig())

	resp, fields := doJSON(t, "POST", ts.URL+"/api/room/create", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: status %d", resp.StatusCode)
	}
	roomID := jsonString(t, fields, "roomId")

	resp, _ = doJSON(t, "POST", ts.URL+"/api/room/enter?roomId="+roomID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("enter: status %d", resp.StatusCode)
	}
	c := authCookie(t, resp)
	if !c.HttpOnly {
		t.Error("auth cookie must be HttpOnly")
	}

	// Re-entry with the cookie is idempotent.
	resp, _ = doJSON(t, "POST", ts.URL+"/api/room/enter?roomId="+roomID, nil, c)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("re-enter: status %d", resp.StatusCode)
	}
	if got := authCookie(t, resp); got.Value != c.Value {
		t.Errorf("re-entry minted a new token: %q vs %q", got.Value, c.Value)
	}
}

// TestReadTTL_StorageError separates the benign zero (unauthorized reads as
// expired) from real storage failures, which must surface as errors.
func TestReadTTL_StorageError(t *testing.T) {
	ts, _, client := newTestServer(t, DefaultConfig())

	resp, fields := doJSON(t, "POST", ts.URL+"/api/room/create", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: status %d", resp.StatusCode)
	}
	roomID := jsonString(t, fields, "roomId")

	resp, _ = doJSON(t, "POST", ts.URL+"/api/room/enter?roomId="+roomID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("enter: status %d", resp.StatusCode)
	}
	c := authCookie(t, resp)

	// Corrupt the membership record so credential resolution fails with a
	// storage error rather than a clean rejection.
	if err := client.HSet(context.Background(), room.MetaPrefix+roomID, "connected", "{not-json").Err(); err != nil {
		t.Fatalf("HSet: %v", err)
	}

	resp, fields = doJSON(t, "GET", ts.URL+"/api/room/ttl?roomId="+roomID, nil, c)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", resp.StatusCode)
	}
	if got := jsonString(t, fields, "error"); got != "storage_error" {
		t.Errorf("error %q, want storage_error", got)
	}
}

func TestDebugInspect(t *testing.T) {
	ts, _, _ := newTestServer(t, Config{RequestTimeout: 5 * time.Second, EnableDebug: true})

	resp, fields := doJSON(t, "POST", ts.URL+"/api/room/create", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: status %d", resp.StatusCode)
	}
	roomID := jsonString(t, fields, "roomId")

	resp, _ = doJSON(t, "POST", ts.URL+"/api/room/enter?roomId="+roomID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("enter: status %d", resp.StatusCode)
	}
	c := authCookie(t, resp)
	resp, _ = doJSON(t, "POST", ts.URL+"/api/messages?roomId="+roomID,
		map[string]string{"sender": "alice", "text": "hello"}, c)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("post: status %d", resp.StatusCode)
	}

	resp, fields = doJSON(t, "GET", ts.URL+"/api/debug/room/"+roomID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("inspect: status %d", resp.StatusCode)
	}
	var insp lifecycle.Inspection
	raw, _ := json.Marshal(fields)
	if err := json.Unmarshal(raw, &insp); err != nil {
		t.Fatalf("decode inspection: %v", err)
	}
	if insp.Room == nil || insp.Room.ID != roomID {
		t.Fatalf("inspection room = %+v, want id %q", insp.Room, roomID)
	}
	if insp.TTL <= 0 {
		t.Errorf("inspection ttl = %d, want > 0", insp.TTL)
	}
	if len(insp.Messages) != 1 || insp.Messages[0].Token == "" {
		t.Errorf("inspection must carry the raw message with its token: %+v", insp.Messages)
	}

	// Unknown rooms read as not found.
	resp, _ = doJSON(t, "GET", ts.URL+"/api/debug/room/no-such-room", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown room: status %d, want 404", resp.StatusCode)
	}
}

func TestDebugInspect_Disabled(t *testing.T) {
	ts, _, _ := newTestServer(t, DefaultConfig())

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/debug/room/some-room", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status %d, want 404 when debug endpoints are off", resp.StatusCode)
	}
}

func TestPostMessage_Unauthorized(t *testing.T) {
	ts, _, _ := newTestServer(t, DefaultConfig())

	resp, fields := doJSON(t, "POST", ts.URL+"/api/room/create", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: status %d", resp.StatusCode)
	}
	roomID := jsonString(t, fields, "roomId")

	resp, _ = doJSON(t, "POST", ts.URL+"/api/messages?roomId="+roomID,
		map[string]string{"sender": "mallory", "text": "hi"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status %d, want 401", resp.StatusCode)
	}
}
