// Package lifecycle orchestrates room creation, admission, messaging, TTL
// reads, and destruction across the room store, the membership gate, the
// message store, and the event bus.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/vanish-chat/vanish/internal/auth"
	"github.com/vanish-chat/vanish/internal/message"
	"github.com/vanish-chat/vanish/internal/metrics"
	"github.com/vanish-chat/vanish/internal/ratelimit"
	"github.com/vanish-chat/vanish/internal/room"
)

// ErrRateLimited is returned when a caller exceeds the message posting rule.
var ErrRateLimited = errors.New("lifecycle: rate limited")

// Publisher is the event-fanout dependency. Publish failures are logged,
// never propagated: event delivery is best-effort and must not roll back or
// fail the operation that triggered it.
type Publisher interface {
	PublishMessage(roomID string, msg *message.Message) error
	PublishDestroy(roomID string) error
}

// Controller coordinates the public room operations.
type Controller struct {
	rooms    *room.Store
	gate     *room.Gate
	messages *message.Store
	bus      Publisher
	limiter  *ratelimit.Limiter
}

// NewController wires the controller. limiter may be nil to disable
// message throttling.
func NewController(rooms *room.Store, gate *room.Gate, messages *message.Store, bus Publisher, limiter *ratelimit.Limiter) *Controller {
	return &Controller{
		rooms:    rooms,
		gate:     gate,
		messages: messages,
		bus:      bus,
		limiter:  limiter,
	}
}

// CreateRoom creates a fresh room and join code. Unauthenticated by design.
func (c *Controller) CreateRoom(ctx context.Context) (*room.Room, error) {
	rm, err := c.rooms.Create(ctx)
	if err != nil {
		return nil, err
	}
	metrics.RoomsCreated.Inc()
	log.Printf("[lifecycle] room created id=%s", rm.ID)
	return rm, nil
}

// JoinByCode resolves a join code and admits the caller into the room,
// returning the room id and the caller's membership token. A malformed or
// unknown code surfaces identically as room.ErrNotFound so that callers
// cannot distinguish "wrong" from "expired". Attempts are throttled per
// clientAddr before the code is even inspected, which bounds code guessing;
// an empty clientAddr skips the throttle.
func (c *Controller) JoinByCode(ctx context.Context, code, candidateToken, clientAddr string) (string, string, error) {
	if c.limiter != nil && clientAddr != "" {
		allowed, _ := c.limiter.Allow(ctx, clientAddr, ratelimit.RuleJoin)
		if !allowed {
			return "", "", fmt.Errorf("%w: too many join attempts", ErrRateLimited)
		}
	}

	if !validCode(code) {
		return "", "", room.ErrNotFound
	}

	roomID, err := c.rooms.ResolveCode(ctx, code)
	if err != nil {
		if errors.Is(err, room.ErrNotFound) {
			metrics.JoinsTotal.WithLabelValues("not_found").Inc()
		}
		return "", "", err
	}

	token, err := c.admit(ctx, roomID, candidateToken)
	if err != nil {
		return "", "", err
	}
	return roomID, token, nil
}

// EnterRoom admits the caller into a room reached by direct link (room id
// already known). Used by the entry gate that sets the auth cookie.
func (c *Controller) EnterRoom(ctx context.Context, roomID, candidateToken string) (string, error) {
	return c.admit(ctx, roomID, candidateToken)
}

func (c *Controller) admit(ctx context.Context, roomID, candidateToken string) (string, error) {
	token, err := c.gate.Admit(ctx, roomID, candidateToken)
	switch {
	case err == nil:
		metrics.JoinsTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, room.ErrRoomFull):
		metrics.JoinsTotal.WithLabelValues("full").Inc()
	case errors.Is(err, room.ErrNotFound):
		metrics.JoinsTotal.WithLabelValues("not_found").Inc()
	}
	return token, err
}

// ReadTTL returns the caller's room's remaining time-to-live in seconds.
func (c *Controller) ReadTTL(ctx context.Context, id *auth.Identity) (int64, error) {
	return c.rooms.RemainingTTL(ctx, id.RoomID)
}

// PostMessage validates, throttles, appends, and publishes a message. The
// returned message still carries the caller's own token.
func (c *Controller) PostMessage(ctx context.Context, id *auth.Identity, sender, text string) (*message.Message, error) {
	if err := message.Validate(sender, text); err != nil {
		return nil, err
	}

	if c.limiter != nil {
		allowed, _ := c.limiter.Allow(ctx, id.Token, ratelimit.RuleMessage)
		if !allowed {
			return nil, fmt.Errorf("%w: too many messages", ErrRateLimited)
		}
	}

	start := time.Now()
	msg, err := c.messages.Append(ctx, id.RoomID, sender, text, id.Token)
	if err != nil {
		return nil, err
	}
	metrics.AppendLatency.Observe(time.Since(start).Seconds())
	metrics.MessagesTotal.Inc()

	if c.bus != nil {
		if err := c.bus.PublishMessage(id.RoomID, msg); err != nil {
			log.Printf("[lifecycle] publish message event room=%s: %v", id.RoomID, err)
		}
	}
	return msg, nil
}

// ListMessages returns the room's messages in insertion order with every
// token except the caller's cleared.
func (c *Controller) ListMessages(ctx context.Context, id *auth.Identity) ([]message.Message, error) {
	msgs, err := c.messages.List(ctx, id.RoomID)
	if err != nil {
		return nil, err
	}
	return message.RedactFor(msgs, id.Token), nil
}

// DestroyRoom deletes the room and all derived keys, then publishes the
// terminal destroy event. Idempotent: destroying an already-gone room
// succeeds and still publishes, since subscribers treat destroy as terminal.
func (c *Controller) DestroyRoom(ctx context.Context, id *auth.Identity) error {
	if err := c.rooms.Destroy(ctx, id.RoomID); err != nil {
		return err
	}
	metrics.RoomsDestroyed.Inc()

	if c.bus != nil {
		if err := c.bus.PublishDestroy(id.RoomID); err != nil {
			log.Printf("[lifecycle] publish destroy event room=%s: %v", id.RoomID, err)
		}
	}
	log.Printf("[lifecycle] room destroyed id=%s", id.RoomID)
	return nil
}

// Inspection is a raw snapshot of a room's stored state, served only by the
// debug surface.
type Inspection struct {
	Room     *room.Room        `json:"room"`
	TTL      int64             `json:"ttl"`
	Messages []message.Message `json:"messages"`
}

// Inspect returns the room's meta, remaining TTL, and unredacted messages.
// The snapshot includes membership tokens, so it must stay behind the debug
// gate.
func (c *Controller) Inspect(ctx context.Context, roomID string) (*Inspection, error) {
	rm, err := c.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if rm == nil {
		return nil, room.ErrNotFound
	}
	ttl, err := c.rooms.RemainingTTL(ctx, roomID)
	if err != nil {
		return nil, err
	}
	msgs, err := c.messages.List(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return &Inspection{Room: rm, TTL: ttl, Messages: msgs}, nil
}

// validCode reports whether the code is exactly JoinCodeDigits decimal
// digits.
func validCode(code string) bool {
	if len(code) != room.JoinCodeDigits {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
