// Package message stores a room's append-only message history in a Redis
// list whose expiry is kept aligned with the room's metadata hash.
package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vanish-chat/vanish/internal/room"
)

// ErrRoomNotFound is returned when appending to a room that does not exist
// or has expired.
var ErrRoomNotFound = errors.New("message: room not found")

// Message is one chat message. The Token field identifies the author and is
// cleared before leaving the system unless it belongs to the caller.
type Message struct {
	ID        string `json:"id"`
	RoomID    string `json:"roomId"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
	Token     string `json:"token,omitempty"`
}

// Store manages per-room message lists in Redis.
type Store struct {
	rdb          *redis.Client
	appendScript *redis.Script
}

// NewStore creates a message store backed by the given Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{
		rdb:          rdb,
		appendScript: redis.NewScript(appendLua),
	}
}

// Append appends the message to the room's list and re-applies the room's
// remaining TTL to the list so that messages never outlive or underlive
// their room. The liveness check, the append, and the expiry all run inside
// one Lua script: if the room expires or is destroyed between an external
// check and the push, the push must not resurrect the list as an
// expiry-less key.
func (s *Store) Append(ctx context.Context, roomID, sender, text, token string) (*Message, error) {
	msg := &Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Sender:    sender,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
		Token:     token,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("message: marshal: %w", err)
	}

	result, err := s.appendScript.Run(ctx, s.rdb,
		[]string{room.MetaPrefix + roomID, room.MessagesPrefix + roomID}, data).Int()
	if err != nil {
		return nil, fmt.Errorf("message: append to %s: %w", roomID, err)
	}
	if result == -1 {
		return nil, ErrRoomNotFound
	}

	return msg, nil
}

// appendLua atomically verifies the room is live, appends the payload, and
// aligns the list's expiry with the room's. A meta key without an expiry is
// treated as already reaped — room keys always carry one. When the room is
// gone any stale list is deleted so nothing survives the room. Return codes:
//
//	>0 = new list length after the append
//	-1 = room not found (or reaped)
const appendLua = `
local meta = KEYS[1]
local list = KEYS[2]
local payload = ARGV[1]

local ttl = redis.call('PTTL', meta)
if ttl <= 0 then
    redis.call('DEL', list)
    return -1
end

redis.call('RPUSH', list, payload)
redis.call('PEXPIRE', list, ttl)
return redis.call('LLEN', list)
`

// List returns the room's messages in insertion order. A missing room or an
// empty list yields an empty slice, never an error.
func (s *Store) List(ctx context.Context, roomID string) ([]Message, error) {
	raw, err := s.rdb.LRange(ctx, room.MessagesPrefix+roomID, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("message: list %s: %w", roomID, err)
	}

	msgs := make([]Message, 0, len(raw))
	for _, entry := range raw {
		var m Message
		if err := json.Unmarshal([]byte(entry), &m); err != nil {
			return nil, fmt.Errorf("message: corrupt entry in %s: %w", roomID, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// RedactFor clears each message's author token unless it equals the caller's
// own token, so a client can recognize its own messages without seeing the
// other participant's capability.
func RedactFor(msgs []Message, callerToken string) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		if m.Token != callerToken {
			m.Token = ""
		}
		out[i] = m
	}
	return out
}
