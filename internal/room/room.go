// Package room manages ephemeral two-party room state in Redis: creation
// with a short numeric join code, code resolution, TTL reads, membership
// admission, and destruction. A room's metadata hash, its message list, and
// its join-code mapping always carry the same expiry.
package room

import "encoding/json"

// Redis key prefixes shared across the room, message, and code keyspaces.
const (
	MetaPrefix     = "meta:"
	MessagesPrefix = "messages:"
	CodePrefix     = "code:"
)

// MaxMembers is the hard cap on tokens admitted into a room.
const MaxMembers = 2

// Room is a decoded snapshot of a room's metadata hash.
type Room struct {
	ID        string
	JoinCode  string
	Connected []string // admitted membership tokens, at most MaxMembers
	CreatedAt int64    // unix milliseconds
}

// IsMember reports whether the given token has been admitted into the room.
func (r *Room) IsMember(token string) bool {
	for _, t := range r.Connected {
		if t == token {
			return true
		}
	}
	return false
}

// decodeConnected parses the canonical JSON-array encoding of the connected
// field. Anything that is not a JSON array of strings is treated as
// corruption and rejected, never silently read as an empty member set.
func decodeConnected(raw string) ([]string, error) {
	if raw == "" {
		return nil, ErrCorruptMembers
	}
	var tokens []string
	if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
		return nil, ErrCorruptMembers
	}
	if tokens == nil {
		// JSON "null" decodes without error; still not a valid member set.
		return nil, ErrCorruptMembers
	}
	return tokens, nil
}

func encodeConnected(tokens []string) string {
	if tokens == nil {
		tokens = []string{}
	}
	data, _ := json.Marshal(tokens)
	return string(data)
}
