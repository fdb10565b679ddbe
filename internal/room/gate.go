package room

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Gate admits tokens into a room while enforcing the two-member cap. The
// membership check and the append run inside a single Lua script so that two
// concurrent admissions can never both observe one member and both append.
type Gate struct {
	rdb         *redis.Client
	admitScript *redis.Script
}

// NewGate creates a membership gate backed by the given Redis client.
func NewGate(rdb *redis.Client) *Gate {
	return &Gate{
		rdb:         rdb,
		admitScript: redis.NewScript(admitLua),
	}
}

// Admit admits a caller into the room and returns their membership token.
// When candidate is empty a fresh token is minted; when the candidate is
// already a member it is returned unchanged (idempotent re-entry). Returns
// ErrNotFound for a missing/expired room and ErrRoomFull when the room
// already holds MaxMembers tokens.
func (g *Gate) Admit(ctx context.Context, roomID, candidate string) (string, error) {
	token := candidate
	if token == "" {
		token = uuid.NewString()
	}

	result, err := g.admitScript.Run(ctx, g.rdb, []string{MetaPrefix + roomID},
		token, MaxMembers).Int()
	if err != nil {
		return "", fmt.Errorf("room: admit into %s: %w", roomID, err)
	}

	switch result {
	case 1, 0: // 1 = admitted, 0 = already a member
		return token, nil
	case -1:
		return "", ErrNotFound
	case -2:
		return "", ErrRoomFull
	case -3:
		return "", fmt.Errorf("room: admit into %s: %w", roomID, ErrCorruptMembers)
	default:
		return "", fmt.Errorf("room: admit into %s: unexpected script result %d", roomID, result)
	}
}

// admitLua atomically checks membership, enforces the cap, and appends the
// token. Return codes:
//
//	 1 = token appended
//	 0 = token was already a member
//	-1 = room not found
//	-2 = room full
//	-3 = connected field is not a valid JSON array
const admitLua = `
local key = KEYS[1]
local token = ARGV[1]
local cap = tonumber(ARGV[2])

local raw = redis.call('HGET', key, 'connected')
if not raw then return -1 end

local ok, tokens = pcall(cjson.decode, raw)
if not ok or type(tokens) ~= 'table' then return -3 end

for _, t in ipairs(tokens) do
    if t == token then return 0 end
end

if #tokens >= cap then return -2 end

table.insert(tokens, token)
redis.call('HSET', key, 'connected', cjson.encode(tokens))
return 1
`
