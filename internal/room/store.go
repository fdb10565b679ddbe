package room

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is the room time-to-live applied at creation when the
	// caller does not configure one.
	DefaultTTL = 600 * time.Second

	// JoinCodeDigits is the fixed width of the numeric join code.
	JoinCodeDigits = 6

	// codeRetries bounds how many collisions code allocation tolerates
	// before giving up.
	codeRetries = 5
)

// Store manages room records in Redis.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore creates a room store backed by the given Redis client. A
// non-positive ttl falls back to DefaultTTL.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// TTL returns the configured room time-to-live.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.rdb
}

// Create writes a fresh room with an empty member set and a join code not
// currently mapped to a live room. The metadata hash and the code mapping
// both receive the configured TTL.
func (s *Store) Create(ctx context.Context) (*Room, error) {
	roomID := uuid.NewString()

	code, err := s.reserveCode(ctx, roomID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	key := MetaPrefix + roomID

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"connected":  encodeConnected(nil),
		"created_at": now,
		"join_code":  code,
	})
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		// Best effort: release the code so it does not dangle without a room.
		s.rdb.Del(ctx, CodePrefix+code)
		return nil, fmt.Errorf("room: create %s: %w", roomID, err)
	}

	return &Room{ID: roomID, JoinCode: code, Connected: []string{}, CreatedAt: now}, nil
}

// reserveCode allocates a random fixed-width numeric code via SET NX so that
// two concurrent creations can never claim the same code.
func (s *Store) reserveCode(ctx context.Context, roomID string) (string, error) {
	for i := 0; i < codeRetries; i++ {
		code, err := randomCode()
		if err != nil {
			return "", fmt.Errorf("room: generate join code: %w", err)
		}
		ok, err := s.rdb.SetNX(ctx, CodePrefix+code, roomID, s.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("room: reserve join code: %w", err)
		}
		if ok {
			return code, nil
		}
	}
	return "", fmt.Errorf("room: could not allocate a free join code after %d attempts", codeRetries)
}

func randomCode() (string, error) {
	bound := big.NewInt(1)
	for i := 0; i < JoinCodeDigits; i++ {
		bound.Mul(bound, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", JoinCodeDigits, n), nil
}

// Get retrieves a room snapshot. Returns nil if the room does not exist.
func (s *Store) Get(ctx context.Context, roomID string) (*Room, error) {
	result, err := s.rdb.HGetAll(ctx, MetaPrefix+roomID).Result()
	if err != nil {
		return nil, fmt.Errorf("room: get %s: %w", roomID, err)
	}
	if len(result) == 0 {
		return nil, nil
	}

	connected, err := decodeConnected(result["connected"])
	if err != nil {
		return nil, fmt.Errorf("room: get %s: %w", roomID, err)
	}
	createdAt, _ := strconv.ParseInt(result["created_at"], 10, 64)

	return &Room{
		ID:        roomID,
		JoinCode:  result["join_code"],
		Connected: connected,
		CreatedAt: createdAt,
	}, nil
}

// Exists reports whether the room's metadata hash is live.
func (s *Store) Exists(ctx context.Context, roomID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, MetaPrefix+roomID).Result()
	if err != nil {
		return false, fmt.Errorf("room: exists %s: %w", roomID, err)
	}
	return n > 0, nil
}

// ResolveCode maps a join code to its room id. Returns ErrNotFound when the
// code is unknown or its mapping has expired.
func (s *Store) ResolveCode(ctx context.Context, code string) (string, error) {
	roomID, err := s.rdb.Get(ctx, CodePrefix+code).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("room: resolve code: %w", err)
	}
	return roomID, nil
}

// RemainingTTL returns the room's remaining time-to-live in whole seconds.
// A missing room reads as 0 ("already expired"), never as an error.
func (s *Store) RemainingTTL(ctx context.Context, roomID string) (int64, error) {
	d, err := s.rdb.TTL(ctx, MetaPrefix+roomID).Result()
	if err != nil {
		return 0, fmt.Errorf("room: ttl %s: %w", roomID, err)
	}
	if d < 0 {
		// -2 = key missing, -1 = no expiry set; both read as gone.
		return 0, nil
	}
	return int64(d / time.Second), nil
}

// Destroy deletes the room's metadata hash, its message list, and its
// join-code mapping in one pipeline. Destroying an already-gone room is a
// silent success.
func (s *Store) Destroy(ctx context.Context, roomID string) error {
	code, err := s.rdb.HGet(ctx, MetaPrefix+roomID, "join_code").Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("room: destroy %s: %w", roomID, err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, MetaPrefix+roomID)
	pipe.Del(ctx, MessagesPrefix+roomID)
	if code != "" {
		pipe.Del(ctx, CodePrefix+code)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("room: destroy %s: %w", roomID, err)
	}
	return nil
}
