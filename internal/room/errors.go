package room

import "errors"

var (
	// ErrNotFound is returned when a room or join code does not exist or has
	// expired. The data layer does not distinguish "never existed" from
	// "expired".
	ErrNotFound = errors.New("room: not found")

	// ErrRoomFull is returned when admission would exceed MaxMembers.
	ErrRoomFull = errors.New("room: full")

	// ErrCorruptMembers is returned when the connected field does not hold
	// the canonical JSON-array encoding.
	ErrCorruptMembers = errors.New("room: corrupt connected encoding")
)
