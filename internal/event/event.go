// Package event publishes room-scoped events over NATS. Each room has one
// subject, room.<roomId>, carrying message and destroy events. Delivery is
// best-effort fire-and-forget; a publish failure never fails the operation
// that triggered it.
package event

import "github.com/vanish-chat/vanish/internal/message"

// Event kinds carried on a room's channel.
const (
	KindMessage = "message"
	KindDestroy = "destroy" // terminal: no further traffic after this
)

// Envelope is the wire shape of one room event.
type Envelope struct {
	Kind    string           `json:"kind"`
	Message *message.Message `json:"message,omitempty"`
	Destroy *DestroyPayload  `json:"destroy,omitempty"`
}

// DestroyPayload marks the room as destroyed.
type DestroyPayload struct {
	IsDestroyed bool `json:"isDestroyed"`
}
