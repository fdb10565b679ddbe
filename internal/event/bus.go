package event

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vanish-chat/vanish/internal/message"
)

// SubjectPrefix is prepended to the room id to form a room's NATS subject.
const SubjectPrefix = "room."

// BusConfig holds NATS connection settings.
type BusConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultBusConfig returns sensible defaults.
func DefaultBusConfig() BusConfig {
	return BusConfig{
		URL:           nats.DefaultURL,
		Name:          "vanish",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Bus relays room events over NATS. Subscriptions are registered under a
// caller-chosen id so several local subscribers can watch the same room
// without overwriting each other.
type Bus struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NewBus connects to NATS with the given config and returns a ready bus.
// It returns an error if the initial connection fails.
func NewBus(config BusConfig) (*Bus, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[event] disconnected: %v", err)
			} else {
				log.Printf("[event] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[event] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[event] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("event: nats connect: %w", err)
	}

	log.Printf("[event] connected to %s", nc.ConnectedUrl())

	return &Bus{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Subject returns the NATS subject for a room's channel.
func Subject(roomID string) string {
	return SubjectPrefix + roomID
}

// PublishMessage publishes a message event on the room's channel. The
// payload carries the author token; redaction happens at the delivery edge
// where the subscriber's identity is known.
func (b *Bus) PublishMessage(roomID string, msg *message.Message) error {
	return b.publish(roomID, Envelope{Kind: KindMessage, Message: msg})
}

// PublishDestroy publishes the terminal destroy event on the room's channel.
func (b *Bus) PublishDestroy(roomID string) error {
	return b.publish(roomID, Envelope{Kind: KindDestroy, Destroy: &DestroyPayload{IsDestroyed: true}})
}

func (b *Bus) publish(roomID string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("event: marshal %s event: %w", env.Kind, err)
	}
	if err := b.conn.Publish(Subject(roomID), data); err != nil {
		return fmt.Errorf("event: publish %s to %s: %w", env.Kind, roomID, err)
	}
	return nil
}

// Subscribe registers a handler for a room's channel under subID. Corrupt
// payloads are logged and dropped.
func (b *Bus) Subscribe(roomID, subID string, handler func(Envelope)) error {
	subject := Subject(roomID)
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Printf("[event] drop corrupt payload on %s: %v", subject, err)
			return
		}
		handler(env)
	})
	if err != nil {
		return fmt.Errorf("event: subscribe %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs[subID] = sub
	b.mu.Unlock()
	return nil
}

// Unsubscribe removes the subscription registered under subID.
func (b *Bus) Unsubscribe(subID string) error {
	b.mu.Lock()
	sub, ok := b.subs[subID]
	if ok {
		delete(b.subs, subID)
	}
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("event: no subscription %s", subID)
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("event: unsubscribe %s: %w", subID, err)
	}
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, sub := range b.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[event] drain %s: %v", subID, err)
		}
	}
	b.subs = make(map[string]*nats.Subscription)

	if err := b.conn.Drain(); err != nil {
		log.Printf("[event] connection drain: %v", err)
	}
}
