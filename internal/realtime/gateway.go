// Package realtime fans room events out to WebSocket subscribers. Each
// accepted connection is authenticated against the room's member set, then
// attached to the room's event channel; events are written as single JSON
// text frames with the author token redacted per subscriber.
package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"

	"github.com/vanish-chat/vanish/internal/auth"
	"github.com/vanish-chat/vanish/internal/event"
	"github.com/vanish-chat/vanish/internal/metrics"
)

// Authenticator resolves a request's credential into a room membership.
// *auth.Resolver satisfies it.
type Authenticator interface {
	FromRequest(*http.Request) auth.Credential
	Resolve(ctx context.Context, roomID string, cred auth.Credential) (*auth.Identity, error)
}

// Subscriber attaches handlers to a room's event channel. *event.Bus
// satisfies it.
type Subscriber interface {
	Subscribe(roomID, subID string, handler func(event.Envelope)) error
	Unsubscribe(subID string) error
}

// Gateway is the WebSocket fanout endpoint.
type Gateway struct {
	auth         Authenticator
	bus          Subscriber
	conns        *registry
	writeTimeout time.Duration
}

// NewGateway creates a gateway that authenticates with auth and subscribes
// connections through bus.
func NewGateway(auth Authenticator, bus Subscriber) *Gateway {
	return &Gateway{
		auth:         auth,
		bus:          bus,
		conns:        newRegistry(),
		writeTimeout: 10 * time.Second,
	}
}

// ServeHTTP upgrades the request and attaches the connection to the room's
// channel. The subscription lives until the client disconnects or a destroy
// event is relayed.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	cred := g.auth.FromRequest(r)

	id, err := g.auth.Resolve(r.Context(), roomID, cred)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("[realtime] upgrade failed room=%s: %v", roomID, err)
		return
	}

	c := newConnection(uuid.NewString(), netConn, id.Token, g.writeTimeout)
	g.conns.add(c)
	metrics.RealtimeConnections.Inc()

	if err := g.bus.Subscribe(roomID, c.id, func(env event.Envelope) {
		g.relay(c, env)
	}); err != nil {
		log.Printf("[realtime] subscribe room=%s: %v", roomID, err)
		g.drop(c, false)
		return
	}

	log.Printf("[realtime] subscriber attached room=%s sub=%s", roomID, c.id)
	go g.readLoop(c)
}

// relay redacts and writes one event, closing the connection after a
// terminal destroy event.
func (g *Gateway) relay(c *connection, env event.Envelope) {
	env = redactFor(env, c.token)

	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("[realtime] marshal event: %v", err)
		return
	}
	if err := c.write(data); err != nil {
		g.drop(c, true)
		return
	}
	if env.Kind == event.KindDestroy {
		// Terminal for the channel: the room is gone.
		g.drop(c, true)
	}
}

// readLoop consumes client frames. The gateway is one-way, so inbound data
// is discarded; the read serves only to detect disconnects and answer
// control frames.
func (g *Gateway) readLoop(c *connection) {
	for {
		if err := c.readDiscard(); err != nil {
			g.drop(c, true)
			return
		}
	}
}

// drop detaches and closes a connection. Safe to call more than once.
func (g *Gateway) drop(c *connection, unsubscribe bool) {
	c.closeOnce.Do(func() {
		if unsubscribe {
			if err := g.bus.Unsubscribe(c.id); err != nil {
				log.Printf("[realtime] unsubscribe %s: %v", c.id, err)
			}
		}
		g.conns.remove(c.id)
		c.conn.Close()
		metrics.RealtimeConnections.Dec()
	})
}

// Close drops every live connection; used during shutdown.
func (g *Gateway) Close() {
	for _, c := range g.conns.all() {
		g.drop(c, true)
	}
}

// redactFor clears the message author token unless it belongs to the
// subscriber, mirroring the listing redaction policy at the fanout edge.
func redactFor(env event.Envelope, subscriberToken string) event.Envelope {
	if env.Kind == event.KindMessage && env.Message != nil && env.Message.Token != subscriberToken {
		msg := *env.Message
		msg.Token = ""
		env.Message = &msg
	}
	return env
}
