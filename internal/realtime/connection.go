package realtime

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// connection is one WebSocket subscriber with a write mutex serializing
// outbound frames.
type connection struct {
	id           string
	conn         net.Conn
	token        string // subscriber's membership token, used for redaction
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
}

func newConnection(id string, conn net.Conn, token string, writeTimeout time.Duration) *connection {
	return &connection{
		id:           id,
		conn:         conn,
		token:        token,
		writeTimeout: writeTimeout,
	}
}

// write sends one text frame. The mutex ensures concurrent event handlers do
// not interleave frame bytes.
func (c *connection) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return wsutil.WriteServerMessage(c.conn, ws.OpText, data)
}

// readDiscard reads and discards one client frame, handling control frames.
// Returns an error when the peer closes or the connection fails.
func (c *connection) readDiscard() error {
	_, err := wsutil.ReadClientText(c.conn)
	return err
}

// registry is a thread-safe map of live connections by subscription id.
type registry struct {
	mu    sync.RWMutex
	conns map[string]*connection
}

func newRegistry() *registry {
	return &registry{conns: make(map[string]*connection)}
}

func (r *registry) add(c *connection) {
	r.mu.Lock()
	r.conns[c.id] = c
	r.mu.Unlock()
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

func (r *registry) all() []*connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
