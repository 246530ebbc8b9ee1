package gateway

import (
	"sync"

	"github.com/google/uuid"
)

// OutboundQueueSize bounds each connection's pending-write buffer. Per the protocol,
// overflow closes the connection rather than blocking the fan-out loop; the
// client reconnects and replays from its last seen cursor.
const OutboundQueueSize = 256

// Connection is one locally held SSE stream, from REGISTERING through
// CLOSED. The Hub only ever enqueues onto its outbound channel; the API
// layer's write loop drains it and performs the actual network write.
type Connection struct {
	ID     string
	UserID uuid.UUID

	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newConnection(id string, userID uuid.UUID) *Connection {
	return &Connection{
		ID:     id,
		UserID: userID,
		send:   make(chan []byte, OutboundQueueSize),
		closed: make(chan struct{}),
	}
}

// Send enqueues a pre-encoded SSE frame without blocking, so a slow client
// never stalls the node-wide fan-out loop. It reports false if the queue is
// full or the connection already marked closed; the caller must tear the
// connection down on false, matching the overflow-closes-connection rule.
func (c *Connection) Send(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Outbound returns the channel the API layer's write loop drains.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// Done is closed once the Hub has marked this connection closed, e.g. on
// outbound queue overflow. The write loop must select on it alongside
// Outbound so a Hub-initiated close actually ends the stream.
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

// MarkClosed stops further Send calls from succeeding. Idempotent.
func (c *Connection) MarkClosed() {
	c.once.Do(func() { close(c.closed) })
}
