package channel

import (
	"time"

	"github.com/opaldb/opal-go/lib/transport"
	"github.com/opaldb/opal-go/lib/wire"
)

// UsageTrackingConnection decorates a raw connection with the bookkeeping
// the pool needs: creation and last-use instants, and the pool generation
// the connection was created in.
//
// A connection is exclusively owned at any instant, by the pool's free
// list or by a single channel; openedAt and generation are set once, and
// lastUsedAt is written only at release time under that exclusive
// ownership.
type UsageTrackingConnection struct {
	conn       transport.InternalConnection
	generation int64
	openedAt   time.Time
	lastUsedAt time.Time
}

func newUsageTrackingConnection(conn transport.InternalConnection, generation int64, now time.Time) *UsageTrackingConnection {
	return &UsageTrackingConnection{
		conn:       conn,
		generation: generation,
		openedAt:   now,
		lastUsedAt: now,
	}
}

// ID returns the identifier assigned to the underlying connection.
func (c *UsageTrackingConnection) ID() string {
	return c.conn.ID()
}

// Generation returns the pool generation the connection was created in.
func (c *UsageTrackingConnection) Generation() int64 {
	return c.generation
}

// OpenedAt returns the creation instant.
func (c *UsageTrackingConnection) OpenedAt() time.Time {
	return c.openedAt
}

// LastUsedAt returns the instant of the last release back to the pool.
func (c *UsageTrackingConnection) LastUsedAt() time.Time {
	return c.lastUsedAt
}

// ServerAddress returns the remote endpoint.
func (c *UsageTrackingConnection) ServerAddress() transport.ServerAddress {
	return c.conn.ServerAddress()
}

// SendMessage delegates to the underlying connection.
func (c *UsageTrackingConnection) SendMessage(buffers [][]byte) error {
	return c.conn.SendMessage(buffers)
}

// ReceiveMessage delegates to the underlying connection.
func (c *UsageTrackingConnection) ReceiveMessage() (*wire.ResponseBuffers, error) {
	return c.conn.ReceiveMessage()
}

// SendMessageAsync delegates to the underlying connection.
func (c *UsageTrackingConnection) SendMessageAsync(buffers [][]byte, callback func(error)) {
	c.conn.SendMessageAsync(buffers, callback)
}

// ReceiveMessageAsync delegates to the underlying connection.
func (c *UsageTrackingConnection) ReceiveMessageAsync(callback func(*wire.ResponseBuffers, error)) {
	c.conn.ReceiveMessageAsync(callback)
}

// Close closes the underlying connection.
func (c *UsageTrackingConnection) Close() error {
	return c.conn.Close()
}

// IsClosed reports whether the underlying connection is closed.
func (c *UsageTrackingConnection) IsClosed() bool {
	return c.conn.IsClosed()
}
