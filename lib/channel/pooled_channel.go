package channel

import (
	"sync"

	apperrors "github.com/opaldb/opal-go/lib/errors"
	"github.com/opaldb/opal-go/lib/transport"
	"github.com/opaldb/opal-go/lib/wire"
)

// Channel is the borrower-facing handle over a pooled connection, valid
// from acquisition until Close. After Close, every operation except Close,
// IsClosed and ID fails with a channel-closed error.
type Channel interface {
	// ID returns the identifier of the borrowed connection. Usable after
	// Close.
	ID() string
	// ServerAddress returns the remote endpoint. Requires the channel to
	// be open.
	ServerAddress() (transport.ServerAddress, error)
	// SendMessage writes an already-framed message buffer list.
	SendMessage(buffers [][]byte) error
	// ReceiveMessage reads a reply and verifies it correlates to the
	// request identified by args.
	ReceiveMessage(args wire.ReceiveArgs) (*wire.ResponseBuffers, error)
	// SendMessageAsync completes the callback once the write finishes.
	SendMessageAsync(buffers [][]byte, callback func(error))
	// ReceiveMessageAsync completes the callback once a correlated reply
	// is read.
	ReceiveMessageAsync(args wire.ReceiveArgs, callback func(*wire.ResponseBuffers, error))
	// Close releases the borrowed connection back to the pool. Idempotent.
	Close()
	// IsClosed reports whether the channel or its connection is closed.
	IsClosed() bool
}

// PooledChannel borrows a pooled connection for the duration of one
// checkout. Transport faults observed through it feed the provider's
// generation classification before propagating; the channel itself stays
// open so the caller decides when to close.
type PooledChannel struct {
	provider *Provider
	id       string

	mu      sync.Mutex
	wrapped *UsageTrackingConnection // nil after close
}

var _ Channel = (*PooledChannel)(nil)

func newPooledChannel(provider *Provider, wrapped *UsageTrackingConnection) *PooledChannel {
	return &PooledChannel{
		provider: provider,
		id:       wrapped.ID(),
		wrapped:  wrapped,
	}
}

// ID returns the borrowed connection's identifier.
func (c *PooledChannel) ID() string {
	return c.id
}

// borrow returns the wrapped connection, or nil after close.
func (c *PooledChannel) borrow() *UsageTrackingConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wrapped
}

// ServerAddress returns the remote endpoint; the channel must be open.
func (c *PooledChannel) ServerAddress() (transport.ServerAddress, error) {
	if c.IsClosed() {
		return transport.ServerAddress{}, closedErr()
	}
	return c.provider.address, nil
}

// SendMessage writes a framed message. Transport faults bump the pool
// generation before the error propagates.
func (c *PooledChannel) SendMessage(buffers [][]byte) error {
	wrapped := c.borrow()
	if wrapped == nil {
		return closedErr()
	}

	if err := wrapped.SendMessage(buffers); err != nil {
		c.provider.incrementGenerationOnSocketError(c.id, err)
		return err
	}
	return nil
}

// ReceiveMessage reads a reply and verifies it answers the request named
// in args. A correlation mismatch is a protocol bug, not a transport
// fault, and leaves the generation untouched.
func (c *PooledChannel) ReceiveMessage(args wire.ReceiveArgs) (*wire.ResponseBuffers, error) {
	wrapped := c.borrow()
	if wrapped == nil {
		return nil, closedErr()
	}

	reply, err := wrapped.ReceiveMessage()
	if err != nil {
		c.provider.incrementGenerationOnSocketError(c.id, err)
		return nil, err
	}

	return c.checkReply(reply, args)
}

func (c *PooledChannel) checkReply(reply *wire.ResponseBuffers, args wire.ReceiveArgs) (*wire.ResponseBuffers, error) {
	if reply.Header.ResponseTo != args.ResponseTo {
		return nil, apperrors.NewProtocolError(
			"the responseTo (%d) in the reply does not match the requestID (%d) in the request",
			reply.Header.ResponseTo, args.ResponseTo)
	}
	if err := args.CheckSize(reply.Header); err != nil {
		return nil, err
	}
	return reply, nil
}

// SendMessageAsync writes a framed message off the caller's goroutine.
// Failures pass through generation classification before the callback
// completes.
func (c *PooledChannel) SendMessageAsync(buffers [][]byte, callback func(error)) {
	wrapped := c.borrow()
	if wrapped == nil {
		callback(closedErr())
		return
	}

	wrapped.SendMessageAsync(buffers, func(err error) {
		if err != nil {
			c.provider.incrementGenerationOnSocketError(c.id, err)
		}
		callback(err)
	})
}

// ReceiveMessageAsync reads a correlated reply off the caller's goroutine.
// Failures pass through generation classification before the callback
// completes.
func (c *PooledChannel) ReceiveMessageAsync(args wire.ReceiveArgs, callback func(*wire.ResponseBuffers, error)) {
	wrapped := c.borrow()
	if wrapped == nil {
		callback(nil, closedErr())
		return
	}

	wrapped.ReceiveMessageAsync(func(reply *wire.ResponseBuffers, err error) {
		if err != nil {
			c.provider.incrementGenerationOnSocketError(c.id, err)
			callback(nil, err)
			return
		}
		callback(c.checkReply(reply, args))
	})
}

// Close releases the borrowed connection: destroyed when it is closed or
// stale, pooled otherwise. Subsequent calls are no-ops.
func (c *PooledChannel) Close() {
	c.mu.Lock()
	wrapped := c.wrapped
	c.wrapped = nil
	c.mu.Unlock()

	if wrapped == nil {
		return
	}

	prune := wrapped.IsClosed() || c.provider.shouldPruneConnection(wrapped)
	wrapped.lastUsedAt = c.provider.clk.Now()
	c.provider.pool.Release(wrapped, prune)
}

// IsClosed reports whether the channel was closed or its connection died.
func (c *PooledChannel) IsClosed() bool {
	wrapped := c.borrow()
	return wrapped == nil || wrapped.IsClosed()
}

func closedErr() error {
	return apperrors.Wrap(apperrors.CodeChannelClosed,
		"operation attempted on a closed channel", apperrors.ErrChannelClosed)
}
