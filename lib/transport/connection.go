package transport

import (
	"bufio"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/opaldb/opal-go/lib/errors"
	"github.com/opaldb/opal-go/lib/wire"
)

// InternalConnection is a raw, authenticated connection capable of
// synchronous and asynchronous exchange of framed messages. Exactly one
// holder owns a connection at any instant: the pool's free list or a single
// channel.
type InternalConnection interface {
	// ID returns the stable identifier assigned at creation.
	ID() string
	// ServerAddress returns the remote endpoint.
	ServerAddress() ServerAddress
	// MaxMessageSize returns the size cap negotiated in the open handshake.
	MaxMessageSize() int32
	// SendMessage writes an already-framed message buffer list.
	SendMessage(buffers [][]byte) error
	// ReceiveMessage blocks until a full reply is read off the wire.
	ReceiveMessage() (*wire.ResponseBuffers, error)
	// SendMessageAsync completes the callback once the write finishes.
	SendMessageAsync(buffers [][]byte, callback func(error))
	// ReceiveMessageAsync completes the callback once a reply is read.
	ReceiveMessageAsync(callback func(*wire.ResponseBuffers, error))
	// Close releases the socket. Idempotent.
	Close() error
	// IsClosed reports whether the connection has been closed or has
	// observed a fatal transport fault.
	IsClosed() bool
}

// tcpConnection is the TCP implementation of InternalConnection.
type tcpConnection struct {
	id             string
	address        ServerAddress
	conn           net.Conn
	reader         *bufio.Reader
	ioTimeout      time.Duration
	maxMessageSize int32

	closed  atomic.Bool
	writeMu sync.Mutex
	readMu  sync.Mutex
}

func newTCPConnection(conn net.Conn, address ServerAddress, ioTimeout time.Duration) *tcpConnection {
	return &tcpConnection{
		id:             uuid.New().String(),
		address:        address,
		conn:           conn,
		reader:         bufio.NewReader(conn),
		ioTimeout:      ioTimeout,
		maxMessageSize: wire.DefaultMaxMessageSize,
	}
}

func (c *tcpConnection) ID() string {
	return c.id
}

func (c *tcpConnection) ServerAddress() ServerAddress {
	return c.address
}

func (c *tcpConnection) MaxMessageSize() int32 {
	return c.maxMessageSize
}

func (c *tcpConnection) SendMessage(buffers [][]byte) error {
	if c.closed.Load() {
		return apperrors.ErrConnectionClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.ioTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.ioTimeout)); err != nil {
			return c.fault("write", err)
		}
	}

	bufs := net.Buffers(buffers)
	if _, err := bufs.WriteTo(c.conn); err != nil {
		return c.fault("write", err)
	}
	return nil
}

func (c *tcpConnection) ReceiveMessage() (*wire.ResponseBuffers, error) {
	if c.closed.Load() {
		return nil, apperrors.ErrConnectionClosed
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.ioTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.ioTimeout)); err != nil {
			return nil, c.fault("read", err)
		}
	}

	headerBuf := make([]byte, wire.HeaderSize)
	if _, err := io.ReadFull(c.reader, headerBuf); err != nil {
		return nil, c.readFault(err)
	}

	header, err := wire.DecodeHeader(headerBuf)
	if err != nil {
		return nil, err
	}

	body := make([]byte, header.MessageLength-wire.HeaderSize)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return nil, c.readFault(err)
	}

	return &wire.ResponseBuffers{Header: header, Body: body}, nil
}

func (c *tcpConnection) SendMessageAsync(buffers [][]byte, callback func(error)) {
	go func() {
		callback(c.SendMessage(buffers))
	}()
}

func (c *tcpConnection) ReceiveMessageAsync(callback func(*wire.ResponseBuffers, error)) {
	go func() {
		callback(c.ReceiveMessage())
	}()
}

func (c *tcpConnection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

func (c *tcpConnection) IsClosed() bool {
	return c.closed.Load()
}

// fault classifies a non-read I/O error. The connection is marked closed:
// after a transport fault its stream state is unknown and it must not be
// returned to the pool.
func (c *tcpConnection) fault(op string, err error) error {
	c.closed.Store(true)
	return apperrors.NewSocketError(op, c.address.String(), err)
}

// readFault classifies a read error. Reads aborted by a deadline are
// attributed to cancellation, not a broken wire: the connection is still
// marked unusable (a partial frame may remain buffered) but siblings are
// not retired on its account.
func (c *tcpConnection) readFault(err error) error {
	c.closed.Store(true)
	if isTimeout(err) {
		return apperrors.NewInterruptedReadError(c.address.String(), err)
	}
	return apperrors.NewSocketError("read", c.address.String(), err)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
