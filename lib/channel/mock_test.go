package channel

import (
	"fmt"
	"sync"

	"github.com/opaldb/opal-go/lib/transport"
	"github.com/opaldb/opal-go/lib/wire"
)

// mockConnection is an in-memory InternalConnection for provider tests.
type mockConnection struct {
	id      string
	address transport.ServerAddress

	mu      sync.Mutex
	closed  bool
	sendErr error
	recvErr error
	replies []*wire.ResponseBuffers
}

var _ transport.InternalConnection = (*mockConnection)(nil)

func (m *mockConnection) ID() string                             { return m.id }
func (m *mockConnection) ServerAddress() transport.ServerAddress { return m.address }
func (m *mockConnection) MaxMessageSize() int32                  { return wire.DefaultMaxMessageSize }

func (m *mockConnection) SendMessage(buffers [][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendErr
}

func (m *mockConnection) ReceiveMessage() (*wire.ResponseBuffers, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recvErr != nil {
		return nil, m.recvErr
	}
	if len(m.replies) == 0 {
		return nil, fmt.Errorf("mock connection %s has no scripted reply", m.id)
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return reply, nil
}

func (m *mockConnection) SendMessageAsync(buffers [][]byte, callback func(error)) {
	go callback(m.SendMessage(buffers))
}

func (m *mockConnection) ReceiveMessageAsync(callback func(*wire.ResponseBuffers, error)) {
	go func() {
		callback(m.ReceiveMessage())
	}()
}

func (m *mockConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConnection) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConnection) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

func (m *mockConnection) SetReceiveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recvErr = err
}

func (m *mockConnection) ScriptReply(responseTo int32, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, &wire.ResponseBuffers{
		Header: wire.Header{
			MessageLength: int32(wire.HeaderSize + len(body)),
			RequestID:     wire.NextRequestID(),
			ResponseTo:    responseTo,
			OpCode:        wire.OpReply,
		},
		Body: body,
	})
}

// mockConnectionFactory creates mock connections and records them.
type mockConnectionFactory struct {
	mu        sync.Mutex
	counter   int
	createErr error
	conns     []*mockConnection
}

var _ transport.Factory = (*mockConnectionFactory)(nil)

func (f *mockConnectionFactory) Create(address transport.ServerAddress) (transport.InternalConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.counter++
	conn := &mockConnection{
		id:      fmt.Sprintf("conn-%d", f.counter),
		address: address,
	}
	f.conns = append(f.conns, conn)
	return conn, nil
}

func (f *mockConnectionFactory) SetCreateError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErr = err
}

func (f *mockConnectionFactory) CreatedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter
}

func (f *mockConnectionFactory) Conn(i int) *mockConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}
