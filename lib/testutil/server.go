// Package testutil provides an in-process OpalDB wire-protocol server for
// driver tests, so transport and integration tests run without a real
// database.
package testutil

import (
	"io"
	"net"
	"sync"

	"github.com/opaldb/opal-go/lib/wire"
)

// Server is a minimal wire-protocol endpoint. It answers the hello
// handshake, verifies SASL PLAIN credentials, and dispatches every other
// command to a configurable handler (an echo of the request body by
// default).
type Server struct {
	mu       sync.Mutex
	listener net.Listener
	running  bool
	conns    []net.Conn
	accepted int

	// PlainCredentials maps usernames to passwords for SASL PLAIN. When
	// empty, any sasl-start is rejected.
	PlainCredentials map[string]string

	// MaxMessageSize is the cap announced in the hello reply.
	MaxMessageSize int32

	// MangleResponseTo makes command replies carry responseTo+1, to
	// exercise the driver's correlation check.
	MangleResponseTo bool

	// Handler produces the reply body for a command received after the
	// handshake. Nil echoes the request body.
	Handler func(header wire.Header, body []byte) []byte
}

// NewServer starts a server listening on a random localhost port.
func NewServer() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener:       ln,
		running:        true,
		MaxMessageSize: wire.DefaultMaxMessageSize,
	}

	go s.acceptLoop()

	return s, nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Accepted returns the number of connections accepted so far.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Close shuts the server down and drops every open connection.
func (s *Server) Close() error {
	s.mu.Lock()
	s.running = false
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	return s.listener.Close()
}

// DropConnections closes every currently open connection, simulating a
// server-side fault while leaving the listener up.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.accepted++
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	for {
		header, body, err := readMessage(conn)
		if err != nil {
			return
		}

		reply := s.replyFor(header, body)
		if reply == nil {
			return
		}
		if err := writeMessage(conn, reply); err != nil {
			return
		}
	}
}

func (s *Server) replyFor(header wire.Header, body []byte) [][]byte {
	responseTo := header.RequestID
	if s.MangleResponseTo {
		responseTo++
	}

	if _, _, err := wire.ParseHelloBody(body); err == nil {
		return replyMessage(responseTo, wire.EncodeHelloReplyBody(s.MaxMessageSize))
	}

	if _, payload, err := wire.ParseSaslStartBody(body); err == nil {
		if s.checkPlain(payload) {
			return replyMessage(responseTo, wire.EncodeSaslReplyBody(true, nil))
		}
		return replyMessage(responseTo, wire.EncodeSaslErrorBody("authentication failed"))
	}

	if s.Handler != nil {
		return replyMessage(responseTo, s.Handler(header, body))
	}
	return replyMessage(responseTo, body)
}

// checkPlain validates a SASL PLAIN payload: authzid NUL authcid NUL passwd.
func (s *Server) checkPlain(payload []byte) bool {
	fields := splitNul(payload)
	if len(fields) != 3 {
		return false
	}
	want, ok := s.PlainCredentials[fields[1]]
	return ok && want == fields[2]
}

func splitNul(payload []byte) []string {
	var fields []string
	start := 0
	for i, b := range payload {
		if b == 0 {
			fields = append(fields, string(payload[start:i]))
			start = i + 1
		}
	}
	return append(fields, string(payload[start:]))
}

func replyMessage(responseTo int32, body []byte) [][]byte {
	h := wire.Header{
		MessageLength: int32(wire.HeaderSize + len(body)),
		RequestID:     wire.NextRequestID(),
		ResponseTo:    responseTo,
		OpCode:        wire.OpReply,
	}
	return [][]byte{h.Encode(), body}
}

func readMessage(conn net.Conn) (wire.Header, []byte, error) {
	headerBuf := make([]byte, wire.HeaderSize)
	if _, err := io.ReadFull(conn, headerBuf); err != nil {
		return wire.Header{}, nil, err
	}
	header, err := wire.DecodeHeader(headerBuf)
	if err != nil {
		return wire.Header{}, nil, err
	}
	body := make([]byte, header.MessageLength-wire.HeaderSize)
	if _, err := io.ReadFull(conn, body); err != nil {
		return wire.Header{}, nil, err
	}
	return header, body, nil
}

func writeMessage(conn net.Conn, buffers [][]byte) error {
	bufs := net.Buffers(buffers)
	_, err := bufs.WriteTo(conn)
	return err
}
