package transport

import (
	"context"
	"net"
	"time"

	"github.com/opaldb/opal-go/lib/auth"
	apperrors "github.com/opaldb/opal-go/lib/errors"
	"github.com/opaldb/opal-go/lib/wire"
	"github.com/opaldb/opal-go/version"
)

// Factory opens raw connections to a server. The open handshake and
// authentication happen here; a connection returned by Create is ready for
// use and failures propagate to the caller as acquisition failures.
type Factory interface {
	Create(address ServerAddress) (InternalConnection, error)
}

// TCPConfig configures the TCP connection factory.
type TCPConfig struct {
	// DialTimeout bounds connection establishment.
	// Default: 10 seconds
	DialTimeout time.Duration
	// IOTimeout bounds each send and receive on an open connection.
	// Zero disables per-operation deadlines.
	IOTimeout time.Duration
}

// DefaultTCPConfig returns a TCPConfig with sensible defaults.
func DefaultTCPConfig() TCPConfig {
	return TCPConfig{
		DialTimeout: 10 * time.Second,
	}
}

// TCPFactory creates authenticated TCP connections.
type TCPFactory struct {
	cfg           TCPConfig
	authenticator auth.Authenticator
}

// NewTCPFactory creates a factory. The authenticator may be nil for
// servers that accept unauthenticated connections.
func NewTCPFactory(cfg TCPConfig, authenticator auth.Authenticator) *TCPFactory {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &TCPFactory{cfg: cfg, authenticator: authenticator}
}

// Create dials the server, performs the hello handshake, and authenticates.
func (f *TCPFactory) Create(address ServerAddress) (InternalConnection, error) {
	netConn, err := net.DialTimeout("tcp", address.String(), f.cfg.DialTimeout)
	if err != nil {
		return nil, apperrors.NewSocketError("dial", address.String(), err)
	}

	conn := newTCPConnection(netConn, address, f.cfg.IOTimeout)

	if err := f.handshake(conn); err != nil {
		conn.Close()
		return nil, err
	}

	if f.authenticator != nil {
		conv := &saslConversation{conn: conn, mechanism: f.authenticator.Mechanism()}
		if err := f.authenticator.Authenticate(context.Background(), conv); err != nil {
			conn.Close()
			return nil, err
		}
	}

	log.WithField("connectionId", conn.ID()).WithField("address", address.String()).
		Debug("opened transport connection")
	return conn, nil
}

// handshake announces the driver and records the negotiated message cap.
func (f *TCPFactory) handshake(conn *tcpConnection) error {
	requestID := wire.NextRequestID()
	body := wire.EncodeHelloBody(version.DriverName, version.Full())

	if err := conn.SendMessage(wire.NewCommandMessage(requestID, body)); err != nil {
		return err
	}

	reply, err := conn.ReceiveMessage()
	if err != nil {
		return err
	}
	if reply.Header.ResponseTo != requestID {
		return apperrors.NewProtocolError("hello responseTo %d does not match requestID %d",
			reply.Header.ResponseTo, requestID)
	}

	maxMessageSize, err := wire.ParseHelloReplyBody(reply.Body)
	if err != nil {
		return err
	}
	if maxMessageSize > 0 {
		conn.maxMessageSize = maxMessageSize
	}
	return nil
}

// saslConversation adapts the wire protocol to the auth.Conversation the
// authenticators drive.
type saslConversation struct {
	conn      *tcpConnection
	mechanism string
	started   bool
}

func (s *saslConversation) Address() string {
	return s.conn.ServerAddress().String()
}

func (s *saslConversation) Step(_ context.Context, payload []byte) ([]byte, bool, error) {
	var body []byte
	if !s.started {
		body = wire.EncodeSaslStartBody(s.mechanism, payload)
		s.started = true
	} else {
		body = wire.EncodeSaslContinueBody(payload)
	}

	requestID := wire.NextRequestID()
	if err := s.conn.SendMessage(wire.NewCommandMessage(requestID, body)); err != nil {
		return nil, false, err
	}

	reply, err := s.conn.ReceiveMessage()
	if err != nil {
		return nil, false, err
	}
	if reply.Header.ResponseTo != requestID {
		return nil, false, apperrors.NewProtocolError("sasl responseTo %d does not match requestID %d",
			reply.Header.ResponseTo, requestID)
	}

	return wire.ParseSaslReplyBody(reply.Body)
}
