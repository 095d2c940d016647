// Package transport provides the raw connection layer beneath the
// connection pool: the ServerAddress type, the InternalConnection interface
// for synchronous and asynchronous exchange of framed messages, and the TCP
// implementation that dials, performs the open handshake, and authenticates
// before a connection is handed to the pool.
package transport

import (
	"fmt"
	"net"
	"strconv"

	apperrors "github.com/opaldb/opal-go/lib/errors"
)

// DefaultPort is the port OpalDB servers listen on by default.
const DefaultPort = 27027

// ServerAddress identifies the single remote endpoint a pool serves.
type ServerAddress struct {
	// Host is the server hostname or IP.
	Host string
	// Port is the server TCP port.
	Port int
}

// NewServerAddress builds an address, applying the default port when the
// given port is zero.
func NewServerAddress(host string, port int) ServerAddress {
	if port == 0 {
		port = DefaultPort
	}
	return ServerAddress{Host: host, Port: port}
}

// ParseServerAddress parses "host" or "host:port".
func ParseServerAddress(s string) (ServerAddress, error) {
	if s == "" {
		return ServerAddress{}, apperrors.Wrap(apperrors.CodeInvalidInput,
			"empty server address", apperrors.ErrInvalidInput)
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// No port part; use the default.
		return NewServerAddress(s, 0), nil
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return ServerAddress{}, apperrors.Wrap(apperrors.CodeInvalidInput,
			fmt.Sprintf("invalid port in server address %q", s), apperrors.ErrInvalidInput)
	}
	return ServerAddress{Host: host, Port: port}, nil
}

// String returns the address in host:port form.
func (a ServerAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}
