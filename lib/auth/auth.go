// Package auth provides the SASL authenticators invoked when a raw
// connection to an OpalDB server is first opened. Each mechanism owns its
// credentials and drives a payload conversation over the not-yet-pooled
// connection; failures surface as security errors and abort the open.
package auth

import (
	"context"

	"github.com/go-i2p/logger"

	apperrors "github.com/opaldb/opal-go/lib/errors"
)

var log = logger.GetGoI2PLogger()

// Mechanism names.
const (
	// MechanismPlain is the SASL PLAIN mechanism.
	MechanismPlain = "PLAIN"
	// MechanismScramSHA256 is the SASL SCRAM-SHA-256 mechanism.
	MechanismScramSHA256 = "SCRAM-SHA-256"
)

// Credential holds the identity an authenticator presents to the server.
type Credential struct {
	// Username is the account name.
	Username string
	// Password is the account secret.
	Password string
	// Source is the database the credential is defined on.
	Source string
}

// Conversation is the payload exchange an authenticator drives over a raw
// connection during the open handshake. The transport implements it on top
// of the wire protocol.
type Conversation interface {
	// Step sends a client SASL payload and returns the server payload and
	// whether the server considers the conversation complete.
	Step(ctx context.Context, payload []byte) (reply []byte, done bool, err error)
	// Address returns the remote endpoint, for error reporting.
	Address() string
}

// Authenticator authenticates a raw connection before it enters the pool.
type Authenticator interface {
	// Mechanism returns the SASL mechanism name.
	Mechanism() string
	// Authenticate drives the conversation to completion.
	Authenticate(ctx context.Context, conv Conversation) error
}

// New returns the authenticator for the named mechanism, or a configuration
// error for mechanisms the driver does not support.
func New(mechanism string, cred Credential) (Authenticator, error) {
	switch mechanism {
	case MechanismPlain:
		return &plainAuthenticator{cred: cred}, nil
	case MechanismScramSHA256:
		return newScramAuthenticator(cred), nil
	default:
		return nil, apperrors.Wrap(apperrors.CodeConfiguration,
			"unsupported authentication mechanism "+mechanism, apperrors.ErrConfiguration)
	}
}
