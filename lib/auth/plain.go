package auth

import (
	"context"
)

// plainAuthenticator implements SASL PLAIN (RFC 4616): a single message
// carrying authzid, authcid and password separated by NUL bytes.
type plainAuthenticator struct {
	cred Credential
}

func (a *plainAuthenticator) Mechanism() string {
	return MechanismPlain
}

func (a *plainAuthenticator) Authenticate(ctx context.Context, conv Conversation) error {
	payload := make([]byte, 0, len(a.cred.Username)+len(a.cred.Password)+2)
	payload = append(payload, 0)
	payload = append(payload, a.cred.Username...)
	payload = append(payload, 0)
	payload = append(payload, a.cred.Password...)

	_, done, err := conv.Step(ctx, payload)
	if err != nil {
		return wrapSecurity(MechanismPlain, conv.Address(), err)
	}
	if !done {
		return wrapSecurity(MechanismPlain, conv.Address(), nil)
	}

	log.WithField("mechanism", MechanismPlain).WithField("username", a.cred.Username).
		Debug("authenticated connection")
	return nil
}
