package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	apperrors "github.com/opaldb/opal-go/lib/errors"
)

const (
	scramKeyLen       = sha256.Size
	scramNonceLen     = 24
	gs2HeaderNoBind   = "n,,"
	channelBindingB64 = "biws" // base64("n,,")
)

// scramAuthenticator implements SASL SCRAM-SHA-256 (RFC 5802, RFC 7677).
type scramAuthenticator struct {
	cred Credential

	// nonceSource is overridable in tests for a deterministic conversation.
	nonceSource func() (string, error)
}

func newScramAuthenticator(cred Credential) *scramAuthenticator {
	return &scramAuthenticator{cred: cred, nonceSource: randomNonce}
}

func randomNonce() (string, error) {
	raw := make([]byte, scramNonceLen)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func (a *scramAuthenticator) Mechanism() string {
	return MechanismScramSHA256
}

func (a *scramAuthenticator) Authenticate(ctx context.Context, conv Conversation) error {
	clientNonce, err := a.nonceSource()
	if err != nil {
		return wrapSecurity(MechanismScramSHA256, conv.Address(), err)
	}

	clientFirstBare := fmt.Sprintf("n=%s,r=%s", escapeUsername(a.cred.Username), clientNonce)

	serverFirst, done, err := conv.Step(ctx, []byte(gs2HeaderNoBind+clientFirstBare))
	if err != nil {
		return wrapSecurity(MechanismScramSHA256, conv.Address(), err)
	}
	if done {
		return wrapSecurity(MechanismScramSHA256, conv.Address(),
			apperrors.NewProtocolError("server completed SCRAM conversation after first message"))
	}

	combinedNonce, salt, iterations, err := parseServerFirst(string(serverFirst))
	if err != nil {
		return wrapSecurity(MechanismScramSHA256, conv.Address(), err)
	}
	if !strings.HasPrefix(combinedNonce, clientNonce) {
		return wrapSecurity(MechanismScramSHA256, conv.Address(),
			apperrors.NewProtocolError("server nonce does not extend client nonce"))
	}

	saltedPassword := pbkdf2.Key([]byte(a.cred.Password), salt, iterations, scramKeyLen, sha256.New)
	clientKey := hmacSHA256(saltedPassword, "Client Key")
	storedKey := sha256.Sum256(clientKey)
	serverKey := hmacSHA256(saltedPassword, "Server Key")

	clientFinalNoProof := fmt.Sprintf("c=%s,r=%s", channelBindingB64, combinedNonce)
	authMessage := clientFirstBare + "," + string(serverFirst) + "," + clientFinalNoProof

	clientSignature := hmacSHA256(storedKey[:], authMessage)
	proof := make([]byte, len(clientKey))
	for i := range clientKey {
		proof[i] = clientKey[i] ^ clientSignature[i]
	}

	clientFinal := clientFinalNoProof + ",p=" + base64.StdEncoding.EncodeToString(proof)

	serverFinal, done, err := conv.Step(ctx, []byte(clientFinal))
	if err != nil {
		return wrapSecurity(MechanismScramSHA256, conv.Address(), err)
	}

	serverSignature, err := parseServerFinal(string(serverFinal))
	if err != nil {
		return wrapSecurity(MechanismScramSHA256, conv.Address(), err)
	}
	if !hmac.Equal(serverSignature, hmacSHA256(serverKey, authMessage)) {
		return wrapSecurity(MechanismScramSHA256, conv.Address(),
			apperrors.NewProtocolError("server signature mismatch"))
	}

	// Some servers require an empty final client message before reporting
	// the conversation done.
	if !done {
		if _, done, err = conv.Step(ctx, nil); err != nil {
			return wrapSecurity(MechanismScramSHA256, conv.Address(), err)
		}
		if !done {
			return wrapSecurity(MechanismScramSHA256, conv.Address(),
				apperrors.NewProtocolError("conversation not done after server signature"))
		}
	}

	log.WithField("mechanism", MechanismScramSHA256).WithField("username", a.cred.Username).
		Debug("authenticated connection")
	return nil
}

func hmacSHA256(key []byte, message string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return mac.Sum(nil)
}

// escapeUsername applies the SCRAM username escaping for '=' and ','.
func escapeUsername(username string) string {
	username = strings.ReplaceAll(username, "=", "=3D")
	return strings.ReplaceAll(username, ",", "=2C")
}

func parseServerFirst(msg string) (nonce string, salt []byte, iterations int, err error) {
	for _, field := range strings.Split(msg, ",") {
		switch {
		case strings.HasPrefix(field, "r="):
			nonce = field[2:]
		case strings.HasPrefix(field, "s="):
			salt, err = base64.StdEncoding.DecodeString(field[2:])
			if err != nil {
				return "", nil, 0, apperrors.NewProtocolError("bad SCRAM salt: %v", err)
			}
		case strings.HasPrefix(field, "i="):
			iterations, err = strconv.Atoi(field[2:])
			if err != nil {
				return "", nil, 0, apperrors.NewProtocolError("bad SCRAM iteration count: %v", err)
			}
		}
	}
	if nonce == "" || len(salt) == 0 || iterations <= 0 {
		return "", nil, 0, apperrors.NewProtocolError("incomplete SCRAM server-first message")
	}
	return nonce, salt, iterations, nil
}

func parseServerFinal(msg string) ([]byte, error) {
	if strings.HasPrefix(msg, "e=") {
		return nil, apperrors.NewProtocolError("server rejected credentials: %s", msg[2:])
	}
	if !strings.HasPrefix(msg, "v=") {
		return nil, apperrors.NewProtocolError("malformed SCRAM server-final message")
	}
	sig, err := base64.StdEncoding.DecodeString(msg[2:])
	if err != nil {
		return nil, apperrors.NewProtocolError("bad SCRAM server signature: %v", err)
	}
	return sig, nil
}

func wrapSecurity(mechanism, address string, err error) error {
	return apperrors.NewSecurityError(mechanism, "conversation with "+address+" failed", err)
}
