package wire

import (
	"bytes"
	"encoding/binary"

	apperrors "github.com/opaldb/opal-go/lib/errors"
)

// Command names used during the open handshake. Bodies are NUL-separated
// fields; replies to sasl commands carry a one-byte done flag before the
// mechanism payload.
const (
	cmdHello        = "hello"
	cmdSaslStart    = "sasl-start"
	cmdSaslContinue = "sasl-continue"
)

// EncodeHelloBody builds the body of the hello command a connection sends
// immediately after the socket opens, announcing the driver to the server.
func EncodeHelloBody(driverName, driverVersion string) []byte {
	return joinFields(cmdHello, driverName, driverVersion)
}

// ParseHelloBody splits a hello command body into driver name and version.
func ParseHelloBody(body []byte) (driverName, driverVersion string, err error) {
	fields := bytes.Split(body, []byte{0})
	if len(fields) != 3 || string(fields[0]) != cmdHello {
		return "", "", apperrors.NewProtocolError("malformed hello command")
	}
	return string(fields[1]), string(fields[2]), nil
}

// EncodeHelloReplyBody builds the body of the server's hello reply carrying
// the negotiated message size cap.
func EncodeHelloReplyBody(maxMessageSize int32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(maxMessageSize))
	return buf
}

// ParseHelloReplyBody extracts the negotiated message size cap.
func ParseHelloReplyBody(body []byte) (int32, error) {
	if len(body) < 4 {
		return 0, apperrors.NewProtocolError("hello reply too short: %d bytes", len(body))
	}
	return int32(binary.LittleEndian.Uint32(body[:4])), nil
}

// EncodeSaslStartBody builds the body of the first SASL command, naming the
// mechanism and carrying its initial payload.
func EncodeSaslStartBody(mechanism string, payload []byte) []byte {
	return append(joinFields(cmdSaslStart, mechanism, ""), payload...)
}

// ParseSaslStartBody splits a sasl-start body into mechanism and payload.
func ParseSaslStartBody(body []byte) (mechanism string, payload []byte, err error) {
	fields := bytes.SplitN(body, []byte{0}, 3)
	if len(fields) != 3 || string(fields[0]) != cmdSaslStart {
		return "", nil, apperrors.NewProtocolError("malformed sasl-start command")
	}
	return string(fields[1]), fields[2], nil
}

// EncodeSaslContinueBody builds the body of a SASL continuation command.
func EncodeSaslContinueBody(payload []byte) []byte {
	return append(joinFields(cmdSaslContinue, ""), payload...)
}

// ParseSaslContinueBody extracts the payload of a continuation command.
func ParseSaslContinueBody(body []byte) ([]byte, error) {
	fields := bytes.SplitN(body, []byte{0}, 2)
	if len(fields) != 2 || string(fields[0]) != cmdSaslContinue {
		return nil, apperrors.NewProtocolError("malformed sasl-continue command")
	}
	return fields[1], nil
}

// SASL reply flags.
const (
	saslFlagContinue = byte(0)
	saslFlagDone     = byte(1)
	saslFlagError    = byte(2)
)

// EncodeSaslReplyBody builds the body of a server SASL reply: a one-byte
// flag followed by the mechanism payload.
func EncodeSaslReplyBody(done bool, payload []byte) []byte {
	flag := saslFlagContinue
	if done {
		flag = saslFlagDone
	}
	return append([]byte{flag}, payload...)
}

// EncodeSaslErrorBody builds a server SASL reply rejecting the conversation.
func EncodeSaslErrorBody(message string) []byte {
	return append([]byte{saslFlagError}, message...)
}

// ParseSaslReplyBody splits a server SASL reply into its flag and payload.
// Rejections surface as security errors.
func ParseSaslReplyBody(body []byte) (payload []byte, done bool, err error) {
	if len(body) < 1 {
		return nil, false, apperrors.NewProtocolError("empty sasl reply")
	}
	if body[0] == saslFlagError {
		return nil, false, apperrors.Wrap(apperrors.CodeSecurity,
			"server rejected credentials: "+string(body[1:]), apperrors.ErrSecurity)
	}
	return body[1:], body[0] == saslFlagDone, nil
}

func joinFields(fields ...string) []byte {
	var buf bytes.Buffer
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(0)
		}
		buf.WriteString(f)
	}
	return buf.Bytes()
}
