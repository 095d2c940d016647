// Package wire defines the framed message model for the OpalDB wire
// protocol. A message is a 16-byte little-endian header followed by a body;
// the header carries the request identifier used to correlate replies with
// the requests that produced them.
package wire

import (
	"encoding/binary"
	"sync/atomic"

	apperrors "github.com/opaldb/opal-go/lib/errors"
)

// HeaderSize is the fixed size of a message header in bytes.
const HeaderSize = 16

// DefaultMaxMessageSize is the size cap applied to inbound messages when
// none is negotiated with the server.
const DefaultMaxMessageSize = 48 * 1000 * 1000

// Operation codes.
const (
	// OpCommand is a client command request.
	OpCommand int32 = 2026
	// OpReply is a server reply to a command.
	OpReply int32 = 1
)

// requestIDCounter backs NextRequestID.
var requestIDCounter int32

// NextRequestID returns a process-unique request identifier.
func NextRequestID() int32 {
	return atomic.AddInt32(&requestIDCounter, 1)
}

// Header is the fixed-size prefix of every message.
type Header struct {
	// MessageLength is the total message size in bytes, header included.
	MessageLength int32
	// RequestID identifies this message.
	RequestID int32
	// ResponseTo is the RequestID of the message this one replies to,
	// or zero for requests.
	ResponseTo int32
	// OpCode identifies the operation.
	OpCode int32
}

// Encode returns a new HeaderSize-byte buffer holding the header in
// little-endian wire order.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.MessageLength))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.RequestID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.ResponseTo))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.OpCode))
	return buf
}

// DecodeHeader parses a header from the first HeaderSize bytes of buf.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, apperrors.NewProtocolError("header too short: %d bytes", len(buf))
	}
	h := Header{
		MessageLength: int32(binary.LittleEndian.Uint32(buf[0:4])),
		RequestID:     int32(binary.LittleEndian.Uint32(buf[4:8])),
		ResponseTo:    int32(binary.LittleEndian.Uint32(buf[8:12])),
		OpCode:        int32(binary.LittleEndian.Uint32(buf[12:16])),
	}
	if h.MessageLength < HeaderSize {
		return Header{}, apperrors.NewProtocolError("message length %d below header size", h.MessageLength)
	}
	return h, nil
}

// NewCommandMessage frames a command body into the buffer list handed to a
// connection's send path. The first buffer is the header, the rest is the
// body as given.
func NewCommandMessage(requestID int32, body []byte) [][]byte {
	h := Header{
		MessageLength: int32(HeaderSize + len(body)),
		RequestID:     requestID,
		OpCode:        OpCommand,
	}
	return [][]byte{h.Encode(), body}
}

// MessageSize sums the buffers of a framed message.
func MessageSize(buffers [][]byte) int {
	n := 0
	for _, b := range buffers {
		n += len(b)
	}
	return n
}

// ResponseBuffers is a received reply: its parsed header and raw body.
type ResponseBuffers struct {
	// Header is the reply header; ResponseTo correlates it to a request.
	Header Header
	// Body is the message payload, header excluded.
	Body []byte
}

// ReplyHeader returns the reply's header.
func (r *ResponseBuffers) ReplyHeader() Header {
	return r.Header
}

// ReceiveArgs carries the correlation and bounds parameters for receiving
// a reply.
type ReceiveArgs struct {
	// ResponseTo is the request identifier the reply must carry.
	ResponseTo int32
	// MaxMessageSize caps the reply size. Zero means DefaultMaxMessageSize.
	MaxMessageSize int32
	// EnforceMaxMessageSize enables the reply size check. Off by default:
	// servers have been observed to exceed the negotiated cap on some
	// administrative replies, so the check is opt-in.
	EnforceMaxMessageSize bool
}

// EffectiveMaxMessageSize returns the configured cap, or the default when
// unset.
func (a ReceiveArgs) EffectiveMaxMessageSize() int32 {
	if a.MaxMessageSize > 0 {
		return a.MaxMessageSize
	}
	return DefaultMaxMessageSize
}

// CheckSize validates a reply header against the receive bounds. It is a
// no-op unless EnforceMaxMessageSize is set.
func (a ReceiveArgs) CheckSize(h Header) error {
	if !a.EnforceMaxMessageSize {
		return nil
	}
	if h.MessageLength > a.EffectiveMaxMessageSize() {
		return apperrors.NewProtocolError("message length of %d exceeds maximum of %d",
			h.MessageLength, a.EffectiveMaxMessageSize())
	}
	return nil
}
