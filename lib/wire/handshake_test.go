package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelloBody(t *testing.T) {
	body := EncodeHelloBody("opal-go", "1.2.3")
	name, version, err := ParseHelloBody(body)
	require.NoError(t, err)
	assert.Equal(t, "opal-go", name)
	assert.Equal(t, "1.2.3", version)

	_, _, err = ParseHelloBody([]byte("not-a-hello"))
	require.Error(t, err)
}

func TestHelloReplyBody(t *testing.T) {
	size, err := ParseHelloReplyBody(EncodeHelloReplyBody(DefaultMaxMessageSize))
	require.NoError(t, err)
	assert.Equal(t, int32(DefaultMaxMessageSize), size)

	_, err = ParseHelloReplyBody([]byte{1, 2})
	require.Error(t, err)
}

func TestSaslBodies(t *testing.T) {
	// PLAIN payloads embed NUL bytes; the framing must not split on them.
	payload := []byte("\x00user\x00pass")

	mech, got, err := ParseSaslStartBody(EncodeSaslStartBody("PLAIN", payload))
	require.NoError(t, err)
	assert.Equal(t, "PLAIN", mech)
	assert.Equal(t, payload, got)

	got, err = ParseSaslContinueBody(EncodeSaslContinueBody(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	got, done, err := ParseSaslReplyBody(EncodeSaslReplyBody(true, []byte("v=abc")))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []byte("v=abc"), got)

	_, done, err = ParseSaslReplyBody(EncodeSaslReplyBody(false, nil))
	require.NoError(t, err)
	assert.False(t, done)
}
