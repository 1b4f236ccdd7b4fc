package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_RoundTrip(t *testing.T) {
	m := Message{
		Type:       TypeSend,
		TTL:        WireTTL,
		MsgID:      "abc-123",
		Src:        "alice@g",
		Dst:        "bob@g",
		Payload:    "hi",
		RequireAck: true,
	}

	encoded, err := m.Encode()
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestHello(t *testing.T) {
	hello := Hello("alice@g", false)
	assert.Equal(t, TypeHello, hello.Type)
	assert.Equal(t, ProtocolVersion, hello.Version)
	assert.Equal(t, Features, hello.Features)

	ok := Hello("alice@g", true)
	assert.Equal(t, TypeHelloOK, ok.Type)
}

func TestCompressPayload_RoundTrip(t *testing.T) {
	payload := make([]byte, 1024)
	for i := range payload {
		payload[i] = byte(i % 7)
	}

	encoded, size, ok := CompressPayload(payload)
	require.True(t, ok)

	decoded, err := DecompressPayload(encoded, size)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestCompressPayload_TooSmall(t *testing.T) {
	_, _, ok := CompressPayload([]byte("short"))
	assert.False(t, ok)
}
