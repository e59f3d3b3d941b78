package tlv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireFramingRoundTrip(t *testing.T) {
	body := []byte{0x01, 0x02, 0x03}
	s := EncodeWire(body)

	frame, err := ParseWire(s)
	require.NoError(t, err)
	assert.Equal(t, FrameProtocol, frame.Kind)
	assert.Equal(t, body, frame.Body)
}

func TestQueryFraming(t *testing.T) {
	s := EncodeQuery(1)
	frame, err := ParseWire(s)
	require.NoError(t, err)
	assert.Equal(t, FrameQuery, frame.Kind)
}

func TestErrorFraming(t *testing.T) {
	s := EncodeError([]byte{0xAA, 0xBB}, "alice", "terminal", "bad signature")
	frame, err := ParseWire(s)
	require.NoError(t, err)
	assert.Equal(t, FrameError, frame.Kind)
	assert.Equal(t, "alice", frame.ErrorFrom)
	assert.Equal(t, "terminal", frame.ErrorSeverity)
	assert.Equal(t, "bad signature", frame.ErrorText)
	assert.Equal(t, []byte{0xAA, 0xBB}, frame.ErrorSig)
}

func TestUnknownFramingIsPlaintext(t *testing.T) {
	frame, err := ParseWire("hello, world")
	require.NoError(t, err)
	assert.Equal(t, FramePlaintext, frame.Kind)
}
