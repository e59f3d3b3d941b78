package recovery

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	bundle := Bundle{
		SessionId: [32]byte{1, 2, 3},
		Members:   []string{"alice", "bob", "carol"},
		GroupKey:  make([]byte, 16),
	}
	for i := range bundle.GroupKey {
		bundle.GroupKey[i] = byte(i)
	}

	packet, err := Seal(pub, bundle)
	require.NoError(t, err)
	require.NotEmpty(t, packet)

	got, err := Open(priv, packet)
	require.NoError(t, err)
	assert.Equal(t, bundle.SessionId, got.SessionId)
	assert.Equal(t, bundle.Members, got.Members)
	assert.Equal(t, bundle.GroupKey, got.GroupKey)
}

func TestOpenFailsForWrongRecipient(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	packet, err := Seal(pub, Bundle{SessionId: [32]byte{9}, GroupKey: make([]byte, 16)})
	require.NoError(t, err)

	_, err = Open(otherPriv, packet)
	assert.Error(t, err)
}

func TestOpenRejectsTamperedPacket(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	packet, err := Seal(pub, Bundle{SessionId: [32]byte{1}, GroupKey: make([]byte, 16)})
	require.NoError(t, err)
	packet[len(packet)-1] ^= 0xFF

	_, err = Open(priv, packet)
	assert.Error(t, err)
}
