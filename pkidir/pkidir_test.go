package pkidir

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/mpenc/ske"
)

func TestRegisterThenStaticPublicKeyRoundTrip(t *testing.T) {
	dir := New([]byte("shared-trust-root-secret"))
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	_, err = dir.Register("alice", pub, time.Hour)
	require.NoError(t, err)

	got, err := dir.StaticPublicKey("alice")
	require.NoError(t, err)
	assert.Equal(t, pub, got)
}

func TestStaticPublicKeyRejectsUnknownMember(t *testing.T) {
	dir := New([]byte("secret"))
	_, err := dir.StaticPublicKey("ghost")
	assert.Error(t, err)
}

func TestImportAcceptsCertificateFromSameTrustRoot(t *testing.T) {
	secret := []byte("shared-trust-root-secret")
	issuer := New(secret)
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	cert, err := issuer.Register("bob", pub, time.Hour)
	require.NoError(t, err)

	peer := New(secret)
	require.NoError(t, peer.Import(cert))

	got, err := peer.StaticPublicKey("bob")
	require.NoError(t, err)
	assert.Equal(t, pub, got)
}

func TestImportRejectsCertificateFromDifferentTrustRoot(t *testing.T) {
	issuer := New([]byte("root-a"))
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	cert, err := issuer.Register("carol", pub, time.Hour)
	require.NoError(t, err)

	peer := New([]byte("root-b"))
	assert.Error(t, peer.Import(cert))
}

func TestImportRejectsExpiredCertificate(t *testing.T) {
	issuer := New([]byte("secret"))
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	cert, err := issuer.Register("dave", pub, -time.Minute)
	require.NoError(t, err)

	peer := New([]byte("secret"))
	assert.Error(t, peer.Import(cert))
}

// Directory must satisfy ske.Directory so it can back SKE's static-key
// authentication path end to end.
var _ ske.Directory = (*Directory)(nil)
