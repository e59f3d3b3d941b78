package mpencerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	e := New(KindStateViolation, "greet.processIncoming", "duplicate member in AUX_UPFLOW")
	assert.Contains(t, e.Error(), "state_violation")
	assert.Contains(t, e.Error(), "duplicate member")
	assert.Nil(t, e.Unwrap())
}

func TestErrorWrap(t *testing.T) {
	cause := errors.New("bad signature")
	e := Wrap(KindCryptoVerify, "msgsec.decryptVerify", "session signature check failed", cause)
	assert.Equal(t, cause, e.Unwrap())
	assert.Contains(t, e.Error(), "bad signature")
}

func TestIsMatchesByKind(t *testing.T) {
	err := error(New(KindTimeout, "transcript.unacked", "full-ack timer expired"))
	assert.True(t, Is(err, KindTimeout))
	assert.False(t, Is(err, KindCryptoVerify))

	var target error = New(KindTimeout, "", "")
	assert.True(t, errors.Is(err, target))
}

func TestRecoverableKinds(t *testing.T) {
	assert.True(t, Recoverable(KindProtocolDecode))
	assert.True(t, Recoverable(KindTimeout))
	assert.True(t, Recoverable(KindOperationIgnored))
	assert.False(t, Recoverable(KindStateViolation))
	assert.False(t, Recoverable(KindCryptoVerify))
	assert.False(t, Recoverable(KindOperationInProgress))
}
