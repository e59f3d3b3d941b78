package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalarDiffieHellman(t *testing.T) {
	t.Run("ScalarMultIsCommutative", func(t *testing.T) {
		a, err := GenerateScalar()
		require.NoError(t, err)
		b, err := GenerateScalar()
		require.NoError(t, err)

		aPub := ScalarBaseMult(a)
		bPub := ScalarBaseMult(b)

		s1, err := ScalarMult(a, bPub)
		require.NoError(t, err)
		s2, err := ScalarMult(b, aPub)
		require.NoError(t, err)

		assert.Equal(t, s1, s2)
	})

	t.Run("ChainedScalarMultAssociates", func(t *testing.T) {
		a, err := GenerateScalar()
		require.NoError(t, err)
		b, err := GenerateScalar()
		require.NoError(t, err)
		c, err := GenerateScalar()
		require.NoError(t, err)

		abPub, err := ScalarMult(a, ScalarBaseMult(b))
		require.NoError(t, err)
		left, err := ScalarMult(c, abPub)
		require.NoError(t, err)

		bcPub, err := ScalarMult(b, ScalarBaseMult(c))
		require.NoError(t, err)
		right, err := ScalarMult(a, bcPub)
		require.NoError(t, err)

		assert.Equal(t, left, right)
	})

	t.Run("RejectsIdentityPoint", func(t *testing.T) {
		a, err := GenerateScalar()
		require.NoError(t, err)
		var zero [ScalarSize]byte
		_, err = ScalarMult(a, zero)
		assert.Error(t, err)
	})
}
