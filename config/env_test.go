package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("MPENC_TEST_VAR", "hello")

	assert.Equal(t, "hello", SubstituteEnvVars("${MPENC_TEST_VAR}"))
	assert.Equal(t, "fallback", SubstituteEnvVars("${MPENC_UNSET_VAR:fallback}"))
	assert.Equal(t, "prefix-hello-suffix", SubstituteEnvVars("prefix-${MPENC_TEST_VAR}-suffix"))
}

func TestGetEnvironment(t *testing.T) {
	t.Setenv("MPENC_ENV", "production")
	assert.Equal(t, "production", GetEnvironment())
	assert.True(t, IsProduction())
}
