package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerSingleton(t *testing.T) {
	first := InitLogger(false)
	require.NotNil(t, first)

	// The first initialization wins; a later debug request still
	// returns the same instance.
	assert.Same(t, first, InitLogger(true))
	assert.Same(t, first, GetLogger())

	first.Info("logger smoke test")
	CleanupLogger()
}
