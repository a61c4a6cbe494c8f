package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRespectsVerbosity(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, false)
	logger.Debug().Msg("hidden")
	logger.Info().Str("region", "us-east-1").Msg("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "region=us-east-1")

	buf.Reset()
	verbose := New(&buf, true)
	verbose.Debug().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNonFileWriterIsNotTerminal(t *testing.T) {
	assert.False(t, isTerminal(&bytes.Buffer{}))
}
