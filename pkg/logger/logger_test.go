package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn")

	log.Info().Msg("quiet")
	require.Empty(t, buf.String())

	log.Warn().Msg("loud")
	require.Contains(t, buf.String(), `"loud"`)
	require.Contains(t, buf.String(), `"level":"warn"`)
}

func TestNewFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "chatty")
	require.Equal(t, zerolog.InfoLevel, log.GetLevel())

	log = New(&buf, "")
	require.Equal(t, zerolog.InfoLevel, log.GetLevel())
}
