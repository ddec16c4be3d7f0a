package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("debug", "json", &buf)
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())

	logger.Info().Str("model", "granite3.2-vision").Msg("answer received")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "granite3.2-vision", entry["model"])
	assert.Equal(t, "answer received", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestNewConsoleFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("WARN", "console", &buf)
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	logger.Warn().Msg("server not ready")
	assert.Contains(t, buf.String(), "server not ready")
}

func TestNewInvalidInput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("loud", "json", &buf)
	assert.Error(t, err)
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())

	_, err = New("info", "xml", &buf)
	assert.Error(t, err)
}
