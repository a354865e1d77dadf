package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestParseFormat(t *testing.T) {
	assert.Equal(t, FormatJSON, ParseFormat("JSON"))
	assert.Equal(t, FormatLogfmt, ParseFormat("logfmt"))
	assert.Equal(t, FormatText, ParseFormat(""))
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Options{Level: slog.LevelInfo, Format: FormatJSON, Output: &buf})

	log.Debug("hidden")
	log.Info("retrieval complete", "tenant_id", "acme")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "retrieval complete", line["msg"])
	assert.Equal(t, "acme", line["tenant_id"])
}

func TestHighlightHandlerKeepsAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Options{Level: slog.LevelInfo, Format: FormatText, Output: &buf})

	log.With("component", "resolver").Info("persisting entity", "entity_id", "e1")

	out := buf.String()
	assert.Contains(t, out, "persisting entity")
	assert.Contains(t, out, "e1")
	assert.Contains(t, out, "resolver")
}

func TestIsWriteMessage(t *testing.T) {
	assert.True(t, isWriteMessage("Upserting relationship"))
	assert.False(t, isWriteMessage("classified query"))
}
