package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info")
	require.NotNil(t, log)

	log.Info().Msg("test message")
	assert.Contains(t, buf.String(), "test message")
}

func TestNewDefaultWriter(t *testing.T) {
	// nil writer should default to stderr console writer
	log := New(nil, "info")
	require.NotNil(t, log)
}

func TestSub(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug")
	sub := log.Sub("mymodule")
	require.NotNil(t, sub)

	sub.Info().Msg("sub message")
	output := buf.String()
	assert.Contains(t, output, "sub message")
	assert.Contains(t, output, "mymodule")
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug")
	log.Sub("agent").With("agent", "Scout").Info().Msg("task started")

	output := buf.String()
	assert.Contains(t, output, `"subsystem":"agent"`)
	assert.Contains(t, output, `"agent":"Scout"`)
}

func TestOpen_JSONStyle(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := Open(Options{Level: "info", Style: "json", Out: &buf})
	require.NoError(t, err)
	defer closer.Close()

	log.Info().Str("model", "mistral").Msg("launching model")
	assert.Contains(t, buf.String(), `"model":"mistral"`)
	assert.Contains(t, buf.String(), `"message":"launching model"`)
}

func TestOpen_CompactStyle(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := Open(Options{Level: "info", Style: "compact", Out: &buf})
	require.NoError(t, err)
	defer closer.Close()

	log.Info().Msg("compact line")
	assert.Contains(t, buf.String(), "compact line")
	assert.NotContains(t, buf.String(), "{")
}

func TestOpen_WithFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "hyperloop.log")

	log, closer, err := Open(Options{Level: "debug", Style: "json", File: path, Out: &buf})
	require.NoError(t, err)

	log.Warn().Msg("model failed to load")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "model failed to load")
	assert.Contains(t, buf.String(), "model failed to load")
}

func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn")

	log.Debug().Msg("debug msg")
	log.Info().Msg("info msg")
	assert.Empty(t, buf.String(), "debug and info should be filtered at warn level")

	log.Warn().Msg("warn msg")
	assert.Contains(t, buf.String(), "warn msg")

	buf.Reset()
	log.Error().Msg("error msg")
	assert.Contains(t, buf.String(), "error msg")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"silent", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"unknown", zerolog.InfoLevel},
		{"INFO", zerolog.InfoLevel}, // case-sensitive, defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestSilentLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "silent")

	log.Debug().Msg("should not appear")
	log.Info().Msg("should not appear")
	log.Warn().Msg("should not appear")
	log.Error().Msg("should not appear")

	assert.Empty(t, buf.String())
}
