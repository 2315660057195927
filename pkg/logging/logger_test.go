package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodeLines parses the JSON log lines written to buf.
func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), "line %q", line)
		lines = append(lines, entry)
	}
	return lines
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, LevelInfo, cfg.Level)
	assert.False(t, cfg.Pretty)
	assert.NotNil(t, cfg.Output)
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		level LogLevel
		valid bool
		want  zerolog.Level
	}{
		{"", true, zerolog.InfoLevel},
		{LevelDebug, true, zerolog.DebugLevel},
		{LevelInfo, true, zerolog.InfoLevel},
		{"WARN", true, zerolog.WarnLevel},
		{"warning", true, zerolog.WarnLevel},
		{LevelError, true, zerolog.ErrorLevel},
		{"verbose", false, zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.level.Valid())
			assert.Equal(t, tt.want, tt.level.Zerolog())
		})
	}
}

func TestSetup_ComponentLines(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelDebug, Output: buf, Service: "manuals-proxy"})

	cacheLogger := NewLogger("cache")
	cacheLogger.Debug().Str("key", `/devices:{"X-API-Key":""}`).Msg("HIT")
	retryLogger := NewLogger("retry")
	retryLogger.Warn().Str("request_id", "r-1").Int("status", 503).Msg("Retrying request")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)

	assert.Equal(t, "cache", lines[0]["component"])
	assert.Equal(t, "debug", lines[0]["level"])
	assert.Equal(t, "HIT", lines[0]["message"])

	assert.Equal(t, "retry", lines[1]["component"])
	assert.Equal(t, "warn", lines[1]["level"])
	assert.Equal(t, float64(503), lines[1]["status"])

	for _, line := range lines {
		assert.Equal(t, "manuals-proxy", line["service"])
		assert.Contains(t, line, "time")
	}
}

func TestSetup_LevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelWarn, Output: buf})

	logger := NewLogger("bus")
	logger.Debug().Msg("dispatch")
	logger.Info().Msg("replayed")
	logger.Warn().Msg("network error")
	logger.Error().Msg("retries exhausted")

	var messages []string
	for _, line := range decodeLines(t, buf) {
		messages = append(messages, line["message"].(string))
		assert.NotContains(t, line, "service", "service is only set when configured")
	}
	assert.Equal(t, []string{"network error", "retries exhausted"}, messages)
}

func TestSetup_Pretty(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Pretty: true, Output: buf})

	historyLogger := NewLogger("history")
	historyLogger.Info().Msg("History cleared")

	out := buf.String()
	assert.Contains(t, out, "History cleared")
	assert.False(t, json.Valid([]byte(strings.TrimSpace(out))), "console output should not be JSON")
}
