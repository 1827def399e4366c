package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T, level string, format OutputFormat, fn func()) string {
	t.Helper()
	buf := &bytes.Buffer{}
	SetTestOutput(buf)
	defer UnsetTestOutput()

	InitLogger(level, format)
	defer InitLogger("info", FormatText)

	fn()
	return buf.String()
}

func TestLogger(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		logFn    func()
		contains []string
		excludes []string
	}{
		{
			name:     "info log",
			level:    "info",
			logFn:    func() { Info("test info message") },
			contains: []string{"test info message", "level=INFO"},
		},
		{
			name:     "debug log with debug level",
			level:    "debug",
			logFn:    func() { Debug("test debug message") },
			contains: []string{"test debug message", "level=DEBUG"},
		},
		{
			name:     "debug log with info level",
			level:    "info",
			logFn:    func() { Debug("test debug message") },
			excludes: []string{"test debug message"},
		},
		{
			name:     "fields are rendered",
			level:    "info",
			logFn:    func() { Info("fetched", Fields{"prefix": "Bunny"}) },
			contains: []string{"fetched", "prefix=Bunny"},
		},
		{
			name:     "formatted warning",
			level:    "warn",
			logFn:    func() { Warnf("mirror %d failed", 2) },
			contains: []string{"mirror 2 failed", "level=WARN"},
		},
		{
			name:     "info suppressed at error level",
			level:    "error",
			logFn:    func() { Infof("ready %s", "Bunny"); Errorf("broken %s", "Knot") },
			contains: []string{"broken Knot"},
			excludes: []string{"ready Bunny"},
		},
		{
			name:     "success adds status",
			level:    "info",
			logFn:    func() { Success("dataset ready", Fields{"prefix": "Knot"}) },
			contains: []string{"dataset ready", "status=success", "prefix=Knot"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := captureOutput(t, tt.level, FormatText, tt.logFn)
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestJSONFormat(t *testing.T) {
	out := captureOutput(t, "debug", FormatJSON, func() {
		Error("extraction failed", Fields{"prefix": "Eagle"})
	})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &line))
	assert.Equal(t, "extraction failed", line["msg"])
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "Eagle", line["prefix"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}
