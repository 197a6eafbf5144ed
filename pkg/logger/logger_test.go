package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Levels(t *testing.T) {
	testCases := []struct {
		level    string
		expected zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"WARNING", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tc := range testCases {
		t.Run(tc.level, func(t *testing.T) {
			New(Config{Level: tc.level})
			assert.Equal(t, tc.expected, zerolog.GlobalLevel())
		})
	}
}

func TestNew_TimestampFormat(t *testing.T) {
	New(Config{Level: "info"})
	assert.Equal(t, "2006-01-02T15:04:05Z07:00", zerolog.TimeFieldFormat)
}

func TestNew_ErrorLevelFiltersLower(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "error"}).Output(&buf)

	l.Info().Msg("should not appear")
	assert.NotContains(t, buf.String(), "should not appear")

	l.Error().Msg("should appear")
	assert.Contains(t, buf.String(), "should appear")
}

func TestNew_PrettyOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Pretty: true}).Output(&buf)
	l.Info().Str("key", "value").Msg("pretty message")

	assert.Contains(t, buf.String(), "pretty message")
}

func TestNew_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fundsync.log")

	l := New(Config{Level: "info", File: path})
	l.Info().Str("key", "exports/a.csv").Msg("written to file")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "written to file")
	assert.Contains(t, string(content), "exports/a.csv")
}

func TestSetGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info"}).Output(&buf)

	SetGlobalLogger(l)
	defer SetGlobalLogger(zerolog.Nop())

	l.Info().Msg("global logger test")
	assert.Contains(t, buf.String(), "global logger test")
}
