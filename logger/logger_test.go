package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require := require.New(t)

	tests := []struct {
		name  string
		level Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"", InfoLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"fatal", FatalLevel},
	}
	for _, tt := range tests {
		lv, err := ParseLevel(tt.name)
		require.NoError(err, tt.name)
		require.Equal(tt.level, lv, tt.name)
	}

	_, err := ParseLevel("verbose")
	require.EqualError(err, `unknown log level "verbose"`)
}

func TestSlogWriter_JSON(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	l := NewSlogWriter(&buf, InfoLevel, false, false)

	l.Debug("hidden")
	require.Zero(buf.Len())

	l.With("cycleID", "abc").Info("connected", "host", "127.0.0.1")

	var rec map[string]any
	require.NoError(json.Unmarshal(buf.Bytes(), &rec))
	require.Equal("connected", rec["msg"])
	require.Equal("abc", rec["cycleID"])
	require.Equal("127.0.0.1", rec["host"])
	require.Contains(rec, "ts")
}

func TestSlogWriter_SetLevel(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	l := NewSlogWriter(&buf, ErrorLevel, false, true)
	require.Equal(ErrorLevel, l.Level())

	l.Warn("suppressed")
	require.Zero(buf.Len())

	child := l.With("k", "v")
	l.SetLevel(DebugLevel)
	require.Equal(DebugLevel, child.Level())

	child.Debug("visible")
	require.Contains(buf.String(), "visible")
}
