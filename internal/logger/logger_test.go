package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesConsoleAndJSON(t *testing.T) {
	var console, sink bytes.Buffer
	l := New(&console, &sink)

	l.Info("payout", "sweep started")

	assert.Contains(t, console.String(), "[PAYOUT")
	assert.Contains(t, console.String(), "sweep started")

	var entry LogEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(sink.Bytes()), &entry))
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "PAYOUT", entry.Category)
	assert.Equal(t, "sweep started", entry.Message)
	assert.Equal(t, "logger_test.go", entry.File)
}

func TestLoggerMinLevel(t *testing.T) {
	var console bytes.Buffer
	l := New(&console, nil)
	l.minLevel = WARN

	l.Debug("X", "hidden")
	l.Info("X", "hidden too")
	l.Warn("X", "shown")

	assert.NotContains(t, console.String(), "hidden")
	assert.Contains(t, console.String(), "shown")
}

func TestFatalCallsExit(t *testing.T) {
	l := NewNop()
	code := -1
	l.exit = func(c int) { code = c }

	l.Fatal("CONFIG", "boom")
	assert.Equal(t, 1, code)
}

func TestSpecializedHelpers(t *testing.T) {
	var console bytes.Buffer
	l := New(&console, nil)

	l.LogPayout("CLAIM", "po_1", "lease acquired")
	l.LogDatabase("UPDATE", "payouts", "1 row")

	out := console.String()
	assert.True(t, strings.Contains(out, "[CLAIM] po_1 - lease acquired"))
	assert.True(t, strings.Contains(out, "[UPDATE] payouts - 1 row"))
}

func TestNewWithOptionsCreatesDailyFile(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	l := NewWithOptions(Options{Dir: dir, FilePrefix: "test-svc", Console: &console})
	l.Info("APP", "hello")
	l.Close()

	matches, err := filepath.Glob(filepath.Join(dir, "test-svc-*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel(""))
}
