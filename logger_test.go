package lspbridge

import (
	"log/slog"
	"sync"
	"testing"
)

func TestLogger_Interface(t *testing.T) {
	// Verify that *slog.Logger implements our Logger interface
	var _ Logger = slog.Default()
}

func TestDefaultLogger(t *testing.T) {
	logger := defaultLogger()

	if logger == nil {
		t.Fatal("defaultLogger returned nil")
	}

	if logger != slog.Default() {
		t.Error("defaultLogger did not return slog.Default()")
	}
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

// mockLogger records log calls. Safe for concurrent use.
type mockLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *mockLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *mockLogger) Debug(msg string, args ...any) { l.record("debug", msg, args) }
func (l *mockLogger) Info(msg string, args ...any)  { l.record("info", msg, args) }
func (l *mockLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args) }
func (l *mockLogger) Error(msg string, args ...any) { l.record("error", msg, args) }

// has reports whether msg was logged at level.
func (l *mockLogger) has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			return true
		}
	}
	return false
}

func TestLogger_CustomImplementation(t *testing.T) {
	var logger Logger = &mockLogger{}
	mock := logger.(*mockLogger)

	logger.Debug("test debug", "key1", "value1")
	logger.Info("test info", "key2", "value2")
	logger.Warn("test warn", "key3", "value3")
	logger.Error("test error", "key4", "value4")

	for _, want := range []logEntry{
		{level: "debug", msg: "test debug"},
		{level: "info", msg: "test info"},
		{level: "warn", msg: "test warn"},
		{level: "error", msg: "test error"},
	} {
		if !mock.has(want.level, want.msg) {
			t.Errorf("%s %q not recorded", want.level, want.msg)
		}
	}
}
