package msgp

import (
	"context"
	"log/slog"
	"sync"
	"testing"
)

func TestLogger_Interface(t *testing.T) {
	var _ Logger = slog.Default()
}

func TestDefaultLogger(t *testing.T) {
	logger := defaultLogger()

	if logger != slog.Default() {
		t.Error("defaultLogger did not return slog.Default()")
	}
}

func TestDiscardLogger(t *testing.T) {
	logger := DiscardLogger()
	if logger == nil {
		t.Fatal("DiscardLogger returned nil")
	}

	// Must not panic.
	logger.Debug("debug message", "key", "value")
	logger.Info("info message", "key", "value")
	logger.Warn("warn message", "key", "value")
	logger.Error("error message", "key", "value")
}

// mockLogger records log calls.
type mockLogger struct {
	mu      sync.Mutex
	records []string
}

func (l *mockLogger) log(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, level+" "+msg)
}

func (l *mockLogger) Debug(msg string, args ...any) { l.log("DEBUG", msg) }
func (l *mockLogger) Info(msg string, args ...any)  { l.log("INFO", msg) }
func (l *mockLogger) Warn(msg string, args ...any)  { l.log("WARN", msg) }
func (l *mockLogger) Error(msg string, args ...any) { l.log("ERROR", msg) }

func (l *mockLogger) has(record string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.records {
		if r == record {
			return true
		}
	}
	return false
}

func TestLogger_ConnLifecycle(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)

	logger := &mockLogger{}
	conn, err := NewConn(serverConn, OnMessageOption(nopOnMessage), LoggerOption(logger))
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}

	done := runConn(context.Background(), conn)
	clientConn.Close()
	waitRun(t, done)

	if !logger.has("INFO connection established") {
		t.Error("missing connection established record")
	}
	if !logger.has("INFO connection closed with error") {
		t.Errorf("missing connection closed record, got %v", logger.records)
	}
}
