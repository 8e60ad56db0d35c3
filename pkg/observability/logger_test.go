package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to unmarshal log entry %q: %v", buf.String(), err)
	}
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		if buf.Len() > 0 {
			t.Error("Debug message should not be logged at Info level")
		}
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")
		entry := decodeEntry(t, &buf)
		if entry["level"] != "INFO" {
			t.Errorf("Expected level INFO, got %v", entry["level"])
		}
		if entry["msg"] != "info message" {
			t.Errorf("Expected message 'info message', got %v", entry["msg"])
		}
	})

	t.Run("formatted warning", func(t *testing.T) {
		buf.Reset()
		logger.Warnf("role %s has %d grants", "librarian", 3)
		entry := decodeEntry(t, &buf)
		if entry["msg"] != "role librarian has 3 grants" {
			t.Errorf("Expected formatted message, got %v", entry["msg"])
		}
	})
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.WithFields(map[string]interface{}{
		"role":  "librarian",
		"count": 2,
	}).WithError(errors.New("boom")).Debug("message")

	entry := decodeEntry(t, &buf)
	if entry["role"] != "librarian" {
		t.Errorf("Expected role field, got %v", entry["role"])
	}
	if entry["count"] != float64(2) {
		t.Errorf("Expected count 2, got %v", entry["count"])
	}
	if entry["error"] != "boom" {
		t.Errorf("Expected error field, got %v", entry["error"])
	}

	if logger.WithError(nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"":        InfoLevel,
		"verbose": InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewLogger(InfoLevel, &buf))
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithUserID(ctx, "user-1")

	FromContext(ctx).Info("hello")

	entry := decodeEntry(t, &buf)
	if entry["request_id"] != "req-1" {
		t.Errorf("Expected request_id, got %v", entry["request_id"])
	}
	if entry["user_id"] != "user-1" {
		t.Errorf("Expected user_id, got %v", entry["user_id"])
	}
}

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)
	called := false

	func() {
		defer RecoverPanicWithCallback(logger, "test", func() { called = true })
		panic("kaboom")
	}()

	if !called {
		t.Error("Expected callback to run after panic")
	}
	entry := decodeEntry(t, &buf)
	if entry["panic"] != "kaboom" {
		t.Errorf("Expected panic value to be logged, got %v", entry["panic"])
	}

	if err := MustRecover(nil); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if err := MustRecover("x"); err == nil {
		t.Error("Expected error for recovered value")
	}
}

func TestDefaultLogger(t *testing.T) {
	t.Cleanup(func() { defaultLogger.Store(nil) })

	if Default() == nil {
		t.Fatal("Expected a fallback logger")
	}

	var buf bytes.Buffer
	SetDefault(NewLogger(WarnLevel, &buf))
	FromContext(WithRequestID(context.Background(), "req-9")).Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("Info should be filtered at warn level, got %q", buf.String())
	}

	FromContext(WithRequestID(context.Background(), "req-9")).Warn("kept")
	entry := decodeEntry(t, &buf)
	if entry["request_id"] != "req-9" || entry["level"] != "WARN" {
		t.Errorf("Unexpected entry %v", entry)
	}
}

func TestLogLevel_String(t *testing.T) {
	if got := LogLevel(42).String(); got != "INFO" {
		t.Errorf("Out of range level should print INFO, got %s", got)
	}
	if got := ErrorLevel.String(); got != "ERROR" {
		t.Errorf("Expected ERROR, got %s", got)
	}
}
