package core

import (
	"context"
	"strings"
	"testing"
)

type captureLogger struct {
	calls []string
}

func (l *captureLogger) Debug(msg string, _ ...any) { l.calls = append(l.calls, "d:"+msg) }
func (l *captureLogger) Info(msg string, _ ...any)  { l.calls = append(l.calls, "i:"+msg) }
func (l *captureLogger) Warn(msg string, _ ...any)  { l.calls = append(l.calls, "w:"+msg) }
func (l *captureLogger) Error(msg string, _ ...any) { l.calls = append(l.calls, "e:"+msg) }

func (l *captureLogger) has(prefix string) bool {
	for _, c := range l.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// TestServiceRunLogging exercises both logging branches of Service.run.
func TestServiceRunLogging(t *testing.T) {
	log := &captureLogger{}
	svc := NewInMemoryService(NewDefaultRulesEngine(), WithLogger(log))
	ctx := context.Background()

	if _, _, err := svc.Initialize(ctx, testAdmin); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !log.has("d:") {
		t.Fatalf("expected debug log on success, got %v", log.calls)
	}

	if _, err := svc.BloodUnit(ctx, 404); err == nil {
		t.Fatalf("expected lookup of missing unit to fail")
	}
	if !log.has("e:") {
		t.Fatalf("expected error log entry, got %v", log.calls)
	}
}

func TestNoopLogger(t *testing.T) {
	logger := noopLogger{}

	// These methods should not panic and should be no-ops
	t.Run("Debug does not panic", func(t *testing.T) {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("Debug method panicked: %v", r)
			}
		}()
		logger.Debug("test message", "arg1", "arg2")
	})

	t.Run("Info does not panic", func(t *testing.T) {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("Info method panicked: %v", r)
			}
		}()
		logger.Info("test message", "arg1", "arg2")
	})

	t.Run("Warn does not panic", func(t *testing.T) {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("Warn method panicked: %v", r)
			}
		}()
		logger.Warn("test message", "arg1", "arg2")
	})

	t.Run("Error does not panic", func(t *testing.T) {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("Error method panicked: %v", r)
			}
		}()
		logger.Error("test message", "arg1", "arg2")
	})
}
