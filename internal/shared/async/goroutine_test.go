package async

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type stubPanicLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *stubPanicLogger) Error(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf(format, args...))
}

func (l *stubPanicLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.messages))
	copy(out, l.messages)
	return out
}

func (l *stubPanicLogger) contains(substr string) bool {
	for _, msg := range l.snapshot() {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

func TestGoReportsPanicByName(t *testing.T) {
	logger := &stubPanicLogger{}
	done := make(chan struct{})

	Go(logger, "thumbnail-resolve", func() {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for goroutine")
	}

	deadline := time.Now().Add(time.Second)
	for !logger.contains("panic in thumbnail-resolve: boom") {
		if time.Now().After(deadline) {
			t.Fatalf("expected panic report, got %v", logger.snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunReportsOutcome(t *testing.T) {
	logger := &stubPanicLogger{}
	if !Run(logger, "ok", func() {}) {
		t.Fatal("expected normal return to report true")
	}
	if Run(logger, "", func() { panic("bad") }) {
		t.Fatal("expected panic to report false")
	}
	if !logger.contains("panic in anonymous: bad") {
		t.Fatalf("expected anonymous report, got %v", logger.snapshot())
	}
}

func TestRecoverHandlesNilLogger(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("unexpected panic: %v", r)
		}
	}()

	func() {
		defer Recover(nil, "nil-logger")
		panic("boom")
	}()
	Run(nil, "nil-logger", func() { panic("again") })
}
