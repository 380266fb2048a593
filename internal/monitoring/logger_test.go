package monitoring

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestSetLogger(t *testing.T) {
	defer SetLogger(nil)

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("custom logger was not called")
	}

	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("no-op logger should not have triggered previous callback")
	}
}

func TestComponent_PrefixesLines(t *testing.T) {
	defer SetLogger(nil)

	var mu sync.Mutex
	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	logf := Component("EnvManager")
	logf("tick %d", 7)

	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "[EnvManager] ") {
		t.Errorf("missing prefix: %q", lines[0])
	}
	if !strings.HasSuffix(lines[0], "tick 7") {
		t.Errorf("unexpected line: %q", lines[0])
	}
}

func TestComponent_FollowsLaterSetLogger(t *testing.T) {
	defer SetLogger(nil)

	logf := Component("Bus")
	got := ""
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})
	logf("closed")
	if got != "[Bus] closed" {
		t.Errorf("got %q", got)
	}
}

func TestLogf_DefaultDoesNotPanic(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Logf panicked: %v", r)
		}
	}()
	Logf("test message: %s", "value")
}
