package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelInfo)

	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("debug message should be filtered at INFO level")
	}

	logger.Info("info message")
	line := buf.String()
	if !strings.HasPrefix(line, "INFO ") {
		t.Errorf("expected INFO prefix, got %q", line)
	}
	if !strings.Contains(line, "info message") {
		t.Errorf("expected message in line, got %q", line)
	}
}

func TestLogger_WithComponentSharesSink(t *testing.T) {
	var buf bytes.Buffer
	root := New()
	root.SetOutput(&buf)
	logger := root.WithComponent("executor")

	logger.Info("test message")
	if !strings.Contains(buf.String(), "[executor] test message") {
		t.Errorf("expected component tag, got %q", buf.String())
	}

	buf.Reset()
	root.SetLevel(LevelError)
	logger.Warn("hidden")
	if buf.Len() != 0 {
		t.Error("derived logger should follow the parent's level")
	}
}

func TestLogger_FieldsSortedAndQuoted(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithTraceID("req-123")
	logger.SetOutput(&buf)

	logger.Info("msg", map[string]interface{}{"b": 2, "a": "two words"})
	line := strings.TrimSpace(buf.String())
	if !strings.HasSuffix(line, `a="two words" b=2 trace_id=req-123`) {
		t.Errorf("unexpected field rendering: %q", line)
	}
}

func TestLogger_Forensic(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithComponent("dispatch")
	logger.SetOutput(&buf)
	logger.SetLevel(LevelDebug)

	logger.Dispatch("lookup", 2, 5*time.Millisecond, errors.New("boom"))
	if !strings.Contains(buf.String(), "WARN") || !strings.Contains(buf.String(), "error=boom") {
		t.Errorf("failed dispatch should log a warning: %q", buf.String())
	}

	buf.Reset()
	logger.StepDecision(3, "issue_refund", "abc123", "revise", "cap_to_remaining_run_budget")
	for _, want := range []string{"step=3", "op=issue_refund", "args_hash=abc123", "decision=revise"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("missing %q in %q", want, buf.String())
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"", LevelInfo, false},
		{"debug", LevelDebug, false},
		{" WARNING ", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
