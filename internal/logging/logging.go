// Package logging provides structured, component-scoped logging.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a case-insensitive level name. Empty means INFO.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "INFO":
		return LevelInfo, nil
	case "DEBUG":
		return LevelDebug, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q (valid: debug, info, warn, error)", s)
	}
}

// sink is shared by a logger and every logger derived from it.
type sink struct {
	mu       sync.Mutex
	output   io.Writer
	minLevel Level
}

// Logger provides structured logging.
type Logger struct {
	sink      *sink
	component string
	traceID   string
}

// New creates a new Logger writing to stderr at INFO.
func New() *Logger {
	return &Logger{sink: &sink{output: os.Stderr, minLevel: LevelInfo}}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{sink: &sink{output: io.Discard, minLevel: LevelError}}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{sink: l.sink, component: component, traceID: l.traceID}
}

// WithTraceID returns a new logger with the given trace ID.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{sink: l.sink, component: l.component, traceID: traceID}
}

// SetLevel sets the minimum log level for this logger and its derivations.
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.minLevel = level
}

// SetOutput sets the output writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats fields as key=value pairs in key order.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(" ")
		sb.WriteString(k)
		sb.WriteString("=")
		v := fmt.Sprintf("%v", fields[k])
		if strings.ContainsAny(v, " \t\n\"") {
			v = fmt.Sprintf("%q", v)
		}
		sb.WriteString(v)
	}
	return sb.String()
}

// log writes a log entry: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if levelPriority[level] < levelPriority[l.sink.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	merged := make(map[string]interface{})
	for _, f := range fields {
		for k, v := range f {
			merged[k] = v
		}
	}
	if l.traceID != "" {
		merged["trace_id"] = l.traceID
	}
	fieldStr := formatFields(merged)

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}
	l.sink.output.Write([]byte(line))
}

// --- Forensic logging for governed runs ---

// RunStart logs the start of a governed run.
func (l *Logger) RunStart(flow, runID string) {
	l.Info("run_start", map[string]interface{}{
		"flow":   flow,
		"run_id": runID,
	})
}

// RunComplete logs the terminal state of a run.
func (l *Logger) RunComplete(flow, runID, status, reason string, steps int, duration time.Duration) {
	l.Info("run_complete", map[string]interface{}{
		"flow":     flow,
		"run_id":   runID,
		"status":   status,
		"reason":   reason,
		"steps":    steps,
		"duration": duration.String(),
	})
}

// StepDecision logs a supervisor decision. Arguments are never logged,
// only the operation name and the argument hash.
func (l *Logger) StepDecision(step int, op, argsHash, decision, reason string) {
	l.Info("step_decision", map[string]interface{}{
		"step":      step,
		"op":        op,
		"args_hash": argsHash,
		"decision":  decision,
		"reason":    reason,
	})
}

// Dispatch logs a completed dispatch attempt.
func (l *Logger) Dispatch(op string, attempt int, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"op":       op,
		"attempt":  attempt,
		"duration": duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Warn("dispatch_failed", fields)
		return
	}
	l.Debug("dispatch_ok", fields)
}

// StopSignal logs a run-terminating signal.
func (l *Logger) StopSignal(phase string, step int, reason, category string) {
	l.Warn("stop_signal", map[string]interface{}{
		"phase":    phase,
		"step":     step,
		"reason":   reason,
		"category": category,
	})
}
