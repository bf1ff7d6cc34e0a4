// Package session records the append-only trace and history of a run.
package session

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Run status values.
const (
	StatusOK      = "ok"
	StatusStopped = "stopped"
)

// Step kinds recorded in the trace.
const (
	KindTool         = "tool"
	KindFinal        = "final"
	KindRoute        = "route"
	KindPlanStep     = "plan_step"
	KindPlan         = "plan"
	KindTask         = "task"
	KindDraft        = "draft"
	KindReview       = "review"
	KindRevise       = "revise"
	KindPlanner      = "planner"
	KindContribution = "contribution"
	KindRound        = "round"
)

// Entry is the one-line summary of a step.
type Entry struct {
	Seq        uint64 `json:"seq"`
	Step       int    `json:"step"`
	Phase      string `json:"phase,omitempty"`
	Kind       string `json:"kind"`
	Op         string `json:"op,omitempty"`
	ArgsHash   string `json:"args_hash,omitempty"`
	Decision   string `json:"decision,omitempty"`
	Outcome    string `json:"outcome"`
	StopReason string `json:"stop_reason,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// Record is the full history of a step. It is what the planner sees on the
// next call.
type Record struct {
	Seq         uint64         `json:"seq"`
	Step        int            `json:"step"`
	Phase       string         `json:"phase,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Action      map[string]any `json:"action,omitempty"`
	Decision    string         `json:"decision,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Observation map[string]any `json:"observation,omitempty"`
	StopReason  string         `json:"stop_reason,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// Recorder holds the trace and history of one run. Entries are appended in
// pairs so both sequences always have the same length and ordering.
type Recorder struct {
	mu      sync.Mutex
	runID   string
	seq     uint64
	trace   []Entry
	history []Record
	now     func() time.Time
}

// New creates a recorder for runID.
func New(runID string) *Recorder {
	return &Recorder{runID: runID, now: time.Now}
}

// RunID returns the run this recorder belongs to.
func (r *Recorder) RunID() string {
	return r.runID
}

// Append records one step and returns its sequence number.
func (r *Recorder) Append(e Entry, rec Record) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	e.Seq = r.seq
	rec.Seq = r.seq
	if rec.Step == 0 {
		rec.Step = e.Step
	}
	if rec.Phase == "" {
		rec.Phase = e.Phase
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now()
	}
	r.trace = append(r.trace, e)
	r.history = append(r.history, rec)
	return r.seq
}

// Len returns the number of recorded steps.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trace)
}

// Trace returns a copy of the trace.
func (r *Recorder) Trace() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.trace))
	copy(out, r.trace)
	return out
}

// History returns a copy of the history.
func (r *Recorder) History() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.history))
	copy(out, r.history)
	return out
}

// JSONL record types
const (
	RecordTypeHeader = "header"
	RecordTypeStep   = "step"
	RecordTypeFooter = "footer"
)

// Footer closes an exported run.
type Footer struct {
	Status     string `json:"status"`
	StopReason string `json:"stop_reason,omitempty"`
	Answer     string `json:"answer,omitempty"`
}

// JSONLRecord is one line of an exported run.
type JSONLRecord struct {
	RecordType string `json:"_type"`

	// Header fields
	RunID string `json:"run_id,omitempty"`
	Flow  string `json:"flow,omitempty"`

	// Step fields
	Entry  *Entry  `json:"entry,omitempty"`
	Record *Record `json:"record,omitempty"`

	// Footer fields
	*Footer `json:",omitempty"`
}

// WriteJSONL exports the run as JSON lines: a header, one line per step and
// a footer.
func (r *Recorder) WriteJSONL(w io.Writer, flow string, footer Footer) error {
	return Export(w, r.runID, flow, r.Trace(), r.History(), footer)
}

// Export writes a finished run's trace and history as JSON lines. trace and
// history must be the same length.
func Export(w io.Writer, runID, flow string, trace []Entry, history []Record, footer Footer) error {
	if len(trace) != len(history) {
		return fmt.Errorf("trace has %d entries, history has %d", len(trace), len(history))
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(JSONLRecord{RecordType: RecordTypeHeader, RunID: runID, Flow: flow}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i := range trace {
		if err := enc.Encode(JSONLRecord{RecordType: RecordTypeStep, Entry: &trace[i], Record: &history[i]}); err != nil {
			return fmt.Errorf("failed to write step %d: %w", trace[i].Seq, err)
		}
	}
	if err := enc.Encode(JSONLRecord{RecordType: RecordTypeFooter, Footer: &footer}); err != nil {
		return fmt.Errorf("failed to write footer: %w", err)
	}
	return nil
}
