package replay

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vinayprograms/gatekeeper/internal/session"
)

func exported(t *testing.T) []byte {
	t.Helper()
	rec := session.New("run-7")
	rec.Append(session.Entry{Step: 1, Phase: "act", Kind: session.KindTool, Op: "refund", ArgsHash: "0123456789abcdef", Decision: "revise", Outcome: "ok"},
		session.Record{Reason: "cap_to_remaining_run_budget", Meta: map[string]any{"proposed_args_hash": "ffff"}, Observation: map[string]any{"status": "ok"}})
	rec.Append(session.Entry{Step: 2, Phase: "act", Kind: session.KindTool, Op: "refund", Outcome: "stopped", StopReason: "loop_detected:signature_repeat"},
		session.Record{StopReason: "loop_detected:signature_repeat"})

	var buf bytes.Buffer
	if err := rec.WriteJSONL(&buf, "run", session.Footer{Status: session.StatusStopped, StopReason: "loop_detected:signature_repeat"}); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	return buf.Bytes()
}

func TestLoad_RoundTrip(t *testing.T) {
	run, err := Load(bytes.NewReader(exported(t)))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if run.RunID != "run-7" || run.Flow != "run" || !run.Closed {
		t.Errorf("unexpected run %+v", run)
	}
	if len(run.Trace) != 2 || len(run.History) != 2 {
		t.Fatalf("expected 2 steps, got %d/%d", len(run.Trace), len(run.History))
	}
	if run.Trace[1].StopReason != "loop_detected:signature_repeat" {
		t.Errorf("unexpected entry %+v", run.Trace[1])
	}
	if run.Footer.StopReason != "loop_detected:signature_repeat" {
		t.Errorf("unexpected footer %+v", run.Footer)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no header", `{"_type":"footer","status":"ok"}`, "missing header"},
		{"bad json", `{"_type":`, "failed to parse"},
		{"unknown type", `{"_type":"event"}`, "unknown record type"},
		{"step without entry", `{"_type":"header","run_id":"r"}` + "\n" + `{"_type":"step"}`, "without entry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.input))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoad_MissingFooter(t *testing.T) {
	data := exported(t)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	run, err := Load(strings.NewReader(strings.Join(lines[:len(lines)-1], "\n")))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if run.Closed {
		t.Error("run without footer should not be closed")
	}
}

func TestReplayer_Replay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl")
	if err := os.WriteFile(path, exported(t), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		verbosity int
		want      []string
		absent    []string
	}{
		{"timeline", 0, []string{"run-7", "TIMELINE", "TOOL", "refund", "STOP loop_detected:signature_repeat", "0123456789ab"}, []string{"cap_to_remaining_run_budget"}},
		{"verbose", 1, []string{"cap_to_remaining_run_budget", "proposed_args_hash"}, []string{"observation:"}},
		{"very verbose", 2, []string{"observation:", `"status":"ok"`}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := New(&out, tt.verbosity, WithStats()).ReplayFile(path); err != nil {
				t.Fatalf("replay failed: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out.String(), w) {
					t.Errorf("expected %q in output:\n%s", w, out.String())
				}
			}
			for _, a := range tt.absent {
				if strings.Contains(out.String(), a) {
					t.Errorf("unexpected %q in output", a)
				}
			}
		})
	}
}

func TestComputeStats(t *testing.T) {
	run, err := Load(bytes.NewReader(exported(t)))
	if err != nil {
		t.Fatal(err)
	}
	stats := ComputeStats(run)
	if stats.Steps != 2 || stats.Kinds[session.KindTool] != 2 {
		t.Errorf("unexpected counts %+v", stats)
	}
	if stats.Decisions["revise"] != 1 || stats.Stopped != 1 || stats.Revised != 1 {
		t.Errorf("unexpected decision stats %+v", stats)
	}
}
