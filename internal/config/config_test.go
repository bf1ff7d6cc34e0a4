package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/gatekeeper/internal/action"
	"github.com/vinayprograms/gatekeeper/internal/logging"
)

const sample = `
[budget]
max_steps = 6
max_tool_calls = 2
max_dispatches = 8
max_messages = 9
max_parallel = 2
max_retries = 1
call_timeout = 0.5
max_seconds = 20.0

[allow]
kinds = ["tool", "final"]
operations = ["fetch_context", "refund", "send_email"]

[operations.fetch_context]
args = { customer_id = "string", verbose = "bool?" }
read_only = true

[operations.refund]
args = { amount = "number", currency = "string?", reason = "str" }
values = { reason = ["damaged", "late"] }
min = { amount = 0.0 }
call_limit = 2

[policy]
enabled = true
final_requires = ["fetch_context"]

[policy.operations.fetch_context]
read_only = true

[policy.operations.refund]
requires = ["send_email"]
amount_arg = "amount"
auto_limit = 1000.0
run_ceiling = 2000.0
defaults = { currency = "USD" }

[policy.operations.send_email]

[human]
mode = "cap"
cap = 1000.0
timeout = 30.0

[collaboration]
agents = ["demand_analyst", "finance_analyst", "risk_analyst"]
max_rounds = 2

[logging]
level = "debug"
`

func TestParse_Sample(t *testing.T) {
	cfg, err := Parse(sample)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}

	b := cfg.BudgetValue()
	if b.MaxToolCalls != 2 || b.CallTimeout != 500*time.Millisecond || b.MaxDuration != 20*time.Second {
		t.Errorf("unexpected budget %+v", b)
	}

	ac, err := cfg.ActionConfig()
	if err != nil {
		t.Fatalf("action config error: %v", err)
	}
	refund := ac.Contracts["refund"]
	if refund["amount"].Type != action.ArgNumber || !refund["currency"].Optional || refund["reason"].Type != action.ArgString {
		t.Errorf("unexpected refund contract %+v", refund)
	}
	if len(refund["reason"].Allowed) != 2 || refund["amount"].Min == nil || *refund["amount"].Min != 0 {
		t.Errorf("value table not applied: %+v", refund)
	}

	guard := cfg.GuardConfig(nil)
	if guard.Repeat["fetch_context"] != 2 || guard.CallLimit["refund"] != 2 {
		t.Errorf("unexpected guard config %+v", guard)
	}

	p := cfg.SupervisionPolicy()
	if p.Operations["refund"].RunCeiling != 2000 || p.Operations["refund"].Defaults["currency"] != "USD" {
		t.Errorf("unexpected policy %+v", p.Operations["refund"])
	}
	if cfg.Approver() == nil || cfg.HumanTimeout() != 30*time.Second {
		t.Error("cap approver not configured")
	}
	if cfg.LogLevel() != logging.LevelDebug {
		t.Errorf("expected DEBUG, got %s", cfg.LogLevel())
	}

	team := cfg.CollaborationConfig().WithDefaults()
	if b.MaxMessages != 9 || team.MaxRounds != 2 || team.MinGoVotes != 2 || len(team.Team) != 3 {
		t.Errorf("unexpected collaboration %+v with %d messages", team, b.MaxMessages)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse("")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if cfg.BudgetValue().MaxSteps != 8 || cfg.Approver() != nil || cfg.PlannerTimeout() != 10*time.Second {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.RevisionLimits().MinSimilarity != 0.45 || len(cfg.ReviewPolicy().Decisions) != 3 {
		t.Error("revision defaults not applied")
	}
}

func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"bad toml", "[budget\n", "failed to parse"},
		{"unknown key", "[budget]\nmax_stepz = 3\n", "unknown config keys"},
		{"negative", "[budget]\nmax_steps = -1\n", "MaxSteps"},
		{"zero parallel", "[budget]\nmax_parallel = 0\n", "MaxParallel"},
		{"bad kind", "[allow]\nkinds = [\"shell\"]\n", "Kinds"},
		{"bad arg type", "[operations.a]\nargs = { x = \"float64\" }\n", "operations.a.args.x"},
		{"values without arg", "[operations.a]\nargs = { x = \"string\" }\nvalues = { y = [\"z\"] }\n", "operations.a.values.y"},
		{"plan bounds", "[plan]\nmin_steps = 5\nmax_steps = 2\n", "plan.min_steps"},
		{"limit without amount", "[policy.operations.refund]\nauto_limit = 5.0\n", "amount_arg"},
		{"cap mode without cap", "[human]\nmode = \"cap\"\n", "human.cap"},
		{"bad similarity", "[revision]\nmin_similarity = 1.5\n", "MinSimilarity"},
		{"votes beyond team", "[collaboration]\nagents = [\"a\", \"b\"]\nmin_go_votes = 3\n", "collaboration.min_go_votes"},
		{"negative messages", "[budget]\nmax_messages = -2\n", "MaxMessages"},
		{"bad level", "[logging]\nlevel = \"loud\"\n", "Level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestGuardConfig_RegisteredCapabilities(t *testing.T) {
	cfg := New()
	cfg.Operations["search"] = OperationConfig{Repeat: 4}
	guard := cfg.GuardConfig(map[string]int{"search": 2, "fetch": 3})
	if guard.Repeat["search"] != 4 {
		t.Errorf("configured repeat should override capability, got %d", guard.Repeat["search"])
	}
	if guard.Repeat["fetch"] != 3 {
		t.Errorf("capability repeat should be kept, got %d", guard.Repeat["fetch"])
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFile)
	if err := os.WriteFile(path, []byte(sample), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if !cfg.Policy.Enabled {
		t.Error("policy should be enabled")
	}
	if _, err := LoadFile(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWatcher_ReloadKeepsLastValid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFile)
	if err := os.WriteFile(path, []byte("[budget]\nmax_steps = 3\n"), 0644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path, nil, nil)
	if err != nil {
		t.Fatalf("watcher error: %v", err)
	}
	defer w.Stop()

	snapshot := w.Current()
	if err := os.WriteFile(path, []byte("[budget]\nmax_steps = 4\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Reload(); err != nil {
		t.Fatalf("reload error: %v", err)
	}
	if w.Current().Budget.MaxSteps != 4 {
		t.Errorf("expected reloaded max_steps 4, got %d", w.Current().Budget.MaxSteps)
	}
	if snapshot.Budget.MaxSteps != 3 {
		t.Error("an earlier snapshot must not change")
	}

	if err := os.WriteFile(path, []byte("[budget]\nmax_steps = -2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Reload(); err == nil {
		t.Error("expected invalid reload to fail")
	}
	if w.Current().Budget.MaxSteps != 4 {
		t.Error("invalid reload replaced the snapshot")
	}
}

func TestWatcher_PicksUpWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFile)
	if err := os.WriteFile(path, []byte("[budget]\nmax_steps = 3\n"), 0644); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 8)
	w, err := NewWatcher(path, nil, func(c *Config, err error) {
		if err == nil {
			reloaded <- c
		}
	})
	if err != nil {
		t.Fatalf("watcher error: %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	if err := os.WriteFile(path, []byte("[budget]\nmax_steps = 7\n"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-reloaded:
			if c.Budget.MaxSteps == 7 {
				return
			}
		case <-deadline:
			t.Fatal("watcher did not pick up the write")
		}
	}
}
