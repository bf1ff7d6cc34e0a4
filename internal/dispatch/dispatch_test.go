package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinayprograms/gatekeeper/internal/budget"
	"github.com/vinayprograms/gatekeeper/internal/stop"
	"github.com/vinayprograms/gatekeeper/internal/tools"
)

func okTool(name string) tools.Tool {
	return tools.NewFunc(name, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{"op": name, "args": args}, nil
	})
}

func sleepTool(name string, d time.Duration) tools.Tool {
	return tools.Canned(name, map[string]interface{}{"op": name}, d, "")
}

func newAcct(b budget.Budget) *budget.Accountant {
	return budget.NewAccountant(b)
}

func reason(err error) string {
	return stop.ReasonOf(err)
}

func TestCallOnce_Failures(t *testing.T) {
	reg := tools.NewRegistry(
		okTool("lookup"),
		tools.NewFunc("strict", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{}, nil
		}, tools.WithParams("id")),
		tools.NewFunc("fails", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, errors.New("database down")
		}),
		tools.NewFunc("rejects", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, fmt.Errorf("%w: id must be positive", tools.ErrBadArgs)
		}),
		tools.NewFunc("panics", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			panic("boom")
		}),
		tools.NewFunc("scalar", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return "not a mapping", nil
		}),
		sleepTool("slow", time.Second),
	)
	d := New(reg, Config{Allow: []string{"lookup", "strict", "fails", "rejects", "panics", "scalar", "slow", "ghost"}})
	acct := newAcct(budget.Budget{CallTimeout: 20 * time.Millisecond, MaxDuration: 5 * time.Second})

	tests := []struct {
		op   string
		args map[string]any
		want string
		cat  stop.Category
	}{
		{"delete_all", nil, "tool_denied:delete_all", stop.CategoryContract},
		{"ghost", nil, "tool_missing:ghost", stop.CategoryContract},
		{"strict", map[string]any{"other": 1}, "tool_bad_args:strict", stop.CategoryContract},
		{"rejects", nil, "tool_bad_args:rejects", stop.CategoryContract},
		{"fails", nil, "tool_error:fails", stop.CategoryExecution},
		{"panics", nil, "tool_error:panics", stop.CategoryExecution},
		{"scalar", nil, "tool_bad_result:scalar", stop.CategoryExecution},
		{"slow", nil, "tool_timeout:slow", stop.CategoryTransient},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			_, err := d.CallOnce(context.Background(), acct, tt.op, tt.args)
			if got := reason(err); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
			if s := stop.From(err); s != nil && s.Category != tt.cat {
				t.Errorf("expected category %s, got %s", tt.cat, s.Category)
			}
		})
	}

	obs, err := d.CallOnce(context.Background(), acct, "lookup", map[string]any{"q": "x"})
	if err != nil || obs["op"] != "lookup" {
		t.Errorf("unexpected result %v, %v", obs, err)
	}
}

func TestCallOnce_KindNaming(t *testing.T) {
	d := New(tools.NewRegistry(), Config{Kind: "worker", Allow: []string{"x"}})
	_, err := d.CallOnce(context.Background(), newAcct(budget.Budget{}), "y", nil)
	if reason(err) != "worker_denied:y" {
		t.Errorf("expected worker_denied:y, got %v", err)
	}
}

func TestCallOnce_DeadlinePassed(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	acct := budget.NewAccountant(budget.Budget{MaxDuration: time.Second}, budget.WithClock(clock))
	now = now.Add(2 * time.Second)

	var called atomic.Bool
	reg := tools.NewRegistry(tools.NewFunc("a", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		called.Store(true)
		return map[string]interface{}{}, nil
	}))
	_, err := New(reg, Config{}).CallOnce(context.Background(), acct, "a", nil)
	if reason(err) != "max_seconds" {
		t.Errorf("expected max_seconds, got %v", err)
	}
	if called.Load() {
		t.Error("operation must not run after the deadline")
	}
}

func TestCallOnce_CutToRunDeadline(t *testing.T) {
	reg := tools.NewRegistry(sleepTool("slow", time.Second))
	acct := newAcct(budget.Budget{CallTimeout: time.Second, MaxDuration: 30 * time.Millisecond})
	_, err := New(reg, Config{}).CallOnce(context.Background(), acct, "slow", nil)
	if reason(err) != "max_seconds" {
		t.Errorf("expected max_seconds when the run deadline bounds the call, got %v", err)
	}
}

func TestCallParallel_OrderPreserved(t *testing.T) {
	delays := []time.Duration{40 * time.Millisecond, 5 * time.Millisecond, 25 * time.Millisecond, 0, 15 * time.Millisecond}
	reg := tools.NewRegistry()
	calls := make([]Call, len(delays))
	for i, dl := range delays {
		name := fmt.Sprintf("op%d", i)
		reg.Register(sleepTool(name, dl))
		calls[i] = Call{Op: name}
	}
	d := New(reg, Config{})
	acct := newAcct(budget.Budget{MaxParallel: 5, CallTimeout: time.Second, MaxDuration: 5 * time.Second})

	out, err := d.CallParallel(context.Background(), acct, calls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, obs := range out {
		if obs["op"] != calls[i].Op {
			t.Errorf("slot %d: expected %s, got %v", i, calls[i].Op, obs["op"])
		}
	}
}

func TestCallParallel_BoundedWorkers(t *testing.T) {
	var inFlight, peak atomic.Int32
	reg := tools.NewRegistry(tools.NewFunc("work", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return map[string]interface{}{}, nil
	}))
	calls := make([]Call, 8)
	for i := range calls {
		calls[i] = Call{Op: "work", Args: map[string]any{"i": i}}
	}
	acct := newAcct(budget.Budget{MaxParallel: 2, MaxDuration: 5 * time.Second})
	if _, err := New(reg, Config{}).CallParallel(context.Background(), acct, calls); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if peak.Load() > 2 {
		t.Errorf("expected at most 2 concurrent calls, saw %d", peak.Load())
	}
}

func TestCallParallel_DeadlineDiscardsBatch(t *testing.T) {
	reg := tools.NewRegistry(sleepTool("fast", 0), sleepTool("slow", time.Second))
	acct := newAcct(budget.Budget{MaxParallel: 2, MaxDuration: 50 * time.Millisecond})
	out, err := New(reg, Config{}).CallParallel(context.Background(), acct, []Call{{Op: "fast"}, {Op: "slow"}})
	if reason(err) != "max_seconds" {
		t.Errorf("expected max_seconds, got %v", err)
	}
	if out != nil {
		t.Errorf("partial results must be discarded, got %v", out)
	}
}

func TestCallParallel_FirstFailureInOrder(t *testing.T) {
	reg := tools.NewRegistry(okTool("ok"))
	d := New(reg, Config{Allow: []string{"ok"}})
	acct := newAcct(budget.Budget{MaxDuration: time.Second})
	_, err := d.CallParallel(context.Background(), acct, []Call{{Op: "ok"}, {Op: "x"}, {Op: "y"}})
	if reason(err) != "tool_denied:x" {
		t.Errorf("expected tool_denied:x, got %v", err)
	}
}

func TestCallParallel_DispatchBudget(t *testing.T) {
	var ran atomic.Int32
	reg := tools.NewRegistry(tools.NewFunc("work", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		ran.Add(1)
		return map[string]interface{}{}, nil
	}))
	acct := newAcct(budget.Budget{MaxParallel: 3, MaxDispatches: 1, MaxDuration: time.Second})
	calls := []Call{{Op: "work", Args: map[string]any{"i": 0}}, {Op: "work", Args: map[string]any{"i": 1}}, {Op: "work", Args: map[string]any{"i": 2}}}

	out, err := New(reg, Config{}).CallParallel(context.Background(), acct, calls)
	if reason(err) != "max_dispatches" {
		t.Fatalf("expected max_dispatches, got %v", err)
	}
	if out != nil {
		t.Errorf("a failed batch returns no results, got %v", out)
	}
	if n := ran.Load(); n != 1 {
		t.Errorf("expected only one call to run, got %d", n)
	}
	if acct.Used(budget.Dispatches) != 3 {
		t.Errorf("expected 3 dispatches counted, got %d", acct.Used(budget.Dispatches))
	}
}

func TestRunTasks_CriticalTimeoutAfterRetries(t *testing.T) {
	var slowAttempts atomic.Int32
	reg := tools.NewRegistry(
		sleepTool("inventory", 0),
		sleepTool("payments", 5*time.Millisecond),
		tools.NewFunc("billing", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			slowAttempts.Add(1)
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	)
	d := New(reg, Config{Kind: "worker"})
	acct := newAcct(budget.Budget{
		MaxParallel:   3,
		MaxRetries:    1,
		MaxDispatches: 10,
		CallTimeout:   30 * time.Millisecond,
		MaxDuration:   5 * time.Second,
	})
	tasks := []Task{
		{ID: "t1", Op: "inventory"},
		{ID: "t2", Op: "billing", Critical: true},
		{ID: "t3", Op: "payments"},
	}

	results, err := d.RunTasks(context.Background(), acct, tasks, "")
	if reason(err) != "critical_task_failed" {
		t.Fatalf("expected critical_task_failed, got %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("sibling results must be reported, got %d", len(results))
	}
	if results[0].Status != StatusDone || results[2].Status != StatusDone {
		t.Errorf("siblings should succeed: %+v", results)
	}
	crit := results[1]
	if crit.Status != StatusFailed || crit.Attempts != 2 || !crit.Retried || crit.StopReason != "worker_timeout:billing" {
		t.Errorf("unexpected critical result %+v", crit)
	}
	if slowAttempts.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", slowAttempts.Load())
	}
	if acct.Used(budget.Dispatches) != 4 {
		t.Errorf("each attempt consumes one dispatch: expected 4, got %d", acct.Used(budget.Dispatches))
	}
}

func TestRunTasks_NoRetryOnError(t *testing.T) {
	var calls atomic.Int32
	reg := tools.NewRegistry(tools.NewFunc("flaky", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		calls.Add(1)
		return nil, errors.New("boom")
	}))
	acct := newAcct(budget.Budget{MaxRetries: 3, MaxDuration: time.Second})
	results, err := New(reg, Config{Kind: "worker"}).RunTasks(context.Background(), acct, []Task{{ID: "a", Op: "flaky"}}, "")
	if err != nil {
		t.Fatalf("best-effort failure must not abort: %v", err)
	}
	if calls.Load() != 1 || results[0].Attempts != 1 || results[0].StopReason != "worker_error:flaky" {
		t.Errorf("expected a single attempt, got %+v (calls=%d)", results[0], calls.Load())
	}
}

func TestRunTasks_DispatchBudget(t *testing.T) {
	reg := tools.NewRegistry(okTool("a"))
	acct := newAcct(budget.Budget{MaxParallel: 1, MaxDispatches: 2, MaxDuration: time.Second})
	tasks := []Task{{ID: "1", Op: "a"}, {ID: "2", Op: "a"}, {ID: "3", Op: "a"}}
	results, err := New(reg, Config{}).RunTasks(context.Background(), acct, tasks, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
			if r.StopReason != "max_dispatches" {
				t.Errorf("expected max_dispatches, got %s", r.StopReason)
			}
		}
	}
	if failed != 1 {
		t.Errorf("expected one task over the dispatch ceiling, got %d", failed)
	}
}

func TestRunTasks_RequestIDInjection(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]map[string]interface{}{}
	record := func(name string) tools.Handler {
		return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			mu.Lock()
			seen[name] = args
			mu.Unlock()
			return map[string]interface{}{}, nil
		}
	}
	reg := tools.NewRegistry(
		tools.NewFunc("free", record("free")),
		tools.NewFunc("declared", record("declared"), tools.WithParams("region", "request_id?")),
		tools.NewFunc("closed", record("closed"), tools.WithParams("region")),
	)
	d := New(reg, Config{RequestIDArg: "request_id"})
	acct := newAcct(budget.Budget{MaxDuration: time.Second})
	args := map[string]any{"region": "eu"}
	results, err := d.RunTasks(context.Background(), acct, []Task{
		{ID: "1", Op: "free", Args: args},
		{ID: "2", Op: "declared", Args: args},
		{ID: "3", Op: "closed", Args: args},
	}, "req-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen["free"]["request_id"] != "req-1" || seen["declared"]["request_id"] != "req-1" {
		t.Errorf("request id not injected: %v", seen)
	}
	if _, ok := seen["closed"]["request_id"]; ok {
		t.Error("request id must not break a closed schema")
	}
	if _, ok := args["request_id"]; ok {
		t.Error("caller args must not be mutated")
	}
	if results[0].ArgsHash != results[1].ArgsHash {
		t.Error("args hash must be computed on the semantic args")
	}
}
