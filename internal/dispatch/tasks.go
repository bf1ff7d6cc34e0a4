package dispatch

import (
	"context"

	"github.com/vinayprograms/gatekeeper/internal/budget"
	"github.com/vinayprograms/gatekeeper/internal/stablehash"
	"github.com/vinayprograms/gatekeeper/internal/stop"
)

// Task statuses.
const (
	StatusDone   = "done"
	StatusFailed = "failed"
)

// Task is one member of an orchestrated batch.
type Task struct {
	ID       string
	Op       string
	Args     map[string]any
	Critical bool
}

// TaskResult records how a task ended. ArgsHash fingerprints the task's own
// arguments, before any request ID was injected.
type TaskResult struct {
	ID          string         `json:"task_id"`
	Op          string         `json:"op"`
	Critical    bool           `json:"critical"`
	Status      string         `json:"status"`
	Attempts    int            `json:"attempts_used"`
	Retried     bool           `json:"retried"`
	ArgsHash    string         `json:"args_hash"`
	Observation map[string]any `json:"observation,omitempty"`
	StopReason  string         `json:"stop_reason,omitempty"`
}

// Failed reports whether the task ended without an observation.
func (r TaskResult) Failed() bool {
	return r.Status == StatusFailed
}

// RunTasks dispatches tasks concurrently, retrying each one only on its
// per-call timeout and at most MaxRetries times. Every attempt consumes one
// dispatch unit. Results are returned in submission order.
//
// A failed task does not stop its siblings. If any critical task failed the
// results are returned together with critical_task_failed. If the run
// deadline passes first, no results are returned.
func (d *Dispatcher) RunTasks(ctx context.Context, acct *budget.Accountant, tasks []Task, requestID string) ([]TaskResult, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	results := make([]TaskResult, len(tasks))
	err := fanOut(ctx, acct, len(tasks), func(ctx context.Context, i int) {
		results[i] = d.runTask(ctx, acct, tasks[i], requestID)
	})
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if r.Critical && r.Failed() {
			return results, stop.CriticalTaskFailed
		}
	}
	return results, nil
}

func (d *Dispatcher) runTask(ctx context.Context, acct *budget.Accountant, task Task, requestID string) TaskResult {
	res := TaskResult{
		ID:       task.ID,
		Op:       task.Op,
		Critical: task.Critical,
		ArgsHash: stablehash.Hash(orEmpty(task.Args)),
	}
	args := d.withRequestID(task.Op, task.Args, requestID)

	attempts := 1 + acct.Budget().MaxRetries
	for attempt := 1; attempt <= attempts; attempt++ {
		res.Attempts = attempt
		res.Retried = attempt > 1

		if err := acct.Consume(budget.Dispatches); err != nil {
			res.Status = StatusFailed
			res.StopReason = stop.ReasonOf(err)
			return res
		}
		obs, err := d.attempt(ctx, acct, task.Op, args, attempt)
		if err == nil {
			res.Status = StatusDone
			res.Observation = obs
			return res
		}
		res.StopReason = stop.ReasonOf(err)
		if !d.IsTimeout(err) {
			break
		}
	}
	res.Status = StatusFailed
	return res
}

// withRequestID copies args and adds the request ID when the operation
// declares the argument or takes free-form arguments.
func (d *Dispatcher) withRequestID(op string, args map[string]any, requestID string) map[string]any {
	out := make(map[string]any, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	if requestID == "" || d.requestIDArg == "" {
		return out
	}
	t := d.registry.Get(op)
	if t == nil {
		return out
	}
	schema := t.Parameters()
	props, hasProps := schema["properties"].(map[string]interface{})
	if _, declared := props[d.requestIDArg]; declared || !hasProps {
		out[d.requestIDArg] = requestID
	}
	return out
}

func orEmpty(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}
