package executor

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vinayprograms/gatekeeper/internal/action"
	"github.com/vinayprograms/gatekeeper/internal/dispatch"
	"github.com/vinayprograms/gatekeeper/internal/planner"
	"github.com/vinayprograms/gatekeeper/internal/revision"
	"github.com/vinayprograms/gatekeeper/internal/session"
	"github.com/vinayprograms/gatekeeper/internal/stablehash"
	"github.com/vinayprograms/gatekeeper/internal/stop"
)

// Orchestrate asks the planner for a plan, dispatches its steps as a
// parallel task batch and asks the planner to finalize over the aggregate.
// A failed critical task stops the run; failed best-effort tasks are listed
// in the aggregate and left out of its results.
func (e *Executor) Orchestrate(ctx context.Context, goal string) (res Result) {
	ctx, r := e.newRun(ctx, FlowOrchestrate, goal)
	defer r.recoverInto(&res)

	plans := e.cfg.Actions
	plans.Kinds = []action.Kind{action.KindPlan}

	raw, err := r.propose(ctx, planner.PhasePlan, map[string]any{
		"max_tasks":  plans.Plan.MaxSteps,
		"operations": plans.Operations,
	})
	if err != nil {
		return r.rejected(1, planner.PhasePlan, session.KindPlanner, nil, err)
	}
	plan, err := action.NewValidator(plans).Validate(raw)
	if err != nil {
		return r.rejected(1, planner.PhasePlan, session.KindPlan, raw, err)
	}

	if err := r.expired(PhaseDispatch); err != nil {
		return r.stopped(PhaseDispatch, 0, err)
	}
	tasks := make([]dispatch.Task, len(plan.Steps))
	for i, s := range plan.Steps {
		tasks[i] = dispatch.Task{ID: s.ID, Op: s.Op, Args: s.Args, Critical: s.Critical}
	}
	requestID := uuid.NewString()
	results, err := r.runBatch(ctx, tasks, requestID)
	for i, t := range results {
		r.record(taskEntry(i+1, t), taskRecord(t))
	}
	if err != nil {
		res = r.stopped(PhaseDispatch, 0, err)
		res.Tasks = results
		return res
	}

	aggregate := aggregateTasks(results, requestID)
	if err := r.expired(planner.PhaseFinalize); err != nil {
		res = r.stopped(planner.PhaseFinalize, 0, err)
		res.Tasks, res.Aggregate = results, aggregate
		return res
	}
	step := len(results) + 1
	raw, err = r.propose(ctx, planner.PhaseFinalize, map[string]any{"aggregate": aggregate})
	var answer string
	if err == nil {
		answer, err = e.finalAnswer(raw)
	}
	r.recordFinal(step, answer, err)
	if err != nil {
		res = r.stopped(planner.PhaseFinalize, step, err)
		res.Tasks, res.Aggregate = results, aggregate
		return res
	}

	res = r.succeed(answer)
	res.Tasks, res.Aggregate = results, aggregate
	return res
}

// runBatch dispatches tasks under a batch span.
func (r *run) runBatch(ctx context.Context, tasks []dispatch.Task, requestID string) ([]dispatch.TaskResult, error) {
	ctx, span := startBatchSpan(ctx, len(tasks), r.e.cfg.Budget.MaxParallel)
	results, err := r.dispatcher(r.e.cfg.TaskKind, r.e.cfg.Allow).RunTasks(ctx, r.acct, tasks, requestID)
	status := session.StatusOK
	if err != nil {
		status = session.StatusStopped
	}
	endSpan(span, status, stop.ReasonOf(err), err)
	return results, err
}

// finalAnswer accepts either a bare answer or a final action.
func (e *Executor) finalAnswer(raw any) (string, error) {
	texts := revision.NewValidator(e.cfg.Revision)
	if s, ok := raw.(string); ok {
		return texts.ValidateFinal(s)
	}
	finals := e.cfg.Actions
	finals.Kinds = []action.Kind{action.KindFinal}
	a, err := action.NewValidator(finals).Validate(raw)
	if err != nil {
		return "", err
	}
	return texts.ValidateFinal(a.Answer)
}

func (r *run) recordFinal(step int, answer string, err error) {
	entry := session.Entry{Step: step, Phase: planner.PhaseFinalize, Kind: session.KindFinal, Outcome: OutcomeOK}
	rec := session.Record{}
	if err != nil {
		entry.Outcome, entry.StopReason = OutcomeStopped, stop.ReasonOf(err)
		rec.StopReason = entry.StopReason
	} else {
		entry.ArgsHash = stablehash.Hash(answer)
	}
	r.record(entry, rec)
}

func taskEntry(step int, t dispatch.TaskResult) session.Entry {
	outcome := OutcomeOK
	if t.Failed() {
		outcome = dispatch.StatusFailed
	}
	return session.Entry{
		Step:       step,
		Phase:      PhaseDispatch,
		Kind:       session.KindTask,
		Op:         t.Op,
		ArgsHash:   t.ArgsHash,
		Outcome:    outcome,
		StopReason: t.StopReason,
	}
}

func taskRecord(t dispatch.TaskResult) session.Record {
	return session.Record{
		Observation: t.Observation,
		StopReason:  t.StopReason,
		Meta: map[string]any{
			"task_id":       t.ID,
			"critical":      t.Critical,
			"status":        t.Status,
			"attempts_used": t.Attempts,
			"retried":       t.Retried,
		},
	}
}

// aggregateTasks collects done observations by task ID and lists failures.
func aggregateTasks(results []dispatch.TaskResult, requestID string) map[string]any {
	done := make(map[string]any)
	failed := make([]any, 0)
	for _, t := range results {
		if t.Failed() {
			failed = append(failed, map[string]any{
				"task_id":     t.ID,
				"op":          t.Op,
				"critical":    t.Critical,
				"stop_reason": t.StopReason,
			})
			continue
		}
		done[t.ID] = t.Observation
	}
	return map[string]any{
		"request_id":   requestID,
		"results":      done,
		"failed_tasks": failed,
		"summary":      fmt.Sprintf("%d done, %d failed", len(done), len(failed)),
	}
}
