package executor

import (
	"context"

	"github.com/vinayprograms/gatekeeper/internal/action"
	"github.com/vinayprograms/gatekeeper/internal/budget"
	"github.com/vinayprograms/gatekeeper/internal/dispatch"
	"github.com/vinayprograms/gatekeeper/internal/loopguard"
	"github.com/vinayprograms/gatekeeper/internal/planner"
	"github.com/vinayprograms/gatekeeper/internal/revision"
	"github.com/vinayprograms/gatekeeper/internal/session"
	"github.com/vinayprograms/gatekeeper/internal/stablehash"
	"github.com/vinayprograms/gatekeeper/internal/stop"
	"github.com/vinayprograms/gatekeeper/internal/supervision"
)

// Step outcomes recorded in the trace.
const (
	OutcomeOK      = "ok"
	OutcomeStopped = "stopped"
)

// loop is the per-run machinery of the tool loop.
type loop struct {
	*run
	validator  *action.Validator
	guard      *loopguard.Guard
	tools      *dispatch.Dispatcher
	routes     *dispatch.Dispatcher
	supervisor *supervision.Supervisor
	texts      *revision.Validator
}

// Run drives the tool loop: one proposal per step, each validated,
// loop-checked, budgeted, supervised and dispatched before the next is
// requested. It ends on a final answer or the first stop.
func (e *Executor) Run(ctx context.Context, goal string) (res Result) {
	ctx, r := e.newRun(ctx, FlowRun, goal)
	defer r.recoverInto(&res)

	l := &loop{
		run:       r,
		validator: action.NewValidator(e.cfg.Actions),
		guard:     loopguard.New(e.cfg.Guard),
		tools:     r.dispatcher(e.cfg.Kind, e.cfg.Allow),
		routes:    r.dispatcher("route", e.cfg.Actions.Routes),
		texts:     revision.NewValidator(e.cfg.Revision),
	}
	if e.cfg.Policy != nil {
		l.supervisor = supervision.New(supervision.Config{
			Policy:       *e.cfg.Policy,
			Approver:     e.cfg.Approver,
			HumanTimeout: e.cfg.HumanTimeout,
			Logger:       r.logger,
			Metrics:      e.metrics,
		})
	}

	for step := 1; ; step++ {
		if err := r.expired(planner.PhaseAct); err != nil {
			return r.stopped(planner.PhaseAct, step, err)
		}
		if err := r.acct.Consume(budget.Steps); err != nil {
			return r.stopped(planner.PhaseAct, step, err)
		}

		raw, err := r.propose(ctx, planner.PhaseAct, nil)
		if err != nil {
			l.reject(step, planner.PhaseAct, session.KindPlanner, nil, err)
			return r.stopped(planner.PhaseAct, step, err)
		}
		a, err := l.validator.Validate(raw)
		if err != nil {
			l.reject(step, planner.PhaseAct, "invalid", raw, err)
			return r.stopped(planner.PhaseAct, step, err)
		}

		switch a.Kind {
		case action.KindFinal:
			answer, err := l.final(ctx, step, a)
			if err != nil {
				return r.stopped(planner.PhaseAct, step, err)
			}
			return r.succeed(answer)
		case action.KindPlan:
			for _, s := range a.Steps {
				meta := map[string]any{"plan_step_id": s.ID, "critical": s.Critical}
				if s.Title != "" {
					meta["title"] = s.Title
				}
				if _, err := l.call(ctx, step, session.KindPlanStep, action.Tool(s.Op, s.Args), meta); err != nil {
					return r.stopped(planner.PhaseAct, step, err)
				}
			}
		default:
			kind := session.KindTool
			if a.Kind == action.KindRoute {
				kind = session.KindRoute
			}
			if _, err := l.call(ctx, step, kind, a, nil); err != nil {
				return r.stopped(planner.PhaseAct, step, err)
			}
		}
	}
}

// final accepts a final answer once the supervisor's precondition holds
// and the answer fits the configured limits.
func (l *loop) final(ctx context.Context, step int, a action.Action) (string, error) {
	ctx, span := startStepSpan(ctx, planner.PhaseAct, step)
	entry := session.Entry{Step: step, Phase: planner.PhaseAct, Kind: session.KindFinal}
	rec := session.Record{Action: a.Map()}

	var err error
	answer := a.Answer
	if l.supervisor != nil {
		d := l.supervisor.Review(a)
		entry.Decision, rec.Decision, rec.Reason = string(d.Kind), string(d.Kind), d.Reason
		_, _, err = l.supervisor.Resolve(ctx, a, d)
	}
	if err == nil {
		answer, err = l.texts.ValidateFinal(a.Answer)
	}

	entry.Outcome = OutcomeOK
	if err != nil {
		entry.Outcome, entry.StopReason = OutcomeStopped, stop.ReasonOf(err)
		rec.StopReason = entry.StopReason
	}
	l.logger.StepDecision(step, "final", "", entry.Decision, rec.Reason)
	l.record(entry, rec)
	endStepSpan(span, entry, err)
	return answer, err
}

// call runs one operation through guard, budget, supervisor and dispatcher
// and records exactly one step for it.
func (l *loop) call(ctx context.Context, step int, kind string, a action.Action, meta map[string]any) (map[string]any, error) {
	ctx, span := startStepSpan(ctx, planner.PhaseAct, step)
	if meta == nil {
		meta = make(map[string]any)
	}
	entry := session.Entry{
		Step:     step,
		Phase:    planner.PhaseAct,
		Kind:     kind,
		Op:       a.Name,
		ArgsHash: stablehash.Hash(orEmpty(a.Args)),
	}
	rec := session.Record{Action: a.Map(), Meta: meta}

	obs, err := l.execute(ctx, a, &entry, &rec)
	if err != nil {
		entry.Outcome, entry.StopReason = OutcomeStopped, stop.ReasonOf(err)
		rec.StopReason = entry.StopReason
	} else {
		entry.Outcome = OutcomeOK
		rec.Observation = obs
	}
	if len(rec.Meta) == 0 {
		rec.Meta = nil
	}
	l.logger.StepDecision(step, a.Name, entry.ArgsHash, entry.Decision, rec.Reason)
	l.record(entry, rec)
	endStepSpan(span, entry, err)
	return obs, err
}

func (l *loop) execute(ctx context.Context, a action.Action, entry *session.Entry, rec *session.Record) (map[string]any, error) {
	// The guard runs before any budget is spent on a repeat.
	if err := l.guard.Check(stablehash.Of(a.Name, a.Args)); err != nil {
		return nil, err
	}
	dim, d := budget.ToolCalls, l.tools
	if a.Kind == action.KindRoute {
		dim, d = budget.Delegations, l.routes
	}
	if err := l.acct.Consume(dim); err != nil {
		return nil, err
	}

	approved := a
	if l.supervisor != nil {
		decision := l.supervisor.Review(a)
		entry.Decision, rec.Decision, rec.Reason = string(decision.Kind), string(decision.Kind), decision.Reason

		var (
			approval *supervision.Approval
			err      error
		)
		approved, approval, err = l.supervisor.Resolve(ctx, a, decision)
		if approval != nil {
			rec.Meta["human_approved"] = approval.Approved
			if approval.Comment != "" {
				rec.Meta["human_comment"] = approval.Comment
			}
		}
		if err != nil {
			return nil, err
		}
		if hash := stablehash.Hash(orEmpty(approved.Args)); hash != entry.ArgsHash {
			rec.Meta["proposed_args_hash"] = entry.ArgsHash
			entry.ArgsHash = hash
			rec.Action = approved.Map()
		}
	}

	obs, err := d.CallOnce(ctx, l.acct, approved.Name, approved.Args)
	if err != nil {
		return nil, err
	}
	if l.supervisor != nil {
		l.supervisor.Record(approved, obs)
	}
	return obs, nil
}

func orEmpty(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}
