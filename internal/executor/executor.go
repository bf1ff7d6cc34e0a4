// Package executor runs governed flows: a tool loop, an orchestrated task
// batch and a draft-review-revise reflection. Every flow ends in a Result;
// no failure crosses the boundary as anything but a stop reason.
package executor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/vinayprograms/gatekeeper/internal/action"
	"github.com/vinayprograms/gatekeeper/internal/budget"
	"github.com/vinayprograms/gatekeeper/internal/collaboration"
	"github.com/vinayprograms/gatekeeper/internal/dispatch"
	"github.com/vinayprograms/gatekeeper/internal/logging"
	"github.com/vinayprograms/gatekeeper/internal/loopguard"
	"github.com/vinayprograms/gatekeeper/internal/metrics"
	"github.com/vinayprograms/gatekeeper/internal/planner"
	"github.com/vinayprograms/gatekeeper/internal/revision"
	"github.com/vinayprograms/gatekeeper/internal/session"
	"github.com/vinayprograms/gatekeeper/internal/stablehash"
	"github.com/vinayprograms/gatekeeper/internal/stop"
	"github.com/vinayprograms/gatekeeper/internal/supervision"
	"github.com/vinayprograms/gatekeeper/internal/tools"
)

// Flow names.
const (
	FlowRun         = "run"
	FlowOrchestrate = "orchestrate"
	FlowReflect     = "reflect"
	FlowCollaborate = "collaborate"
)

// StopSuccess is the stop reason of a run that ended with an answer.
const StopSuccess = "success"

// Config is everything a run needs. It is read once per run; changing it
// later does not affect runs in progress.
type Config struct {
	Budget   budget.Budget
	Actions  action.Config
	Guard    loopguard.Config
	Registry *tools.Registry

	// Allow is the execution allow-list. Defaults to Actions.Operations.
	Allow []string
	// Kind names tool-loop operations in stop reasons. Defaults to "tool".
	Kind string
	// TaskKind names orchestrated operations. Defaults to "worker".
	TaskKind string
	// RequestIDArg receives the orchestration request ID.
	RequestIDArg string

	// Policy enables the supervisor when set.
	Policy       *supervision.Policy
	Approver     supervision.Approver
	HumanTimeout time.Duration

	PlannerTimeout time.Duration
	Revision       revision.Limits
	Review         revision.ReviewPolicy
	Collaboration  collaboration.Config

	Logger  *logging.Logger
	Metrics *metrics.Collector
	// Clock replaces the wall clock in tests.
	Clock func() time.Time
}

// Result is the outcome of one run.
type Result struct {
	RunID        string                `json:"run_id"`
	Flow         string                `json:"flow"`
	Status       string                `json:"status"`
	StopReason   string                `json:"stop_reason"`
	StopCategory string                `json:"stop_category,omitempty"`
	Phase        string                `json:"phase,omitempty"`
	Answer       string                `json:"answer,omitempty"`
	Outcome      string                `json:"outcome,omitempty"`
	Steps        int                   `json:"steps"`
	Trace        []session.Entry       `json:"trace"`
	History      []session.Record      `json:"history"`
	Tasks        []dispatch.TaskResult `json:"tasks,omitempty"`
	Aggregate    map[string]any        `json:"aggregate,omitempty"`
	Review       *revision.Review      `json:"review,omitempty"`
	Rounds       []collaboration.Round `json:"rounds,omitempty"`
	Elapsed      time.Duration         `json:"elapsed"`
}

// OK reports whether the run ended with an answer.
func (r Result) OK() bool {
	return r.Status == session.StatusOK
}

// Executor runs flows against one planner.
type Executor struct {
	cfg     Config
	planner planner.Planner
	logger  *logging.Logger
	metrics *metrics.Collector

	// Callbacks
	OnStep     func(entry session.Entry)
	OnDispatch func(op string, attempt int, duration time.Duration, err error)
	OnStop     func(phase string, sig *stop.Signal)
}

// New creates an executor.
func New(cfg Config, p planner.Planner) *Executor {
	if cfg.Kind == "" {
		cfg.Kind = "tool"
	}
	if cfg.TaskKind == "" {
		cfg.TaskKind = "worker"
	}
	if cfg.Allow == nil {
		cfg.Allow = cfg.Actions.Operations
	}
	if cfg.Registry == nil {
		cfg.Registry = tools.NewRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New()
	}
	return &Executor{
		cfg:     cfg,
		planner: p,
		logger:  logger.WithComponent("executor"),
		metrics: cfg.Metrics,
	}
}

// run is the state of one flow execution.
type run struct {
	e        *Executor
	id       string
	flow     string
	goal     string
	started  time.Time
	acct     *budget.Accountant
	recorder *session.Recorder
	logger   *logging.Logger
	span     trace.Span
	// phase is the flow phase in progress.
	phase string
}

func (e *Executor) newRun(ctx context.Context, flow, goal string) (context.Context, *run) {
	var opts []budget.Option
	if e.cfg.Clock != nil {
		opts = append(opts, budget.WithClock(e.cfg.Clock))
	}
	id := uuid.NewString()
	r := &run{
		e:        e,
		id:       id,
		flow:     flow,
		goal:     goal,
		acct:     budget.NewAccountant(e.cfg.Budget, opts...),
		recorder: session.New(id),
		logger:   e.logger.WithTraceID(id),
	}
	r.started = r.acct.Now()
	ctx, r.span = e.startRunSpan(ctx, flow, id)
	r.logger.RunStart(flow, id)
	return ctx, r
}

// dispatcher builds a dispatcher of the given noun wired to this run's
// logging, metrics and callbacks.
func (r *run) dispatcher(kind string, allow []string) *dispatch.Dispatcher {
	d := dispatch.New(r.e.cfg.Registry, dispatch.Config{
		Kind:         kind,
		Allow:        allow,
		RequestIDArg: r.e.cfg.RequestIDArg,
		Logger:       r.logger,
		Metrics:      r.e.metrics,
	})
	d.OnDispatch = r.e.OnDispatch
	return d
}

// record appends one step to trace and history.
func (r *run) record(e session.Entry, rec session.Record) {
	r.recorder.Append(e, rec)
	if r.e.OnStep != nil {
		r.e.OnStep(e)
	}
}

// reject records a step whose proposal never became an accepted artifact.
func (r *run) reject(step int, phase, kind string, raw any, err error) {
	reason := stop.ReasonOf(err)
	rec := session.Record{StopReason: reason}
	if raw != nil {
		rec.Meta = map[string]any{"proposal_hash": stablehash.Hash(raw)}
	}
	r.record(session.Entry{
		Step:       step,
		Phase:      phase,
		Kind:       kind,
		Outcome:    OutcomeStopped,
		StopReason: reason,
	}, rec)
}

// rejected records the failed step and ends the run with err.
func (r *run) rejected(step int, phase, kind string, raw any, err error) Result {
	r.reject(step, phase, kind, raw, err)
	return r.stopped(phase, step, err)
}

// propose asks the planner for the next proposal within the time left.
func (r *run) propose(ctx context.Context, phase string, inputs map[string]any) (any, error) {
	r.phase = phase
	timeout := r.e.cfg.PlannerTimeout
	if _, bounded := r.acct.Deadline(); bounded {
		left, err := r.acct.Remaining()
		if err != nil {
			return nil, err
		}
		if timeout <= 0 || left < timeout {
			timeout = left
		}
	}
	return planner.Call(ctx, r.e.planner, planner.Request{
		Goal:    r.goal,
		Phase:   phase,
		History: r.recorder.History(),
		Hints:   r.acct.Hints(),
		Inputs:  inputs,
	}, timeout)
}

// result builds the common part of a Result.
func (r *run) result(status, reason, phase string) Result {
	return Result{
		RunID:      r.id,
		Flow:       r.flow,
		Status:     status,
		StopReason: reason,
		Phase:      phase,
		Steps:      r.recorder.Len(),
		Trace:      r.recorder.Trace(),
		History:    r.recorder.History(),
		Elapsed:    r.acct.Elapsed(),
	}
}

// succeed ends the run with answer.
func (r *run) succeed(answer string) Result {
	res := r.result(session.StatusOK, StopSuccess, "")
	res.Answer = answer
	r.finish(res, nil)
	return res
}

// stopped ends the run with err converted to a stop signal.
func (r *run) stopped(phase string, step int, err error) Result {
	sig := stop.From(err)
	res := r.result(session.StatusStopped, sig.Reason(), phase)
	res.StopCategory = string(sig.Category)

	r.logger.StopSignal(phase, step, sig.Reason(), string(sig.Category))
	r.e.metrics.Stopped(string(sig.Category), sig.Code)
	if r.e.OnStop != nil {
		r.e.OnStop(phase, sig)
	}
	r.finish(res, sig)
	return res
}

func (r *run) finish(res Result, err error) {
	r.e.metrics.RunFinished(r.flow, res.Status)
	r.logger.RunComplete(r.flow, r.id, res.Status, res.StopReason, res.Steps, res.Elapsed)
	endSpan(r.span, res.Status, res.StopReason, err)
}

// Phases used by the executor beyond the planner phases.
const (
	PhaseDispatch = "dispatch"
)

// recoverInto turns a panic inside a flow into an internal stop so the
// caller still gets a Result.
func (r *run) recoverInto(res *Result) {
	if p := recover(); p != nil {
		r.logger.Error("flow panic", map[string]interface{}{"panic": fmt.Sprint(p), "phase": r.phase})
		*res = r.stopped(r.phase, 0, stop.New(stop.CategoryInternal, "internal_error", "panic"))
	}
}

// expired returns max_seconds once the run deadline has passed.
func (r *run) expired(phase string) error {
	r.phase = phase
	_, err := r.acct.Remaining()
	return err
}

// WriteJSONL exports the run's trace and history as JSON lines.
func (r Result) WriteJSONL(w io.Writer) error {
	return session.Export(w, r.RunID, r.Flow, r.Trace, r.History, session.Footer{
		Status:     r.Status,
		StopReason: r.StopReason,
		Answer:     r.Answer,
	})
}
