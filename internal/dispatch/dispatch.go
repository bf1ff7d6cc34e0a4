// Package dispatch executes approved calls against the tool registry.
//
// Every failure is returned as a *stop.Signal named after the dispatcher's
// noun (tool, worker or route): <kind>_denied, <kind>_missing,
// <kind>_bad_args, <kind>_timeout, <kind>_error and <kind>_bad_result,
// each with the operation name as detail.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vinayprograms/gatekeeper/internal/budget"
	"github.com/vinayprograms/gatekeeper/internal/logging"
	"github.com/vinayprograms/gatekeeper/internal/metrics"
	"github.com/vinayprograms/gatekeeper/internal/stop"
	"github.com/vinayprograms/gatekeeper/internal/tools"
)

// Config configures a Dispatcher.
type Config struct {
	// Kind names dispatched operations in stop reasons. Defaults to "tool".
	Kind string
	// Allow lists the operations that may run. Empty allows every
	// registered operation.
	Allow []string
	// RequestIDArg is the argument RunTasks injects the request ID into.
	RequestIDArg string
	Logger       *logging.Logger
	Metrics      *metrics.Collector
}

// Dispatcher runs registered operations under the run's time budget.
type Dispatcher struct {
	registry     *tools.Registry
	allow        map[string]bool
	kind         string
	requestIDArg string
	log          *logging.Logger
	metrics      *metrics.Collector

	// OnDispatch is called after every attempt.
	OnDispatch func(op string, attempt int, duration time.Duration, err error)
}

// New creates a dispatcher over registry.
func New(registry *tools.Registry, cfg Config) *Dispatcher {
	d := &Dispatcher{
		registry:     registry,
		kind:         cfg.Kind,
		requestIDArg: cfg.RequestIDArg,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
	}
	if d.kind == "" {
		d.kind = "tool"
	}
	if d.log == nil {
		d.log = logging.Discard()
	}
	d.log = d.log.WithComponent("dispatch")
	if len(cfg.Allow) > 0 {
		d.allow = make(map[string]bool, len(cfg.Allow))
		for _, name := range cfg.Allow {
			d.allow[name] = true
		}
	}
	return d
}

// Kind returns the noun used in stop reasons.
func (d *Dispatcher) Kind() string {
	return d.kind
}

// CallOnce runs op once. The call is bounded by min(per-call timeout,
// time left in the run) taken from acct.
func (d *Dispatcher) CallOnce(ctx context.Context, acct *budget.Accountant, op string, args map[string]any) (map[string]any, error) {
	return d.attempt(ctx, acct, op, args, 1)
}

func (d *Dispatcher) attempt(ctx context.Context, acct *budget.Accountant, op string, args map[string]any, attempt int) (map[string]any, error) {
	start := time.Now()
	obs, err := d.call(ctx, acct, op, args)
	elapsed := time.Since(start)

	d.metrics.Dispatched(d.kind, d.outcome(err), elapsed)
	d.log.Dispatch(op, attempt, elapsed, err)
	if d.OnDispatch != nil {
		d.OnDispatch(op, attempt, elapsed, err)
	}
	return obs, err
}

func (d *Dispatcher) call(ctx context.Context, acct *budget.Accountant, op string, args map[string]any) (map[string]any, error) {
	if d.allow != nil && !d.allow[op] {
		return nil, stop.Contract(d.kind+"_denied", op)
	}
	t := d.registry.Get(op)
	if t == nil {
		return nil, stop.Contract(d.kind+"_missing", op)
	}
	if err := tools.CheckArgs(t, args); err != nil {
		return nil, stop.Contract(d.kind+"_bad_args", op)
	}

	timeout, err := acct.CallTimeout()
	if err != nil {
		return nil, err
	}
	// A timeout shorter than configured was cut to the run deadline.
	limit := acct.Budget().CallTimeout
	runBound := limit <= 0 || timeout < limit
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if _, bounded := acct.Deadline(); bounded || limit > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type result struct {
		out interface{}
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := t.Execute(callCtx, args)
		done <- result{out: out, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-callCtx.Done():
		return nil, d.expired(ctx, acct, op, runBound)
	}

	switch {
	case res.err == nil:
	case errors.Is(res.err, tools.ErrBadArgs):
		return nil, stop.Contract(d.kind+"_bad_args", op)
	case errors.Is(res.err, context.DeadlineExceeded):
		return nil, d.expired(ctx, acct, op, runBound)
	default:
		return nil, stop.Execution(d.kind+"_error", op)
	}

	obs, ok := res.out.(map[string]any)
	if !ok || obs == nil {
		return nil, stop.Execution(d.kind+"_bad_result", op)
	}
	return obs, nil
}

// expired classifies a call that ran out of time. Running out of run time is
// max_seconds; running out of the per-call timeout is retryable.
func (d *Dispatcher) expired(ctx context.Context, acct *budget.Accountant, op string, runBound bool) error {
	if ctx.Err() != nil {
		return contextSignal(ctx)
	}
	if _, err := acct.Remaining(); err != nil || runBound {
		return stop.MaxSeconds
	}
	return stop.Transient(d.kind+"_timeout", op)
}

// IsTimeout reports whether err is this dispatcher's per-call timeout.
func (d *Dispatcher) IsTimeout(err error) bool {
	s := stop.From(err)
	return s != nil && s.Code == d.kind+"_timeout"
}

func (d *Dispatcher) outcome(err error) string {
	if err == nil {
		return "ok"
	}
	s := stop.From(err)
	if len(s.Code) > len(d.kind)+1 && s.Code[:len(d.kind)+1] == d.kind+"_" {
		return s.Code[len(d.kind)+1:]
	}
	return s.Code
}

// contextSignal maps a finished parent context to a stop signal. A parent
// deadline is the run deadline.
func contextSignal(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return stop.MaxSeconds
	}
	return stop.New(stop.CategoryInternal, "cancelled")
}
