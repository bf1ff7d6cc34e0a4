// Package planner defines the boundary to the component that proposes the
// next action. Planner output is untrusted until validated.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vinayprograms/gatekeeper/internal/session"
	"github.com/vinayprograms/gatekeeper/internal/stop"
)

// Phases a planner may be asked for.
const (
	PhaseAct        = "act"
	PhasePlan       = "plan"
	PhaseFinalize   = "finalize"
	PhaseDraft      = "draft"
	PhaseReview     = "review"
	PhaseRevise     = "revise"
	PhaseContribute = "contribute"
)

var (
	// ErrTimeout reports that the planner gave up waiting on its backend.
	ErrTimeout = errors.New("planner timed out")
	// ErrEmpty reports that the planner produced nothing.
	ErrEmpty = errors.New("planner returned no proposal")
)

// Request is what the planner sees for one call.
type Request struct {
	Goal    string           `json:"goal"`
	Phase   string           `json:"phase"`
	History []session.Record `json:"history"`
	Hints   map[string]any   `json:"budget_hints"`
	// Inputs carries phase-specific material such as a draft, a fix plan or
	// aggregated task results.
	Inputs map[string]any `json:"inputs,omitempty"`
}

// Planner proposes the next action.
type Planner interface {
	Propose(ctx context.Context, req Request) (any, error)
}

// Func adapts a function to Planner.
type Func func(ctx context.Context, req Request) (any, error)

// Propose calls f.
func (f Func) Propose(ctx context.Context, req Request) (any, error) {
	return f(ctx, req)
}

// Call asks p for a proposal, bounded by ctx and timeout. A planner that
// ignores its context is abandoned when the bound passes. The planner is
// never retried.
func Call(ctx context.Context, p Planner, req Request, timeout time.Duration) (any, error) {
	if p == nil {
		return nil, stop.Planner("llm_error")
	}
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type outcome struct {
		v   any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("planner panic: %v", r)}
			}
		}()
		v, err := p.Propose(callCtx, req)
		done <- outcome{v, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, classify(ctx, out.err)
		}
		if out.v == nil {
			return nil, stop.LLMEmpty
		}
		return out.v, nil
	case <-callCtx.Done():
		return nil, classify(ctx, callCtx.Err())
	}
}

// classify maps a planner failure onto a stop signal.
func classify(parent context.Context, err error) error {
	var sig *stop.Signal
	switch {
	case errors.As(err, &sig):
		return sig
	case errors.Is(parent.Err(), context.Canceled):
		return stop.New(stop.CategoryInternal, "cancelled")
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return stop.LLMTimeout
	case errors.Is(err, ErrEmpty):
		return stop.LLMEmpty
	}
	return stop.Planner("llm_error")
}
