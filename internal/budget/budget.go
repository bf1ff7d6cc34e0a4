// Package budget tracks a run's consumption against its resource envelope.
package budget

import (
	"math"
	"sync"
	"time"

	"github.com/vinayprograms/gatekeeper/internal/stop"
)

// Dimension is a counted resource. Its value is the stop code raised when
// the ceiling is exceeded.
type Dimension string

const (
	Steps       Dimension = "max_steps"
	ToolCalls   Dimension = "max_tool_calls"
	Dispatches  Dimension = "max_dispatches"
	Delegations Dimension = "max_delegations"
	Messages    Dimension = "max_messages"
)

// Budget is the immutable resource envelope for one run. A ceiling of zero
// leaves that dimension uncounted.
type Budget struct {
	MaxSteps       int
	MaxToolCalls   int
	MaxDispatches  int
	MaxDelegations int
	// MaxMessages bounds contributions asked for in a collaboration.
	MaxMessages int
	// MaxParallel bounds concurrent dispatches in a batch.
	MaxParallel int
	// MaxRetries is the number of additional attempts after a timeout.
	MaxRetries int
	// CallTimeout bounds a single dispatch.
	CallTimeout time.Duration
	// MaxDuration is the wall-clock allowance for the whole run.
	MaxDuration time.Duration
}

// Default returns the envelope used when nothing is configured.
func Default() Budget {
	return Budget{
		MaxSteps:      8,
		MaxToolCalls:  5,
		MaxDispatches: 12,
		MaxParallel:   3,
		MaxRetries:    1,
		CallTimeout:   2 * time.Second,
		MaxDuration:   30 * time.Second,
	}
}

// Ceiling returns the configured ceiling for d.
func (b Budget) Ceiling(d Dimension) int {
	switch d {
	case Steps:
		return b.MaxSteps
	case ToolCalls:
		return b.MaxToolCalls
	case Dispatches:
		return b.MaxDispatches
	case Delegations:
		return b.MaxDelegations
	case Messages:
		return b.MaxMessages
	}
	return 0
}

// Accountant owns the mutable counters of one run.
//
// The deadline is fixed at construction. Remaining time is always derived
// from it, so slow steps cannot extend the run.
//
// Thread Safety: Safe for concurrent use via mutex.
type Accountant struct {
	mu       sync.Mutex
	budget   Budget
	used     map[Dimension]int
	now      func() time.Time
	started  time.Time
	deadline time.Time
}

// Option configures an Accountant.
type Option func(*Accountant)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Accountant) { a.now = now }
}

// NewAccountant starts the clock for a run with budget b.
func NewAccountant(b Budget, opts ...Option) *Accountant {
	a := &Accountant{
		budget: b,
		used:   make(map[Dimension]int),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.started = a.now()
	if b.MaxDuration > 0 {
		a.deadline = a.started.Add(b.MaxDuration)
	}
	return a
}

// Budget returns the envelope the accountant enforces.
func (a *Accountant) Budget() Budget {
	return a.budget
}

// Consume counts one unit of d. Exceeding the ceiling returns the
// dimension's stop signal; the counter keeps the over-ceiling value.
func (a *Accountant) Consume(d Dimension) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.used[d]++
	if limit := a.budget.Ceiling(d); limit > 0 && a.used[d] > limit {
		return stop.Budget(string(d))
	}
	return nil
}

// Used returns the units consumed of d.
func (a *Accountant) Used(d Dimension) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used[d]
}

// Deadline returns the absolute end of the run. ok is false when the run
// has no wall-clock limit.
func (a *Accountant) Deadline() (deadline time.Time, ok bool) {
	return a.deadline, !a.deadline.IsZero()
}

// Now reads the accountant's clock.
func (a *Accountant) Now() time.Time {
	return a.now()
}

// Elapsed returns the time since the run started.
func (a *Accountant) Elapsed() time.Duration {
	return a.now().Sub(a.started)
}

// Remaining returns deadline - now, or max_seconds once it has passed.
func (a *Accountant) Remaining() (time.Duration, error) {
	if a.deadline.IsZero() {
		return time.Duration(math.MaxInt64), nil
	}
	left := a.deadline.Sub(a.now())
	if left <= 0 {
		return 0, stop.MaxSeconds
	}
	return left, nil
}

// CallTimeout returns min(configured per-call timeout, remaining time).
func (a *Accountant) CallTimeout() (time.Duration, error) {
	left, err := a.Remaining()
	if err != nil {
		return 0, err
	}
	if t := a.budget.CallTimeout; t > 0 && t < left {
		return t, nil
	}
	return left, nil
}

// Hints summarizes what is left, for the planner.
func (a *Accountant) Hints() map[string]any {
	a.mu.Lock()
	hints := map[string]any{}
	for _, d := range []Dimension{Steps, ToolCalls, Dispatches, Delegations, Messages} {
		if limit := a.budget.Ceiling(d); limit > 0 {
			left := limit - a.used[d]
			if left < 0 {
				left = 0
			}
			hints["remaining_"+string(d)[len("max_"):]] = left
		}
	}
	a.mu.Unlock()
	if left, err := a.Remaining(); err == nil && !a.deadline.IsZero() {
		hints["remaining_seconds"] = math.Round(left.Seconds()*10) / 10
	} else if err != nil {
		hints["remaining_seconds"] = 0.0
	}
	return hints
}
