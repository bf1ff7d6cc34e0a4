// Package stop defines the named terminal reasons that end a governed run.
//
// A Signal is an ordinary error value. Every component returns its failures
// as a *Signal so the run loop can report the exact violated rule without
// unwinding anything.
package stop

import (
	"errors"
	"fmt"
	"strings"
)

// Category groups signals for audit.
type Category string

const (
	// CategoryContract is a malformed proposal, disallowed operation or bad argument shape.
	CategoryContract Category = "contract"
	// CategoryBudget is an exhausted resource ceiling.
	CategoryBudget Category = "budget"
	// CategoryTransient is a timeout that survived its retries.
	CategoryTransient Category = "transient"
	// CategoryPolicy is a supervisor block, human rejection or revision rejection.
	CategoryPolicy Category = "policy"
	// CategoryPlanner is a failure of the planner collaborator.
	CategoryPlanner Category = "planner"
	// CategoryExecution is a failure inside a dispatched operation.
	CategoryExecution Category = "execution"
	// CategoryInternal is anything that was not classified by the component that raised it.
	CategoryInternal Category = "internal"
)

// Signal is a named, terminal reason.
type Signal struct {
	Category Category
	Code     string
	Detail   string
}

// Error implements the error interface.
func (s *Signal) Error() string {
	return s.Reason()
}

// Reason renders the signal as "code" or "code:detail".
func (s *Signal) Reason() string {
	if s.Detail == "" {
		return s.Code
	}
	return s.Code + ":" + s.Detail
}

// Is matches another *Signal by code (and detail when the target sets one).
func (s *Signal) Is(target error) bool {
	t, ok := target.(*Signal)
	if !ok {
		return false
	}
	if t.Code != s.Code {
		return false
	}
	return t.Detail == "" || t.Detail == s.Detail
}

// New creates a signal. Detail parts are joined with ':'.
func New(cat Category, code string, detail ...string) *Signal {
	return &Signal{Category: cat, Code: code, Detail: strings.Join(detail, ":")}
}

// Contract creates a contract-violation signal.
func Contract(code string, detail ...string) *Signal {
	return New(CategoryContract, code, detail...)
}

// Budget creates a resource-exhaustion signal.
func Budget(code string) *Signal {
	return New(CategoryBudget, code)
}

// Policy creates a policy-violation signal.
func Policy(code string, detail ...string) *Signal {
	return New(CategoryPolicy, code, detail...)
}

// Execution creates an operation failure signal.
func Execution(code string, detail ...string) *Signal {
	return New(CategoryExecution, code, detail...)
}

// Transient creates a timeout signal.
func Transient(code string, detail ...string) *Signal {
	return New(CategoryTransient, code, detail...)
}

// Planner creates a planner failure signal.
func Planner(code string) *Signal {
	return New(CategoryPlanner, code)
}

// Common signals.
var (
	MaxSeconds         = Budget("max_seconds")
	LLMTimeout         = Planner("llm_timeout")
	LLMEmpty           = Planner("llm_empty")
	CriticalTaskFailed = Policy("critical_task_failed")
	HumanRejected      = Policy("human_rejected")
)

// From converts any error into a signal. Unclassified errors become
// internal_error so nothing leaves the run loop as a raw failure.
func From(err error) *Signal {
	if err == nil {
		return nil
	}
	var s *Signal
	if errors.As(err, &s) {
		return s
	}
	return New(CategoryInternal, "internal_error", fmt.Sprintf("%T", err))
}

// ReasonOf returns the reason string of err, or "" for nil.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	return From(err).Reason()
}
