package supervision

import (
	"math"
	"sort"
	"sync"

	"github.com/vinayprograms/gatekeeper/internal/action"
)

// DecisionKind is the supervisor's classification of one proposed action.
type DecisionKind string

const (
	Approve  DecisionKind = "approve"
	Revise   DecisionKind = "revise"
	Block    DecisionKind = "block"
	Escalate DecisionKind = "escalate"
)

// Decision is produced fresh for every proposed action. Revised, when set,
// is the action to execute instead of the proposal.
type Decision struct {
	Kind    DecisionKind   `json:"kind"`
	Reason  string         `json:"reason"`
	Revised *action.Action `json:"-"`
}

// Policy is the supervisor's rule set for a run.
type Policy struct {
	// FinalRequires lists operations that must have succeeded before a
	// final answer is approved.
	FinalRequires []string
	// Operations holds per-operation rules. When non-empty, operations not
	// listed are blocked.
	Operations map[string]OperationPolicy
}

// OperationPolicy holds the rules for one operation.
type OperationPolicy struct {
	// ReadOnly operations are approved without further checks.
	ReadOnly bool
	// Requires lists operations that must have succeeded earlier in the run.
	Requires []string
	// AmountArg names the monetary argument checked against the limits.
	AmountArg string
	// AutoLimit is the largest amount approved without a human. Zero means
	// no per-action limit.
	AutoLimit float64
	// RunCeiling caps the total amount executed in one run. Zero means none.
	RunCeiling float64
	// Defaults fill required fields the planner left missing or blank.
	Defaults map[string]any
	// AlwaysEscalate sends every call to human approval.
	AlwaysEscalate bool
}

// State is the accumulated record of executed operations in one run.
type State struct {
	mu       sync.Mutex
	executed map[string]int
	spent    map[string]float64
}

func newState() *State {
	return &State{executed: make(map[string]int), spent: make(map[string]float64)}
}

// Executed returns how many times op succeeded.
func (s *State) Executed(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executed[op]
}

// Spent returns the total amount executed through op.
func (s *State) Spent(op string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spent[op]
}

func (s *State) record(op string, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed[op]++
	s.spent[op] += amount
}

// Succeeded reports whether an observation describes a successful call: no
// "error" member and a status other than error or failed.
func Succeeded(obs map[string]any) bool {
	if obs == nil {
		return false
	}
	if _, failed := obs["error"]; failed {
		return false
	}
	switch obs["status"] {
	case "error", "failed":
		return false
	}
	return true
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func amountOf(args map[string]any, arg string) (float64, bool) {
	switch n := args[arg].(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
