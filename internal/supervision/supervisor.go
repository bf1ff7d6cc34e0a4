// Package supervision reviews proposed actions against a run policy before
// they are dispatched.
package supervision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/gatekeeper/internal/action"
	"github.com/vinayprograms/gatekeeper/internal/logging"
	"github.com/vinayprograms/gatekeeper/internal/metrics"
	"github.com/vinayprograms/gatekeeper/internal/stop"
)

// Supervisor classifies actions for one run and tracks what they executed.
type Supervisor struct {
	policy       Policy
	state        *State
	approver     Approver
	humanTimeout time.Duration
	logger       *logging.Logger
	metrics      *metrics.Collector
}

// Config holds supervisor configuration.
type Config struct {
	Policy Policy
	// Approver receives escalated actions. Without one every escalation is
	// rejected.
	Approver     Approver
	HumanTimeout time.Duration
	Logger       *logging.Logger
	Metrics      *metrics.Collector
}

// New creates a supervisor with empty run state.
func New(cfg Config) *Supervisor {
	timeout := cfg.HumanTimeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Supervisor{
		policy:       cfg.Policy,
		state:        newState(),
		approver:     cfg.Approver,
		humanTimeout: timeout,
		logger:       logger.WithComponent("supervisor"),
		metrics:      cfg.Metrics,
	}
}

// State returns the run state.
func (s *Supervisor) State() *State {
	return s.state
}

// Review classifies a. It never consults the planner again: any revision is
// computed here.
func (s *Supervisor) Review(a action.Action) Decision {
	d := s.review(a)
	s.metrics.Decided(string(d.Kind))
	s.logger.Debug("supervisor_decision", map[string]interface{}{
		"kind":     string(a.Kind),
		"op":       a.Name,
		"decision": string(d.Kind),
		"reason":   d.Reason,
	})
	return d
}

func (s *Supervisor) review(a action.Action) Decision {
	switch a.Kind {
	case action.KindFinal:
		for _, req := range s.policy.FinalRequires {
			if s.state.Executed(req) == 0 {
				return Decision{Kind: Block, Reason: "final_requires_context"}
			}
		}
		return Decision{Kind: Approve, Reason: "final_with_context"}
	case action.KindTool, action.KindRoute:
	default:
		return Decision{Kind: Block, Reason: "unknown_action_kind"}
	}

	op, listed := s.policy.Operations[a.Name]
	if !listed {
		if len(s.policy.Operations) > 0 {
			return Decision{Kind: Block, Reason: "unknown_tool_for_supervisor:" + a.Name}
		}
		return Decision{Kind: Approve, Reason: "no_policy"}
	}
	if op.ReadOnly {
		return Decision{Kind: Approve, Reason: "read_only"}
	}
	for _, req := range op.Requires {
		if s.state.Executed(req) == 0 {
			return Decision{Kind: Block, Reason: a.Name + "_before_" + req}
		}
	}

	args := copyArgs(a.Args)
	var (
		revisions []string
		capped    bool
	)

	amount := 0.0
	if op.AmountArg != "" {
		var ok bool
		amount, ok = amountOf(args, op.AmountArg)
		if !ok {
			return Decision{Kind: Block, Reason: "invalid_amount_type"}
		}
		if amount <= 0 {
			return Decision{Kind: Block, Reason: "invalid_amount"}
		}
		if op.RunCeiling > 0 {
			remaining := op.RunCeiling - s.state.Spent(a.Name)
			if remaining <= 0 {
				return Decision{Kind: Block, Reason: "run_budget_exhausted"}
			}
			if amount > remaining {
				amount = round2(remaining)
				args[op.AmountArg] = amount
				revisions = append(revisions, "cap_to_remaining_run_budget")
				capped = true
			}
		}
	}

	for _, field := range sortedKeys(op.Defaults) {
		if blank(args[field]) {
			args[field] = op.Defaults[field]
			revisions = append(revisions, field+"_required")
		}
	}

	var revised *action.Action
	if len(revisions) > 0 {
		r := a.WithArgs(args)
		revised = &r
	}

	// A capped amount runs as revised. Any other revision still needs a
	// human when the amount is above the auto limit.
	if capped && !op.AlwaysEscalate {
		return Decision{Kind: Revise, Reason: strings.Join(revisions, ","), Revised: revised}
	}
	if op.AlwaysEscalate || (op.AmountArg != "" && op.AutoLimit > 0 && amount > op.AutoLimit) {
		return Decision{Kind: Escalate, Reason: "requires_human_approval", Revised: revised}
	}
	if revised != nil {
		return Decision{Kind: Revise, Reason: strings.Join(revisions, ","), Revised: revised}
	}
	if op.AmountArg != "" {
		return Decision{Kind: Approve, Reason: "within_auto_limit"}
	}
	return Decision{Kind: Approve, Reason: "policy_ok"}
}

// Resolve turns a decision into the action to execute. Block becomes a
// supervisor_block signal; Escalate waits for the approver.
func (s *Supervisor) Resolve(ctx context.Context, a action.Action, d Decision) (action.Action, *Approval, error) {
	switch d.Kind {
	case Approve:
		return a, nil, nil
	case Revise:
		return *d.Revised, nil, nil
	case Block:
		return action.Action{}, nil, stop.Policy("supervisor_block", d.Reason)
	case Escalate:
		pending := a
		if d.Revised != nil {
			pending = *d.Revised
		}
		return s.escalate(ctx, pending, d.Reason)
	}
	return action.Action{}, nil, stop.Policy("supervisor_block", "unknown_decision")
}

func (s *Supervisor) escalate(ctx context.Context, pending action.Action, reason string) (action.Action, *Approval, error) {
	if s.approver == nil {
		s.logger.Warn("escalation without approver", map[string]interface{}{"op": pending.Name})
		return action.Action{}, nil, stop.HumanRejected
	}
	op := s.policy.Operations[pending.Name]

	hctx, cancel := context.WithTimeout(ctx, s.humanTimeout)
	defer cancel()

	s.logger.Info("waiting for human approval", map[string]interface{}{
		"op":      pending.Name,
		"reason":  reason,
		"timeout": s.humanTimeout.String(),
	})
	approval, err := s.approver.Approve(hctx, Request{Action: pending, Reason: reason, AmountArg: op.AmountArg})
	if err != nil {
		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return action.Action{}, nil, stop.MaxSeconds
			}
			return action.Action{}, nil, stop.New(stop.CategoryInternal, "cancelled")
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return action.Action{}, nil, stop.Policy("human_rejected", "timeout")
		}
		return action.Action{}, nil, stop.HumanRejected
	}
	if !approval.Approved {
		return action.Action{}, &approval, stop.HumanRejected
	}

	approved := pending
	if approval.Revised != nil {
		// The approver may change arguments, never the operation.
		approved = pending.WithArgs(approval.Revised.Args)
	}
	if err := s.checkApproved(approved, op); err != nil {
		return action.Action{}, &approval, err
	}
	return approved, &approval, nil
}

// checkApproved keeps a human revision inside the run ceiling.
func (s *Supervisor) checkApproved(a action.Action, op OperationPolicy) error {
	if op.AmountArg == "" {
		return nil
	}
	amount, ok := amountOf(a.Args, op.AmountArg)
	if !ok || amount <= 0 {
		return stop.Policy("supervisor_block", "invalid_amount")
	}
	if op.RunCeiling > 0 && amount > op.RunCeiling-s.state.Spent(a.Name)+1e-9 {
		return stop.Policy("supervisor_block", "approval_exceeds_run_budget")
	}
	return nil
}

// Record updates run state after a dispatch. Only successful observations
// count toward prerequisites and spending.
func (s *Supervisor) Record(a action.Action, obs map[string]any) {
	if !Succeeded(obs) {
		return
	}
	var amount float64
	if op, ok := s.policy.Operations[a.Name]; ok && op.AmountArg != "" {
		amount, _ = amountOf(a.Args, op.AmountArg)
	}
	s.state.record(a.Name, amount)
}

// String renders a decision for traces.
func (d Decision) String() string {
	return fmt.Sprintf("%s:%s", d.Kind, d.Reason)
}

func blank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func copyArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
