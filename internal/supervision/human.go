package supervision

import (
	"context"
	"fmt"

	"github.com/vinayprograms/gatekeeper/internal/action"
)

// Request is an escalated action awaiting a human.
type Request struct {
	Action action.Action
	Reason string
	// AmountArg names the monetary argument, if the operation has one.
	AmountArg string
}

// Approval is the human's answer. Revised, when set, replaces the pending
// action's arguments.
type Approval struct {
	Approved bool           `json:"approved"`
	Revised  *action.Action `json:"-"`
	Comment  string         `json:"comment,omitempty"`
}

// Approver decides escalated actions.
type Approver interface {
	Approve(ctx context.Context, req Request) (Approval, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, req Request) (Approval, error)

// Approve calls f.
func (f ApproverFunc) Approve(ctx context.Context, req Request) (Approval, error) {
	return f(ctx, req)
}

// CapApprover stands in for a human: it approves everything, capping the
// monetary argument at Cap.
type CapApprover struct {
	Cap float64
}

// Approve implements Approver.
func (c CapApprover) Approve(ctx context.Context, req Request) (Approval, error) {
	if req.AmountArg == "" {
		return Approval{Approved: true, Comment: "approved_by_human"}, nil
	}
	requested, ok := amountOf(req.Action.Args, req.AmountArg)
	if !ok {
		return Approval{Approved: false, Comment: "invalid_requested_amount_type"}, nil
	}
	amount := requested
	if c.Cap > 0 && amount > c.Cap {
		amount = c.Cap
	}
	if amount <= 0 {
		return Approval{Approved: false, Comment: "invalid_requested_amount"}, nil
	}
	args := copyArgs(req.Action.Args)
	args[req.AmountArg] = round2(amount)
	revised := req.Action.WithArgs(args)
	return Approval{
		Approved: true,
		Revised:  &revised,
		Comment:  fmt.Sprintf("approved_with_cap:%g", round2(amount)),
	}, nil
}

// ChannelApprover hands requests to a human over channels and waits for
// the answer until ctx is done.
type ChannelApprover struct {
	Requests  chan<- Request
	Responses <-chan Approval
}

// Approve implements Approver.
func (c ChannelApprover) Approve(ctx context.Context, req Request) (Approval, error) {
	select {
	case c.Requests <- req:
	case <-ctx.Done():
		return Approval{}, ctx.Err()
	}
	select {
	case a := <-c.Responses:
		return a, nil
	case <-ctx.Done():
		return Approval{}, ctx.Err()
	}
}
