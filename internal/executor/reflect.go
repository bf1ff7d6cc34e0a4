package executor

import (
	"context"

	"github.com/vinayprograms/gatekeeper/internal/planner"
	"github.com/vinayprograms/gatekeeper/internal/revision"
	"github.com/vinayprograms/gatekeeper/internal/session"
	"github.com/vinayprograms/gatekeeper/internal/stablehash"
	"github.com/vinayprograms/gatekeeper/internal/stop"
)

// Reflection outcomes.
const (
	OutcomeApprovedDirect = "approved_direct"
	OutcomeRevisedOnce    = "revised_once"
)

// Reflect drafts an answer, has it reviewed, revises it at most once and
// releases it. allowed is the context the text may draw facts from.
func (e *Executor) Reflect(ctx context.Context, goal string, allowed any) (res Result) {
	ctx, r := e.newRun(ctx, FlowReflect, goal)
	defer r.recoverInto(&res)

	texts := revision.NewValidator(e.cfg.Revision)
	policy := e.cfg.Review
	if len(policy.Decisions) == 0 {
		policy = revision.DefaultReviewPolicy()
	}

	raw, err := r.propose(ctx, planner.PhaseDraft, map[string]any{"context": allowed})
	if err != nil {
		return r.rejected(1, planner.PhaseDraft, session.KindPlanner, nil, err)
	}
	draft, err := texts.ValidateDraft(raw)
	if err != nil {
		return r.rejected(1, planner.PhaseDraft, session.KindDraft, raw, err)
	}
	r.record(session.Entry{
		Step:     1,
		Phase:    planner.PhaseDraft,
		Kind:     session.KindDraft,
		ArgsHash: stablehash.Hash(draft),
		Outcome:  OutcomeOK,
	}, session.Record{Meta: map[string]any{"draft": draft, "chars": len([]rune(draft))}})

	if err := r.expired(planner.PhaseReview); err != nil {
		return r.stopped(planner.PhaseReview, 2, err)
	}
	raw, err = r.propose(ctx, planner.PhaseReview, map[string]any{
		"draft":       draft,
		"context":     allowed,
		"issue_types": policy.IssueTypes,
	})
	if err != nil {
		return r.rejected(2, planner.PhaseReview, session.KindPlanner, nil, err)
	}
	review, err := policy.ValidateReview(raw)
	if err == nil {
		err = policy.EnforceExecution(review.Decision)
	}
	if err != nil {
		return r.rejected(2, planner.PhaseReview, session.KindReview, raw, err)
	}
	r.record(session.Entry{
		Step:     2,
		Phase:    planner.PhaseReview,
		Kind:     session.KindReview,
		Decision: review.Decision,
		Outcome:  OutcomeOK,
	}, session.Record{
		Decision: review.Decision,
		Reason:   review.Reason,
		Meta:     map[string]any{"issues": review.Issues, "fix_plan": review.FixPlan},
	})

	if review.Decision == revision.DecisionEscalate {
		res = r.stopped(planner.PhaseReview, 2, stop.Policy("policy_escalation"))
		res.Review = &review
		return res
	}

	answer, outcome := draft, OutcomeApprovedDirect
	step := 3
	if review.Decision == revision.DecisionRevise {
		if err := r.expired(planner.PhaseRevise); err != nil {
			return r.reviewed(r.stopped(planner.PhaseRevise, step, err), review)
		}
		raw, err = r.propose(ctx, planner.PhaseRevise, map[string]any{
			"draft":    draft,
			"fix_plan": review.FixPlan,
			"context":  allowed,
		})
		if err != nil {
			return r.reviewed(r.rejected(step, planner.PhaseRevise, session.KindPlanner, nil, err), review)
		}
		art, err := texts.Validate(draft, raw, allowed, review.FixPlan)
		if err != nil {
			return r.reviewed(r.rejected(step, planner.PhaseRevise, session.KindRevise, raw, err), review)
		}
		r.record(session.Entry{
			Step:     step,
			Phase:    planner.PhaseRevise,
			Kind:     session.KindRevise,
			ArgsHash: stablehash.Hash(art.Answer),
			Outcome:  OutcomeOK,
		}, session.Record{Meta: map[string]any{
			"fix_plan":               review.FixPlan,
			"patch_similarity":       art.Similarity,
			"fix_plan_quoted_checks": art.QuotedChecks,
		}})
		answer, outcome = art.Answer, OutcomeRevisedOnce
		step++
	}

	final, err := texts.ValidateFinal(answer)
	r.phase = planner.PhaseFinalize
	r.recordFinal(step, final, err)
	if err != nil {
		return r.reviewed(r.stopped(planner.PhaseFinalize, step, err), review)
	}
	res = r.succeed(final)
	res.Outcome = outcome
	return r.reviewed(res, review)
}

func (r *run) reviewed(res Result, review revision.Review) Result {
	res.Review = &review
	return res
}
