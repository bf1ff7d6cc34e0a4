package executor

import (
	"context"

	"github.com/vinayprograms/gatekeeper/internal/budget"
	"github.com/vinayprograms/gatekeeper/internal/collaboration"
	"github.com/vinayprograms/gatekeeper/internal/planner"
	"github.com/vinayprograms/gatekeeper/internal/session"
	"github.com/vinayprograms/gatekeeper/internal/stop"
)

// PhaseRound is the step that closes a collaboration round.
const PhaseRound = "round"

// NextRound is recorded for a round that reached no decision.
const NextRound = "next_round"

// Collaborate asks each team role for a contribution, round by round, until
// a round decides the outcome, then asks the planner for the final answer.
// shared is the context every contributor sees.
func (e *Executor) Collaborate(ctx context.Context, goal string, shared any) (res Result) {
	ctx, r := e.newRun(ctx, FlowCollaborate, goal)
	defer r.recoverInto(&res)

	team := e.cfg.Collaboration.WithDefaults()
	contributions := collaboration.NewValidator(team.Agents)

	var (
		rounds    []collaboration.Round
		conflicts []string
		decision  string
		step      int
	)
	for number := 1; number <= team.MaxRounds && decision == ""; number++ {
		var current []collaboration.Contribution
		for _, role := range team.Team {
			step++
			if err := r.expired(planner.PhaseContribute); err != nil {
				return r.withRounds(r.stopped(planner.PhaseContribute, step, err), rounds)
			}
			c, err := r.contribute(ctx, step, number, role, contributions, shared, rounds, conflicts)
			if err != nil {
				return r.withRounds(r.stopped(planner.PhaseContribute, step, err), rounds)
			}
			current = append(current, c)
		}

		step++
		round := collaboration.Close(number, current, team.MinGoVotes)
		rounds = append(rounds, round)
		conflicts = round.Conflicts
		decision = round.Decision

		outcome := decision
		if outcome == "" {
			outcome = NextRound
		}
		r.logger.Info("round closed", map[string]interface{}{
			"round":     number,
			"decision":  outcome,
			"conflicts": conflicts,
		})
		r.record(session.Entry{
			Step:     step,
			Phase:    PhaseRound,
			Kind:     session.KindRound,
			Decision: outcome,
			Outcome:  OutcomeOK,
		}, session.Record{
			Decision: outcome,
			Meta:     map[string]any{"round": number, "conflicts": conflicts},
		})
	}
	if decision == "" {
		return r.withRounds(r.stopped(PhaseRound, step, stop.Budget("max_rounds_reached")), rounds)
	}

	if err := r.expired(planner.PhaseFinalize); err != nil {
		return r.withRounds(r.stopped(planner.PhaseFinalize, step, err), rounds)
	}
	step++
	raw, err := r.propose(ctx, planner.PhaseFinalize, map[string]any{
		"final_decision": decision,
		"rounds":         rounds,
	})
	var answer string
	if err == nil {
		answer, err = e.finalAnswer(raw)
	}
	r.recordFinal(step, answer, err)
	if err != nil {
		return r.withRounds(r.stopped(planner.PhaseFinalize, step, err), rounds)
	}

	res = r.succeed(answer)
	res.Outcome = decision
	return r.withRounds(res, rounds)
}

// contribute asks one role for its contribution and records the step. The
// message budget is spent before the contribution is validated.
func (r *run) contribute(ctx context.Context, step, number int, role string, v *collaboration.Validator, shared any, rounds []collaboration.Round, conflicts []string) (collaboration.Contribution, error) {
	phase := planner.PhaseContribute
	if !v.Allowed(role) {
		err := stop.Policy("agent_denied", role)
		r.reject(step, phase, session.KindContribution, nil, err)
		return collaboration.Contribution{}, err
	}
	raw, err := r.propose(ctx, phase, map[string]any{
		"role":           role,
		"round":          number,
		"context":        shared,
		"rounds":         rounds,
		"open_conflicts": conflicts,
	})
	if err != nil {
		r.reject(step, phase, session.KindPlanner, nil, err)
		return collaboration.Contribution{}, err
	}
	if err := r.acct.Consume(budget.Messages); err != nil {
		r.reject(step, phase, session.KindContribution, raw, err)
		return collaboration.Contribution{}, err
	}
	c, err := v.Validate(raw, role)
	if err != nil {
		r.reject(step, phase, session.KindContribution, raw, err)
		return collaboration.Contribution{}, err
	}
	r.record(session.Entry{
		Step:     step,
		Phase:    phase,
		Kind:     session.KindContribution,
		Op:       role,
		Decision: string(c.Stance),
		Outcome:  OutcomeOK,
	}, session.Record{
		Decision: string(c.Stance),
		Observation: map[string]any{
			"summary":    c.Summary,
			"confidence": c.Confidence,
			"actions":    c.Actions,
		},
		Meta: map[string]any{"round": number},
	})
	return c, nil
}

func (r *run) withRounds(res Result, rounds []collaboration.Round) Result {
	res.Rounds = rounds
	return res
}
