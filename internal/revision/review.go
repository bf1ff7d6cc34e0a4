package revision

import (
	"strings"

	"github.com/vinayprograms/gatekeeper/internal/stop"
)

// Review decisions.
const (
	DecisionApprove  = "approve"
	DecisionRevise   = "revise"
	DecisionEscalate = "escalate"
)

// Issue is one problem a reviewer found.
type Issue struct {
	Type string `json:"type"`
	Note string `json:"note"`
}

// Review is a validated reviewer verdict.
type Review struct {
	Decision string   `json:"decision"`
	Issues   []Issue  `json:"issues"`
	FixPlan  []string `json:"fix_plan"`
	Reason   string   `json:"reason"`
	HighRisk bool     `json:"high_risk"`
}

// ReviewPolicy constrains reviewer output.
type ReviewPolicy struct {
	// Decisions the policy recognizes.
	Decisions []string
	// Executable decisions the run may act on. A recognized decision
	// outside this list stops the run.
	Executable []string
	IssueTypes []string
	// HighRisk issue types forbid approve and force escalate.
	HighRisk    []string
	MaxIssues   int
	MaxFixItems int
}

// DefaultReviewPolicy returns the policy used when nothing is configured.
func DefaultReviewPolicy() ReviewPolicy {
	return ReviewPolicy{
		Decisions:  []string{DecisionApprove, DecisionRevise, DecisionEscalate},
		Executable: []string{DecisionApprove, DecisionRevise, DecisionEscalate},
		IssueTypes: []string{
			"overconfidence",
			"missing_uncertainty",
			"contradiction",
			"scope_leak",
			"policy_violation",
			"legal_risk",
		},
		HighRisk:    []string{"legal_risk", "policy_violation"},
		MaxIssues:   4,
		MaxFixItems: 4,
	}
}

// ValidateReview parses raw reviewer output under p.
func (p ReviewPolicy) ValidateReview(raw any) (Review, error) {
	const prefix = "invalid_review"
	m, ok := raw.(map[string]any)
	if !ok {
		return Review{}, stop.Contract(prefix, "not_object")
	}

	decision, ok := trimmed(m["decision"])
	if !ok {
		return Review{}, stop.Contract(prefix, "decision")
	}
	if !contains(p.Decisions, decision) {
		return Review{}, stop.Policy("review_decision_not_allowed_policy", decision)
	}

	issuesRaw, ok := listOf(m["issues"])
	if !ok {
		return Review{}, stop.Contract(prefix, "issues")
	}
	if p.MaxIssues > 0 && len(issuesRaw) > p.MaxIssues {
		return Review{}, stop.Contract(prefix, "too_many_issues")
	}
	issues := make([]Issue, 0, len(issuesRaw))
	highRisk := false
	for _, item := range issuesRaw {
		im, ok := item.(map[string]any)
		if !ok {
			return Review{}, stop.Contract(prefix, "issue_item")
		}
		typ, ok := trimmed(im["type"])
		if !ok {
			return Review{}, stop.Contract(prefix, "issue_type")
		}
		if !contains(p.IssueTypes, typ) {
			return Review{}, stop.Policy("review_issue_not_allowed_policy", typ)
		}
		note, ok := trimmed(im["note"])
		if !ok {
			return Review{}, stop.Contract(prefix, "issue_note")
		}
		if contains(p.HighRisk, typ) {
			highRisk = true
		}
		issues = append(issues, Issue{Type: typ, Note: note})
	}

	planRaw, ok := listOf(m["fix_plan"])
	if !ok {
		return Review{}, stop.Contract(prefix, "fix_plan")
	}
	if p.MaxFixItems > 0 && len(planRaw) > p.MaxFixItems {
		return Review{}, stop.Contract(prefix, "too_many_fix_items")
	}
	plan := make([]string, 0, len(planRaw))
	for _, item := range planRaw {
		s, ok := trimmed(item)
		if !ok {
			return Review{}, stop.Contract(prefix, "fix_item")
		}
		plan = append(plan, s)
	}

	var reason string
	switch r := m["reason"].(type) {
	case nil:
	case string:
		reason = strings.TrimSpace(r)
	default:
		return Review{}, stop.Contract(prefix, "reason")
	}

	switch decision {
	case DecisionApprove:
		if highRisk {
			return Review{}, stop.Policy(prefix, "approve_with_high_risk_issue")
		}
		return Review{Decision: decision, Issues: issues, FixPlan: []string{}, Reason: reason}, nil
	case DecisionRevise:
		if len(issues) == 0 {
			return Review{}, stop.Contract(prefix, "revise_without_issues")
		}
		if len(plan) == 0 {
			return Review{}, stop.Contract(prefix, "revise_without_fix_plan")
		}
		if highRisk {
			return Review{}, stop.Policy(prefix, "high_risk_requires_escalate")
		}
		return Review{Decision: decision, Issues: issues, FixPlan: plan, Reason: reason}, nil
	case DecisionEscalate:
		if reason == "" {
			return Review{}, stop.Contract(prefix, "escalate_reason_required")
		}
		return Review{Decision: decision, Issues: issues, FixPlan: []string{}, Reason: reason, HighRisk: true}, nil
	}
	return Review{}, stop.Contract(prefix, "unknown_decision")
}

// EnforceExecution stops decisions the run is not allowed to act on.
func (p ReviewPolicy) EnforceExecution(decision string) error {
	if !contains(p.Executable, decision) {
		return stop.Policy("review_decision_denied_execution", decision)
	}
	return nil
}

func trimmed(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// listOf accepts a JSON array; absent or null means empty.
func listOf(v any) ([]any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, true
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
