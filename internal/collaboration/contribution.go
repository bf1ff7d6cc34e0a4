// Package collaboration validates team contributions and decides the
// outcome of each collaboration round.
package collaboration

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/vinayprograms/gatekeeper/internal/stop"
)

// Stance is a contributor's position on the goal.
type Stance string

const (
	StanceGo      Stance = "go"
	StanceCaution Stance = "caution"
	StanceBlock   Stance = "block"
)

// MaxActions is how many action items a contribution keeps.
const MaxActions = 3

var requiredKeys = []string{"agent", "stance", "summary", "confidence", "actions"}

// Contribution is a validated message from one team role.
type Contribution struct {
	Agent      string   `json:"agent"`
	Stance     Stance   `json:"stance"`
	Summary    string   `json:"summary"`
	Confidence float64  `json:"confidence"`
	Actions    []string `json:"actions"`
}

// Validator accepts contributions from an allow-listed set of roles.
type Validator struct {
	agents map[string]bool
}

// NewValidator creates a validator for agents.
func NewValidator(agents []string) *Validator {
	v := &Validator{agents: make(map[string]bool, len(agents))}
	for _, a := range agents {
		v.agents[a] = true
	}
	return v
}

// Allowed reports whether agent may contribute.
func (v *Validator) Allowed(agent string) bool {
	return v.agents[agent]
}

// Validate checks raw as the contribution of expected. Unknown keys are
// ignored; summaries and action items are trimmed and actions are cut to
// MaxActions.
func (v *Validator) Validate(raw any, expected string) (Contribution, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Contribution{}, invalid("not_object")
	}
	for _, k := range requiredKeys {
		if _, ok := m[k]; !ok {
			return Contribution{}, invalid("missing_keys")
		}
	}

	agent, ok := trimmed(m["agent"])
	if !ok {
		return Contribution{}, invalid("agent")
	}
	if !v.agents[agent] {
		return Contribution{}, invalid("agent_not_allowed", agent)
	}

	stance, _ := trimmed(m["stance"])
	switch Stance(stance) {
	case StanceGo, StanceCaution, StanceBlock:
	default:
		return Contribution{}, invalid("stance")
	}

	summary, ok := trimmed(m["summary"])
	if !ok {
		return Contribution{}, invalid("summary")
	}

	confidence, ok := number(m["confidence"])
	if !ok {
		return Contribution{}, invalid("confidence_type")
	}
	if confidence < 0 || confidence > 1 {
		return Contribution{}, invalid("confidence_range")
	}

	items, ok := m["actions"].([]any)
	if !ok || len(items) == 0 {
		return Contribution{}, invalid("actions")
	}
	actions := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := trimmed(item)
		if !ok {
			return Contribution{}, invalid("action_item")
		}
		actions = append(actions, s)
	}
	if len(actions) > MaxActions {
		actions = actions[:MaxActions]
	}

	if agent != expected {
		return Contribution{}, invalid("agent_mismatch", expected)
	}
	return Contribution{
		Agent:      agent,
		Stance:     Stance(stance),
		Summary:    summary,
		Confidence: math.Round(confidence*1000) / 1000,
		Actions:    actions,
	}, nil
}

func invalid(detail ...string) *stop.Signal {
	return stop.Contract("invalid_contribution", detail...)
}

func trimmed(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// number accepts JSON numbers; booleans and numeric strings are not numbers.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
