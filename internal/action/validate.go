package action

import (
	"fmt"
	"strings"

	"github.com/vinayprograms/gatekeeper/internal/stop"
)

// PlanRules constrains a Plan action.
type PlanRules struct {
	MinSteps        int
	MaxSteps        int
	RequireTitle    bool
	RequireCritical bool
}

// Config is the validator's contract. It is read-only after construction.
type Config struct {
	// Kinds lists the accepted variants. Empty means tool and final.
	Kinds []Kind
	// Operations is the allow-list for tool names and plan step operations.
	Operations []string
	// Routes is the allow-list for route targets.
	Routes []string
	// Contracts declares typed arguments per operation or route target.
	Contracts map[string]Contract
	// RequireContract rejects operations without a declared contract.
	RequireContract bool
	// RouteRequires lists route arguments that must be non-empty strings.
	RouteRequires []string
	Plan          PlanRules
}

// Validator parses planner proposals into canonical actions.
type Validator struct {
	kinds      map[Kind]bool
	operations map[string]bool
	routes     map[string]bool
	cfg        Config
}

// NewValidator creates a validator for cfg.
func NewValidator(cfg Config) *Validator {
	kinds := cfg.Kinds
	if len(kinds) == 0 {
		kinds = []Kind{KindTool, KindFinal}
	}
	v := &Validator{
		kinds:      make(map[Kind]bool, len(kinds)),
		operations: toSet(cfg.Operations),
		routes:     toSet(cfg.Routes),
		cfg:        cfg,
	}
	for _, k := range kinds {
		v.kinds[k] = true
	}
	return v
}

// Validate checks raw and returns the canonical action, or a contract
// signal naming the exact rule that failed.
func (v *Validator) Validate(raw any) (Action, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Action{}, v.reject("not_object")
	}
	kind, _ := m["kind"].(string)
	if kind == kindInvalid {
		return Action{}, v.reject("non_json")
	}
	if !v.kinds[Kind(kind)] {
		return Action{}, v.reject("bad_kind")
	}

	switch Kind(kind) {
	case KindFinal:
		return v.validateFinal(m)
	case KindTool:
		return v.validateTool(m)
	case KindRoute:
		return v.validateRoute(m)
	case KindPlan:
		return v.validatePlan(m)
	}
	return Action{}, v.reject("bad_kind")
}

// reject reports a failure found before the variant is known. A validator
// that accepts only plans or only routes reports under that variant.
func (v *Validator) reject(detail string) error {
	prefix := "invalid_action"
	if len(v.kinds) == 1 {
		switch {
		case v.kinds[KindPlan]:
			prefix = "invalid_plan"
		case v.kinds[KindRoute]:
			prefix = "invalid_route"
		}
	}
	return stop.Contract(prefix, detail)
}

func (v *Validator) validateFinal(m map[string]any) (Action, error) {
	if hasExtra(m, "kind", "answer") {
		return Action{}, stop.Contract("invalid_action", "extra_keys_final")
	}
	answer, ok := nonEmpty(m["answer"])
	if !ok {
		return Action{}, stop.Contract("invalid_action", "bad_final_answer")
	}
	return Final(answer), nil
}

func (v *Validator) validateTool(m map[string]any) (Action, error) {
	if hasExtra(m, "kind", "name", "args") {
		return Action{}, stop.Contract("invalid_action", "extra_keys_tool")
	}
	name, ok := nonEmpty(m["name"])
	if !ok {
		return Action{}, stop.Contract("invalid_action", "bad_tool_name")
	}
	args, ok := argsOf(m)
	if !ok {
		return Action{}, stop.Contract("invalid_action", "bad_tool_args")
	}
	if len(v.operations) > 0 && !v.operations[name] {
		return Action{}, stop.Contract("invalid_action", "tool_not_allowed", name)
	}
	args, err := v.applyContract("invalid_action", name, args)
	if err != nil {
		return Action{}, err
	}
	return Tool(name, args), nil
}

func (v *Validator) validateRoute(m map[string]any) (Action, error) {
	if hasExtra(m, "kind", "target", "args") {
		return Action{}, stop.Contract("invalid_route", "extra_keys")
	}
	target, ok := nonEmpty(m["target"])
	if !ok {
		return Action{}, stop.Contract("invalid_route", "missing_target")
	}
	if !v.routes[target] {
		return Action{}, stop.Contract("invalid_route", "route_not_allowed", target)
	}
	args, ok := argsOf(m)
	if !ok {
		return Action{}, stop.Contract("invalid_route", "bad_args")
	}
	for _, req := range v.cfg.RouteRequires {
		if _, ok := nonEmpty(args[req]); !ok {
			return Action{}, stop.Contract("invalid_route", "missing_"+req)
		}
	}
	args, err := v.applyContract("invalid_route", target, args)
	if err != nil {
		return Action{}, err
	}
	return Route(target, args), nil
}

func (v *Validator) validatePlan(m map[string]any) (Action, error) {
	const prefix = "invalid_plan"
	if hasExtra(m, "kind", "steps") {
		return Action{}, stop.Contract(prefix, "extra_keys")
	}
	raw, ok := m["steps"].([]any)
	if !ok || len(raw) == 0 {
		return Action{}, stop.Contract(prefix, "missing_steps")
	}
	rules := v.cfg.Plan
	if rules.MinSteps > 0 && len(raw) < rules.MinSteps {
		return Action{}, stop.Contract(prefix, "min_steps")
	}
	if rules.MaxSteps > 0 && len(raw) > rules.MaxSteps {
		return Action{}, stop.Contract(prefix, "max_steps")
	}

	steps := make([]Step, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, item := range raw {
		at := fmt.Sprintf("step_%d", i+1)
		sm, ok := item.(map[string]any)
		if !ok {
			return Action{}, stop.Contract(prefix, at+"_not_object")
		}
		if hasExtra(sm, "id", "title", "tool", "args", "critical") {
			return Action{}, stop.Contract(prefix, at+"_extra_keys")
		}
		id, ok := nonEmpty(sm["id"])
		if !ok {
			return Action{}, stop.Contract(prefix, at+"_missing_id")
		}
		if seen[id] {
			return Action{}, stop.Contract(prefix, "duplicate_step_id")
		}
		seen[id] = true

		var title string
		if _, present := sm["title"]; present || rules.RequireTitle {
			title, ok = nonEmpty(sm["title"])
			if !ok {
				return Action{}, stop.Contract(prefix, at+"_missing_title")
			}
		}

		op, ok := nonEmpty(sm["tool"])
		if !ok {
			return Action{}, stop.Contract(prefix, at+"_missing_tool")
		}
		if len(v.operations) > 0 && !v.operations[op] {
			return Action{}, stop.Contract(prefix, "tool_not_allowed", op)
		}

		args, ok := argsOf(sm)
		if !ok {
			return Action{}, stop.Contract(prefix, at+"_bad_args")
		}
		args, err := v.applyContract(prefix, op, args)
		if err != nil {
			return Action{}, err
		}

		var critical bool
		if c, present := sm["critical"]; present {
			critical, ok = c.(bool)
			if !ok {
				return Action{}, stop.Contract(prefix, at+"_bad_critical")
			}
		} else if rules.RequireCritical {
			return Action{}, stop.Contract(prefix, at+"_missing_critical")
		}

		steps = append(steps, Step{ID: id, Title: title, Op: op, Args: args, Critical: critical})
	}
	return Action{Kind: KindPlan, Steps: steps}, nil
}

// applyContract coerces args through the declared contract for op. Without
// a contract args pass through as a copy, unless contracts are required.
func (v *Validator) applyContract(prefix, op string, args map[string]any) (map[string]any, error) {
	c, ok := v.cfg.Contracts[op]
	if !ok {
		if v.cfg.RequireContract {
			return nil, stop.Contract(prefix, "unknown_tool", op)
		}
		return copyArgs(args), nil
	}
	out, extra, aerr := c.coerce(args)
	switch {
	case len(extra) > 0:
		return nil, stop.Contract(prefix, "extra_tool_args", op)
	case aerr == nil:
		return out, nil
	case aerr.missing:
		return nil, stop.Contract(prefix, "missing_required_arg", op, aerr.arg)
	case aerr.notAllowed:
		return nil, stop.Contract(prefix, "arg_value_not_allowed", op, aerr.arg)
	default:
		return nil, stop.Contract(prefix, "bad_arg_type", op, aerr.arg)
	}
}

// argsOf returns the "args" member. Absent or null means no arguments.
func argsOf(m map[string]any) (map[string]any, bool) {
	raw, ok := m["args"]
	if !ok || raw == nil {
		return map[string]any{}, true
	}
	args, ok := raw.(map[string]any)
	return args, ok
}

func nonEmpty(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func hasExtra(m map[string]any, allowed ...string) bool {
	for k := range m {
		found := false
		for _, a := range allowed {
			if k == a {
				found = true
				break
			}
		}
		if !found {
			return true
		}
	}
	return false
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}
