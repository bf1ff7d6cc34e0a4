package action

import (
	"reflect"
	"testing"

	"github.com/vinayprograms/gatekeeper/internal/stop"
)

func refundValidator() *Validator {
	return NewValidator(Config{
		Kinds:      []Kind{KindTool, KindFinal},
		Operations: []string{"get_refund_context", "issue_refund", "send_refund_email"},
		Contracts: map[string]Contract{
			"get_refund_context": {"user_id": {Type: ArgInt}},
			"issue_refund": {
				"user_id":    {Type: ArgInt},
				"amount_usd": {Type: ArgNumber},
				"reason":     {Type: ArgString, Optional: true},
			},
			"send_refund_email": {
				"user_id":    {Type: ArgInt},
				"amount_usd": {Type: ArgNumber},
				"message":    {Type: ArgString},
			},
		},
		RequireContract: true,
	})
}

func reasonOf(t *testing.T, err error) string {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	return stop.ReasonOf(err)
}

func TestValidate_Rejections(t *testing.T) {
	v := refundValidator()
	tests := []struct {
		name string
		raw  any
		want string
	}{
		{"not object", "call issue_refund", "invalid_action:not_object"},
		{"invalid marker", map[string]any{"kind": "invalid", "raw": "???"}, "invalid_action:non_json"},
		{"unknown kind", map[string]any{"kind": "dance"}, "invalid_action:bad_kind"},
		{"route not enabled", map[string]any{"kind": "route", "target": "x"}, "invalid_action:bad_kind"},
		{"final extra key", map[string]any{"kind": "final", "answer": "ok", "why": "x"}, "invalid_action:extra_keys_final"},
		{"final blank", map[string]any{"kind": "final", "answer": "   "}, "invalid_action:bad_final_answer"},
		{"final wrong type", map[string]any{"kind": "final", "answer": 3.0}, "invalid_action:bad_final_answer"},
		{"tool extra key", map[string]any{"kind": "tool", "name": "issue_refund", "args": map[string]any{}, "x": 1}, "invalid_action:extra_keys_tool"},
		{"tool blank name", map[string]any{"kind": "tool", "name": " "}, "invalid_action:bad_tool_name"},
		{"tool args not map", map[string]any{"kind": "tool", "name": "issue_refund", "args": []any{}}, "invalid_action:bad_tool_args"},
		{"tool not allowed", map[string]any{"kind": "tool", "name": "delete_user"}, "invalid_action:tool_not_allowed:delete_user"},
		{"extra arg", map[string]any{"kind": "tool", "name": "get_refund_context", "args": map[string]any{"user_id": 1.0, "x": 1}}, "invalid_action:extra_tool_args:get_refund_context"},
		{"missing arg", map[string]any{"kind": "tool", "name": "issue_refund", "args": map[string]any{"user_id": 1.0}}, "invalid_action:missing_required_arg:issue_refund:amount_usd"},
		{"fractional int", map[string]any{"kind": "tool", "name": "get_refund_context", "args": map[string]any{"user_id": 1.5}}, "invalid_action:bad_arg_type:get_refund_context:user_id"},
		{"int beyond exact float range", map[string]any{"kind": "tool", "name": "get_refund_context", "args": map[string]any{"user_id": 1e30}}, "invalid_action:bad_arg_type:get_refund_context:user_id"},
		{"bool is not a number", map[string]any{"kind": "tool", "name": "issue_refund", "args": map[string]any{"user_id": 1.0, "amount_usd": true}}, "invalid_action:bad_arg_type:issue_refund:amount_usd"},
		{"blank string arg", map[string]any{"kind": "tool", "name": "send_refund_email", "args": map[string]any{"user_id": 1.0, "amount_usd": 5.0, "message": "  "}}, "invalid_action:bad_arg_type:send_refund_email:message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.raw)
			if got := reasonOf(t, err); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
			if s := stop.From(err); s.Category != stop.CategoryContract {
				t.Errorf("expected contract category, got %s", s.Category)
			}
		})
	}
}

func TestValidate_ToolCanonical(t *testing.T) {
	v := refundValidator()
	got, err := v.Validate(map[string]any{
		"kind": "tool",
		"name": "  issue_refund ",
		"args": map[string]any{"user_id": 42.0, "amount_usd": 100, "reason": "  late delivery "},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Tool("issue_refund", map[string]any{"user_id": 42, "amount_usd": 100.0, "reason": "late delivery"})
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestValidate_OptionalAbsent(t *testing.T) {
	v := refundValidator()
	got, err := v.Validate(map[string]any{
		"kind": "tool",
		"name": "issue_refund",
		"args": map[string]any{"user_id": 7.0, "amount_usd": 5.5},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := got.Args["reason"]; ok {
		t.Error("absent optional argument should stay absent")
	}
}

func TestValidate_Idempotent(t *testing.T) {
	v := NewValidator(Config{
		Kinds:      []Kind{KindTool, KindFinal, KindRoute, KindPlan},
		Operations: []string{"issue_refund", "lookup"},
		Routes:     []string{"billing"},
		Contracts: map[string]Contract{
			"issue_refund": {"user_id": {Type: ArgInt}, "amount_usd": {Type: ArgNumber}},
		},
	})
	inputs := []any{
		map[string]any{"kind": "final", "answer": "  done  "},
		map[string]any{"kind": "tool", "name": "issue_refund", "args": map[string]any{"user_id": 3.0, "amount_usd": 9.0}},
		map[string]any{"kind": "route", "target": "billing", "args": map[string]any{"ticket": "refund please"}},
		map[string]any{"kind": "plan", "steps": []any{
			map[string]any{"id": "s1", "title": "Look", "tool": "lookup", "args": map[string]any{"q": "a"}},
			map[string]any{"id": "s2", "tool": "issue_refund", "args": map[string]any{"user_id": 3.0, "amount_usd": 1.0}, "critical": true},
		}},
	}
	for _, in := range inputs {
		first, err := v.Validate(in)
		if err != nil {
			t.Fatalf("unexpected error for %v: %v", in, err)
		}
		second, err := v.Validate(first.Map())
		if err != nil {
			t.Fatalf("revalidation failed for %v: %v", first, err)
		}
		if !reflect.DeepEqual(first, second) {
			t.Errorf("validation drifted:\n first=%+v\nsecond=%+v", first, second)
		}
	}
}

func TestValidate_ValueAllowList(t *testing.T) {
	v := NewValidator(Config{
		Contracts: map[string]Contract{
			"orders": {
				"action":   {Type: ArgString, Allowed: []string{"get", "list"}},
				"order_id": {Type: ArgString, Optional: true},
			},
		},
	})
	if _, err := v.Validate(map[string]any{"kind": "tool", "name": "orders", "args": map[string]any{"action": "list"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := v.Validate(map[string]any{"kind": "tool", "name": "orders", "args": map[string]any{"action": "delete"}})
	if got := reasonOf(t, err); got != "invalid_action:arg_value_not_allowed:orders:action" {
		t.Errorf("unexpected reason %s", got)
	}
}

func TestValidate_Clamp(t *testing.T) {
	lo, hi := 1.0, 365.0
	v := NewValidator(Config{
		Contracts: map[string]Contract{
			"remember": {"ttl_days": {Type: ArgInt, Min: &lo, Max: &hi}},
		},
	})
	got, err := v.Validate(map[string]any{"kind": "tool", "name": "remember", "args": map[string]any{"ttl_days": 9000.0}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Args["ttl_days"] != 365 {
		t.Errorf("expected clamp to 365, got %v", got.Args["ttl_days"])
	}
}

func TestValidate_Route(t *testing.T) {
	v := NewValidator(Config{
		Kinds:         []Kind{KindRoute},
		Routes:        []string{"billing", "technical"},
		RouteRequires: []string{"ticket"},
	})
	tests := []struct {
		name string
		raw  any
		want string
	}{
		{"not object", 5, "invalid_route:not_object"},
		{"wrong kind", map[string]any{"kind": "tool"}, "invalid_route:bad_kind"},
		{"extra", map[string]any{"kind": "route", "target": "billing", "note": 1}, "invalid_route:extra_keys"},
		{"no target", map[string]any{"kind": "route"}, "invalid_route:missing_target"},
		{"not allowed", map[string]any{"kind": "route", "target": "sales"}, "invalid_route:route_not_allowed:sales"},
		{"bad args", map[string]any{"kind": "route", "target": "billing", "args": "x"}, "invalid_route:bad_args"},
		{"no ticket", map[string]any{"kind": "route", "target": "billing", "args": map[string]any{}}, "invalid_route:missing_ticket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.raw)
			if got := reasonOf(t, err); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestValidate_Plan(t *testing.T) {
	v := NewValidator(Config{
		Kinds:      []Kind{KindPlan},
		Operations: []string{"search", "summarize"},
		Plan:       PlanRules{MinSteps: 2, MaxSteps: 3, RequireTitle: true},
	})
	step := func(id, tool string) map[string]any {
		return map[string]any{"id": id, "title": "t " + id, "tool": tool}
	}
	tests := []struct {
		name  string
		steps any
		want  string
	}{
		{"missing", nil, "invalid_plan:missing_steps"},
		{"too few", []any{step("a", "search")}, "invalid_plan:min_steps"},
		{"too many", []any{step("a", "search"), step("b", "search"), step("c", "search"), step("d", "search")}, "invalid_plan:max_steps"},
		{"not object", []any{step("a", "search"), "b"}, "invalid_plan:step_2_not_object"},
		{"duplicate", []any{step("a", "search"), step("a", "summarize")}, "invalid_plan:duplicate_step_id"},
		{"no title", []any{step("a", "search"), map[string]any{"id": "b", "tool": "search"}}, "invalid_plan:step_2_missing_title"},
		{"not allowed", []any{step("a", "search"), step("b", "delete")}, "invalid_plan:tool_not_allowed:delete"},
		{"bad critical", []any{step("a", "search"), map[string]any{"id": "b", "title": "x", "tool": "search", "critical": "yes"}}, "invalid_plan:step_2_bad_critical"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := map[string]any{"kind": "plan"}
			if tt.steps != nil {
				raw["steps"] = tt.steps
			}
			_, err := v.Validate(raw)
			if got := reasonOf(t, err); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}

	got, err := v.Validate(map[string]any{"kind": "plan", "steps": []any{step(" a ", "search"), step("b", "summarize")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Steps) != 2 || got.Steps[0].ID != "a" || got.Steps[1].Op != "summarize" {
		t.Errorf("unexpected steps %+v", got.Steps)
	}
}

func TestParseArgSpec(t *testing.T) {
	tests := []struct {
		in       string
		want     ArgType
		optional bool
		wantErr  bool
	}{
		{"int", ArgInt, false, false},
		{"number?", ArgNumber, true, false},
		{"str?", ArgString, true, false},
		{"bool", ArgBool, false, false},
		{"list", ArgList, false, false},
		{"object", ArgObject, false, false},
		{"uuid", "", false, true},
	}
	for _, tt := range tests {
		spec, err := ParseArgSpec(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseArgSpec(%q) error = %v", tt.in, err)
			continue
		}
		if spec.Type != tt.want || spec.Optional != tt.optional {
			t.Errorf("ParseArgSpec(%q) = %+v", tt.in, spec)
		}
	}
}
