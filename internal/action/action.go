// Package action turns untrusted planner output into validated actions.
package action

// Kind discriminates the action variants.
type Kind string

const (
	KindTool  Kind = "tool"
	KindFinal Kind = "final"
	KindRoute Kind = "route"
	KindPlan  Kind = "plan"

	// kindInvalid is the planner's marker for output it could not parse.
	kindInvalid = "invalid"
)

// Action is a validated, canonical planner instruction.
//
// Name holds the operation for Tool and the target for Route. Answer is set
// only for Final, Steps only for Plan.
type Action struct {
	Kind   Kind
	Name   string
	Args   map[string]any
	Answer string
	Steps  []Step
}

// Step is one entry of a validated plan.
type Step struct {
	ID       string
	Title    string
	Op       string
	Args     map[string]any
	Critical bool
}

// Tool builds a tool action.
func Tool(name string, args map[string]any) Action {
	return Action{Kind: KindTool, Name: name, Args: args}
}

// Final builds a final-answer action.
func Final(answer string) Action {
	return Action{Kind: KindFinal, Answer: answer}
}

// Route builds a delegation action.
func Route(target string, args map[string]any) Action {
	return Action{Kind: KindRoute, Name: target, Args: args}
}

// IsCall reports whether the action dispatches a single operation.
func (a Action) IsCall() bool {
	return a.Kind == KindTool || a.Kind == KindRoute
}

// Map renders the action in its wire form. Validating the result yields an
// identical action.
func (a Action) Map() map[string]any {
	switch a.Kind {
	case KindFinal:
		return map[string]any{"kind": string(KindFinal), "answer": a.Answer}
	case KindTool:
		return map[string]any{"kind": string(KindTool), "name": a.Name, "args": copyArgs(a.Args)}
	case KindRoute:
		return map[string]any{"kind": string(KindRoute), "target": a.Name, "args": copyArgs(a.Args)}
	case KindPlan:
		steps := make([]any, len(a.Steps))
		for i, s := range a.Steps {
			steps[i] = s.Map()
		}
		return map[string]any{"kind": string(KindPlan), "steps": steps}
	}
	return map[string]any{"kind": string(a.Kind)}
}

// Map renders the step in its wire form.
func (s Step) Map() map[string]any {
	m := map[string]any{
		"id":       s.ID,
		"tool":     s.Op,
		"args":     copyArgs(s.Args),
		"critical": s.Critical,
	}
	if s.Title != "" {
		m["title"] = s.Title
	}
	return m
}

// WithArgs returns a copy of a carrying args.
func (a Action) WithArgs(args map[string]any) Action {
	a.Args = args
	return a
}

func copyArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
