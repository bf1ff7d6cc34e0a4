package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/gatekeeper/internal/executor"
	"github.com/vinayprograms/gatekeeper/internal/planner"
	"github.com/vinayprograms/gatekeeper/internal/tools"
)

// Scenario is a rehearsal: a goal, the canned operations a planner may call
// and the planner's scripted turns.
type Scenario struct {
	Goal         string         `yaml:"goal"`
	Flow         string         `yaml:"flow"`
	Context      any            `yaml:"context"`
	RequestIDArg string         `yaml:"request_id_arg"`
	Tools        []ToolSpec     `yaml:"tools"`
	Turns        []planner.Turn `yaml:"turns"`
}

// ToolSpec describes one canned operation.
type ToolSpec struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Params      []string       `yaml:"params"`
	Result      map[string]any `yaml:"result"`
	Delay       time.Duration  `yaml:"delay"`
	Error       string         `yaml:"error"`
	// Repeat marks the operation read-only with this identical-call allowance.
	Repeat int `yaml:"repeat"`
}

// loadScenario reads and checks a scenario file.
func loadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return parseScenario(data)
}

func parseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if strings.TrimSpace(s.Goal) == "" {
		return nil, fmt.Errorf("scenario has no goal")
	}
	if s.Flow == "" {
		s.Flow = executor.FlowRun
	}
	if err := checkFlow(s.Flow); err != nil {
		return nil, err
	}
	if len(s.Turns) == 0 {
		return nil, fmt.Errorf("scenario has no turns")
	}

	seen := make(map[string]bool, len(s.Tools))
	for i, t := range s.Tools {
		if t.Name == "" {
			return nil, fmt.Errorf("tool %d has no name", i+1)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate tool %q", t.Name)
		}
		seen[t.Name] = true
		if err := jsonShape(&s.Tools[i].Result); err != nil {
			return nil, fmt.Errorf("tool %s result: %w", t.Name, err)
		}
	}
	for i := range s.Turns {
		if err := jsonShape(&s.Turns[i].Proposal); err != nil {
			return nil, fmt.Errorf("turn %d: %w", i+1, err)
		}
	}
	if err := jsonShape(&s.Context); err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return &s, nil
}

func checkFlow(flow string) error {
	switch flow {
	case executor.FlowRun, executor.FlowOrchestrate, executor.FlowReflect, executor.FlowCollaborate:
		return nil
	}
	return fmt.Errorf("unknown flow %q (valid: run, orchestrate, reflect, collaborate)", flow)
}

// registry builds the canned operations.
func (s *Scenario) registry() *tools.Registry {
	reg := tools.NewRegistry()
	for _, t := range s.Tools {
		var opts []tools.Option
		if t.Description != "" {
			opts = append(opts, tools.WithDescription(t.Description))
		}
		if len(t.Params) > 0 {
			opts = append(opts, tools.WithParams(t.Params...))
		}
		if t.Repeat > 0 {
			opts = append(opts, tools.ReadOnly(t.Repeat))
		}
		result := t.Result
		if result == nil {
			result = map[string]any{"status": "ok"}
		}
		reg.Register(tools.Canned(t.Name, result, t.Delay, t.Error, opts...))
	}
	return reg
}

// jsonShape re-decodes v through JSON so YAML integers and maps take the
// same shape a planner's JSON output would.
func jsonShape[T any](v *T) error {
	data, err := json.Marshal(*v)
	if err != nil {
		return err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*v = out
	return nil
}

// readValue reads a JSON or YAML document from path, or stdin for "-".
func readValue(path string, stdin io.Reader) (any, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return parseValue(data)
}

// parseValue decodes JSON, falling back to YAML.
func parseValue(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err == nil {
		return v, nil
	}
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("not JSON or YAML: %w", err)
	}
	if err := jsonShape(&v); err != nil {
		return nil, err
	}
	return v, nil
}
