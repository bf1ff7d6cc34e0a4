// Package tools provides the operation registry the dispatcher calls into.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Tool represents an executable operation.
type Tool interface {
	// Name returns the tool name.
	Name() string
	// Description returns a description for the planner.
	Description() string
	// Parameters returns the JSON schema for parameters.
	Parameters() map[string]interface{}
	// Execute runs the tool with the given arguments.
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// Capabilities is implemented by tools that declare how often an identical
// call may repeat. Tools without it are treated as state-mutating.
type Capabilities interface {
	ReadOnly() bool
	// RepeatLimit is how often one signature may run; zero means the default.
	RepeatLimit() int
}

// ToolDefinition is the planner-facing tool definition.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ErrBadArgs marks an error caused by the caller's arguments rather than
// by the tool. Tools wrap it to have the failure reported as bad args.
var ErrBadArgs = errors.New("bad arguments")

// DefaultReadOnlyRepeat applies to read-only tools that do not set a limit.
const DefaultReadOnlyRepeat = 2

// Registry holds all registered tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

// Register adds a tool to the registry, replacing any tool of the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns a tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns planner-facing definitions for the named tools, or
// for all tools when names is empty.
func (r *Registry) Definitions(names ...string) []ToolDefinition {
	if len(names) == 0 {
		names = r.Names()
	}
	var defs []ToolDefinition
	for _, name := range names {
		t := r.Get(name)
		if t == nil {
			continue
		}
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// RepeatLimits returns the declared repeat allowance of every read-only tool.
func (r *Registry) RepeatLimits() map[string]int {
	limits := make(map[string]int)
	for _, name := range r.Names() {
		c, ok := r.Get(name).(Capabilities)
		if !ok || !c.ReadOnly() {
			continue
		}
		n := c.RepeatLimit()
		if n <= 0 {
			n = DefaultReadOnlyRepeat
		}
		limits[name] = n
	}
	return limits
}

// CheckArgs verifies args against the tool's parameter schema: every
// required parameter present and, when properties are declared, no
// undeclared argument.
func CheckArgs(t Tool, args map[string]interface{}) error {
	schema := t.Parameters()
	if schema == nil {
		return nil
	}
	props, hasProps := schema["properties"].(map[string]interface{})
	additional, _ := schema["additionalProperties"].(bool)
	if hasProps && !additional {
		for k := range args {
			if _, ok := props[k]; !ok {
				return fmt.Errorf("%w: unexpected argument %q", ErrBadArgs, k)
			}
		}
	}
	for _, req := range requiredOf(schema) {
		if _, ok := args[req]; !ok {
			return fmt.Errorf("%w: missing argument %q", ErrBadArgs, req)
		}
	}
	return nil
}

func requiredOf(schema map[string]interface{}) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
