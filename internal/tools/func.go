package tools

import (
	"context"
	"fmt"
	"time"
)

// Handler is the body of a function-backed tool.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Func adapts a Handler to the Tool interface.
type Func struct {
	name        string
	description string
	params      map[string]interface{}
	readOnly    bool
	repeat      int
	handler     Handler
}

// Option configures a Func.
type Option func(*Func)

// WithDescription sets the planner-facing description.
func WithDescription(d string) Option {
	return func(f *Func) { f.description = d }
}

// WithParams declares parameters. Names ending in '?' are optional.
func WithParams(names ...string) Option {
	return func(f *Func) { f.params = Schema(names...) }
}

// WithSchema sets a full JSON schema for parameters.
func WithSchema(schema map[string]interface{}) Option {
	return func(f *Func) { f.params = schema }
}

// ReadOnly marks the tool free of side effects; identical calls may repeat
// up to n times (zero means DefaultReadOnlyRepeat).
func ReadOnly(n int) Option {
	return func(f *Func) {
		f.readOnly = true
		f.repeat = n
	}
}

// NewFunc creates a function-backed tool.
func NewFunc(name string, h Handler, opts ...Option) *Func {
	f := &Func{name: name, handler: h}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name returns the operation name.
func (f *Func) Name() string { return f.name }

// Description returns the text shown to planners.
func (f *Func) Description() string { return f.description }

// ReadOnly reports whether the operation leaves no side effects.
func (f *Func) ReadOnly() bool { return f.readOnly }

// RepeatLimit returns the identical-call allowance set by ReadOnly.
func (f *Func) RepeatLimit() int { return f.repeat }

// Parameters returns the argument schema.
func (f *Func) Parameters() map[string]interface{} {
	return f.params
}

// Execute calls the handler with the validated arguments.
func (f *Func) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return f.handler(ctx, args)
}

// Schema builds an object schema from parameter names. A trailing '?'
// marks a parameter optional.
func Schema(names ...string) map[string]interface{} {
	props := make(map[string]interface{}, len(names))
	required := make([]string, 0, len(names))
	for _, n := range names {
		optional := len(n) > 0 && n[len(n)-1] == '?'
		if optional {
			n = n[:len(n)-1]
		}
		props[n] = map[string]interface{}{}
		if !optional {
			required = append(required, n)
		}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Canned returns a tool that waits for delay (or until ctx is done) and
// then returns result, or fails with errMsg when it is non-empty. Used for
// rehearsals where real operations must not run.
func Canned(name string, result map[string]interface{}, delay time.Duration, errMsg string, opts ...Option) *Func {
	return NewFunc(name, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		if errMsg != "" {
			return nil, fmt.Errorf("%s", errMsg)
		}
		out := make(map[string]interface{}, len(result))
		for k, v := range result {
			out[k] = v
		}
		return out, nil
	}, opts...)
}
