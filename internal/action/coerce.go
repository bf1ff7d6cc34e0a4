package action

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ArgType is an entry of the argument coercion table.
//
//	int     integer JSON number; integral floats are accepted, bools are not
//	number  any JSON number, stored as float64; bools are not numbers
//	string  non-empty after trimming, stored trimmed
//	bool    true or false only
//	object  mapping, copied
//	list    array, copied
//
// int and number may carry a clamp range; values outside it are clamped,
// not rejected.
type ArgType string

const (
	ArgInt    ArgType = "int"
	ArgNumber ArgType = "number"
	ArgString ArgType = "string"
	ArgBool   ArgType = "bool"
	ArgObject ArgType = "object"
	ArgList   ArgType = "list"
)

// ArgSpec declares one argument of an operation.
type ArgSpec struct {
	Type     ArgType
	Optional bool
	// Allowed restricts a string argument to an enumerated set.
	Allowed []string
	Min     *float64
	Max     *float64
}

// ParseArgSpec parses the compact form used in configuration, e.g. "int",
// "number?" or "str". A trailing '?' marks the argument optional.
func ParseArgSpec(s string) (ArgSpec, error) {
	s = strings.TrimSpace(s)
	var spec ArgSpec
	if strings.HasSuffix(s, "?") {
		spec.Optional = true
		s = strings.TrimSuffix(s, "?")
	}
	switch ArgType(s) {
	case ArgInt, ArgNumber, ArgString, ArgBool, ArgObject, ArgList:
		spec.Type = ArgType(s)
	case "str":
		spec.Type = ArgString
	case "float":
		spec.Type = ArgNumber
	case "dict", "map":
		spec.Type = ArgObject
	default:
		return ArgSpec{}, fmt.Errorf("unknown argument type %q", s)
	}
	return spec, nil
}

// Contract maps argument names to their declarations for one operation.
type Contract map[string]ArgSpec

// argError names the failing argument and why it failed.
type argError struct {
	arg        string
	missing    bool
	notAllowed bool
}

func (e *argError) Error() string { return "bad argument " + e.arg }

// coerce applies the contract to args and returns the canonical argument
// map. Missing optional arguments stay absent.
func (c Contract) coerce(args map[string]any) (map[string]any, []string, *argError) {
	var extra []string
	for k := range args {
		if _, ok := c[k]; !ok {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return nil, extra, nil
	}

	out := make(map[string]any, len(c))
	for _, name := range c.names() {
		spec := c[name]
		raw, ok := args[name]
		if !ok || raw == nil {
			if spec.Optional {
				continue
			}
			return nil, nil, &argError{arg: name, missing: true}
		}
		v, ok := spec.coerce(raw)
		if !ok {
			return nil, nil, &argError{arg: name}
		}
		if len(spec.Allowed) > 0 && !contains(spec.Allowed, v) {
			return nil, nil, &argError{arg: name, notAllowed: true}
		}
		out[name] = v
	}
	return out, nil, nil
}

func (c Contract) names() []string {
	names := make([]string, 0, len(c))
	for k := range c {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (s ArgSpec) coerce(v any) (any, bool) {
	switch s.Type {
	case ArgInt:
		n, ok := asInt(v)
		if !ok {
			return nil, false
		}
		return int(s.clamp(float64(n))), true
	case ArgNumber:
		f, ok := asFloat(v)
		if !ok {
			return nil, false
		}
		return s.clamp(f), true
	case ArgString:
		str, ok := v.(string)
		if !ok || strings.TrimSpace(str) == "" {
			return nil, false
		}
		return strings.TrimSpace(str), true
	case ArgBool:
		b, ok := v.(bool)
		return b, ok
	case ArgObject:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		return copyArgs(m), true
	case ArgList:
		l, ok := v.([]any)
		if !ok {
			return nil, false
		}
		return append([]any(nil), l...), true
	}
	return nil, false
}

func (s ArgSpec) clamp(f float64) float64 {
	if s.Min != nil && f < *s.Min {
		f = *s.Min
	}
	if s.Max != nil && f > *s.Max {
		f = *s.Max
	}
	return f
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		// Past 2^53 a float no longer holds every integer.
		if n != math.Trunc(n) || math.Abs(n) > 1<<53 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func contains(allowed []string, v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == s {
			return true
		}
	}
	return false
}
