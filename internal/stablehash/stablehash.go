// Package stablehash computes deterministic fingerprints for structured values.
//
// Values are normalized first: strings are trimmed, internal whitespace is
// collapsed and the text is lower-cased; mapping keys are sorted at every
// depth by the canonical encoder. Two argument maps that differ only in key
// order or incidental formatting therefore hash identically.
package stablehash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Size is the number of hex characters in a fingerprint.
const Size = 12

// Normalize returns a copy of v with every string normalized. Maps and
// slices are copied recursively; typed containers are converted to their
// generic JSON form first.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return NormalizeText(t)
	case bool, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Normalize(val)
		}
		return out
	default:
		generic, ok := toGeneric(t)
		if !ok {
			return t
		}
		return Normalize(generic)
	}
}

// NormalizeText trims, collapses whitespace runs to one space and lower-cases.
func NormalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// CollapseSpace trims and collapses whitespace without changing case.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Canonical encodes v as compact JSON with sorted keys and no HTML escaping.
// The value is not normalized.
func Canonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// CanonicalString is Canonical for callers that want text and can tolerate
// an unencodable value rendering as "null".
func CanonicalString(v any) string {
	b, err := Canonical(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// Hash returns the fingerprint of the normalized form of v.
func Hash(v any) string {
	sum := sha256.Sum256([]byte(CanonicalString(Normalize(v))))
	return hex.EncodeToString(sum[:])[:Size]
}

// Signature identifies a call for repetition checks.
type Signature struct {
	Op       string
	ArgsHash string
}

// String renders the signature as "op:hash".
func (s Signature) String() string {
	return s.Op + ":" + s.ArgsHash
}

// Of returns the call signature for op and args.
func Of(op string, args map[string]any) Signature {
	if args == nil {
		args = map[string]any{}
	}
	return Signature{Op: op, ArgsHash: Hash(args)}
}

func toGeneric(v any) (any, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, false
	}
	return out, true
}
