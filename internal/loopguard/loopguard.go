// Package loopguard bounds repetition of identical calls within a run.
package loopguard

import (
	"sync"

	"github.com/vinayprograms/gatekeeper/internal/stablehash"
	"github.com/vinayprograms/gatekeeper/internal/stop"
)

// Config sets per-operation allowances. Zero values mean: each signature at
// most once, no cap on total calls.
type Config struct {
	// DefaultRepeat is how often one signature may be seen. Defaults to 1.
	DefaultRepeat int
	// Repeat overrides DefaultRepeat per operation name.
	Repeat map[string]int
	// CallLimit caps total calls to an operation regardless of arguments.
	CallLimit map[string]int
	// DefaultCallLimit applies to operations absent from CallLimit.
	DefaultCallLimit int
}

// Guard remembers signatures seen during one run.
type Guard struct {
	mu    sync.Mutex
	cfg   Config
	seen  map[stablehash.Signature]int
	perOp map[string]int
}

// New creates a guard for one run.
func New(cfg Config) *Guard {
	if cfg.DefaultRepeat <= 0 {
		cfg.DefaultRepeat = 1
	}
	return &Guard{
		cfg:   cfg,
		seen:  make(map[stablehash.Signature]int),
		perOp: make(map[string]int),
	}
}

// Check admits sig or returns loop_detected. Admitted calls are recorded;
// rejected ones are not.
func (g *Guard) Check(sig stablehash.Signature) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if limit := g.callLimit(sig.Op); limit > 0 && g.perOp[sig.Op]+1 > limit {
		return stop.Policy("loop_detected", "per_tool_limit")
	}
	if g.seen[sig]+1 > g.repeatLimit(sig.Op) {
		return stop.Policy("loop_detected", "signature_repeat")
	}
	g.perOp[sig.Op]++
	g.seen[sig]++
	return nil
}

// CheckCall is Check for an operation and its raw arguments.
func (g *Guard) CheckCall(op string, args map[string]any) error {
	return g.Check(stablehash.Of(op, args))
}

// Calls returns how many calls to op were admitted.
func (g *Guard) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.perOp[op]
}

func (g *Guard) repeatLimit(op string) int {
	if n, ok := g.cfg.Repeat[op]; ok && n > 0 {
		return n
	}
	return g.cfg.DefaultRepeat
}

func (g *Guard) callLimit(op string) int {
	if n, ok := g.cfg.CallLimit[op]; ok {
		return n
	}
	return g.cfg.DefaultCallLimit
}
