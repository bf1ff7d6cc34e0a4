package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/vinayprograms/gatekeeper/internal/action"
	"github.com/vinayprograms/gatekeeper/internal/revision"
	"github.com/vinayprograms/gatekeeper/internal/stablehash"
	"github.com/vinayprograms/gatekeeper/internal/stop"
)

// Run validates the config file and prints what it allows.
func (c *CheckConfigCmd) Run(g *Globals) error {
	cfg, path, err := g.loadConfig(c.File)
	if err != nil {
		return err
	}
	if _, err := cfg.ActionConfig(); err != nil {
		return err
	}
	w := g.stdout()
	b := cfg.Budget
	fmt.Fprintf(w, "%s %s\n", okStyle.Render("✓ Valid:"), valueStyle.Render(path))
	fmt.Fprintf(w, "  %s steps=%d tool_calls=%d dispatches=%d delegations=%d parallel=%d retries=%d call_timeout=%gs max_seconds=%gs\n",
		labelStyle.Render("Budget:    "), b.MaxSteps, b.MaxToolCalls, b.MaxDispatches, b.MaxDelegations, b.MaxParallel, b.MaxRetries, b.CallTimeout, b.MaxSeconds)
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Kinds:     "), listOrNone(cfg.Allow.Kinds))
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Operations:"), listOrNone(cfg.Allow.Operations))
	if len(cfg.Allow.Routes) > 0 {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Routes:    "), listOrNone(cfg.Allow.Routes))
	}
	if cfg.Policy.Enabled {
		pol := cfg.SupervisionPolicy()
		names := make([]string, 0, len(pol.Operations))
		for name := range pol.Operations {
			names = append(names, name)
		}
		fmt.Fprintf(w, "  %s %s (human: %s)\n", labelStyle.Render("Policy:    "), listOrNone(sortStrings(names)), cfg.Human.Mode)
	}
	return nil
}

// Run validates one proposal and prints its canonical form.
func (c *CheckActionCmd) Run(g *Globals) error {
	cfg, _, err := g.loadConfig("")
	if err != nil {
		return err
	}
	kinds := make([]action.Kind, 0, len(c.Kinds))
	for _, k := range c.Kinds {
		switch action.Kind(k) {
		case action.KindTool, action.KindFinal, action.KindRoute, action.KindPlan:
			kinds = append(kinds, action.Kind(k))
		default:
			return fmt.Errorf("unknown kind %q (valid: tool, final, route, plan)", k)
		}
	}
	actions, err := cfg.ActionConfig(kinds...)
	if err != nil {
		return err
	}
	raw, err := readValue(c.Proposal, os.Stdin)
	if err != nil {
		return err
	}

	w := g.stdout()
	a, err := action.NewValidator(actions).Validate(raw)
	if err != nil {
		fmt.Fprintf(w, "%s %s\n", failStyle.Render("✗ Rejected:"), valueStyle.Render(stop.ReasonOf(err)))
		return errRejected
	}
	fmt.Fprintf(w, "%s %s\n", okStyle.Render("✓ Accepted:"), valueStyle.Render(string(a.Kind)))
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Canonical:"), stablehash.CanonicalString(a.Map()))
	if a.IsCall() {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Signature:"), stablehash.Of(a.Name, a.Args).String())
	}
	for _, s := range a.Steps {
		fmt.Fprintf(w, "  %s %s %s\n", labelStyle.Render("Step "+s.ID+":"), s.Op, stablehash.Of(s.Op, s.Args).String())
	}
	return nil
}

// Run validates a revision against its original.
func (c *CheckRevisionCmd) Run(g *Globals) error {
	cfg, _, err := g.loadConfig("")
	if err != nil {
		return err
	}
	original, err := os.ReadFile(c.Original)
	if err != nil {
		return fmt.Errorf("failed to read original: %w", err)
	}
	revised, err := os.ReadFile(c.Revised)
	if err != nil {
		return fmt.Errorf("failed to read revision: %w", err)
	}
	var allowed any
	if c.Context != "" {
		if allowed, err = readValue(c.Context, os.Stdin); err != nil {
			return err
		}
	}

	w := g.stdout()
	art, err := revision.NewValidator(cfg.RevisionLimits()).Validate(
		strings.TrimSpace(string(original)), string(revised), allowed, c.FixPlan)
	if err != nil {
		fmt.Fprintf(w, "%s %s\n", failStyle.Render("✗ Rejected:"), valueStyle.Render(stop.ReasonOf(err)))
		return errRejected
	}
	fmt.Fprintf(w, "%s similarity=%.3f quoted_checks=%d\n", okStyle.Render("✓ Accepted:"), art.Similarity, art.QuotedChecks)
	return nil
}

// Run prints the canonical form and hash of a value.
func (c *HashCmd) Run(g *Globals) error {
	var (
		v   any
		err error
	)
	if c.Value == "-" {
		v, err = readValue("-", os.Stdin)
	} else if err = json.Unmarshal([]byte(c.Value), &v); err != nil {
		err = fmt.Errorf("value is not JSON: %w", err)
	}
	if err != nil {
		return err
	}

	w := g.stdout()
	if c.Op != "" {
		args, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("signature arguments must be an object")
		}
		fmt.Fprintln(w, stablehash.Of(c.Op, args).String())
		return nil
	}
	fmt.Fprintln(w, stablehash.CanonicalString(stablehash.Normalize(v)))
	fmt.Fprintln(w, stablehash.Hash(v))
	return nil
}
