// Package main is the entry point for the gatekeeper CLI.
package main

import (
	"fmt"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func init() {
	// Load .env so GATEKEEPER_* variables reach the flag defaults
	_ = godotenv.Load()
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("gatekeeper"),
		kong.Description("Governance gateway for planner-proposed actions."),
		kong.UsageOnError(),
		kongVars(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}

// Run prints version information.
func (c *VersionCmd) Run(g *Globals) error {
	fmt.Fprintf(g.stdout(), "gatekeeper version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}
