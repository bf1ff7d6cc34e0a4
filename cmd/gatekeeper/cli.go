// Package main defines the CLI structure using kong.
package main

import (
	"io"
	"os"

	"github.com/alecthomas/kong"
)

// Globals are flags shared by every command.
type Globals struct {
	Config   string `short:"c" env:"GATEKEEPER_CONFIG" help:"Config file path (default: ./gatekeeper.toml if present)"`
	LogLevel string `env:"GATEKEEPER_LOG_LEVEL" help:"Log level override (debug, info, warn, error)"`

	Stdout io.Writer `kong:"-"`
}

// CLI defines the command-line interface.
type CLI struct {
	Globals

	CheckConfig   CheckConfigCmd   `cmd:"" help:"Validate a config file"`
	CheckAction   CheckActionCmd   `cmd:"" help:"Validate a planner proposal against the config"`
	CheckRevision CheckRevisionCmd `cmd:"" help:"Validate a revised text against its original"`
	Hash          HashCmd          `cmd:"" help:"Print the canonical form and hash of a value"`
	Rehearse      RehearseCmd      `cmd:"" help:"Run a scripted scenario against canned operations"`
	Replay        ReplayCmd        `cmd:"" help:"Replay exported run traces"`
	Watch         WatchCmd         `cmd:"" help:"Watch a config file and report reloads"`
	Version       VersionCmd       `cmd:"" help:"Show version information"`
}

// CheckConfigCmd validates a config file.
type CheckConfigCmd struct {
	File string `arg:"" optional:"" help:"Config file path (overrides --config)"`
}

// CheckActionCmd validates one proposal.
type CheckActionCmd struct {
	Proposal string   `arg:"" help:"Proposal file (JSON or YAML), - for stdin"`
	Kinds    []string `help:"Accepted kinds: tool, final, route, plan (overrides config)"`
}

// CheckRevisionCmd validates a revision.
type CheckRevisionCmd struct {
	Original string   `arg:"" help:"Original text file"`
	Revised  string   `arg:"" help:"Revised text file"`
	Context  string   `help:"Allowed context file (JSON or YAML)"`
	FixPlan  []string `name:"fix" help:"Fix plan item (repeatable)"`
}

// HashCmd prints canonical forms.
type HashCmd struct {
	Value string `arg:"" help:"JSON value, - for stdin"`
	Op    string `help:"Hash as the call signature of this operation"`
}

// RehearseCmd runs a scenario.
type RehearseCmd struct {
	Scenario string `arg:"" help:"Scenario file (YAML)"`
	Flow     string `help:"Flow override (run, orchestrate, reflect, collaborate)"`
	Trace    string `short:"t" help:"Write the run trace as JSONL to this path"`
	Verbose  int    `short:"v" type:"counter" help:"Print the timeline (-v) with observations (-vv)"`
	Width    int    `default:"80" help:"Wrap width"`
}

// ReplayCmd replays exported traces.
type ReplayCmd struct {
	Traces  []string `arg:"" help:"Trace file(s) (supports glob patterns)"`
	Verbose int      `short:"v" type:"counter" help:"Verbosity level (-v, -vv)"`
	Stats   bool     `help:"Print statistics per run"`
	Width   int      `default:"80" help:"Wrap width"`
}

// WatchCmd watches a config file.
type WatchCmd struct {
	File string `arg:"" optional:"" help:"Config file path (overrides --config)"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}

func (g *Globals) stdout() io.Writer {
	if g.Stdout != nil {
		return g.Stdout
	}
	return os.Stdout
}
