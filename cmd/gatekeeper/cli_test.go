package main

import (
	"testing"

	"github.com/alecthomas/kong"
)

func TestCLI_Parse(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, cli *CLI)
	}{
		{"check config default", []string{"check-config"}, func(t *testing.T, cli *CLI) {
			if cli.CheckConfig.File != "" {
				t.Errorf("expected no file, got %q", cli.CheckConfig.File)
			}
		}},
		{"check config file", []string{"--config", "a.toml", "check-config", "b.toml"}, func(t *testing.T, cli *CLI) {
			if cli.Config != "a.toml" || cli.CheckConfig.File != "b.toml" {
				t.Errorf("unexpected paths %q %q", cli.Config, cli.CheckConfig.File)
			}
		}},
		{"check action kinds", []string{"check-action", "--kinds", "tool", "--kinds", "plan", "p.json"}, func(t *testing.T, cli *CLI) {
			if cli.CheckAction.Proposal != "p.json" || len(cli.CheckAction.Kinds) != 2 {
				t.Errorf("unexpected %+v", cli.CheckAction)
			}
		}},
		{"check revision", []string{"check-revision", "a.txt", "b.txt", "--context", "ctx.json", "--fix", "one", "--fix", "two"}, func(t *testing.T, cli *CLI) {
			c := cli.CheckRevision
			if c.Original != "a.txt" || c.Revised != "b.txt" || c.Context != "ctx.json" || len(c.FixPlan) != 2 {
				t.Errorf("unexpected %+v", c)
			}
		}},
		{"hash signature", []string{"hash", "--op", "lookup", `{"q":1}`}, func(t *testing.T, cli *CLI) {
			if cli.Hash.Op != "lookup" || cli.Hash.Value != `{"q":1}` {
				t.Errorf("unexpected %+v", cli.Hash)
			}
		}},
		{"rehearse", []string{"-c", "g.toml", "rehearse", "s.yaml", "-t", "out.jsonl", "-vv", "--flow", "reflect"}, func(t *testing.T, cli *CLI) {
			c := cli.Rehearse
			if c.Scenario != "s.yaml" || c.Trace != "out.jsonl" || c.Verbose != 2 || c.Flow != "reflect" || c.Width != 80 {
				t.Errorf("unexpected %+v", c)
			}
		}},
		{"replay", []string{"replay", "-v", "--stats", "a.jsonl", "b.jsonl"}, func(t *testing.T, cli *CLI) {
			c := cli.Replay
			if len(c.Traces) != 2 || c.Verbose != 1 || !c.Stats {
				t.Errorf("unexpected %+v", c)
			}
		}},
		{"log level", []string{"--log-level", "debug", "watch"}, func(t *testing.T, cli *CLI) {
			if cli.LogLevel != "debug" {
				t.Errorf("expected debug, got %q", cli.LogLevel)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cli CLI
			parser, err := kong.New(&cli, kongVars())
			if err != nil {
				t.Fatal(err)
			}
			if _, err := parser.Parse(tt.args); err != nil {
				t.Fatal(err)
			}
			tt.check(t, &cli)
		})
	}
}

func TestCLI_MissingArgs(t *testing.T) {
	for _, args := range [][]string{
		{"check-action"},
		{"check-revision", "a.txt"},
		{"rehearse"},
		{"replay"},
	} {
		var cli CLI
		parser, err := kong.New(&cli, kongVars())
		if err != nil {
			t.Fatal(err)
		}
		if _, err := parser.Parse(args); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}
