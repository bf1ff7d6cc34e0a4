package main

import (
	"fmt"
	"path/filepath"

	"github.com/vinayprograms/gatekeeper/internal/replay"
)

// Run replays exported traces.
func (c *ReplayCmd) Run(g *Globals) error {
	paths, err := expandGlobs(c.Traces)
	if err != nil {
		return err
	}
	opts := []replay.ReplayerOption{replay.WithWidth(c.Width)}
	if c.Stats {
		opts = append(opts, replay.WithStats())
	}
	return replay.New(g.stdout(), c.Verbose, opts...).ReplayFiles(paths)
}

// expandGlobs expands each pattern; a pattern matching nothing is kept as a
// literal path so the error names it.
func expandGlobs(patterns []string) ([]string, error) {
	var paths []string
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		if len(matches) == 0 {
			paths = append(paths, p)
			continue
		}
		paths = append(paths, matches...)
	}
	return paths, nil
}
