package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vinayprograms/gatekeeper/internal/config"
)

// Run watches the config file and reports every reload until interrupted.
func (c *WatchCmd) Run(g *Globals) error {
	path := c.File
	if path == "" {
		path = g.Config
	}
	if path == "" {
		path = config.DefaultFile
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	logger, err := g.logger(cfg)
	if err != nil {
		return err
	}

	w := g.stdout()
	watcher, err := config.NewWatcher(path, logger, func(cfg *config.Config, err error) {
		now := time.Now().Format("15:04:05")
		if err != nil {
			fmt.Fprintf(w, "%s %s %s\n", labelStyle.Render(now), failStyle.Render("✗ kept previous:"), valueStyle.Render(err.Error()))
			return
		}
		b := cfg.BudgetValue()
		fmt.Fprintf(w, "%s %s steps=%d tool_calls=%d max=%s\n", labelStyle.Render(now), okStyle.Render("✓ reloaded"), b.MaxSteps, b.MaxToolCalls, b.MaxDuration)
	})
	if err != nil {
		return err
	}
	defer watcher.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Watching"), valueStyle.Render(path))
	watcher.Start(ctx)
	return nil
}
