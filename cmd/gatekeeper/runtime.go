// Package main provides runtime assembly for rehearsals.
package main

import (
	"fmt"
	"os"

	"github.com/vinayprograms/gatekeeper/internal/config"
	"github.com/vinayprograms/gatekeeper/internal/executor"
	"github.com/vinayprograms/gatekeeper/internal/logging"
	"github.com/vinayprograms/gatekeeper/internal/metrics"
	"github.com/vinayprograms/gatekeeper/internal/planner"
	"github.com/vinayprograms/gatekeeper/internal/tools"
)

// loadConfig loads override, then --config, then the default file.
func (g *Globals) loadConfig(override string) (*config.Config, string, error) {
	path := override
	if path == "" {
		path = g.Config
	}
	if path == "" {
		cfg, err := config.LoadDefault()
		if err != nil {
			return nil, "", err
		}
		if _, statErr := os.Stat(config.DefaultFile); statErr != nil {
			return cfg, "(defaults)", nil
		}
		return cfg, config.DefaultFile, nil
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// logger builds the process logger at the configured level. Logs go to
// stderr so command output stays clean.
func (g *Globals) logger(cfg *config.Config) (*logging.Logger, error) {
	l := logging.New()
	l.SetOutput(os.Stderr)
	level := cfg.LogLevel()
	if g.LogLevel != "" {
		parsed, err := logging.ParseLevel(g.LogLevel)
		if err != nil {
			return nil, err
		}
		level = parsed
	}
	l.SetLevel(level)
	return l, nil
}

// runtime assembles an executor from a config snapshot.
type runtime struct {
	cfg      *config.Config
	registry *tools.Registry
	logger   *logging.Logger
	metrics  *metrics.Collector

	requestIDArg string
}

func (rt *runtime) executor(p planner.Planner) (*executor.Executor, error) {
	actions, err := rt.cfg.ActionConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid operation contracts: %w", err)
	}
	ec := executor.Config{
		Budget:         rt.cfg.BudgetValue(),
		Actions:        actions,
		Guard:          rt.cfg.GuardConfig(rt.registry.RepeatLimits()),
		Registry:       rt.registry,
		RequestIDArg:   rt.requestIDArg,
		HumanTimeout:   rt.cfg.HumanTimeout(),
		PlannerTimeout: rt.cfg.PlannerTimeout(),
		Revision:       rt.cfg.RevisionLimits(),
		Review:         rt.cfg.ReviewPolicy(),
		Collaboration:  rt.cfg.CollaborationConfig(),
		Logger:         rt.logger,
		Metrics:        rt.metrics,
	}
	if rt.cfg.Policy.Enabled {
		policy := rt.cfg.SupervisionPolicy()
		ec.Policy = &policy
		ec.Approver = rt.cfg.Approver()
	}
	return executor.New(ec, p), nil
}
