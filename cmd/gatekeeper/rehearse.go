package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vinayprograms/gatekeeper/internal/executor"
	"github.com/vinayprograms/gatekeeper/internal/metrics"
	"github.com/vinayprograms/gatekeeper/internal/planner"
	"github.com/vinayprograms/gatekeeper/internal/replay"
)

// Run plays the scenario through the configured gateway.
func (c *RehearseCmd) Run(g *Globals) error {
	cfg, _, err := g.loadConfig("")
	if err != nil {
		return err
	}
	sc, err := loadScenario(c.Scenario)
	if err != nil {
		return err
	}
	if c.Flow != "" {
		if err := checkFlow(c.Flow); err != nil {
			return err
		}
		sc.Flow = c.Flow
	}
	logger, err := g.logger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := rehearse(ctx, &runtime{
		cfg:          cfg,
		registry:     sc.registry(),
		logger:       logger,
		metrics:      metrics.New(prometheus.NewRegistry()),
		requestIDArg: sc.RequestIDArg,
	}, sc)
	if err != nil {
		return err
	}

	w := g.stdout()
	if c.Verbose > 0 {
		replay.New(w, c.Verbose-1, replay.WithWidth(c.Width)).Timeline(&replay.Run{
			RunID:   res.RunID,
			Flow:    res.Flow,
			Trace:   res.Trace,
			History: res.History,
		})
		fmt.Fprintln(w)
	}
	printResult(w, res, c.Width)

	if c.Trace != "" {
		if err := writeTrace(c.Trace, res); err != nil {
			return err
		}
	}
	if !res.OK() {
		return errStopped
	}
	return nil
}

// rehearse runs the scenario's flow with a scripted planner.
func rehearse(ctx context.Context, rt *runtime, sc *Scenario) (executor.Result, error) {
	exec, err := rt.executor(planner.NewScript(sc.Turns...))
	if err != nil {
		return executor.Result{}, err
	}
	switch sc.Flow {
	case executor.FlowOrchestrate:
		return exec.Orchestrate(ctx, sc.Goal), nil
	case executor.FlowReflect:
		return exec.Reflect(ctx, sc.Goal, sc.Context), nil
	case executor.FlowCollaborate:
		return exec.Collaborate(ctx, sc.Goal, sc.Context), nil
	default:
		return exec.Run(ctx, sc.Goal), nil
	}
}

func writeTrace(path string, res executor.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create trace file: %w", err)
	}
	if err := res.WriteJSONL(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
