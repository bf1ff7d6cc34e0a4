package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.RunFinished("run", "ok")
	c.RunFinished("run", "stopped")
	c.RunFinished("run", "stopped")
	c.Stopped("budget", "max_steps")
	c.Dispatched("tool", "ok", 10*time.Millisecond)
	c.Dispatched("tool", "timeout", time.Second)
	c.Decided("revise")

	if got := testutil.ToFloat64(c.runs.WithLabelValues("run", "stopped")); got != 2 {
		t.Errorf("expected 2 stopped runs, got %v", got)
	}
	if got := testutil.ToFloat64(c.stops.WithLabelValues("budget", "max_steps")); got != 1 {
		t.Errorf("expected 1 max_steps stop, got %v", got)
	}
	if got := testutil.ToFloat64(c.dispatches.WithLabelValues("tool", "timeout")); got != 1 {
		t.Errorf("expected 1 timeout, got %v", got)
	}
	if got := testutil.ToFloat64(c.decisions.WithLabelValues("revise")); got != 1 {
		t.Errorf("expected 1 revise, got %v", got)
	}
	if n := testutil.CollectAndCount(c.dispatchLat); n != 1 {
		t.Errorf("expected one latency series, got %d", n)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.RunFinished("run", "ok")
	c.Stopped("budget", "max_steps")
	c.Dispatched("tool", "ok", time.Millisecond)
	c.Decided("approve")
}
