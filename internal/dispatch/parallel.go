package dispatch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/gatekeeper/internal/budget"
	"github.com/vinayprograms/gatekeeper/internal/stop"
)

// Call is one member of a parallel batch.
type Call struct {
	Op   string
	Args map[string]any
}

// workers returns min(maxParallel, n); a non-positive maxParallel means n.
func workers(maxParallel, n int) int {
	if maxParallel <= 0 || maxParallel > n {
		return n
	}
	return maxParallel
}

// fanOut runs fn for every index with bounded concurrency. It returns
// max_seconds if the run deadline passes first; workers still running are
// abandoned and their slots must not be read.
func fanOut(ctx context.Context, acct *budget.Accountant, n int, fn func(ctx context.Context, i int)) error {
	remaining, err := acct.Remaining()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)

	var g errgroup.Group
	g.SetLimit(workers(acct.Budget().MaxParallel, n))

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Go blocks while the group is at its limit, so submit off the
		// caller's goroutine to keep the deadline select responsive.
		for i := 0; i < n; i++ {
			i := i
			g.Go(func() error {
				fn(ctx, i)
				return nil
			})
		}
		_ = g.Wait()
	}()

	var expired <-chan time.Time
	if _, bounded := acct.Deadline(); bounded {
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-done:
		cancel()
		if _, err := acct.Remaining(); err != nil {
			return err
		}
		return nil
	case <-expired:
		cancel()
		return stop.MaxSeconds
	case <-ctx.Done():
		cancel()
		return contextSignal(ctx)
	}
}

// CallParallel runs calls concurrently and returns their observations in
// submission order. Each call consumes one dispatch; calls past the ceiling
// do not run. The first failure in submission order fails the batch.
func (d *Dispatcher) CallParallel(ctx context.Context, acct *budget.Accountant, calls []Call) ([]map[string]any, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	results := make([]map[string]any, len(calls))
	errs := make([]error, len(calls))

	err := fanOut(ctx, acct, len(calls), func(ctx context.Context, i int) {
		if errs[i] = acct.Consume(budget.Dispatches); errs[i] != nil {
			return
		}
		results[i], errs[i] = d.CallOnce(ctx, acct, calls[i].Op, calls[i].Args)
	})
	if err != nil {
		return nil, err
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}
