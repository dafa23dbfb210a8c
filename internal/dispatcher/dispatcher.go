// Package dispatcher fans adapter runs out over a bounded pool.
package dispatcher

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/CMoncur/proto-scrape/internal/pipeline"
	"github.com/CMoncur/proto-scrape/internal/site"
)

// DefaultParallel is used when parallel is not positive.
const DefaultParallel = 2

// Runner runs one adapter.
type Runner interface {
	Run(ctx context.Context, a site.Adapter) (pipeline.Summary, error)
}

// Dispatcher runs several adapters at once.
type Dispatcher struct {
	runner   Runner
	adapters []site.Adapter
	parallel int
}

// New creates a Dispatcher.
func New(runner Runner, adapters []site.Adapter, parallel int) *Dispatcher {
	if parallel <= 0 {
		parallel = DefaultParallel
	}
	return &Dispatcher{runner: runner, adapters: adapters, parallel: parallel}
}

// Adapters returns the adapters in run order.
func (d *Dispatcher) Adapters() []site.Adapter {
	out := make([]site.Adapter, len(d.adapters))
	copy(out, d.adapters)
	return out
}

// Run executes every adapter and returns summaries in adapter order. A failed
// adapter never cancels the others; failures are joined into the error.
func (d *Dispatcher) Run(ctx context.Context) ([]pipeline.Summary, error) {
	summaries := make([]pipeline.Summary, len(d.adapters))
	errs := make([]error, len(d.adapters))

	var g errgroup.Group
	g.SetLimit(d.parallel)
	for i, a := range d.adapters {
		g.Go(func() error {
			summaries[i], errs[i] = d.runner.Run(ctx, a)
			return nil
		})
	}
	_ = g.Wait()
	return summaries, errors.Join(errs...)
}
