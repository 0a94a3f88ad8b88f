// Package dispatcher runs the worker pool that drains the job queue.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner is one queue consumer; *worker.Worker implements it.
type Runner interface {
	Run(ctx context.Context)
}

const restartDelay = time.Second

// Dispatcher supervises a fixed pool of Runners. A Runner that panics is
// logged and started again until the pool's context ends.
type Dispatcher struct {
	workers []Runner
	logger  *zap.Logger
	delay   time.Duration
}

// New builds a Dispatcher over workers.
func New(workers []Runner, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{workers: workers, logger: logger, delay: restartDelay}
}

// Size reports the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run blocks until ctx is done and every worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i, w := range d.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.supervise(ctx, i, w)
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) supervise(ctx context.Context, index int, w Runner) {
	for ctx.Err() == nil {
		if !d.runOnce(ctx, index, w) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.delay):
		}
	}
}

// runOnce reports whether the worker panicked and should be restarted.
func (d *Dispatcher) runOnce(ctx context.Context, index int, w Runner) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("worker panicked, restarting",
				zap.Int("index", index), zap.Any("panic", r), zap.Stack("stack"))
			panicked = true
		}
	}()
	w.Run(ctx)
	return false
}
