package dispatcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
	queuemem "github.com/JakeFAU/web-intel-platform/internal/queue/memory"
	"github.com/JakeFAU/web-intel-platform/internal/worker"
)

func TestDispatcherStopsWorkersOnCancel(t *testing.T) {
	t.Parallel()

	q := queuemem.NewQueue(4)
	runners := []Runner{
		worker.New(worker.Deps{Queue: q, Logger: zap.NewNop()}),
		worker.New(worker.Deps{Queue: q, Logger: zap.NewNop()}),
	}
	d := New(runners, nil)
	require.Equal(t, 2, d.Size())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher kept running after cancel")
	}
}

func TestDispatcherRestartsPanickingWorker(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	flaky := &flakyRunner{}
	d := New([]Runner{flaky}, zap.New(core))
	d.delay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return flaky.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	require.Equal(t, 1, logs.FilterMessage("worker panicked, restarting").Len())
}

func TestDispatcherDoesNotRestartCleanExit(t *testing.T) {
	t.Parallel()

	r := &countingRunner{}
	d := New([]Runner{r}, zap.NewNop())
	d.Run(context.Background())
	require.Equal(t, int32(1), r.calls.Load())
}

// flakyRunner panics on its first run and then blocks until canceled.
type flakyRunner struct {
	calls atomic.Int32
}

func (f *flakyRunner) Run(ctx context.Context) {
	if f.calls.Add(1) == 1 {
		panic(intel.ErrQueueClosed)
	}
	<-ctx.Done()
}

type countingRunner struct {
	calls atomic.Int32
}

func (c *countingRunner) Run(context.Context) {
	c.calls.Add(1)
}
