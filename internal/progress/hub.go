package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config tunes how the Hub buffers and batches job events. Zero values fall
// back to the package defaults.
type Config struct {
	// BufferSize bounds the queue between Emit and the batching loop.
	BufferSize int
	// MaxBatchEvents flushes a batch as soon as it holds this many events.
	MaxBatchEvents int
	// MaxBatchWait flushes a non-empty batch after this long.
	MaxBatchWait time.Duration
	// SinkTimeout bounds each Consume call.
	SinkTimeout time.Duration
	// BaseContext parents every sink call.
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropWarnEvery         = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub fans job progress out to sinks in batches. Emit never blocks: when the
// buffer is full the event is counted as dropped. Terminal job stages flush
// the pending batch right away so observers see outcomes without waiting for
// the batch timer.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	logger *zap.Logger

	stop chan struct{}
	done chan struct{}

	closing   atomic.Bool
	closeOnce sync.Once
	closeCtx  context.Context

	dropped     atomic.Int64
	totalDrops  atomic.Int64
	lastDropLog atomic.Int64
}

// NewHub starts the batching loop and returns a ready Hub.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:    cfg,
		sinks:  compactSinks(sinks),
		events: make(chan Event, cfg.BufferSize),
		logger: cfg.Logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go h.loop()
	return h
}

func compactSinks(in []Sink) []Sink {
	out := make([]Sink, 0, len(in))
	for _, s := range in {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Emit queues evt for delivery. Invalid events are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closing.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event",
			zap.String("job_id", evt.JobID), zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.noteDrop()
	}
}

// Dropped reports how many events were lost to a full buffer since start.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.totalDrops.Load()
}

func (h *Hub) noteDrop() {
	h.totalDrops.Add(1)
	pending := h.dropped.Add(1)
	now := time.Now().UnixNano()
	last := h.lastDropLog.Load()
	if now-last < dropWarnEvery.Nanoseconds() || !h.lastDropLog.CompareAndSwap(last, now) {
		return
	}
	h.dropped.Add(-pending)
	h.logger.Warn("progress buffer full, events dropped", zap.Int64("dropped", pending))
}

// Close stops intake, flushes what is buffered and closes every sink. It waits
// for the loop to exit or for ctx to end, whichever comes first.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closing.Store(true)
		h.closeCtx = ctx
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	b := newBatcher(h.cfg.MaxBatchEvents, h.cfg.MaxBatchWait)
	defer b.disarm()
	for {
		select {
		case evt := <-h.events:
			if b.add(evt) {
				h.deliver(b.take())
			}
		case <-b.expired():
			h.deliver(b.take())
		case <-h.stop:
			h.drain(b)
			h.closeSinks()
			return
		}
	}
}

// drain empties the queue without blocking once the hub is stopping.
func (h *Hub) drain(b *batcher) {
	for {
		select {
		case evt := <-h.events:
			if b.add(evt) {
				h.deliver(b.take())
			}
		default:
			h.deliver(b.take())
			return
		}
	}
}

func (h *Hub) deliver(batch []Event) {
	if len(batch) == 0 {
		return
	}
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		err := sink.Consume(ctx, batch)
		cancel()
		if err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.Int("events", len(batch)), zap.Error(err))
		}
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

// batcher accumulates events and owns the flush deadline for the oldest
// pending one. It is confined to the hub loop goroutine.
type batcher struct {
	max     int
	wait    time.Duration
	pending []Event
	timer   *time.Timer
}

func newBatcher(maxEvents int, wait time.Duration) *batcher {
	return &batcher{max: maxEvents, wait: wait, pending: make([]Event, 0, maxEvents)}
}

// add appends evt and reports whether the batch should be flushed now.
func (b *batcher) add(evt Event) bool {
	b.pending = append(b.pending, evt)
	if len(b.pending) >= b.max || evt.Stage.Terminal() {
		return true
	}
	if b.timer == nil {
		b.timer = time.NewTimer(b.wait)
	}
	return false
}

// take hands over the pending events and disarms the deadline. The returned
// slice is owned by the caller.
func (b *batcher) take() []Event {
	b.disarm()
	if len(b.pending) == 0 {
		return nil
	}
	out := b.pending
	b.pending = make([]Event, 0, b.max)
	return out
}

// expired returns the deadline channel, or nil when nothing is pending so the
// select case never fires.
func (b *batcher) expired() <-chan time.Time {
	if b.timer == nil {
		return nil
	}
	return b.timer.C
}

func (b *batcher) disarm() {
	if b.timer == nil {
		return
	}
	b.timer.Stop()
	b.timer = nil
}
