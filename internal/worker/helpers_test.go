package worker

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-intel-platform/internal/blueprint"
	"github.com/JakeFAU/web-intel-platform/internal/engine"
	"github.com/JakeFAU/web-intel-platform/internal/fingerprint"
	"github.com/JakeFAU/web-intel-platform/internal/hash/sha256"
	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/progress"
	queuemem "github.com/JakeFAU/web-intel-platform/internal/queue/memory"
	"github.com/JakeFAU/web-intel-platform/internal/storage/memory"
	"github.com/JakeFAU/web-intel-platform/internal/templates"
)

const shopPage = `<html><head>
<script src="https://cdn.shopify.com/s/files/theme.js"></script>
<script>Shopify.theme = {"name":"Dawn"};</script>
</head><body>
<div class="shopify-section shopify-section-group-header-group">
<nav role="navigation"><a href="/collections/shirts">Shirts</a><a href="/collections/hats">Hats</a></nav>
</div>
<div id="product-grid">
<div class="product-card"><a href="/products/tee"><h3 class="card__heading">Tee</h3></a><span class="price">$10</span></div>
<div class="product-card"><a href="/products/cap"><h3 class="card__heading">Cap</h3></a><span class="price">$12</span></div>
</div>
<p>FILLER</p>
</body></html>`

func shopProbe(now time.Time) intel.Probe {
	headers := http.Header{}
	headers.Set("X-ShopId", "42")
	return intel.Probe{
		URL:        "https://shop.example.com/",
		StatusCode: http.StatusOK,
		Headers:    headers,
		Body:       []byte(strings.Replace(shopPage, "FILLER", strings.Repeat("Quality goods shipped fast. ", 12), 1)),
		Routes:     map[string]int{"/products.json": 200},
		Requests:   3,
		Duration:   40 * time.Millisecond,
		FetchedAt:  now,
	}
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	waits  []time.Duration
	onWait func()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	hook := c.onWait
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

func (c *fakeClock) waitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waits)
}

type seqIDs struct {
	prefix string
	n      atomic.Int64
}

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("%s-%03d", s.prefix, s.n.Add(1)), nil
}

// scriptedProber returns errs in order, then responses in order, then probe.
type scriptedProber struct {
	mu        sync.Mutex
	calls     int
	errs      []error
	responses []intel.Probe
	probe     intel.Probe
	during    func(calls int)
}

func (p *scriptedProber) Probe(context.Context, string) (intel.Probe, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	hook := p.during
	p.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	if call <= len(p.errs) {
		return intel.Probe{}, p.errs[call-1]
	}
	if i := call - len(p.errs) - 1; i < len(p.responses) {
		return p.responses[i], nil
	}
	return p.probe, nil
}

func (p *scriptedProber) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(ev progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEmitter) count(stage progress.Stage) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Stage == stage {
			n++
		}
	}
	return n
}

type harness struct {
	store   *memory.Store
	queue   *queuemem.Queue
	engine  *engine.Engine
	worker  *Worker
	prober  *scriptedProber
	clock   *fakeClock
	emitter *recordingEmitter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	st := memory.NewStore()
	clock := newFakeClock()
	list, err := templates.Defaults()
	require.NoError(t, err)
	_, err = templates.Seed(ctx, st, list, clock.Now())
	require.NoError(t, err)
	require.NoError(t, st.CreateSite(ctx, intel.Site{
		ID:        "site-1",
		Domain:    "shop.example.com",
		Status:    intel.SiteStatusPending,
		CreatedAt: clock.Now(),
		UpdatedAt: clock.Now(),
	}))

	q := queuemem.NewQueue(16)
	tokens := engine.NewTokens()
	emitter := &recordingEmitter{}
	eng := engine.New(engine.Deps{
		Repo:    st,
		Queue:   q,
		IDs:     &seqIDs{prefix: "job"},
		Clock:   clock,
		Tokens:  tokens,
		Emitter: emitter,
	})
	svc := blueprint.NewService(blueprint.Deps{
		Repo:   st,
		Finder: templates.NewCatalog(st, zap.NewNop()),
		IDs:    &seqIDs{prefix: "bp"},
		Clock:  clock,
	})
	prober := &scriptedProber{probe: shopProbe(clock.Now())}
	w := New(Deps{
		Queue:      q,
		Repo:       st,
		Prober:     prober,
		Analyzer:   fingerprint.NewAnalyzer(fingerprint.DefaultConfig(), sha256.New()),
		Blueprints: svc,
		Tokens:     tokens,
		Clock:      clock,
		Retry:      NewRetryPolicy(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}),
		Emitter:    emitter,
		Logger:     zap.NewNop(),
		Config: Config{
			DefaultCostPerRequest: 0.001,
			CostPerRequest:        map[string]float64{"headless": 0.01},
		},
	})
	return &harness{store: st, queue: q, engine: eng, worker: w, prober: prober, clock: clock, emitter: emitter}
}

// submitAndProcess enqueues a job and runs it synchronously.
func (h *harness) submitAndProcess(t *testing.T, sub engine.Submission) intel.Job {
	t.Helper()
	ctx := context.Background()
	job, err := h.engine.Submit(ctx, sub)
	require.NoError(t, err)
	item, err := h.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, job.ID, item.JobID)
	h.worker.Process(ctx, item)
	done, err := h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	return done
}
