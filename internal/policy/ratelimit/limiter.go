// Package ratelimit spaces probes to the same domain with one token bucket
// per host.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/web-intel-platform/internal/metrics"
)

// DefaultRPS spaces probes to the same domain two seconds apart.
const DefaultRPS = 0.5

// Waits shorter than this are not reported as rate limit delays.
const minReportedDelay = time.Millisecond

// Config sets the bucket shared by every domain. Zero DefaultRPS means
// DefaultRPS; a negative value disables limiting.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

func (c Config) limit() rate.Limit {
	switch {
	case c.DefaultRPS < 0:
		return rate.Inf
	case c.DefaultRPS == 0:
		return rate.Limit(DefaultRPS)
	default:
		return rate.Limit(c.DefaultRPS)
	}
}

// Limiter hands out per-domain buckets lazily. Targets may be bare hosts or
// URLs; both map to the lowercase hostname.
type Limiter struct {
	every rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func New(cfg Config) *Limiter {
	metrics.Init()
	return &Limiter{
		every:   cfg.limit(),
		burst:   max(cfg.DefaultBurst, 1),
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[host]
	if !ok {
		b = rate.NewLimiter(l.every, l.burst)
		l.buckets[host] = b
	}
	return b
}

// Wait blocks until target's host may be probed or ctx ends.
func (l *Limiter) Wait(ctx context.Context, target string) error {
	host := metrics.SanitizeSite(target)
	start := time.Now()
	if err := l.bucket(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", host, err)
	}
	if waited := time.Since(start); waited > minReportedDelay {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// Domains reports how many hosts have a bucket.
func (l *Limiter) Domains() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
