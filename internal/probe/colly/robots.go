package collyprobe

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/web-intel-platform/internal/metrics"
)

const (
	allowAllRobots    = "User-agent: *\nAllow: /"
	handshakeFallback = "TLS handshake timeout"
)

var robotsBackoff = []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second}

// robotsGuard wraps the probe transport for a single Probe call. Requests for
// /robots.txt that keep timing out in the TLS handshake are answered with an
// allow-all document, and the guard remembers that it did so. Every other
// request passes straight through.
type robotsGuard struct {
	next    http.RoundTripper
	backoff []time.Duration

	mu     sync.Mutex
	reason string
}

func newRobotsGuard(next http.RoundTripper) *robotsGuard {
	return &robotsGuard{next: next, backoff: robotsBackoff}
}

// assumedAllowAll returns why robots.txt was replaced, or "" if it was not.
func (g *robotsGuard) assumedAllowAll() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reason
}

func (g *robotsGuard) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil || !strings.EqualFold(req.URL.Path, "/robots.txt") {
		return g.next.RoundTrip(req) //nolint:wrapcheck // transparent transport
	}
	for attempt := 0; ; attempt++ {
		resp, err := g.next.RoundTrip(req.Clone(req.Context()))
		switch {
		case err == nil:
			return resp, nil
		case !handshakeStalled(err):
			return nil, err //nolint:wrapcheck // transparent transport
		case attempt == len(g.backoff):
			g.fallBack(handshakeFallback)
			return allowAll(req), nil
		}
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(g.backoff[attempt]):
		}
	}
}

func (g *robotsGuard) fallBack(reason string) {
	g.mu.Lock()
	first := g.reason == ""
	if first {
		g.reason = reason
	}
	g.mu.Unlock()
	if first {
		metrics.ObserveProbeTLSHandshakeTimeout()
	}
}

func allowAll(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        http.StatusText(http.StatusOK),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {"text/plain"}},
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Request:       req,
	}
}

// handshakeStalled matches timeouts, which on a robots.txt fetch are almost
// always a slow TLS handshake.
func handshakeStalled(err error) bool {
	var netErr net.Error
	return errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) ||
		strings.Contains(err.Error(), "tls: handshake timeout")
}
