package collyprobe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/web-intel-platform/internal/metrics"
)

// scriptedTransport answers from a fixed list of outcomes and repeats the last.
type scriptedTransport struct {
	outcomes []error
	calls    int
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	i := min(s.calls, len(s.outcomes)-1)
	s.calls++
	if err := s.outcomes[i]; err != nil {
		return nil, err
	}
	rec := httptest.NewRecorder()
	_, _ = rec.WriteString("User-agent: *\nDisallow: /admin")
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

// newTestGuard keeps three retries but does not sleep between them.
func newTestGuard(next http.RoundTripper) *robotsGuard {
	g := newRobotsGuard(next)
	g.backoff = make([]time.Duration, len(robotsBackoff))
	return g
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { require.NoError(t, resp.Body.Close()) }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestRobotsGuardFallsBackAfterHandshakeTimeouts(t *testing.T) {
	t.Parallel()
	metrics.Init()

	next := &scriptedTransport{outcomes: []error{context.DeadlineExceeded}}
	guard := newTestGuard(next)

	resp, err := guard.RoundTrip(httptest.NewRequest(http.MethodGet, "https://shop.example/robots.txt", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, allowAllRobots, readBody(t, resp))
	require.Equal(t, len(robotsBackoff)+1, next.calls)
	require.Equal(t, handshakeFallback, guard.assumedAllowAll())
}

func TestRobotsGuardRecoversOnRetry(t *testing.T) {
	t.Parallel()

	next := &scriptedTransport{outcomes: []error{context.DeadlineExceeded, nil}}
	guard := newTestGuard(next)

	resp, err := guard.RoundTrip(httptest.NewRequest(http.MethodGet, "https://shop.example/robots.txt", nil))
	require.NoError(t, err)
	require.Contains(t, readBody(t, resp), "Disallow: /admin")
	require.Equal(t, 2, next.calls)
	require.Empty(t, guard.assumedAllowAll())
}

func TestRobotsGuardSurfacesHardFailures(t *testing.T) {
	t.Parallel()

	refused := errors.New("dial tcp: connection refused")
	next := &scriptedTransport{outcomes: []error{refused}}
	guard := newTestGuard(next)

	_, err := guard.RoundTrip(httptest.NewRequest(http.MethodGet, "https://shop.example/robots.txt", nil))
	require.ErrorIs(t, err, refused)
	require.Equal(t, 1, next.calls)
}

func TestRobotsGuardPassesOtherPathsThrough(t *testing.T) {
	t.Parallel()

	next := &scriptedTransport{outcomes: []error{context.DeadlineExceeded}}
	guard := newTestGuard(next)

	_, err := guard.RoundTrip(httptest.NewRequest(http.MethodGet, "https://shop.example/products.json", nil))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, next.calls)
	require.Empty(t, guard.assumedAllowAll())
}

func TestRobotsGuardHonorsCancellation(t *testing.T) {
	t.Parallel()

	next := &scriptedTransport{outcomes: []error{context.DeadlineExceeded}}
	guard := newRobotsGuard(next)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "https://shop.example/robots.txt", nil).WithContext(ctx)

	_, err := guard.RoundTrip(req)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, next.calls)
}
