// Package collyprobe implements intel.Prober using gocolly: one landing page
// fetch plus a status check of each known API route.
package collyprobe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/metrics"
)

// DefaultUserAgent identifies probe traffic.
const DefaultUserAgent = "WebIntelligencePlatform/1.0"

// DefaultAPIRoutes are checked on every probe.
var DefaultAPIRoutes = []string{
	"/products.json",
	"/collections.json",
	"/wp-json/",
	"/wp-json/wc/store/products",
	"/rest/V1/directory/currency",
	"/api/storefront",
}

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	APIRoutes     []string
	// Scheme is "https" unless overridden.
	Scheme string
}

// Prober implements intel.Prober using the Colly collector.
type Prober struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	clock         intel.Clock
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Prober.
func New(cfg Config, clock intel.Clock, logger *zap.Logger) *Prober {
	metrics.Init()
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.APIRoutes == nil {
		cfg.APIRoutes = DefaultAPIRoutes
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Prober{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		clock:         clock,
		logger:        logger.Named("probe"),
	}
}

// Probe fetches the landing page of domain and checks each API route. Network
// failures are dependency errors; a robots.txt block is a validation error.
func (p *Prober) Probe(ctx context.Context, domain string) (intel.Probe, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return intel.Probe{}, intel.Validation("probe", map[string]string{"domain": "required"})
	}
	base := p.cfg.Scheme + "://" + domain
	robots := newRobotsGuard(p.transport)
	start := time.Now()

	page, err := p.fetch(ctx, base+"/", robots)
	if err != nil {
		return intel.Probe{}, classify(domain, err)
	}
	probe := intel.Probe{
		URL:        page.url,
		StatusCode: page.status,
		Headers:    page.headers,
		Body:       page.body,
		Routes:     make(map[string]int, len(p.cfg.APIRoutes)),
		Requests:   1,
	}
	for _, route := range p.cfg.APIRoutes {
		if ctx.Err() != nil {
			return intel.Probe{}, classify(domain, ctx.Err())
		}
		probe.Requests++
		res, err := p.fetch(ctx, base+route, robots)
		if err != nil {
			p.logger.Debug("api route check failed",
				zap.String("domain", domain),
				zap.String("route", route),
				zap.Error(err),
			)
			probe.Routes[route] = 0
			continue
		}
		probe.Routes[route] = res.status
	}
	if reason := robots.assumedAllowAll(); reason != "" {
		p.logger.Warn("robots.txt unavailable, assumed allow-all",
			zap.String("domain", domain),
			zap.String("reason", reason),
		)
	}
	probe.Duration = time.Since(start)
	probe.FetchedAt = p.clock.Now()
	return probe, nil
}

type fetchResult struct {
	url     string
	status  int
	headers http.Header
	body    []byte
}

func (p *Prober) fetch(ctx context.Context, url string, robots *robotsGuard) (fetchResult, error) {
	var (
		result   fetchResult
		fetchErr error
	)
	collector := p.buildCollector(robots)
	p.configureCollectorHooks(collector, &result, &fetchErr)
	if err := p.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return fetchResult{}, err
	}
	return result, nil
}

func (p *Prober) buildCollector(robots *robotsGuard) *colly.Collector {
	collector := p.baseCollector.Clone()
	collector.UserAgent = p.cfg.UserAgent
	collector.IgnoreRobotsTxt = !p.cfg.RespectRobots
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.SetRequestTimeout(p.cfg.Timeout)
	collector.WithTransport(robots)
	return collector
}

func (p *Prober) configureCollectorHooks(hooks collectorHooks, result *fetchResult, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = fetchResult{
			url:     r.Request.URL.String(),
			status:  r.StatusCode,
			headers: headers,
			body:    append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (p *Prober) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func classify(domain string, err error) error {
	switch {
	case errors.Is(err, colly.ErrRobotsTxtBlocked):
		return intel.Validationf("probe", "robots.txt disallows probing %s", domain)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("probe %s: %w", domain, err)
	default:
		return intel.Dependency("probe "+domain, err)
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
