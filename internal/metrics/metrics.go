// Package metrics holds the process-wide Prometheus collectors of the web
// intelligence service. Collectors are registered with the default registry
// on the first call to Init.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "webintel"

type collectors struct {
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
	jobs            *prometheus.CounterVec
	activeWorkers   prometheus.Gauge
	blueprints      *prometheus.CounterVec
	confidence      prometheus.Histogram
	candidates      prometheus.Histogram
	rateLimitWait   *prometheus.HistogramVec
	tlsHandshakeTOs prometheus.Counter
}

var (
	m    *collectors
	once sync.Once
)

// Init registers the collectors. Repeated calls are no-ops.
func Init() {
	once.Do(func() {
		f := promauto.With(prometheus.DefaultRegisterer)
		m = &collectors{
			httpRequests: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace, Subsystem: "http", Name: "requests_total",
				Help: "API requests by method and status code.",
			}, []string{"method", "code"}),
			httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
				Help:    "API request latency by method and route pattern.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			}, []string{"method", "route"}),
			jobs: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace, Name: "jobs_total",
				Help: "Jobs finished by workers, by type and final status.",
			}, []string{"job_type", "status"}),
			activeWorkers: f.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace, Name: "active_workers",
				Help: "Workers holding a job.",
			}),
			blueprints: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace, Name: "blueprints_committed_total",
				Help: "Blueprint versions committed, by resulting site status.",
			}, []string{"status"}),
			confidence: f.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace, Name: "blueprint_confidence",
				Help:    "Confidence of committed blueprints.",
				Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
			}),
			candidates: f.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace, Name: "template_candidates",
				Help:    "Templates matched per fingerprint.",
				Buckets: []float64{0, 1, 2, 3, 5, 8},
			}),
			rateLimitWait: f.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace, Subsystem: "probe", Name: "rate_limit_delay_seconds",
				Help:    "Time probes waited on the per-domain limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			}, []string{"domain"}),
			tlsHandshakeTOs: f.NewCounter(prometheus.CounterOpts{
				Namespace: namespace, Subsystem: "probe", Name: "tls_handshake_timeout_total",
				Help: "TLS handshake timeouts seen while probing.",
			}),
		}
	})
}

// SanitizeSite reduces rawURL to a lowercase hostname suitable as a label
// value, or "unknown" when no host can be parsed.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest records one served API request.
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveJob counts a job reaching status.
func ObserveJob(jobType, status string) {
	m.jobs.WithLabelValues(jobType, status).Inc()
}

func IncActiveWorkers() { m.activeWorkers.Inc() }

func DecActiveWorkers() { m.activeWorkers.Dec() }

// ObserveBlueprint records a committed blueprint and its confidence.
func ObserveBlueprint(status string, confidence float64) {
	m.blueprints.WithLabelValues(status).Inc()
	m.confidence.Observe(confidence)
}

func ObserveCandidates(n int) {
	m.candidates.Observe(float64(n))
}

// ObserveRateLimitDelay records a limiter wait against the domain's host.
func ObserveRateLimitDelay(domain string, d time.Duration) {
	m.rateLimitWait.WithLabelValues(SanitizeSite(domain)).Observe(d.Seconds())
}

func ObserveProbeTLSHandshakeTimeout() {
	m.tlsHandshakeTOs.Inc()
}
