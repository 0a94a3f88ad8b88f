// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	Analyzer  AnalyzerConfig  `mapstructure:"analyzer"`
	Builder   BuilderConfig   `mapstructure:"builder"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Templates TemplatesConfig `mapstructure:"templates"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// EngineConfig sizes the worker pool and the job queue.
type EngineConfig struct {
	Concurrency       int `mapstructure:"concurrency"`
	QueueDepth        int `mapstructure:"queue_depth"`
	JobTimeoutSeconds int `mapstructure:"job_timeout_seconds"`
	MaxRetries        int `mapstructure:"max_retries"`
}

// RetryConfig bounds step retries inside a worker.
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	BaseDelayMs int `mapstructure:"base_delay_ms"`
	MaxDelayMs  int `mapstructure:"max_delay_ms"`
}

// ProbeConfig configures the colly prober and per-domain spacing.
type ProbeConfig struct {
	UserAgent         string   `mapstructure:"user_agent"`
	TimeoutSeconds    int      `mapstructure:"timeout_seconds"`
	RespectRobots     bool     `mapstructure:"respect_robots"`
	APIRoutes         []string `mapstructure:"api_routes"`
	RequestsPerSecond float64  `mapstructure:"requests_per_second"`
	Burst             int      `mapstructure:"burst"`
}

// AnalyzerWeights are the additive complexity score contributions.
type AnalyzerWeights struct {
	RequiresJS     float64 `mapstructure:"requires_js"`
	AntiBot        float64 `mapstructure:"anti_bot"`
	SPAFramework   float64 `mapstructure:"spa_framework"`
	LargeHTML      float64 `mapstructure:"large_html"`
	BaseValue      float64 `mapstructure:"base_value"`
	KnownPlatform  float64 `mapstructure:"known_platform"`
	APIRoute       float64 `mapstructure:"api_route"`
	APIRouteCap    float64 `mapstructure:"api_route_cap"`
	ProductSignals float64 `mapstructure:"product_signals"`
}

// SelectorProbe overrides one row of the analyzer's selector table.
type SelectorProbe struct {
	Field     string   `mapstructure:"field"`
	Group     string   `mapstructure:"group"`
	Selectors []string `mapstructure:"selectors"`
}

// AnalyzerConfig tunes the fingerprint analyzer.
type AnalyzerConfig struct {
	Weights          AnalyzerWeights `mapstructure:"weights"`
	LargeHTMLBytes   int             `mapstructure:"large_html_bytes"`
	CustomConfidence float64         `mapstructure:"custom_confidence"`
	SelectorProbes   []SelectorProbe `mapstructure:"selector_probes"`
}

// BuilderWeights blend the blueprint confidence inputs.
type BuilderWeights struct {
	Match     float64 `mapstructure:"match"`
	Selectors float64 `mapstructure:"selectors"`
	Analyzer  float64 `mapstructure:"analyzer"`
}

// BuilderConfig tunes the blueprint builder.
type BuilderConfig struct {
	Weights        BuilderWeights `mapstructure:"weights"`
	ReadyThreshold float64        `mapstructure:"ready_threshold"`
}

// LocalStorageConfig configures filesystem blob storage.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// StorageConfig selects the blueprint archive backend.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalStorageConfig `mapstructure:"local"`
}

// DatabaseConfig controls the Postgres pool. An empty DSN keeps state in memory.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds the blueprint notification topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// RedisConfig points at the analytics cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig configures report caching.
type CacheConfig struct {
	Redis      RedisConfig `mapstructure:"redis"`
	TTLSeconds int         `mapstructure:"ttl_seconds"`
}

// ProgressBatchConfig bounds progress hub batches.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// ProgressConfig controls job event fan-out.
type ProgressConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	LogEnabled    bool                `mapstructure:"log_enabled"`
	StoreEnabled  bool                `mapstructure:"store_enabled"`
	BufferSize    int                 `mapstructure:"buffer_size"`
	Batch         ProgressBatchConfig `mapstructure:"batch"`
	SinkTimeoutMs int                 `mapstructure:"sink_timeout_ms"`
}

// AnalyticsConfig prices probe requests per method.
type AnalyticsConfig struct {
	DefaultCostPerRequestUSD float64            `mapstructure:"default_cost_per_request_usd"`
	CostPerRequestUSD        map[string]float64 `mapstructure:"cost_per_request_usd"`
}

// TemplatesConfig controls the built-in catalog.
type TemplatesConfig struct {
	SeedOnStart bool `mapstructure:"seed_on_start"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("engine.concurrency", 4)
	v.SetDefault("engine.queue_depth", 256)
	v.SetDefault("engine.job_timeout_seconds", 120)
	v.SetDefault("engine.max_retries", 3)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay_ms", 250)
	v.SetDefault("retry.max_delay_ms", 5000)

	v.SetDefault("probe.user_agent", "WebIntelligencePlatform/1.0 (+https://github.com/JakeFAU/web-intel-platform)")
	v.SetDefault("probe.timeout_seconds", 15)
	v.SetDefault("probe.respect_robots", true)
	v.SetDefault("probe.requests_per_second", 0.5)
	v.SetDefault("probe.burst", 1)

	v.SetDefault("analyzer.weights.requires_js", 0.3)
	v.SetDefault("analyzer.weights.anti_bot", 0.2)
	v.SetDefault("analyzer.weights.spa_framework", 0.2)
	v.SetDefault("analyzer.weights.large_html", 0.1)
	v.SetDefault("analyzer.weights.base_value", 0.2)
	v.SetDefault("analyzer.weights.known_platform", 0.3)
	v.SetDefault("analyzer.weights.api_route", 0.1)
	v.SetDefault("analyzer.weights.api_route_cap", 0.3)
	v.SetDefault("analyzer.weights.product_signals", 0.2)
	v.SetDefault("analyzer.large_html_bytes", 100*1024)
	v.SetDefault("analyzer.custom_confidence", 0.2)

	v.SetDefault("builder.weights.match", 0.5)
	v.SetDefault("builder.weights.selectors", 0.3)
	v.SetDefault("builder.weights.analyzer", 0.2)
	v.SetDefault("builder.ready_threshold", 0.7)

	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.prefix", "webintel")
	v.SetDefault("storage.local.base_dir", "data/blueprints")

	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)

	v.SetDefault("cache.ttl_seconds", 60)

	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.store_enabled", true)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.batch.max_events", 1000)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 10000)

	v.SetDefault("analytics.default_cost_per_request_usd", 0.0001)
	v.SetDefault("analytics.cost_per_request_usd", map[string]float64{
		"http":     0.0001,
		"headless": 0.002,
		"stealth":  0.005,
	})

	v.SetDefault("templates.seed_on_start", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Engine.Concurrency <= 0 {
		return fmt.Errorf("engine.concurrency must be > 0")
	}
	if c.Engine.QueueDepth <= 0 {
		return fmt.Errorf("engine.queue_depth must be > 0")
	}
	if c.Engine.JobTimeoutSeconds < 0 {
		return fmt.Errorf("engine.job_timeout_seconds must be >= 0")
	}
	if err := c.Analyzer.Weights.validate(); err != nil {
		return err
	}
	if err := c.Builder.validate(); err != nil {
		return err
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendLocal:
	case BackendGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, local, gcs", c.Storage.Backend)
	}
	if c.Analytics.DefaultCostPerRequestUSD < 0 {
		return fmt.Errorf("analytics.default_cost_per_request_usd must be >= 0")
	}
	return nil
}

func (w AnalyzerWeights) validate() error {
	fields := map[string]float64{
		"requires_js":     w.RequiresJS,
		"anti_bot":        w.AntiBot,
		"spa_framework":   w.SPAFramework,
		"large_html":      w.LargeHTML,
		"base_value":      w.BaseValue,
		"known_platform":  w.KnownPlatform,
		"api_route":       w.APIRoute,
		"api_route_cap":   w.APIRouteCap,
		"product_signals": w.ProductSignals,
	}
	for name, value := range fields {
		if value < 0 {
			return fmt.Errorf("analyzer.weights.%s must be >= 0", name)
		}
	}
	return nil
}

func (b BuilderConfig) validate() error {
	w := b.Weights
	if w.Match < 0 || w.Selectors < 0 || w.Analyzer < 0 {
		return fmt.Errorf("builder.weights must be >= 0")
	}
	if w.Match+w.Selectors+w.Analyzer <= 0 {
		return fmt.Errorf("builder.weights must sum to > 0")
	}
	if b.ReadyThreshold < 0 || b.ReadyThreshold > 1 {
		return fmt.Errorf("builder.ready_threshold must be within [0,1]")
	}
	return nil
}

// JobTimeout is the per-job deadline.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Engine.JobTimeoutSeconds) * time.Second
}

// ProbeTimeout is the per-request probe deadline.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Probe.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds API handlers.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// CacheTTL is how long analytics reports stay cached.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}
