package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Gateway        GatewayConfig        `yaml:"gateway"`
	Catalog        CatalogConfig        `yaml:"catalog"`
	Payment        PaymentConfig        `yaml:"payment"`
	Access         AccessConfig         `yaml:"access"`
	Pricing        PricingConfig        `yaml:"pricing"`
	Guest          GuestConfig          `yaml:"guest"`
	Storage        StorageConfig        `yaml:"storage"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g., "/api")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Protects /metrics when set
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// GatewayConfig points at the Transaction Store that executes mobile-money debits.
type GatewayConfig struct {
	BaseURL       string            `yaml:"base_url"`
	APIKey        string            `yaml:"api_key"`
	WebhookSecret string            `yaml:"webhook_secret"` // HMAC secret for independently delivered confirmations
	Timeout       Duration          `yaml:"timeout"`
	Headers       map[string]string `yaml:"headers"`
}

// CatalogConfig selects where content pricing metadata comes from.
type CatalogConfig struct {
	Source   string                    `yaml:"source"` // "http" or "yaml"
	BaseURL  string                    `yaml:"base_url"`
	Timeout  Duration                  `yaml:"timeout"`
	CacheTTL Duration                  `yaml:"cache_ttl"` // 0 disables caching
	Contents map[string]CatalogContent `yaml:"contents"`  // Only used when Source = "yaml"
}

// CatalogContent is a statically configured title. Amounts are in the
// currency's smallest unit.
type CatalogContent struct {
	Title         string `yaml:"title"`
	ContentType   string `yaml:"content_type"` // movie | series
	Price         *int64 `yaml:"price"`
	ViewPrice     *int64 `yaml:"view_price"`
	DownloadPrice *int64 `yaml:"download_price"`
	Currency      string `yaml:"currency"`
	TotalEpisodes int    `yaml:"total_episodes"`
	TrailerID     string `yaml:"trailer_id"`
}

// PaymentConfig tunes the submission and confirmation polling protocol.
type PaymentConfig struct {
	PurchasePollInterval Duration `yaml:"purchase_poll_interval"` // default 10s
	UpgradePollInterval  Duration `yaml:"upgrade_poll_interval"`  // default 3s
	MaxPolls             int      `yaml:"max_polls"`              // default 30
	MaxLookupFailures    int      `yaml:"max_lookup_failures"`    // consecutive failures tolerated, default 5
	SubmitTimeout        Duration `yaml:"submit_timeout"`
	IdempotencyTTL       Duration `yaml:"idempotency_ttl"`   // default 24h
	PhoneCountry         string   `yaml:"phone_country"`     // default RW
	FlowIdleTimeout      Duration `yaml:"flow_idle_timeout"` // idle flows are closed after this, default 30m
}

// AccessConfig holds entitlement window lengths.
type AccessConfig struct {
	WatchWindow     Duration `yaml:"watch_window"`     // default 48h
	RefreshInterval Duration `yaml:"refresh_interval"` // max snapshot age before a check refreshes; 0 disables
}

// PricingConfig holds the product decisions behind the Pricing Calculator.
type PricingConfig struct {
	DefaultCurrency      string                `yaml:"default_currency"`
	WatchFallbackPercent int64                 `yaml:"watch_fallback_percent"` // share of price charged for a watch when view_price is absent
	FallbackAmount       int64                 `yaml:"fallback_amount"`        // used when no pricing field is present
	SeriesTiers          []SeriesTierConfig    `yaml:"series_tiers"`
	BestValuePeriod      string                `yaml:"best_value_period"`
	SavingsBaseline      string                `yaml:"savings_baseline"`
	Plans                map[string]PlanConfig `yaml:"plans"`
}

// SeriesTierConfig is one row of the series multiplier table.
type SeriesTierConfig struct {
	Period          string `yaml:"period"` // 24h, 7d, 30d, 90d, 365d
	Days            int    `yaml:"days"`
	Multiplier      int64  `yaml:"multiplier"`
	SavingsOverride *int64 `yaml:"savings_override"` // multiples of base price shown instead of the computed savings
}

// PlanConfig prices a subscription upgrade.
type PlanConfig struct {
	Amount   int64    `yaml:"amount"`
	Currency string   `yaml:"currency"`
	Period   Duration `yaml:"period"`
}

// GuestConfig holds the anonymous viewing allowances.
type GuestConfig struct {
	TrialLimit          Duration `yaml:"trial_limit"`           // default 60s
	TrailerPreviewLimit Duration `yaml:"trailer_preview_limit"` // default 60s
	TickInterval        Duration `yaml:"tick_interval"`         // default 1s
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// StorageConfig holds storage backend configuration for transactions and entitlements.
type StorageConfig struct {
	Backend         string              `yaml:"backend"` // "memory", "postgres", "mongodb", or "redis"
	PostgresURL     string              `yaml:"postgres_url"`
	MongoDBURL      string              `yaml:"mongodb_url"`
	MongoDBDatabase string              `yaml:"mongodb_database"`
	RedisURL        string              `yaml:"redis_url"`
	PostgresPool    PostgresPoolConfig  `yaml:"postgres_pool"`
	RedisGrace      Duration            `yaml:"redis_grace"` // how long expired grants stay readable in redis
	Archival        ArchivalConfig      `yaml:"archival"`
	SchemaMapping   SchemaMappingConfig `yaml:"schema_mapping"`
}

// ArchivalConfig controls pruning of settled transaction records.
type ArchivalConfig struct {
	Enabled         bool     `yaml:"enabled"`
	RetentionPeriod Duration `yaml:"retention_period"` // default 90 days
	RunInterval     Duration `yaml:"run_interval"`     // default 24h
}

// SchemaMappingConfig holds table/collection name mappings for custom schemas.
type SchemaMappingConfig struct {
	Transactions TableMappingConfig `yaml:"transactions"`
	Entitlements TableMappingConfig `yaml:"entitlements"`
}

// TableMappingConfig defines a single table/collection mapping.
type TableMappingConfig struct {
	TableName string `yaml:"table_name"`
}

// RateLimitConfig holds rate limiting configuration for the HTTP host.
type RateLimitConfig struct {
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	PerViewerEnabled bool     `yaml:"per_viewer_enabled"`
	PerViewerLimit   int      `yaml:"per_viewer_limit"`
	PerViewerWindow  Duration `yaml:"per_viewer_window"`

	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
type CircuitBreakerConfig struct {
	Enabled bool                 `yaml:"enabled"`
	Gateway BreakerServiceConfig `yaml:"gateway"`
	Catalog BreakerServiceConfig `yaml:"catalog"`
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio
}
