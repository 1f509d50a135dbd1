package config

import (
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use the CINEMARWA_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "CINEMARWA_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "CINEMARWA_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "CINEMARWA_ADMIN_METRICS_API_KEY")
	if v := os.Getenv("CINEMARWA_CORS_ALLOWED_ORIGINS"); v != "" {
		c.Server.CORSAllowedOrigins = splitList(v)
	}

	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Logging config
	setIfEnv(&c.Logging.Level, "CINEMARWA_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "CINEMARWA_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "CINEMARWA_ENVIRONMENT")

	// Gateway config
	setIfEnv(&c.Gateway.BaseURL, "CINEMARWA_GATEWAY_BASE_URL")
	setIfEnv(&c.Gateway.APIKey, "CINEMARWA_GATEWAY_API_KEY")
	setIfEnv(&c.Gateway.WebhookSecret, "CINEMARWA_GATEWAY_WEBHOOK_SECRET")
	setDurationIfEnv(&c.Gateway.Timeout, "CINEMARWA_GATEWAY_TIMEOUT")
	// Load gateway headers (CINEMARWA_GATEWAY_HEADER_*)
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "CINEMARWA_GATEWAY_HEADER_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], "CINEMARWA_GATEWAY_HEADER_")
		if name == "" {
			continue
		}
		if c.Gateway.Headers == nil {
			c.Gateway.Headers = make(map[string]string)
		}
		headerName := textproto.CanonicalMIMEHeaderKey(strings.ReplaceAll(name, "_", "-"))
		c.Gateway.Headers[headerName] = parts[1]
	}

	// Catalog config
	setIfEnv(&c.Catalog.Source, "CINEMARWA_CATALOG_SOURCE")
	setIfEnv(&c.Catalog.BaseURL, "CINEMARWA_CATALOG_BASE_URL")
	setDurationIfEnv(&c.Catalog.Timeout, "CINEMARWA_CATALOG_TIMEOUT")
	setDurationIfEnv(&c.Catalog.CacheTTL, "CINEMARWA_CATALOG_CACHE_TTL")

	// Payment config
	setDurationIfEnv(&c.Payment.PurchasePollInterval, "CINEMARWA_PAYMENT_PURCHASE_POLL_INTERVAL")
	setDurationIfEnv(&c.Payment.UpgradePollInterval, "CINEMARWA_PAYMENT_UPGRADE_POLL_INTERVAL")
	setIntIfEnv(&c.Payment.MaxPolls, "CINEMARWA_PAYMENT_MAX_POLLS")
	setIntIfEnv(&c.Payment.MaxLookupFailures, "CINEMARWA_PAYMENT_MAX_LOOKUP_FAILURES")
	setDurationIfEnv(&c.Payment.SubmitTimeout, "CINEMARWA_PAYMENT_SUBMIT_TIMEOUT")
	setDurationIfEnv(&c.Payment.IdempotencyTTL, "CINEMARWA_PAYMENT_IDEMPOTENCY_TTL")
	setIfEnv(&c.Payment.PhoneCountry, "CINEMARWA_PAYMENT_PHONE_COUNTRY")
	setDurationIfEnv(&c.Payment.FlowIdleTimeout, "CINEMARWA_PAYMENT_FLOW_IDLE_TIMEOUT")

	// Access config
	setDurationIfEnv(&c.Access.WatchWindow, "CINEMARWA_ACCESS_WATCH_WINDOW")
	setDurationIfEnv(&c.Access.RefreshInterval, "CINEMARWA_ACCESS_REFRESH_INTERVAL")

	// Pricing config
	setIfEnv(&c.Pricing.DefaultCurrency, "CINEMARWA_PRICING_DEFAULT_CURRENCY")
	setIfEnv(&c.Pricing.BestValuePeriod, "CINEMARWA_PRICING_BEST_VALUE_PERIOD")
	setIfEnv(&c.Pricing.SavingsBaseline, "CINEMARWA_PRICING_SAVINGS_BASELINE")
	setInt64IfEnv(&c.Pricing.FallbackAmount, "CINEMARWA_PRICING_FALLBACK_AMOUNT")

	// Guest config
	setDurationIfEnv(&c.Guest.TrialLimit, "CINEMARWA_GUEST_TRIAL_LIMIT")
	setDurationIfEnv(&c.Guest.TrailerPreviewLimit, "CINEMARWA_GUEST_TRAILER_PREVIEW_LIMIT")

	// Storage config
	setIfEnv(&c.Storage.Backend, "CINEMARWA_STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresURL, "CINEMARWA_STORAGE_POSTGRES_URL")
	setIfEnv(&c.Storage.MongoDBURL, "CINEMARWA_STORAGE_MONGODB_URL")
	setIfEnv(&c.Storage.MongoDBDatabase, "CINEMARWA_STORAGE_MONGODB_DATABASE")
	setIfEnv(&c.Storage.RedisURL, "CINEMARWA_STORAGE_REDIS_URL")
	setBoolIfEnv(&c.Storage.Archival.Enabled, "CINEMARWA_STORAGE_ARCHIVAL_ENABLED")
	setDurationIfEnv(&c.Storage.Archival.RetentionPeriod, "CINEMARWA_STORAGE_ARCHIVAL_RETENTION")

	// Rate limit config
	setBoolIfEnv(&c.RateLimit.GlobalEnabled, "CINEMARWA_RATE_LIMIT_GLOBAL_ENABLED")
	setBoolIfEnv(&c.RateLimit.PerViewerEnabled, "CINEMARWA_RATE_LIMIT_PER_VIEWER_ENABLED")
	setBoolIfEnv(&c.RateLimit.PerIPEnabled, "CINEMARWA_RATE_LIMIT_PER_IP_ENABLED")

	// Circuit breaker config
	setBoolIfEnv(&c.CircuitBreaker.Enabled, "CINEMARWA_CIRCUIT_BREAKER_ENABLED")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// setIntIfEnv ignores values that do not parse.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*target = n
		}
	}
}

func setInt64IfEnv(target *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			*target = n
		}
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
// Examples: "api" -> "/api", "/api/" -> "/api", "storefront" -> "/storefront"
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix
}
