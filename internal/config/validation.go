package config

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Gateway.Headers == nil {
		c.Gateway.Headers = make(map[string]string)
	}
	c.Gateway.BaseURL = strings.TrimSuffix(strings.TrimSpace(c.Gateway.BaseURL), "/")

	c.Catalog.Source = strings.ToLower(strings.TrimSpace(c.Catalog.Source))
	if c.Catalog.Source == "" {
		c.Catalog.Source = "http"
	}
	c.Catalog.BaseURL = strings.TrimSuffix(strings.TrimSpace(c.Catalog.BaseURL), "/")
	// Catalog service usually lives next to the Transaction Store
	if c.Catalog.Source == "http" && c.Catalog.BaseURL == "" {
		c.Catalog.BaseURL = c.Gateway.BaseURL
	}
	if c.Catalog.Contents == nil {
		c.Catalog.Contents = map[string]CatalogContent{}
	}

	c.Pricing.DefaultCurrency = strings.ToUpper(strings.TrimSpace(c.Pricing.DefaultCurrency))
	if c.Pricing.DefaultCurrency == "" {
		c.Pricing.DefaultCurrency = "RWF"
	}
	for name, plan := range c.Pricing.Plans {
		if plan.Currency == "" {
			plan.Currency = c.Pricing.DefaultCurrency
		}
		plan.Currency = strings.ToUpper(plan.Currency)
		if plan.Period.Duration <= 0 {
			plan.Period = Duration{Duration: 30 * 24 * time.Hour}
		}
		c.Pricing.Plans[name] = plan
	}

	// Normalize catalog entries (only for YAML source)
	for id, content := range c.Catalog.Contents {
		if content.Currency == "" {
			content.Currency = c.Pricing.DefaultCurrency
		}
		content.Currency = strings.ToUpper(content.Currency)
		if content.ContentType == "" {
			content.ContentType = "movie"
		}
		content.ContentType = strings.ToLower(content.ContentType)
		c.Catalog.Contents[id] = content
	}

	if c.Payment.PhoneCountry == "" {
		c.Payment.PhoneCountry = "RW"
	}
	c.Payment.PhoneCountry = strings.ToUpper(c.Payment.PhoneCountry)
	if c.Payment.IdempotencyTTL.Duration <= 0 {
		c.Payment.IdempotencyTTL = Duration{Duration: 24 * time.Hour}
	}
	if c.Payment.FlowIdleTimeout.Duration <= 0 {
		c.Payment.FlowIdleTimeout = Duration{Duration: 30 * time.Minute}
	}
	if c.Access.WatchWindow.Duration <= 0 {
		c.Access.WatchWindow = Duration{Duration: 48 * time.Hour}
	}
	if c.Guest.TickInterval.Duration <= 0 {
		c.Guest.TickInterval = Duration{Duration: time.Second}
	}

	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Storage.Backend == "mongodb" && c.Storage.MongoDBDatabase == "" {
		c.Storage.MongoDBDatabase = "cinemarwa"
	}
	if c.Storage.RedisGrace.Duration <= 0 {
		c.Storage.RedisGrace = Duration{Duration: 7 * 24 * time.Hour}
	}
	if c.Storage.Archival.RetentionPeriod.Duration <= 0 {
		c.Storage.Archival.RetentionPeriod = Duration{Duration: 90 * 24 * time.Hour}
	}
	if c.Storage.Archival.RunInterval.Duration <= 0 {
		c.Storage.Archival.RunInterval = Duration{Duration: 24 * time.Hour}
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	if c.Gateway.BaseURL == "" {
		errs = append(errs, "gateway.base_url is required")
	} else if err := validateHTTPURL(c.Gateway.BaseURL); err != nil {
		errs = append(errs, fmt.Sprintf("gateway.base_url: %v", err))
	}

	switch c.Catalog.Source {
	case "http":
		if c.Catalog.BaseURL != "" {
			if err := validateHTTPURL(c.Catalog.BaseURL); err != nil {
				errs = append(errs, fmt.Sprintf("catalog.base_url: %v", err))
			}
		}
	case "yaml":
		if len(c.Catalog.Contents) == 0 {
			errs = append(errs, "catalog.contents must define at least one title when source is 'yaml'")
		}
		for id, content := range c.Catalog.Contents {
			if content.ContentType != "movie" && content.ContentType != "series" {
				errs = append(errs, fmt.Sprintf("catalog.content %q: content_type must be movie or series", id))
			}
			for field, v := range map[string]*int64{"price": content.Price, "view_price": content.ViewPrice, "download_price": content.DownloadPrice} {
				if v != nil && *v <= 0 {
					errs = append(errs, fmt.Sprintf("catalog.content %q: %s must be positive", id, field))
				}
			}
		}
	default:
		errs = append(errs, fmt.Sprintf("catalog.source %q is not supported (use http or yaml)", c.Catalog.Source))
	}

	if c.Payment.MaxPolls <= 0 {
		errs = append(errs, "payment.max_polls must be positive")
	}
	if c.Payment.MaxLookupFailures < 0 {
		errs = append(errs, "payment.max_lookup_failures cannot be negative")
	}
	if c.Payment.PurchasePollInterval.Duration <= 0 || c.Payment.UpgradePollInterval.Duration <= 0 {
		errs = append(errs, "payment poll intervals must be positive")
	}

	errs = append(errs, c.validatePricing()...)

	if c.Guest.TrialLimit.Duration <= 0 {
		errs = append(errs, "guest.trial_limit must be positive")
	}
	if c.Guest.TrailerPreviewLimit.Duration <= 0 {
		errs = append(errs, "guest.trailer_preview_limit must be positive")
	}

	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			errs = append(errs, "storage.postgres_url is required when backend is 'postgres'")
		}
	case "mongodb":
		if c.Storage.MongoDBURL == "" {
			errs = append(errs, "storage.mongodb_url is required when backend is 'mongodb'")
		}
	case "redis":
		if c.Storage.RedisURL == "" {
			errs = append(errs, "storage.redis_url is required when backend is 'redis'")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q is not supported", c.Storage.Backend))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validatePricing() []string {
	var errs []string
	p := c.Pricing

	if p.FallbackAmount <= 0 {
		errs = append(errs, "pricing.fallback_amount must be positive")
	}
	if p.WatchFallbackPercent <= 0 || p.WatchFallbackPercent > 100 {
		errs = append(errs, "pricing.watch_fallback_percent must be between 1 and 100")
	}
	if len(p.SeriesTiers) == 0 {
		errs = append(errs, "pricing.series_tiers must define at least one tier")
	}

	seen := make(map[string]bool, len(p.SeriesTiers))
	for _, tier := range p.SeriesTiers {
		if tier.Period == "" {
			errs = append(errs, "pricing.series_tiers entry is missing a period")
			continue
		}
		if seen[tier.Period] {
			errs = append(errs, fmt.Sprintf("pricing.series_tiers period %q is duplicated", tier.Period))
		}
		seen[tier.Period] = true
		if tier.Days <= 0 || tier.Multiplier <= 0 {
			errs = append(errs, fmt.Sprintf("pricing.series_tiers period %q needs positive days and multiplier", tier.Period))
		}
		if tier.SavingsOverride != nil && *tier.SavingsOverride < 0 {
			errs = append(errs, fmt.Sprintf("pricing.series_tiers period %q has negative savings_override", tier.Period))
		}
	}
	if p.BestValuePeriod != "" && !seen[p.BestValuePeriod] {
		errs = append(errs, fmt.Sprintf("pricing.best_value_period %q is not a configured tier", p.BestValuePeriod))
	}
	if p.SavingsBaseline != "" && !seen[p.SavingsBaseline] {
		errs = append(errs, fmt.Sprintf("pricing.savings_baseline %q is not a configured tier", p.SavingsBaseline))
	}
	for name, plan := range p.Plans {
		if plan.Amount <= 0 {
			errs = append(errs, fmt.Sprintf("pricing.plan %q must have a positive amount", name))
		}
	}
	return errs
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
