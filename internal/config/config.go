package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Gateway: GatewayConfig{
			Timeout: Duration{Duration: 15 * time.Second},
			Headers: make(map[string]string),
		},
		Catalog: CatalogConfig{
			Source:   "http",
			Timeout:  Duration{Duration: 10 * time.Second},
			CacheTTL: Duration{Duration: 5 * time.Minute},
			Contents: map[string]CatalogContent{},
		},
		Payment: PaymentConfig{
			PurchasePollInterval: Duration{Duration: 10 * time.Second},
			UpgradePollInterval:  Duration{Duration: 3 * time.Second},
			MaxPolls:             30,
			MaxLookupFailures:    5,
			SubmitTimeout:        Duration{Duration: 30 * time.Second},
			IdempotencyTTL:       Duration{Duration: 24 * time.Hour},
			PhoneCountry:         "RW",
		},
		Access: AccessConfig{
			WatchWindow: Duration{Duration: 48 * time.Hour},
		},
		Pricing: PricingConfig{
			DefaultCurrency:      "RWF",
			WatchFallbackPercent: 80,
			FallbackAmount:       500,
			SeriesTiers: []SeriesTierConfig{
				{Period: "24h", Days: 1, Multiplier: 1},
				{Period: "7d", Days: 7, Multiplier: 2},
				{Period: "30d", Days: 30, Multiplier: 3},
				{Period: "90d", Days: 90, Multiplier: 5},
				{Period: "365d", Days: 365, Multiplier: 8},
			},
			BestValuePeriod: "30d",
			SavingsBaseline: "24h",
			Plans: map[string]PlanConfig{
				"premium": {Amount: 5000, Currency: "RWF", Period: Duration{Duration: 30 * 24 * time.Hour}},
			},
		},
		Guest: GuestConfig{
			TrialLimit:          Duration{Duration: 60 * time.Second},
			TrailerPreviewLimit: Duration{Duration: 60 * time.Second},
			TickInterval:        Duration{Duration: 1 * time.Second},
		},
		Storage: StorageConfig{
			Backend:    "memory",
			RedisGrace: Duration{Duration: 7 * 24 * time.Hour},
			Archival: ArchivalConfig{
				RetentionPeriod: Duration{Duration: 90 * 24 * time.Hour},
				RunInterval:     Duration{Duration: 24 * time.Hour},
			},
		},
		RateLimit: RateLimitConfig{
			// Generous limits - designed to prevent spam, not restrict legitimate use
			GlobalEnabled:    true,
			GlobalLimit:      1000,
			GlobalWindow:     Duration{Duration: 1 * time.Minute},
			PerViewerEnabled: true,
			PerViewerLimit:   60,
			PerViewerWindow:  Duration{Duration: 1 * time.Minute},
			PerIPEnabled:     true,
			PerIPLimit:       120,
			PerIPWindow:      Duration{Duration: 1 * time.Minute},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			Gateway: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Catalog: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 15 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
