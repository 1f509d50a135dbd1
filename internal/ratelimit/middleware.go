package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/metrics"
	"github.com/go-chi/httprate"
)

// ViewerHeader carries the authenticated viewer id set by the storefront's
// auth proxy.
const ViewerHeader = "X-Viewer-ID"

// Config holds rate limiting configuration.
type Config struct {
	// Global rate limiting (across all viewers)
	GlobalEnabled bool
	GlobalLimit   int           // requests per window
	GlobalWindow  time.Duration // time window

	// Per-viewer rate limiting (identified by ViewerHeader)
	PerViewerEnabled bool
	PerViewerLimit   int
	PerViewerWindow  time.Duration

	// Per-IP rate limiting (guests and anything without a viewer id)
	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration

	// Metrics collector (optional)
	Metrics *metrics.Metrics
}

// rateLimitResponse represents the JSON error response for rate limit exceeded.
type rateLimitResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// DefaultConfig returns generous limits that stop obvious abuse, such as a
// client hammering the purchase endpoints.
func DefaultConfig() Config {
	return Config{
		// Global: 1000 req/min
		GlobalEnabled: true,
		GlobalLimit:   1000,
		GlobalWindow:  1 * time.Minute,

		// Per-viewer: 60 req/min
		PerViewerEnabled: true,
		PerViewerLimit:   60,
		PerViewerWindow:  1 * time.Minute,

		// Per-IP: 120 req/min
		PerIPEnabled: true,
		PerIPLimit:   120,
		PerIPWindow:  1 * time.Minute,
	}
}

// createRateLimitHandler builds the 429 handler shared by every limiter.
func createRateLimitHandler(limitType string, windowSeconds int, metricsCollector *metrics.Metrics) func(http.ResponseWriter, *http.Request) {
	var message string
	switch limitType {
	case "global":
		message = "Global rate limit exceeded. Please try again later."
	case "per_viewer":
		message = "Too many requests for this account. Please try again later."
	case "per_ip":
		message = "IP rate limit exceeded. Please try again later."
	default:
		message = "Rate limit exceeded. Please try again later."
	}

	return func(w http.ResponseWriter, r *http.Request) {
		metricsCollector.ObserveRateLimit(limitType)

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", windowSeconds))
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(rateLimitResponse{
			Error:             "rate_limit_exceeded",
			Message:           message,
			RetryAfterSeconds: windowSeconds,
		})
	}
}

func passthrough(next http.Handler) http.Handler { return next }

// GlobalLimiter creates a global rate limiter middleware.
func GlobalLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled {
		return passthrough
	}
	return httprate.Limit(
		cfg.GlobalLimit,
		cfg.GlobalWindow,
		httprate.WithLimitHandler(createRateLimitHandler("global", int(cfg.GlobalWindow.Seconds()), cfg.Metrics)),
	)
}

// ViewerLimiter limits each signed-in viewer. Requests without a viewer id
// are keyed by IP.
func ViewerLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerViewerEnabled {
		return passthrough
	}
	return httprate.Limit(
		cfg.PerViewerLimit,
		cfg.PerViewerWindow,
		httprate.WithKeyFuncs(viewerKey),
		httprate.WithLimitHandler(createRateLimitHandler("per_viewer", int(cfg.PerViewerWindow.Seconds()), cfg.Metrics)),
	)
}

// IPLimiter creates a per-IP rate limiter middleware.
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled {
		return passthrough
	}
	return httprate.Limit(
		cfg.PerIPLimit,
		cfg.PerIPWindow,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(createRateLimitHandler("per_ip", int(cfg.PerIPWindow.Seconds()), cfg.Metrics)),
	)
}

func viewerKey(r *http.Request) (string, error) {
	if id := strings.TrimSpace(r.Header.Get(ViewerHeader)); id != "" {
		return "viewer:" + id, nil
	}
	return httprate.KeyByIP(r)
}
