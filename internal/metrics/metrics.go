package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the storefront engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Purchase flow metrics
	PurchasesTotal        *prometheus.CounterVec
	PurchaseOutcomesTotal *prometheus.CounterVec
	PurchaseAmountTotal   *prometheus.CounterVec
	PurchaseDuration      *prometheus.HistogramVec
	PollsTotal            *prometheus.CounterVec
	ActiveFlows           prometheus.Gauge

	// Transaction Store / catalog call metrics
	GatewayCallsTotal   *prometheus.CounterVec
	GatewayCallDuration *prometheus.HistogramVec
	GatewayErrorsTotal  *prometheus.CounterVec

	// Access metrics
	AccessChecksTotal       *prometheus.CounterVec
	EntitlementRefreshTotal *prometheus.CounterVec
	GuestLimitsReachedTotal *prometheus.CounterVec

	// HTTP host metrics
	RateLimitHitsTotal *prometheus.CounterVec
	WebhooksTotal      *prometheus.CounterVec

	// Database metrics
	DBQueryDuration      *prometheus.HistogramVec
	ArchivedRecordsTotal prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		PurchasesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cinemarwa_purchases_total",
				Help: "Total number of purchase submissions",
			},
			[]string{"kind"},
		),
		PurchaseOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cinemarwa_purchase_outcomes_total",
				Help: "Terminal purchase outcomes (succeeded, declined, timeout, rejected)",
			},
			[]string{"kind", "outcome"},
		),
		PurchaseAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cinemarwa_purchase_amount_total",
				Help: "Settled purchase amount in the currency's smallest unit",
			},
			[]string{"kind", "currency"},
		),
		PurchaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cinemarwa_purchase_duration_seconds",
				Help:    "Time from submission to a terminal outcome",
				Buckets: []float64{1, 3, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"kind"},
		),
		PollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cinemarwa_payment_polls_total",
				Help: "Status lookups issued while awaiting the gateway",
			},
			[]string{"kind", "status"},
		),
		ActiveFlows: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cinemarwa_active_flows",
				Help: "Purchase flows currently registered",
			},
		),

		GatewayCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cinemarwa_gateway_calls_total",
				Help: "Total number of calls to the Transaction Store and catalog",
			},
			[]string{"operation"},
		),
		GatewayCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cinemarwa_gateway_call_duration_seconds",
				Help:    "Duration of calls to the Transaction Store and catalog (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"operation"},
		),
		GatewayErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cinemarwa_gateway_errors_total",
				Help: "Total number of failed Transaction Store and catalog calls",
			},
			[]string{"operation", "error_type"},
		),

		AccessChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cinemarwa_access_checks_total",
				Help: "Authorization decisions by viewer action",
			},
			[]string{"action", "decision"},
		),
		EntitlementRefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cinemarwa_entitlement_refresh_total",
				Help: "Entitlement refreshes from the Transaction Store",
			},
			[]string{"status"},
		),
		GuestLimitsReachedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cinemarwa_guest_limits_reached_total",
				Help: "Guest trial and trailer preview allowances exhausted",
			},
			[]string{"scope"},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cinemarwa_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"limit_type"},
		),

		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cinemarwa_gateway_webhooks_total",
				Help: "Confirmations delivered by the Transaction Store webhook",
			},
			[]string{"result"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cinemarwa_db_query_duration_seconds",
				Help:    "Database query duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
		ArchivedRecordsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cinemarwa_archived_transactions_total",
				Help: "Settled transaction records pruned by the archival service",
			},
		),
	}
}

// ObserveSubmission records a purchase submission.
func (m *Metrics) ObserveSubmission(kind string) {
	if m == nil {
		return
	}
	m.PurchasesTotal.WithLabelValues(kind).Inc()
}

// ObserveOutcome records a terminal purchase outcome. Amount is only added for succeeded purchases.
func (m *Metrics) ObserveOutcome(kind, outcome string, duration time.Duration, amount int64, currency string) {
	if m == nil {
		return
	}
	m.PurchaseOutcomesTotal.WithLabelValues(kind, outcome).Inc()
	m.PurchaseDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if outcome == "succeeded" {
		m.PurchaseAmountTotal.WithLabelValues(kind, currency).Add(float64(amount))
	}
}

// ObservePoll records one status lookup.
func (m *Metrics) ObservePoll(kind, status string) {
	if m == nil {
		return
	}
	m.PollsTotal.WithLabelValues(kind, status).Inc()
}

// SetActiveFlows updates the registered flow gauge.
func (m *Metrics) SetActiveFlows(n int) {
	if m == nil {
		return
	}
	m.ActiveFlows.Set(float64(n))
}

// ObserveGatewayCall records a call to the Transaction Store or catalog.
func (m *Metrics) ObserveGatewayCall(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.GatewayCallsTotal.WithLabelValues(operation).Inc()
	m.GatewayCallDuration.WithLabelValues(operation).Observe(duration.Seconds())

	if err != nil {
		m.GatewayErrorsTotal.WithLabelValues(operation, classifyError(err)).Inc()
	}
}

// ObserveAccessCheck records an authorization decision.
func (m *Metrics) ObserveAccessCheck(action, decision string) {
	if m == nil {
		return
	}
	m.AccessChecksTotal.WithLabelValues(action, decision).Inc()
}

// ObserveRefresh records an entitlement refresh ("ok" or "error").
func (m *Metrics) ObserveRefresh(status string) {
	if m == nil {
		return
	}
	m.EntitlementRefreshTotal.WithLabelValues(status).Inc()
}

// ObserveGuestLimit records an exhausted allowance ("trial" or "trailer").
func (m *Metrics) ObserveGuestLimit(scope string) {
	if m == nil {
		return
	}
	m.GuestLimitsReachedTotal.WithLabelValues(scope).Inc()
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.WithLabelValues(limitType).Inc()
}

// ObserveWebhook records a webhook delivery ("applied", "ignored", "rejected" or "failed").
func (m *Metrics) ObserveWebhook(result string) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(result).Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// ObserveArchival records pruned transaction records.
func (m *Metrics) ObserveArchival(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.ArchivedRecordsTotal.Add(float64(count))
}

func classifyError(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(msg, "circuit breaker"):
		return "circuit_open"
	case strings.Contains(msg, "connection"):
		return "connection"
	case strings.Contains(msg, "not found"):
		return "not_found"
	case strings.Contains(msg, "status 5"):
		return "server_error"
	default:
		return "other"
	}
}
