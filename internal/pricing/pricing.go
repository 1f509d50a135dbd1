// Package pricing derives the charge for a (content, access kind, period) tuple.
// Every function is pure: identical inputs always produce identical quotes.
package pricing

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/access"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/catalog"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/config"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/money"
)

var (
	// ErrUnknownPeriod is returned for a series period missing from the tier table.
	ErrUnknownPeriod = errors.New("pricing: unknown access period")
	// ErrMissingPeriod is returned when series access is priced without a period.
	ErrMissingPeriod = errors.New("pricing: access period required for series access")
	// ErrUnknownPlan is returned for an unconfigured subscription plan.
	ErrUnknownPlan = errors.New("pricing: unknown subscription plan")
	// ErrUnsupportedKind is returned for kinds that are not priced per title.
	ErrUnsupportedKind = errors.New("pricing: unsupported access kind")
)

// Tier is one row of the series multiplier table.
type Tier struct {
	Period     string
	Days       int
	Multiplier int64
	// SavingsOverride, when set, replaces the computed savings with
	// SavingsOverride x base for product-driven display values.
	SavingsOverride *int64
}

// Plan prices a subscription upgrade.
type Plan struct {
	Amount   int64
	Currency string
	Period   time.Duration
}

// Config holds the product decisions behind every quote.
type Config struct {
	DefaultCurrency      string
	WatchFallbackPercent int64
	FallbackAmount       int64
	Tiers                []Tier
	BestValuePeriod      string
	SavingsBaseline      string
	Plans                map[string]Plan
}

// DefaultConfig mirrors the storefront's published price list.
func DefaultConfig() Config {
	return Config{
		DefaultCurrency:      "RWF",
		WatchFallbackPercent: 80,
		FallbackAmount:       500,
		Tiers: []Tier{
			{Period: "24h", Days: 1, Multiplier: 1},
			{Period: "7d", Days: 7, Multiplier: 2},
			{Period: "30d", Days: 30, Multiplier: 3},
			{Period: "90d", Days: 90, Multiplier: 5},
			{Period: "365d", Days: 365, Multiplier: 8},
		},
		BestValuePeriod: "30d",
		SavingsBaseline: "24h",
		Plans: map[string]Plan{
			"premium": {Amount: 5000, Currency: "RWF", Period: 30 * 24 * time.Hour},
		},
	}
}

// ConfigFromApp converts the application pricing section.
func ConfigFromApp(cfg config.PricingConfig) Config {
	out := Config{
		DefaultCurrency:      cfg.DefaultCurrency,
		WatchFallbackPercent: cfg.WatchFallbackPercent,
		FallbackAmount:       cfg.FallbackAmount,
		BestValuePeriod:      cfg.BestValuePeriod,
		SavingsBaseline:      cfg.SavingsBaseline,
		Plans:                make(map[string]Plan, len(cfg.Plans)),
	}
	for _, t := range cfg.SeriesTiers {
		out.Tiers = append(out.Tiers, Tier{
			Period:          t.Period,
			Days:            t.Days,
			Multiplier:      t.Multiplier,
			SavingsOverride: t.SavingsOverride,
		})
	}
	for name, p := range cfg.Plans {
		out.Plans[name] = Plan{Amount: p.Amount, Currency: p.Currency, Period: p.Period.Duration}
	}
	return out
}

// Quote is a priced purchase option.
type Quote struct {
	Kind      access.Kind `json:"kind"`
	Amount    money.Money `json:"amount"`
	Period    string      `json:"period,omitempty"`
	Days      int         `json:"days,omitempty"`
	Plan      string      `json:"plan,omitempty"`
	BestValue bool        `json:"bestValue,omitempty"`
	Savings   money.Money `json:"savings"`
	// Fallback marks quotes built from the conservative default because the
	// title carried no usable pricing field.
	Fallback bool `json:"fallback,omitempty"`
}

// Calculator prices purchase options.
type Calculator struct {
	cfg      Config
	tiers    map[string]Tier
	ordered  []Tier
	baseline Tier
}

// NewCalculator validates cfg and builds a Calculator.
func NewCalculator(cfg Config) (*Calculator, error) {
	if cfg.FallbackAmount <= 0 {
		return nil, errors.New("pricing: fallback amount must be positive")
	}
	if cfg.WatchFallbackPercent <= 0 || cfg.WatchFallbackPercent > 100 {
		return nil, errors.New("pricing: watch fallback percent must be between 1 and 100")
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "RWF"
	}
	if _, err := money.GetAsset(cfg.DefaultCurrency); err != nil {
		return nil, err
	}
	if len(cfg.Tiers) == 0 {
		return nil, errors.New("pricing: at least one series tier required")
	}

	c := &Calculator{cfg: cfg, tiers: make(map[string]Tier, len(cfg.Tiers))}
	for _, t := range cfg.Tiers {
		if t.Days <= 0 || t.Multiplier <= 0 {
			return nil, fmt.Errorf("pricing: tier %q needs positive days and multiplier", t.Period)
		}
		if _, dup := c.tiers[t.Period]; dup {
			return nil, fmt.Errorf("pricing: duplicate tier %q", t.Period)
		}
		c.tiers[t.Period] = t
		c.ordered = append(c.ordered, t)
	}
	sort.SliceStable(c.ordered, func(i, j int) bool { return c.ordered[i].Days < c.ordered[j].Days })

	if cfg.BestValuePeriod != "" {
		if _, ok := c.tiers[cfg.BestValuePeriod]; !ok {
			return nil, fmt.Errorf("%w: best value %q", ErrUnknownPeriod, cfg.BestValuePeriod)
		}
	}
	c.baseline = c.ordered[0]
	if cfg.SavingsBaseline != "" {
		b, ok := c.tiers[cfg.SavingsBaseline]
		if !ok {
			return nil, fmt.Errorf("%w: savings baseline %q", ErrUnknownPeriod, cfg.SavingsBaseline)
		}
		c.baseline = b
	}
	for name, p := range cfg.Plans {
		if p.Amount <= 0 {
			return nil, fmt.Errorf("pricing: plan %q must have a positive amount", name)
		}
	}
	return c, nil
}

// Price quotes a per-title purchase. period is required for series access and
// ignored otherwise.
func (c *Calculator) Price(content catalog.Content, kind access.Kind, period string) (Quote, error) {
	asset, err := c.asset(content.Currency)
	if err != nil {
		return Quote{}, err
	}

	switch kind {
	case access.Watch:
		if v, ok := positive(content.ViewPrice); ok {
			return Quote{Kind: kind, Amount: money.New(asset, v), Savings: money.Zero(asset)}, nil
		}
		if v, ok := positive(content.Price); ok {
			amount, err := money.New(asset, v).MulPercent(c.cfg.WatchFallbackPercent)
			if err != nil {
				return Quote{}, err
			}
			if amount.IsPositive() {
				return Quote{Kind: kind, Amount: amount, Savings: money.Zero(asset)}, nil
			}
		}
		return c.fallback(kind, asset), nil

	case access.Download:
		if v, ok := positive(content.DownloadPrice); ok {
			return Quote{Kind: kind, Amount: money.New(asset, v), Savings: money.Zero(asset)}, nil
		}
		if v, ok := positive(content.Price); ok {
			return Quote{Kind: kind, Amount: money.New(asset, v), Savings: money.Zero(asset)}, nil
		}
		return c.fallback(kind, asset), nil

	case access.SeriesAccess:
		if strings.TrimSpace(period) == "" {
			return Quote{}, ErrMissingPeriod
		}
		tier, ok := c.tiers[period]
		if !ok {
			return Quote{}, fmt.Errorf("%w: %q", ErrUnknownPeriod, period)
		}
		base, fallback := c.seriesBase(content, asset)
		return c.tierQuote(base, tier, fallback)

	case access.SubscriptionUpgrade:
		return Quote{}, fmt.Errorf("%w: use PlanPrice for subscription upgrades", ErrUnsupportedKind)
	}
	return Quote{}, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
}

// SeriesOptions lists a quote for every configured tier, shortest period first.
func (c *Calculator) SeriesOptions(content catalog.Content) ([]Quote, error) {
	asset, err := c.asset(content.Currency)
	if err != nil {
		return nil, err
	}
	base, fallback := c.seriesBase(content, asset)
	quotes := make([]Quote, 0, len(c.ordered))
	for _, tier := range c.ordered {
		q, err := c.tierQuote(base, tier, fallback)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// PlanPrice quotes a subscription upgrade.
func (c *Calculator) PlanPrice(plan string) (Quote, error) {
	p, ok := c.cfg.Plans[plan]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %q", ErrUnknownPlan, plan)
	}
	asset, err := c.asset(p.Currency)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Kind:    access.SubscriptionUpgrade,
		Amount:  money.New(asset, p.Amount),
		Plan:    plan,
		Days:    int(p.Period / (24 * time.Hour)),
		Savings: money.Zero(asset),
	}, nil
}

// PlanPeriod returns how long an upgrade to plan lasts.
func (c *Calculator) PlanPeriod(plan string) (time.Duration, bool) {
	p, ok := c.cfg.Plans[plan]
	return p.Period, ok
}

// Plans lists configured plan names in sorted order.
func (c *Calculator) Plans() []string {
	names := make([]string, 0, len(c.cfg.Plans))
	for name := range c.cfg.Plans {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Calculator) tierQuote(base money.Money, tier Tier, fallback bool) (Quote, error) {
	amount, err := base.Mul(tier.Multiplier)
	if err != nil {
		return Quote{}, err
	}
	savings, err := c.savings(base, tier)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Kind:      access.SeriesAccess,
		Amount:    amount,
		Period:    tier.Period,
		Days:      tier.Days,
		BestValue: tier.Period == c.cfg.BestValuePeriod,
		Savings:   savings,
		Fallback:  fallback,
	}, nil
}

// savings is what covering the tier's duration at the baseline tier's rate
// would cost, minus the tier price. It never goes below zero.
func (c *Calculator) savings(base money.Money, tier Tier) (money.Money, error) {
	if tier.SavingsOverride != nil {
		return base.Mul(*tier.SavingsOverride)
	}
	b := c.baseline
	atBaselineRate, err := base.MulRatio(b.Multiplier*int64(tier.Days), int64(b.Days))
	if err != nil {
		return money.Money{}, err
	}
	price, err := base.Mul(tier.Multiplier)
	if err != nil {
		return money.Money{}, err
	}
	diff, err := atBaselineRate.Sub(price)
	if err != nil {
		return money.Money{}, err
	}
	if diff.Atomic < 0 {
		return money.Zero(base.Asset), nil
	}
	return diff, nil
}

func (c *Calculator) seriesBase(content catalog.Content, asset money.Asset) (money.Money, bool) {
	if v, ok := positive(content.ViewPrice); ok {
		return money.New(asset, v), false
	}
	if v, ok := positive(content.Price); ok {
		return money.New(asset, v), false
	}
	return money.New(asset, c.cfg.FallbackAmount), true
}

func (c *Calculator) fallback(kind access.Kind, asset money.Asset) Quote {
	return Quote{
		Kind:     kind,
		Amount:   money.New(asset, c.cfg.FallbackAmount),
		Savings:  money.Zero(asset),
		Fallback: true,
	}
}

func (c *Calculator) asset(code string) (money.Asset, error) {
	if strings.TrimSpace(code) == "" {
		code = c.cfg.DefaultCurrency
	}
	return money.GetAsset(code)
}

// positive treats absent and non-positive fields alike.
func positive(v *int64) (int64, bool) {
	if v == nil || *v <= 0 {
		return 0, false
	}
	return *v, true
}
