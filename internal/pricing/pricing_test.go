package pricing

import (
	"errors"
	"testing"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/access"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/catalog"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/config"
)

func ptr(v int64) *int64 { return &v }

func newCalc(t *testing.T) *Calculator {
	t.Helper()
	c, err := NewCalculator(DefaultConfig())
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	return c
}

func TestPriceWatch(t *testing.T) {
	calc := newCalc(t)

	tests := []struct {
		name         string
		content      catalog.Content
		want         int64
		wantFallback bool
	}{
		{"view price wins", catalog.Content{ViewPrice: ptr(700), Price: ptr(2000)}, 700, false},
		{"80 percent of price", catalog.Content{Price: ptr(2000)}, 1600, false},
		{"rounds half up", catalog.Content{Price: ptr(1003)}, 802, false},
		{"zero view price is absent", catalog.Content{ViewPrice: ptr(0), Price: ptr(1000)}, 800, false},
		{"no pricing fields", catalog.Content{}, 500, true},
		{"negative price is absent", catalog.Content{Price: ptr(-10)}, 500, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := calc.Price(tt.content, access.Watch, "")
			if err != nil {
				t.Fatalf("Price: %v", err)
			}
			if q.Amount.Atomic != tt.want {
				t.Errorf("amount = %d, want %d", q.Amount.Atomic, tt.want)
			}
			if q.Fallback != tt.wantFallback {
				t.Errorf("fallback = %v, want %v", q.Fallback, tt.wantFallback)
			}
			if q.Amount.Asset.Code != "RWF" {
				t.Errorf("currency = %s, want RWF", q.Amount.Asset.Code)
			}
		})
	}
}

func TestPriceDownload(t *testing.T) {
	calc := newCalc(t)

	tests := []struct {
		name    string
		content catalog.Content
		want    int64
	}{
		{"download price", catalog.Content{DownloadPrice: ptr(2500), Price: ptr(2000)}, 2500},
		{"falls back to price", catalog.Content{Price: ptr(2000), ViewPrice: ptr(300)}, 2000},
		{"fallback amount", catalog.Content{ViewPrice: ptr(300)}, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := calc.Price(tt.content, access.Download, "")
			if err != nil {
				t.Fatalf("Price: %v", err)
			}
			if q.Amount.Atomic != tt.want {
				t.Errorf("amount = %d, want %d", q.Amount.Atomic, tt.want)
			}
		})
	}
}

func TestPriceSeries(t *testing.T) {
	calc := newCalc(t)
	series := catalog.Content{Type: catalog.TypeSeries, ViewPrice: ptr(1000)}

	tests := []struct {
		period    string
		amount    int64
		savings   int64
		bestValue bool
	}{
		{"24h", 1000, 0, false},
		{"7d", 2000, 5000, false},
		{"30d", 3000, 27000, true},
		{"90d", 5000, 85000, false},
		{"365d", 8000, 357000, false},
	}
	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			q, err := calc.Price(series, access.SeriesAccess, tt.period)
			if err != nil {
				t.Fatalf("Price: %v", err)
			}
			if q.Amount.Atomic != tt.amount {
				t.Errorf("amount = %d, want %d", q.Amount.Atomic, tt.amount)
			}
			if q.Savings.Atomic != tt.savings {
				t.Errorf("savings = %d, want %d", q.Savings.Atomic, tt.savings)
			}
			if q.BestValue != tt.bestValue {
				t.Errorf("bestValue = %v, want %v", q.BestValue, tt.bestValue)
			}
			if q.Period != tt.period {
				t.Errorf("period = %q, want %q", q.Period, tt.period)
			}
		})
	}
}

func TestPriceSeriesBaseFallbacks(t *testing.T) {
	calc := newCalc(t)

	q, err := calc.Price(catalog.Content{Type: catalog.TypeSeries, Price: ptr(400)}, access.SeriesAccess, "7d")
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if q.Amount.Atomic != 800 || q.Fallback {
		t.Errorf("price base: got %d fallback=%v, want 800 false", q.Amount.Atomic, q.Fallback)
	}

	q, err = calc.Price(catalog.Content{Type: catalog.TypeSeries}, access.SeriesAccess, "30d")
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if q.Amount.Atomic != 1500 || !q.Fallback {
		t.Errorf("fallback base: got %d fallback=%v, want 1500 true", q.Amount.Atomic, q.Fallback)
	}
}

func TestPriceSeriesErrors(t *testing.T) {
	calc := newCalc(t)
	series := catalog.Content{Type: catalog.TypeSeries, ViewPrice: ptr(1000)}

	if _, err := calc.Price(series, access.SeriesAccess, ""); !errors.Is(err, ErrMissingPeriod) {
		t.Errorf("missing period: got %v", err)
	}
	if _, err := calc.Price(series, access.SeriesAccess, "14d"); !errors.Is(err, ErrUnknownPeriod) {
		t.Errorf("unknown period: got %v", err)
	}
	if _, err := calc.Price(series, access.SubscriptionUpgrade, ""); !errors.Is(err, ErrUnsupportedKind) {
		t.Errorf("upgrade via Price: got %v", err)
	}
	if _, err := calc.Price(catalog.Content{Currency: "XYZ"}, access.Watch, ""); err == nil {
		t.Error("expected error for unknown currency")
	}
}

func TestPriceIsDeterministic(t *testing.T) {
	calc := newCalc(t)
	content := catalog.Content{Price: ptr(1234), Currency: "rwf"}
	first, err := calc.Price(content, access.Watch, "")
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, _ := calc.Price(content, access.Watch, "")
		if !again.Amount.Equal(first.Amount) {
			t.Fatalf("iteration %d: %s != %s", i, again.Amount, first.Amount)
		}
	}
}

func TestSavingsOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tiers[2].SavingsOverride = ptr(2)
	calc, err := NewCalculator(cfg)
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	q, err := calc.Price(catalog.Content{ViewPrice: ptr(1000)}, access.SeriesAccess, "30d")
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if q.Savings.Atomic != 2000 {
		t.Errorf("savings = %d, want 2000", q.Savings.Atomic)
	}
}

func TestSavingsNeverNegative(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tiers = []Tier{
		{Period: "24h", Days: 1, Multiplier: 1},
		{Period: "7d", Days: 7, Multiplier: 10},
	}
	cfg.BestValuePeriod = ""
	calc, err := NewCalculator(cfg)
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	q, err := calc.Price(catalog.Content{ViewPrice: ptr(100)}, access.SeriesAccess, "7d")
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !q.Savings.IsZero() {
		t.Errorf("savings = %s, want zero", q.Savings)
	}
}

func TestSeriesOptions(t *testing.T) {
	calc := newCalc(t)
	quotes, err := calc.SeriesOptions(catalog.Content{Type: catalog.TypeSeries, ViewPrice: ptr(1000)})
	if err != nil {
		t.Fatalf("SeriesOptions: %v", err)
	}
	if len(quotes) != 5 {
		t.Fatalf("len = %d, want 5", len(quotes))
	}
	best := 0
	for i, q := range quotes {
		if i > 0 && quotes[i-1].Days >= q.Days {
			t.Errorf("quotes not ordered by days at %d", i)
		}
		if q.BestValue {
			best++
		}
	}
	if best != 1 {
		t.Errorf("best value count = %d, want 1", best)
	}
}

func TestPlanPrice(t *testing.T) {
	calc := newCalc(t)
	q, err := calc.PlanPrice("premium")
	if err != nil {
		t.Fatalf("PlanPrice: %v", err)
	}
	if q.Amount.Atomic != 5000 || q.Kind != access.SubscriptionUpgrade || q.Days != 30 {
		t.Errorf("unexpected quote %+v", q)
	}
	if _, err := calc.PlanPrice("gold"); !errors.Is(err, ErrUnknownPlan) {
		t.Errorf("unknown plan: got %v", err)
	}
	if got := calc.Plans(); len(got) != 1 || got[0] != "premium" {
		t.Errorf("Plans() = %v", got)
	}
}

func TestNewCalculatorRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero fallback", func(c *Config) { c.FallbackAmount = 0 }},
		{"percent above 100", func(c *Config) { c.WatchFallbackPercent = 120 }},
		{"no tiers", func(c *Config) { c.Tiers = nil }},
		{"duplicate tier", func(c *Config) { c.Tiers = append(c.Tiers, Tier{Period: "7d", Days: 7, Multiplier: 2}) }},
		{"unknown best value", func(c *Config) { c.BestValuePeriod = "14d" }},
		{"unknown currency", func(c *Config) { c.DefaultCurrency = "XYZ" }},
		{"free plan", func(c *Config) { c.Plans["free"] = Plan{Amount: 0} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if _, err := NewCalculator(cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestConfigFromApp(t *testing.T) {
	cfg := ConfigFromApp(config.PricingConfig{
		DefaultCurrency:      "RWF",
		WatchFallbackPercent: 80,
		FallbackAmount:       500,
		SeriesTiers:          []config.SeriesTierConfig{{Period: "24h", Days: 1, Multiplier: 1}},
		SavingsBaseline:      "24h",
		Plans:                map[string]config.PlanConfig{"premium": {Amount: 5000, Currency: "RWF"}},
	})
	calc, err := NewCalculator(cfg)
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	if _, err := calc.PlanPrice("premium"); err != nil {
		t.Errorf("PlanPrice: %v", err)
	}
}
