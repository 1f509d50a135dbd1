package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/circuitbreaker"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/config"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/metrics"
)

// ErrContentNotFound is returned when a title doesn't exist.
var ErrContentNotFound = errors.New("content not found")

// ContentType distinguishes single titles from episodic series.
type ContentType string

const (
	TypeMovie  ContentType = "movie"
	TypeSeries ContentType = "series"
)

// Content is the pricing metadata the purchase flow needs for a title.
// Amounts are in the currency's smallest unit; nil means the field is absent.
type Content struct {
	ID            string      `json:"id"`
	Title         string      `json:"title,omitempty"`
	Type          ContentType `json:"contentType"`
	Price         *int64      `json:"price,omitempty"`
	ViewPrice     *int64      `json:"viewPrice,omitempty"`
	DownloadPrice *int64      `json:"downloadPrice,omitempty"`
	Currency      string      `json:"currency,omitempty"`
	TotalEpisodes int         `json:"totalEpisodes,omitempty"`
	TrailerID     string      `json:"trailerId,omitempty"`
}

// IsSeries reports whether the title is episodic.
func (c Content) IsSeries() bool {
	return c.Type == TypeSeries
}

// Clone returns a copy that shares no pointers with c.
func (c Content) Clone() Content {
	out := c
	out.Price = copyPtr(c.Price)
	out.ViewPrice = copyPtr(c.ViewPrice)
	out.DownloadPrice = copyPtr(c.DownloadPrice)
	return out
}

// IsFree reports whether the title carries an explicit zero price on every
// pricing field. Absent fields do not make a title free.
func (c Content) IsFree() bool {
	fields := []*int64{c.Price, c.ViewPrice, c.DownloadPrice}
	seen := false
	for _, f := range fields {
		if f == nil {
			continue
		}
		if *f > 0 {
			return false
		}
		seen = true
	}
	return seen
}

// Repository looks up content metadata.
type Repository interface {
	// GetContent returns ErrContentNotFound for unknown ids.
	GetContent(ctx context.Context, id string) (Content, error)
}

// Options carries the shared collaborators for repositories that call out.
type Options struct {
	HTTPClient *http.Client
	Breakers   *circuitbreaker.Manager
	Metrics    *metrics.Metrics
}

// NewRepository creates a content repository based on config with optional caching.
func NewRepository(cfg config.CatalogConfig, opts Options) (Repository, error) {
	var underlying Repository

	switch cfg.Source {
	case "", "http":
		if cfg.BaseURL == "" {
			return nil, errors.New("catalog.base_url required when source is 'http'")
		}
		underlying = NewHTTPRepository(cfg.BaseURL, opts)
	case "yaml":
		underlying = NewYAMLRepository(cfg.Contents)
	default:
		return nil, fmt.Errorf("unknown catalog source: %s", cfg.Source)
	}

	if cfg.CacheTTL.Duration > 0 {
		return NewCachedRepository(underlying, cfg.CacheTTL.Duration), nil
	}
	return underlying, nil
}

func int64Ptr(v int64) *int64 {
	return &v
}

// observe records a catalog call when metrics are configured.
func observe(m *metrics.Metrics, op string, start time.Time, err error) {
	if errors.Is(err, ErrContentNotFound) {
		err = nil
	}
	m.ObserveGatewayCall(op, time.Since(start), err)
}
