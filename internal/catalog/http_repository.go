package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/circuitbreaker"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/httputil"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/metrics"
)

// HTTPRepository reads titles from the catalog service (GET /contents/{id}).
type HTTPRepository struct {
	baseURL  string
	client   *http.Client
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
}

// NewHTTPRepository creates a catalog client rooted at baseURL.
func NewHTTPRepository(baseURL string, opts Options) *HTTPRepository {
	client := opts.HTTPClient
	if client == nil {
		client = httputil.NewClient(10 * time.Second)
	}
	return &HTTPRepository{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		client:   client,
		breakers: opts.Breakers,
		metrics:  opts.Metrics,
	}
}

// wireContent accepts both the catalog's Mongo-style "_id" and plain "id".
type wireContent struct {
	ID            string   `json:"id"`
	MongoID       string   `json:"_id"`
	Title         string   `json:"title"`
	ContentType   string   `json:"contentType"`
	Type          string   `json:"type"`
	Price         *float64 `json:"price"`
	ViewPrice     *float64 `json:"viewPrice"`
	DownloadPrice *float64 `json:"downloadPrice"`
	Currency      string   `json:"currency"`
	TotalEpisodes int      `json:"totalEpisodes"`
	TrailerID     string   `json:"trailerId"`
}

// GetContent implements Repository.
func (r *HTTPRepository) GetContent(ctx context.Context, id string) (content Content, err error) {
	start := time.Now()
	defer func() { observe(r.metrics, "catalog_get_content", start, err) }()

	endpoint := r.baseURL + "/contents/" + url.PathEscape(id)
	result, err := r.breakers.Execute(circuitbreaker.ServiceCatalog, func() (interface{}, error) {
		return r.fetch(ctx, endpoint)
	})
	if err != nil {
		return Content{}, err
	}
	wire, ok := result.(*wireContent)
	if !ok || wire == nil {
		return Content{}, ErrContentNotFound
	}
	return wire.toContent(id), nil
}

func (r *HTTPRepository) fetch(ctx context.Context, endpoint string) (*wireContent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: request failed: %w", err)
	}
	defer resp.Body.Close()

	// A missing title is an answer, not a service failure; keep it out of the breaker counts.
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("catalog: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var envelope struct {
		Data *wireContent `json:"data"`
		wireContent
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("catalog: decode response: %w", err)
	}
	if envelope.Data != nil {
		return envelope.Data, nil
	}
	return &envelope.wireContent, nil
}

func (w *wireContent) toContent(requestedID string) Content {
	id := w.ID
	if id == "" {
		id = w.MongoID
	}
	if id == "" {
		id = requestedID
	}
	kind := w.ContentType
	if kind == "" {
		kind = w.Type
	}
	ct := TypeMovie
	if strings.EqualFold(kind, string(TypeSeries)) {
		ct = TypeSeries
	}
	return Content{
		ID:            id,
		Title:         w.Title,
		Type:          ct,
		Price:         toAtomic(w.Price),
		ViewPrice:     toAtomic(w.ViewPrice),
		DownloadPrice: toAtomic(w.DownloadPrice),
		Currency:      strings.ToUpper(w.Currency),
		TotalEpisodes: w.TotalEpisodes,
		TrailerID:     w.TrailerID,
	}
}

// toAtomic rounds catalog prices, which are published in whole currency units
// for RWF, to int64. Fractional values round half-up.
func toAtomic(v *float64) *int64 {
	if v == nil {
		return nil
	}
	return int64Ptr(int64(*v + 0.5))
}
