package httpserver

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/access"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/catalog"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/entitlements"
	apierrors "github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/errors"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/logger"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/pricing"
)

type quotesResponse struct {
	ContentID string          `json:"contentId"`
	Title     string          `json:"title,omitempty"`
	Free      bool            `json:"free"`
	Quotes    []pricing.Quote `json:"quotes"`
}

// authorize answers "may this viewer do action on the title" with a route
// hint for the player.
func (h *handlers) authorize(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("action")
	if raw == "" {
		raw = string(entitlements.ActionStream)
	}
	action, err := entitlements.ParseAction(raw)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "action must be trailer, stream, download or browseSeries")
		return
	}

	d, err := h.Resolver.Authorize(r.Context(), viewerFrom(r), chi.URLParam(r, "contentID"), action)
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// contentQuotes lists the purchase options of a title: the series tiers for
// a series, watch and download for a movie.
func (h *handlers) contentQuotes(w http.ResponseWriter, r *http.Request) {
	content, err := h.Catalog.GetContent(r.Context(), chi.URLParam(r, "contentID"))
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}

	resp := quotesResponse{ContentID: content.ID, Title: content.Title, Quotes: []pricing.Quote{}}
	if content.IsFree() {
		resp.Free = true
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if content.IsSeries() {
		resp.Quotes, err = h.Pricing.SeriesOptions(content)
	} else {
		for _, kind := range []access.Kind{access.Watch, access.Download} {
			var q pricing.Quote
			if q, err = h.Pricing.Price(content, kind, ""); err != nil {
				break
			}
			resp.Quotes = append(resp.Quotes, q)
		}
	}
	if err != nil {
		lg := logger.FromContext(r.Context())
		lg.Error().Err(err).Str("content_id", content.ID).Msg("pricing.quote_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidAmount, "this title cannot be priced")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) planQuotes(w http.ResponseWriter, r *http.Request) {
	plans := h.Pricing.Plans()
	quotes := make([]pricing.Quote, 0, len(plans))
	for _, name := range plans {
		q, err := h.Pricing.PlanPrice(name)
		if err != nil {
			continue
		}
		quotes = append(quotes, q)
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": quotes})
}

func (h *handlers) writeCatalogError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrContentNotFound):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeContentNotFound, "content not found")
	case errors.Is(err, entitlements.ErrNotSeries):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "this title is not a series")
	default:
		lg := logger.FromContext(r.Context())
		lg.Error().Err(err).Msg("catalog.lookup_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeCatalogError, "could not load the title")
	}
}
