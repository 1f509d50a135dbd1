package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/access"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/entitlements"
	apierrors "github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/errors"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/logger"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/payment"
)

const (
	defaultWait = 25 * time.Second
	maxWait     = 60 * time.Second
)

type createFlowRequest struct {
	ContentID string `json:"contentId"`
}

type selectRequest struct {
	Kind   string `json:"kind"`
	Period string `json:"period"`
	Plan   string `json:"plan"`
}

type confirmRequest struct {
	Phone string `json:"phone"`
}

// flowFor resolves the flow in the URL and checks that it belongs to the
// requesting viewer. Other viewers' flows are reported as missing.
func (h *handlers) flowFor(w http.ResponseWriter, r *http.Request) (*payment.Flow, bool) {
	viewer := viewerFrom(r)
	if viewer.IsGuest() {
		apierrors.WriteFromError(w, payment.ErrSignInRequired)
		return nil, false
	}
	f, err := h.Flows.Get(chi.URLParam(r, "flowID"))
	if err != nil {
		apierrors.WriteFromError(w, err)
		return nil, false
	}
	if f.State().UserID != viewer.UserID {
		apierrors.WriteFromError(w, payment.ErrFlowNotFound)
		return nil, false
	}
	return f, true
}

func (h *handlers) createFlow(w http.ResponseWriter, r *http.Request) {
	var req createFlowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}

	f, err := h.Flows.Create(viewerFrom(r))
	if err != nil {
		apierrors.WriteFromError(w, err)
		return
	}
	if req.ContentID != "" {
		if err := f.LoadContent(r.Context(), req.ContentID); err != nil {
			_ = h.Flows.Remove(f.ID())
			apierrors.WriteFromError(w, err)
			return
		}
	}

	lg := logger.FromContext(r.Context())
	lg.Info().
		Str("flow_id", f.ID()).
		Str("content_id", req.ContentID).
		Msg("flow.created")
	writeJSON(w, http.StatusCreated, f.State())
}

func (h *handlers) getFlow(w http.ResponseWriter, r *http.Request) {
	f, ok := h.flowFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, f.State())
}

func (h *handlers) deleteFlow(w http.ResponseWriter, r *http.Request) {
	f, ok := h.flowFor(w, r)
	if !ok {
		return
	}
	if err := h.Flows.Remove(f.ID()); err != nil {
		apierrors.WriteFromError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) loadContent(w http.ResponseWriter, r *http.Request) {
	f, ok := h.flowFor(w, r)
	if !ok {
		return
	}
	var req createFlowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}
	if err := f.LoadContent(r.Context(), req.ContentID); err != nil {
		apierrors.WriteFromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f.State())
}

func (h *handlers) selectOption(w http.ResponseWriter, r *http.Request) {
	f, ok := h.flowFor(w, r)
	if !ok {
		return
	}
	var req selectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}
	sel := payment.Selection{Kind: access.Kind(req.Kind), Period: req.Period, Plan: req.Plan}
	if err := f.Select(sel); err != nil {
		apierrors.WriteFromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f.State())
}

func (h *handlers) back(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, (*payment.Flow).Back)
}

func (h *handlers) retry(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, (*payment.Flow).Retry)
}

func (h *handlers) abandon(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, (*payment.Flow).Abandon)
}

func (h *handlers) step(w http.ResponseWriter, r *http.Request, op func(*payment.Flow) error) {
	f, ok := h.flowFor(w, r)
	if !ok {
		return
	}
	if err := op(f); err != nil {
		apierrors.WriteFromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f.State())
}

// confirm submits the charge. Gateway outcomes are part of the returned
// state; only local validation and step errors are HTTP errors.
func (h *handlers) confirm(w http.ResponseWriter, r *http.Request) {
	f, ok := h.flowFor(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}

	// A dropped connection must not abort a charge the gateway may already hold.
	if err := f.Confirm(context.WithoutCancel(r.Context()), req.Phone); err != nil {
		apierrors.WriteFromError(w, err)
		return
	}

	st := f.State()
	status := http.StatusOK
	if st.Step == payment.StepAwaitingGateway {
		status = http.StatusAccepted
	}
	writeJSON(w, status, st)
}

// waitFlow long-polls until the flow reaches SUCCEEDED or FAILED. On timeout
// the current state is returned.
func (h *handlers) waitFlow(w http.ResponseWriter, r *http.Request) {
	f, ok := h.flowFor(w, r)
	if !ok {
		return
	}

	wait := defaultWait
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "timeout must be a positive duration such as 30s")
			return
		}
		wait = min(d, maxWait)
	}

	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()
	st, err := f.Wait(ctx)
	switch {
	case err == nil, errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusOK, st)
	case errors.Is(err, context.Canceled):
		// Client went away.
	default:
		apierrors.WriteFromError(w, err)
	}
}

func (h *handlers) refreshEntitlements(w http.ResponseWriter, r *http.Request) {
	viewer := viewerFrom(r)
	if viewer.IsGuest() {
		apierrors.WriteFromError(w, payment.ErrSignInRequired)
		return
	}
	err := h.Resolver.Refresh(r.Context(), viewer.UserID)
	switch {
	case err == nil:
	case errors.Is(err, entitlements.ErrNoSource):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeServiceUnavail, "entitlement refresh is not configured")
		return
	default:
		lg := logger.FromContext(r.Context())
		lg.Warn().Err(err).Msg("entitlements.refresh_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeGatewayError, "could not reach the transaction store")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"refreshed":  true,
		"serverTime": h.Resolver.ServerNow(),
	})
}
