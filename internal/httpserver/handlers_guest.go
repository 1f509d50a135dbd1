package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/errors"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/guest"
)

type startSessionRequest struct {
	Scope     string `json:"scope"` // trial or trailer
	TrailerID string `json:"trailerId"`
	Playing   bool   `json:"playing"`
}

type playingRequest struct {
	Playing bool `json:"playing"`
}

type sessionResponse struct {
	SessionID string `json:"sessionId"`
	guest.Session
}

func (h *handlers) startGuestSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}
	isGuest := viewerFrom(r).IsGuest()

	var (
		id string
		c  *guest.Countdown
	)
	switch guest.Scope(req.Scope) {
	case guest.ScopeTrial, "":
		id, c = h.Guests.StartTrial(isGuest, req.Playing)
	case guest.ScopeTrailer:
		if req.TrailerID == "" {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "trailerId is required")
			return
		}
		if !isGuest {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeValidationFailed, "trailer previews are only metered for guests")
			return
		}
		id, c = h.Guests.StartTrailerPreview(req.TrailerID, req.Playing)
	default:
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "scope must be trial or trailer")
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{SessionID: id, Session: c.Snapshot()})
}

func (h *handlers) guestSession(w http.ResponseWriter, r *http.Request) (string, *guest.Countdown, bool) {
	id := chi.URLParam(r, "sessionID")
	c, err := h.Guests.Get(id)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeSessionNotFound, "guest session not found")
		return "", nil, false
	}
	return id, c, true
}

func (h *handlers) getGuestSession(w http.ResponseWriter, r *http.Request) {
	id, c, ok := h.guestSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: id, Session: c.Snapshot()})
}

// setGuestPlaying pauses or resumes metering. A viewer who signed in since
// the session started stops being metered.
func (h *handlers) setGuestPlaying(w http.ResponseWriter, r *http.Request) {
	id, c, ok := h.guestSession(w, r)
	if !ok {
		return
	}
	var req playingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}
	if !viewerFrom(r).IsGuest() {
		c.SetGuest(false)
	}
	c.SetPlaying(req.Playing)
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: id, Session: c.Snapshot()})
}

func (h *handlers) resetGuestSession(w http.ResponseWriter, r *http.Request) {
	id, c, ok := h.guestSession(w, r)
	if !ok {
		return
	}
	c.Reset()
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: id, Session: c.Snapshot()})
}

func (h *handlers) stopGuestSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Guests.Remove(chi.URLParam(r, "sessionID")); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeSessionNotFound, "guest session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
