package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/access"
	apierrors "github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/errors"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/gateway"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/logger"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/payment"
)

// gatewayEvent is the webhook body. Status stays a string so provider
// spellings can be normalised.
type gatewayEvent struct {
	TransactionID string    `json:"transactionId"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason"`
	EventID       string    `json:"eventId"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// gatewayWebhook receives signed status confirmations from the Transaction
// Store. Updates for unknown transactions are acknowledged so the sender
// stops retrying; processing failures return 5xx so it retries.
func (h *handlers) gatewayWebhook(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	secret := h.cfg.Gateway.WebhookSecret
	if secret == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeServiceUnavail, "webhook secret not configured")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "unable to read body")
		return
	}

	if !gateway.VerifySignature(body, r.Header.Get(gateway.SignatureHeader), secret) {
		h.Metrics.ObserveWebhook("rejected")
		log.Warn().Msg("webhook.invalid_signature")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidSignature, "invalid signature")
		return
	}

	var evt gatewayEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid JSON body")
		return
	}
	if evt.TransactionID == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "transactionId is required")
		return
	}
	status, err := access.ParseGatewayStatus(evt.Status)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}

	update := gateway.StatusUpdate{
		TransactionID: evt.TransactionID,
		Status:        status,
		Reason:        evt.Reason,
		EventID:       evt.EventID,
		OccurredAt:    evt.OccurredAt,
	}

	err = h.Flows.HandleGatewayUpdate(r.Context(), update)
	switch {
	case err == nil:
		h.Metrics.ObserveWebhook("applied")
		log.Info().
			Str("transaction_id", update.TransactionID).
			Str("status", string(update.Status)).
			Str("event_id", update.EventID).
			Msg("webhook.applied")
		writeJSON(w, http.StatusOK, map[string]any{"applied": true, "eventId": update.EventID})
	case errors.Is(err, payment.ErrStaleUpdate):
		h.Metrics.ObserveWebhook("ignored")
		log.Info().Str("transaction_id", update.TransactionID).Msg("webhook.ignored")
		writeJSON(w, http.StatusOK, map[string]any{"applied": false, "eventId": update.EventID})
	default:
		h.Metrics.ObserveWebhook("failed")
		log.Error().Err(err).Str("transaction_id", update.TransactionID).Msg("webhook.failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "failed to apply update")
	}
}
