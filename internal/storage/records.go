package storage

import (
	"errors"
	"time"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/access"
)

// TransactionRecord is the durable copy of one purchase attempt.
type TransactionRecord struct {
	ID             string               `json:"id" bson:"_id"`
	UserID         string               `json:"userId" bson:"user_id"`
	ContentID      string               `json:"contentId" bson:"content_id"`
	Kind           access.Kind          `json:"kind" bson:"kind"`
	Amount         int64                `json:"amount" bson:"amount"`
	Currency       string               `json:"currency" bson:"currency"`
	Period         string               `json:"period,omitempty" bson:"period,omitempty"`
	Plan           string               `json:"plan,omitempty" bson:"plan,omitempty"`
	PayerPhone     string               `json:"payerPhone" bson:"payer_phone"`
	Status         access.GatewayStatus `json:"status" bson:"status"`
	Step           string               `json:"step" bson:"step"`
	PollAttempts   int                  `json:"pollAttempts" bson:"poll_attempts"`
	Reason         string               `json:"reason,omitempty" bson:"reason,omitempty"`
	IdempotencyKey string               `json:"idempotencyKey,omitempty" bson:"idempotency_key,omitempty"`
	CreatedAt      time.Time            `json:"createdAt" bson:"created_at"`
	UpdatedAt      time.Time            `json:"updatedAt" bson:"updated_at"`
	SettledAt      *time.Time           `json:"settledAt,omitempty" bson:"settled_at,omitempty"`
}

// Succeeded reports whether the gateway confirmed the debit.
func (r TransactionRecord) Succeeded() bool {
	return r.Status == access.StatusSuccessful
}

// ErrSettled is returned when an update would change the outcome of a
// transaction the gateway has already settled.
var ErrSettled = errors.New("storage: transaction already settled")

func validateTransaction(rec *TransactionRecord, now time.Time) error {
	if rec.ID == "" {
		return errors.New("storage: transaction requires id")
	}
	if rec.UserID == "" {
		return errors.New("storage: transaction requires user id")
	}
	if rec.Status == "" {
		rec.Status = access.StatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status.Terminal() && rec.SettledAt == nil {
		settled := now
		rec.SettledAt = &settled
	}
	return nil
}

// checkTransition rejects updates that change a settled outcome.
func checkTransition(existing, incoming TransactionRecord) error {
	if existing.Status.Terminal() && incoming.Status != existing.Status {
		return ErrSettled
	}
	return nil
}

func validateEntitlement(ent *access.Entitlement, now time.Time) error {
	if ent.UserID == "" || ent.ContentID == "" {
		return errors.New("storage: entitlement requires user and content id")
	}
	if !ent.Kind.Valid() {
		return errors.New("storage: entitlement requires a valid kind")
	}
	if ent.GrantedAt.IsZero() {
		ent.GrantedAt = now
	}
	return nil
}

// mergeEntitlement keeps the more generous of two grants for the same
// (user, content, kind). A permanent grant always wins.
func mergeEntitlement(existing, incoming access.Entitlement) access.Entitlement {
	out := incoming
	switch {
	case existing.ExpiresAt == nil || incoming.ExpiresAt == nil:
		out.ExpiresAt = nil
	case existing.ExpiresAt.After(*incoming.ExpiresAt):
		out.ExpiresAt = existing.ExpiresAt
		out.GrantedAt = existing.GrantedAt
		out.TransactionID = existing.TransactionID
	}
	return out
}

type entitlementKey struct {
	userID    string
	contentID string
	kind      access.Kind
}

func keyOf(e access.Entitlement) entitlementKey {
	return entitlementKey{userID: e.UserID, contentID: e.ContentID, kind: e.Kind}
}
