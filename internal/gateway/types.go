// Package gateway is the client for the Transaction Store, the backend that
// executes mobile-money debits and reports their settlement.
package gateway

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/access"
)

// ErrNotFound is returned when the Transaction Store has no such transaction.
var ErrNotFound = errors.New("gateway: transaction not found")

// SubmitRequest is the charge request sent to the Transaction Store.
type SubmitRequest struct {
	UserID      string      `json:"userId"`
	ContentID   string      `json:"contentId,omitempty"`
	Kind        access.Kind `json:"paymentType"`
	Amount      int64       `json:"amount"`
	Currency    string      `json:"currency"`
	PhoneNumber string      `json:"phoneNumber"`
	Period      string      `json:"accessPeriod,omitempty"`
	Plan        string      `json:"plan,omitempty"`
}

// SubmitResult is the store's answer to a charge request.
type SubmitResult struct {
	TransactionID string
	Status        access.GatewayStatus
	Message       string
}

// StatusResult is the answer to a status lookup.
type StatusResult struct {
	Status access.GatewayStatus
	Reason string
}

// TransactionDetails carries settlement details and the secure media URLs
// issued once a transaction succeeds.
type TransactionDetails struct {
	TransactionID      string
	UserID             string
	ContentID          string
	Kind               access.Kind
	Amount             int64
	Currency           string
	Period             string
	SecureStreamingURL string
	SecureDownloadURL  string
	PaymentStatus      access.GatewayStatus
	CreatedAt          time.Time
	SettledAt          *time.Time
}

// EntitlementSnapshot is a user's current grants as the store sees them,
// stamped with the store's clock.
type EntitlementSnapshot struct {
	ServerTime   time.Time
	Entitlements []access.Entitlement
}

// StatusUpdate is a confirmation delivered independently of polling
// (a signed webhook from the Transaction Store).
type StatusUpdate struct {
	TransactionID string               `json:"transactionId"`
	Status        access.GatewayStatus `json:"status"`
	Reason        string               `json:"reason,omitempty"`
	EventID       string               `json:"eventId,omitempty"`
	OccurredAt    time.Time            `json:"occurredAt,omitempty"`
}

// Error is a request the Transaction Store answered but refused.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	Field      string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway: %s (status %d, code %s)", e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("gateway: %s (status %d)", e.Message, e.StatusCode)
}

// UserCorrectable reports whether the viewer can fix the request and resubmit,
// e.g. a phone number the provider does not recognise.
func (e *Error) UserCorrectable() bool {
	if strings.EqualFold(e.Field, "phone") || strings.EqualFold(e.Field, "phoneNumber") {
		return true
	}
	switch strings.ToLower(e.Code) {
	case "invalid_phone", "invalid_msisdn", "unregistered_number":
		return true
	}
	return false
}

// Reason is the message shown to the viewer.
func (e *Error) Reason() string {
	if e.Message != "" {
		return e.Message
	}
	return "payment request was rejected"
}
