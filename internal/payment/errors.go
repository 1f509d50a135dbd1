package payment

import (
	apierrors "github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/errors"
)

// sentinel is a coded error usable with errors.Is.
type sentinel struct {
	code apierrors.ErrorCode
	msg  string
}

func (e *sentinel) Error() string                  { return e.msg }
func (e *sentinel) ErrorCode() apierrors.ErrorCode { return e.code }

var (
	// ErrIllegalTransition is returned for an operation the current step does not allow.
	ErrIllegalTransition error = &sentinel{apierrors.ErrCodeIllegalTransition, "payment: illegal step transition"}
	// ErrSubmissionInFlight rejects a second confirmation while one is being processed.
	ErrSubmissionInFlight error = &sentinel{apierrors.ErrCodeSubmissionInFlight, "payment: a submission is already in flight"}
	// ErrContentNotLoaded is returned by Select before LoadContent succeeded.
	ErrContentNotLoaded error = &sentinel{apierrors.ErrCodeValidationFailed, "payment: content metadata not loaded"}
	// ErrFlowClosed is returned by every operation after Close.
	ErrFlowClosed error = &sentinel{apierrors.ErrCodeFlowNotFound, "payment: flow closed"}
	// ErrFlowNotFound is returned by the Registry for unknown flow ids.
	ErrFlowNotFound error = &sentinel{apierrors.ErrCodeFlowNotFound, "payment: flow not found"}
	// ErrStaleUpdate is returned when a confirmation names a transaction the
	// flow is not tracking.
	ErrStaleUpdate error = &sentinel{apierrors.ErrCodeTransactionNotFound, "payment: update does not match the current transaction"}
	// ErrSignInRequired rejects purchase flows for guests.
	ErrSignInRequired error = &sentinel{apierrors.ErrCodeSignInRequired, "payment: sign in to purchase"}
)

// FlowError is the failure shown to the viewer. Validation errors leave the
// flow where it was; every other code is terminal.
type FlowError struct {
	Code   apierrors.ErrorCode `json:"code"`
	Reason string              `json:"reason"`
	Field  string              `json:"field,omitempty"`
}

func (e *FlowError) Error() string {
	return "payment: " + string(e.Code) + ": " + e.Reason
}

// ErrorCode implements apierrors.Coded.
func (e *FlowError) ErrorCode() apierrors.ErrorCode {
	return e.Code
}

// Retryable reports whether the same request may simply be tried again.
func (e *FlowError) Retryable() bool {
	return e.Code.IsRetryable()
}

func validationError(code apierrors.ErrorCode, field, reason string) *FlowError {
	return &FlowError{Code: code, Field: field, Reason: reason}
}

// Failure reasons. The two verification timeouts are worded differently from
// a decline so the viewer checks their phone before paying again.
const (
	reasonDeclined      = "the payment was declined"
	reasonPollTimeout   = "the payment was not confirmed in time; check your phone or contact support with your reference"
	reasonLookupFailure = "we could not reach the payment service to verify your payment; check your phone or contact support with your reference"
	reasonUnreachable   = "the payment service could not be reached"
)
