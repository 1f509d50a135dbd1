package errors

// ErrorCode represents a machine-readable error identifier for frontend error handling.
type ErrorCode string

// Validation Errors (recovered locally, the viewer is re-prompted)
const (
	ErrCodeValidationFailed ErrorCode = "validation_failed"
	ErrCodeInvalidPhone     ErrorCode = "invalid_phone"
	ErrCodeMissingSelection ErrorCode = "missing_selection"
	ErrCodeMissingField     ErrorCode = "missing_field"
	ErrCodeInvalidField     ErrorCode = "invalid_field"
	ErrCodeInvalidAmount    ErrorCode = "invalid_amount"
)

// Payment lifecycle errors
const (
	// Transaction Store refused the charge request
	ErrCodeSubmissionRejected ErrorCode = "submission_rejected"
	// Gateway reported FAILED for the transaction
	ErrCodeGatewayDeclined ErrorCode = "gateway_declined"
	// Poll budget exhausted without a terminal gateway status
	ErrCodeVerificationTimeout ErrorCode = "verification_timeout"
	// Status lookup could not reach the Transaction Store
	ErrCodeTransientLookup ErrorCode = "transient_lookup"

	ErrCodeSubmissionInFlight ErrorCode = "submission_in_flight"
	ErrCodeIllegalTransition  ErrorCode = "illegal_transition"
	ErrCodeInvalidSignature   ErrorCode = "invalid_signature"
)

// Resource/State Errors (Resource not found or in wrong state)
const (
	ErrCodeContentNotFound     ErrorCode = "content_not_found"
	ErrCodeTransactionNotFound ErrorCode = "transaction_not_found"
	ErrCodeFlowNotFound        ErrorCode = "flow_not_found"
	ErrCodeSessionNotFound     ErrorCode = "session_not_found"
	ErrCodeSignInRequired      ErrorCode = "sign_in_required"
	ErrCodePurchaseRequired    ErrorCode = "purchase_required"
)

// External Service Errors (gateway, catalog)
const (
	ErrCodeGatewayError   ErrorCode = "gateway_error"
	ErrCodeCatalogError   ErrorCode = "catalog_error"
	ErrCodeNetworkError   ErrorCode = "network_error"
	ErrCodeServiceUnavail ErrorCode = "service_unavailable"
)

// Internal/System Errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeDatabaseError ErrorCode = "database_error"
	ErrCodeConfigError   ErrorCode = "config_error"
)

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors are typically transient network/service issues, not validation failures.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeTransientLookup,
		ErrCodeNetworkError,
		ErrCodeGatewayError,
		ErrCodeCatalogError,
		ErrCodeServiceUnavail,
		ErrCodeSubmissionInFlight:
		return true

	// A timed-out verification is not retried automatically: the debit may
	// still settle, so the viewer is told to check their phone first.
	default:
		return false
	}
}

// IsValidation reports whether the code keeps the purchase flow in CONFIRMING.
func (e ErrorCode) IsValidation() bool {
	switch e {
	case ErrCodeValidationFailed,
		ErrCodeInvalidPhone,
		ErrCodeMissingSelection,
		ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidAmount:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - Client validation errors
	case ErrCodeValidationFailed,
		ErrCodeInvalidPhone,
		ErrCodeMissingSelection,
		ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidAmount:
		return 400

	// 401 Unauthorized - anonymous viewer asked for paid access
	case ErrCodeSignInRequired,
		ErrCodeInvalidSignature:
		return 401

	// 402 Payment Required - purchase flow outcomes
	case ErrCodePurchaseRequired,
		ErrCodeSubmissionRejected,
		ErrCodeGatewayDeclined:
		return 402

	// 404 Not Found - Resource not found
	case ErrCodeContentNotFound,
		ErrCodeTransactionNotFound,
		ErrCodeFlowNotFound,
		ErrCodeSessionNotFound:
		return 404

	// 409 Conflict - flow is in the wrong step
	case ErrCodeSubmissionInFlight,
		ErrCodeIllegalTransition:
		return 409

	// 502 Bad Gateway - External service errors
	case ErrCodeGatewayError,
		ErrCodeCatalogError,
		ErrCodeNetworkError,
		ErrCodeTransientLookup:
		return 502

	case ErrCodeServiceUnavail:
		return 503

	// 504 Gateway Timeout - the gateway never confirmed the debit
	case ErrCodeVerificationTimeout:
		return 504

	// 500 Internal Server Error - System/internal errors
	default:
		return 500
	}
}
