package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrAdminDisabled      ErrCode = "ADMIN_LOGIN_DISABLED"
	ErrOperatorNotFound   ErrCode = "OPERATOR_NOT_FOUND"
	ErrOperatorInactive   ErrCode = "OPERATOR_INACTIVE"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrOperatorAccessOnly ErrCode = "OPERATOR_ACCESS_ONLY"
	ErrAdminAccessOnly    ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Catalog ───────────────────────────────────────────────────────
	ErrUnknownExamCode    ErrCode = "UNKNOWN_EXAM_CODE"
	ErrCatalogUnavailable ErrCode = "CATALOG_UNAVAILABLE"

	// ─── Ledger ────────────────────────────────────────────────────────
	ErrStoreUnavailable     ErrCode = "STORE_UNAVAILABLE"
	ErrSchemaNotProvisioned ErrCode = "SCHEMA_NOT_PROVISIONED"
	ErrInvalidFinalStatus   ErrCode = "INVALID_FINAL_STATUS"
	ErrInvalidClipResult    ErrCode = "INVALID_CLIP_RESULT"
	ErrNoActiveAttempt      ErrCode = "NO_ACTIVE_ATTEMPT"
	ErrAttemptBusy          ErrCode = "ATTEMPT_BUSY"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Invalid username or password."
	case ErrAdminDisabled:
		return "Admin login is not configured on this server."
	case ErrOperatorNotFound:
		return "Operator ID is not registered."
	case ErrOperatorInactive:
		return "Operator is inactive."
	case ErrSessionInvalidated:
		return "Your session has ended. Please verify again."
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid or expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrOperatorAccessOnly:
		return "This resource is restricted to operators."
	case ErrAdminAccessOnly:
		return "This resource is restricted to administrators."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Request validation failed."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Catalog ───────────────────────────────────────────────────────
	case ErrUnknownExamCode:
		return "Exam code has no active clips."
	case ErrCatalogUnavailable:
		return "Clip catalog is temporarily unavailable."

	// ─── Ledger ────────────────────────────────────────────────────────
	case ErrStoreUnavailable:
		return "Result store is temporarily unavailable. Please retry."
	case ErrSchemaNotProvisioned:
		return "Result fields for this exam code could not be provisioned."
	case ErrInvalidFinalStatus:
		return "Final status must be Submitted or Attempted."
	case ErrInvalidClipResult:
		return "Clip result is inconsistent."
	case ErrNoActiveAttempt:
		return "No attempt exists for this exam code."
	case ErrAttemptBusy:
		return "Another write for this attempt is in progress. Please retry."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrInternal:
		return "An internal server error occurred."

	default:
		return "An unknown error occurred."
	}
}

// Retryable reports whether a failed request may succeed unchanged once the
// condition clears. Ledger writes rejected with these codes were not applied.
func Retryable(code ErrCode) bool {
	switch code {
	case ErrStoreUnavailable, ErrCatalogUnavailable, ErrAttemptBusy, ErrRateLimitExceeded:
		return true
	}
	return false
}
