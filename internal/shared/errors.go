package shared

import "errors"

var (
	// ErrValidation indicates malformed input, such as an unknown consent category.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates an attempt to overwrite an immutable record,
	// such as re-attaching an existing media variant.
	ErrConflict = errors.New("conflict")
	// ErrAlreadyRevoked indicates a second revocation of an already revoked consent.
	ErrAlreadyRevoked = errors.New("consent already revoked")
	// ErrConsentMissing indicates a publication transition blocked because the
	// required consent is missing or revoked.
	ErrConsentMissing = errors.New("required consent not active")
	// ErrStorageUnavailable indicates the durable store rejected a write.
	// Callers decide retry policy; the core never retries silently.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrForbidden indicates the access control gate denied the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
