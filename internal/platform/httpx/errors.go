package httpx

import (
	"errors"
	"net/http"

	"github.com/hillsclinic/clinic-portal/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Every rejection is distinguishable from success; nothing is downgraded
// to a silent no-op.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrAlreadyRevoked):
		Problem(w, http.StatusConflict, "Already Revoked", err.Error())
	case errors.Is(err, shared.ErrConsentMissing):
		Problem(w, http.StatusUnprocessableEntity, "Consent Missing", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, shared.ErrStorageUnavailable):
		Problem(w, http.StatusServiceUnavailable, "Storage Unavailable", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
