package utils

import (
	"encoding/json"
	"errors"
	"net/http"

	"nannynest/xerrors"
)

func RespondWithError(w http.ResponseWriter, code int, msg string) {
	RespondWithJSON(w, code, map[string]string{"error": msg})
}

// Sends a JSON response
func RespondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, xerrors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, xerrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, xerrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, xerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, xerrors.ErrAlreadyPaid),
		errors.Is(err, xerrors.ErrConflict),
		errors.Is(err, xerrors.ErrShareFull),
		errors.Is(err, xerrors.ErrShareClosed):
		return http.StatusConflict
	case errors.Is(err, xerrors.ErrNotEligible),
		errors.Is(err, xerrors.ErrNoPayout):
		return http.StatusUnprocessableEntity
	case errors.Is(err, xerrors.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// RespondWithErr writes err with the status StatusFor picks. Internal errors
// never leak their message.
func RespondWithErr(w http.ResponseWriter, err error) {
	code := StatusFor(err)
	if code == http.StatusInternalServerError {
		RespondWithError(w, code, "internal error")
		return
	}
	RespondWithError(w, code, err.Error())
}

// DecodeJSON reads a JSON body, capped at 1 MB.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return xerrors.Invalid("", "invalid JSON body")
	}
	return nil
}

type M map[string]interface{}
