package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/rs/zerolog/log"
)

type ErrorResponse struct {
	Error   string      `json:"error"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// Sentinel errors returned by the engine packages. Wrap them with fmt.Errorf("...: %w")
// so the message reaches the client while the status stays derivable.
var (
	ErrInvalidInput = stderrors.New("invalid input")
	ErrUnauthorized = stderrors.New("unauthorized")
	ErrForbidden    = stderrors.New("forbidden")
	ErrNotFound     = stderrors.New("not found")
	ErrConflict     = stderrors.New("conflict")
)

func WriteError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// WriteServiceError maps an engine error onto the HTTP error contract. Unknown errors are
// logged and reported as 500 with the fallback message.
func WriteServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case stderrors.Is(err, ErrInvalidInput):
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
	case stderrors.Is(err, ErrUnauthorized):
		WriteError(w, http.StatusUnauthorized, ErrCodeUnauthorized, err.Error(), nil)
	case stderrors.Is(err, ErrForbidden):
		WriteError(w, http.StatusForbidden, ErrCodeForbidden, err.Error(), nil)
	case stderrors.Is(err, ErrNotFound):
		WriteError(w, http.StatusNotFound, ErrCodeNotFound, err.Error(), nil)
	case stderrors.Is(err, ErrConflict):
		WriteError(w, http.StatusConflict, ErrCodeConflict, err.Error(), nil)
	default:
		log.Error().Err(err).Msg(fallback)
		WriteError(w, http.StatusInternalServerError, ErrCodeInternal, fallback, nil)
	}
}
