package utils

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/devmatch/devmatch-server/cmd/models"
)

func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func RespondWithError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteServiceError maps a typed core error onto its HTTP status. The
// error message is passed through unchanged; core errors are written
// to be user-facing.
func WriteServiceError(w http.ResponseWriter, err error) {
	RespondWithError(w, ErrorStatus(err), err.Error())
}

func ErrorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrNotRespondable):
		return http.StatusConflict
	case errors.Is(err, models.ErrDuplicateInvitation):
		return http.StatusConflict
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, models.ErrNothingToRefund):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
