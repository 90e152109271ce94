package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fedutinova/retinascan/internal/common"
	"github.com/fedutinova/retinascan/internal/validation"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "err", err)
	}
}

func writeValidation(w http.ResponseWriter, errs validation.ValidationErrors) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":   "validation failed",
		"details": errs,
	})
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case common.IsValidation(err), common.IsInput(err), common.IsConfiguration(err),
		errors.Is(err, common.ErrBadRequest):
		return http.StatusBadRequest
	case common.IsDimensionMismatch(err):
		return http.StatusUnprocessableEntity
	case common.IsNotFound(err):
		return http.StatusNotFound
	case common.IsConflict(err):
		return http.StatusConflict
	case common.IsUnauthorized(err):
		return http.StatusUnauthorized
	case common.IsForbidden(err):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
