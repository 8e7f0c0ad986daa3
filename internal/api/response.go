package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sungwon/queueing/internal/queueing"
)

// respondJSON writes a JSON response with the given status code and data.
// If data is nil, only the status code and Content-Type header are written.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError writes a JSON error response with the given status code and message.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondValidationErrors writes a 400 response with a list of validation error details.
func respondValidationErrors(w http.ResponseWriter, details []string) {
	respondJSON(w, http.StatusBadRequest, map[string]any{
		"error":   "validation_failed",
		"details": details,
	})
}

// respondQueueError maps queueing errors to status codes. Backend failures
// are retryable, so they get 503 with Retry-After.
func respondQueueError(w http.ResponseWriter, err error) {
	var terr *queueing.TransportError
	switch {
	case errors.As(err, &terr):
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusServiceUnavailable, "queue backend unavailable")
	case queueing.IsConfiguration(err):
		respondError(w, http.StatusInternalServerError, "queue misconfigured")
	default:
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
