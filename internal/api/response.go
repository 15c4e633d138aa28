package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"market_cache/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.Any("error", err))
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps domain errors to HTTP statuses. Cache-empty is a normal
// answer, not a server fault.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotReady):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: domain.ErrNotReady.Error()})
	case errors.Is(err, domain.ErrInvalidParam):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrUnknownPair), errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
