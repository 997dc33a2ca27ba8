package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/tinify-dashboard/internal/ledger"
	"github.com/akagifreeez/tinify-dashboard/internal/models"
	"github.com/akagifreeez/tinify-dashboard/internal/services"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// respondError maps service and ledger errors onto HTTP statuses.
func respondError(w http.ResponseWriter, err error, action string) {
	status := http.StatusInternalServerError
	msg := action + " failed"
	kind := string(services.KindOf(err))

	switch {
	case errors.Is(err, ledger.ErrCredentialNotFound), errors.Is(err, models.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, ledger.ErrCredentialExists):
		status, msg = http.StatusConflict, "API key is already registered"
	case errors.Is(err, ledger.ErrInvalidLimit), errors.Is(err, ledger.ErrEmptyToken):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrKeyRejected):
		status, msg = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, ledger.ErrNoCredentialsAvailable):
		status, msg = http.StatusServiceUnavailable, "no API key with remaining quota"
	case ledger.IsPersistence(err):
		status, msg = http.StatusServiceUnavailable, "ledger storage unavailable"
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("action", action).Msg("Request failed")
	}
	respondJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

// Health reports liveness.
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
