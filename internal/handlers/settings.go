package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/tinify-dashboard/internal/services"
)

// RateLimitUpdater is told when the provider rate limit setting changes.
type RateLimitUpdater interface {
	UpdateRateLimit(perMinute int)
}

type SettingsHandler struct {
	service *services.SettingsService
	limiter RateLimitUpdater
}

func NewSettingsHandler(service *services.SettingsService, limiter RateLimitUpdater) *SettingsHandler {
	return &SettingsHandler{service: service, limiter: limiter}
}

// GET /api/v1/settings
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.GetAll(r.Context())
	if err != nil {
		respondError(w, err, "get settings")
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

// PUT /api/v1/settings
func (h *SettingsHandler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key         string `json:"key"`
		Value       string `json:"value"`
		Description string `json:"description"`
		IsSecret    bool   `json:"is_secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Key == "" {
		http.Error(w, "Key is required", http.StatusBadRequest)
		return
	}

	var rate int
	if req.Key == services.SettingProviderRateLimit {
		n, err := strconv.Atoi(req.Value)
		if err != nil || n < 0 {
			http.Error(w, "provider_rate_limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		rate = n
	}

	if err := h.service.Set(r.Context(), req.Key, req.Value, req.Description, req.IsSecret); err != nil {
		log.Error().Err(err).Str("key", req.Key).Msg("Failed to update setting")
		http.Error(w, "Failed to update setting", http.StatusInternalServerError)
		return
	}

	if req.Key == services.SettingProviderRateLimit && h.limiter != nil {
		h.limiter.UpdateRateLimit(rate)
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
