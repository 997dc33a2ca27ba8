package handlers

import (
	"net/http"

	"github.com/akagifreeez/tinify-dashboard/internal/models"
	"github.com/akagifreeez/tinify-dashboard/internal/services"
)

// BotInternalHandler provides read-only endpoints for the Discord bot,
// guarded by a shared secret.
type BotInternalHandler struct {
	keys         *services.KeyService
	compressions *services.CompressionService
}

func NewBotInternalHandler(keys *services.KeyService, compressions *services.CompressionService) *BotInternalHandler {
	return &BotInternalHandler{keys: keys, compressions: compressions}
}

// BotUsage is the /usage command payload.
type BotUsage struct {
	Keys  []models.ApiKey         `json:"keys"`
	Stats models.CompressionStats `json:"stats"`
}

// GetUsage returns masked key usage plus record totals
// GET /api/v1/bot/usage
func (h *BotInternalHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.GetKeyUsage(r.Context())
	if err != nil {
		respondError(w, err, "bot usage")
		return
	}
	st, err := h.compressions.Stats(r.Context())
	if err != nil {
		respondError(w, err, "bot usage")
		return
	}
	respondJSON(w, http.StatusOK, BotUsage{Keys: keys, Stats: st})
}
