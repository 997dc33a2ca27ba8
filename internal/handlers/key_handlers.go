package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/tinify-dashboard/internal/ledger"
	"github.com/akagifreeez/tinify-dashboard/internal/services"
)

type KeyHandler struct {
	keys     *services.KeyService
	notifier services.Notifier
}

func NewKeyHandler(keys *services.KeyService, notifier services.Notifier) *KeyHandler {
	if notifier == nil {
		notifier = services.NopNotifier{}
	}
	return &KeyHandler{keys: keys, notifier: notifier}
}

// RegisterKey validates and adds a new API key
// POST /api/v1/keys
func (h *KeyHandler) RegisterKey(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Key          string `json:"key"`
		Label        string `json:"label"`
		MonthlyLimit int    `json:"monthly_limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid input", http.StatusBadRequest)
		return
	}

	if input.Key == "" {
		http.Error(w, "Key is required", http.StatusBadRequest)
		return
	}
	if input.MonthlyLimit < 0 {
		http.Error(w, "monthly_limit must be positive", http.StatusBadRequest)
		return
	}

	key, err := h.keys.AddAPIKey(r.Context(), input.Key, input.MonthlyLimit, input.Label)
	if err != nil {
		respondError(w, err, "register key")
		return
	}
	respondJSON(w, http.StatusCreated, key)
}

// ListKeys returns all registered keys (masked) with usage
// GET /api/v1/keys
func (h *KeyHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.GetKeyUsage(r.Context())
	if err != nil {
		respondError(w, err, "list keys")
		return
	}
	respondJSON(w, http.StatusOK, keys)
}

// UpdateKey changes active flag, limit or label
// PATCH /api/v1/keys/{id}
func (h *KeyHandler) UpdateKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var input struct {
		IsActive     *bool   `json:"is_active"`
		MonthlyLimit *int    `json:"monthly_limit"`
		Label        *string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid input", http.StatusBadRequest)
		return
	}

	key, err := h.keys.UpdateAPIKey(r.Context(), id, ledger.CredentialUpdate{
		Active:       input.IsActive,
		MonthlyLimit: input.MonthlyLimit,
		Label:        input.Label,
	})
	if err != nil {
		respondError(w, err, "update key")
		return
	}
	respondJSON(w, http.StatusOK, key)
}

// DeleteKey removes a key
// DELETE /api/v1/keys/{id}
func (h *KeyHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "ID is required", http.StatusBadRequest)
		return
	}

	if err := h.keys.RemoveAPIKey(r.Context(), id); err != nil {
		respondError(w, err, "delete key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetUsage zeroes every key's monthly counter
// POST /api/v1/keys/reset
func (h *KeyHandler) ResetUsage(w http.ResponseWriter, r *http.Request) {
	n, err := h.keys.ResetMonthlyUsage(r.Context())
	if err != nil {
		respondError(w, err, "reset usage")
		return
	}

	op, _ := GetOperatorFromContext(r.Context())
	log.Info().Str("operator", op.Username).Int("keys", n).Msg("Manual usage reset")
	h.notifier.Notify(r.Context(), services.Event{Kind: services.EventUsageReset, Count: n, Detail: "manual reset by " + op.Username})

	respondJSON(w, http.StatusOK, map[string]int{"reset": n})
}
