package models

import (
	"time"
)

// ApiKey is the dashboard view of a provider credential. The token itself is
// never serialized; Masked carries a display form.
type ApiKey struct {
	ID           string     `json:"id"`
	Masked       string     `json:"key"`
	Label        string     `json:"label"`
	IsActive     bool       `json:"is_active"`
	MonthlyLimit int        `json:"monthly_limit"`
	UsageCount   int        `json:"usage_count"`
	Remaining    int        `json:"remaining"`
	LastUsedAt   *time.Time `json:"last_used_at"` // Pointer to handle NULL
}
