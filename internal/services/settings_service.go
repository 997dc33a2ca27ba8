package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Known setting keys.
const (
	SettingProviderRateLimit = "provider_rate_limit"
	SettingDiscordChannelID  = "discord_channel_id"
	SettingLastUsageReset    = "last_usage_reset"
)

// Setting represents a system configuration entry
type Setting struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description"`
	IsSecret    bool      `json:"is_secret"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SettingsService handles database-backed configuration. A nil pool keeps
// settings in memory only.
type SettingsService struct {
	db    *pgxpool.Pool
	cache map[string]Setting
	mu    sync.RWMutex
}

// NewSettingsService creates a new service and loads the cache
func NewSettingsService(ctx context.Context, db *pgxpool.Pool) (*SettingsService, error) {
	s := &SettingsService{
		db:    db,
		cache: make(map[string]Setting),
	}
	if db == nil {
		return s, nil
	}
	if err := s.loadCache(ctx); err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return s, nil
}

func (s *SettingsService) loadCache(ctx context.Context) error {
	rows, err := s.db.Query(ctx, "SELECT key, value, COALESCE(description, ''), is_secret, updated_at FROM system_settings")
	if err != nil {
		return err
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	for rows.Next() {
		var st Setting
		if err := rows.Scan(&st.Key, &st.Value, &st.Description, &st.IsSecret, &st.UpdatedAt); err != nil {
			return err
		}
		s.cache[st.Key] = st
	}
	return rows.Err()
}

// Reload refreshes the cache from the database so changes made by another
// process become visible.
func (s *SettingsService) Reload(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.loadCache(ctx)
}

// Get returns a setting value, checking cache first
func (s *SettingsService) Get(ctx context.Context, key string, defaultValue string) string {
	s.mu.RLock()
	st, ok := s.cache[key]
	s.mu.RUnlock()

	if ok {
		return st.Value
	}
	return defaultValue
}

// GetInt parses a numeric setting, falling back on missing or bad values.
func (s *SettingsService) GetInt(ctx context.Context, key string, defaultValue int) int {
	raw := s.Get(ctx, key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Ignoring non-numeric setting")
		return defaultValue
	}
	return v
}

// Set updates a setting in DB and cache
func (s *SettingsService) Set(ctx context.Context, key, value, description string, isSecret bool) error {
	now := time.Now()
	if s.db != nil {
		query := `
			INSERT INTO system_settings (key, value, description, is_secret, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (key) DO UPDATE
			SET value = EXCLUDED.value,
			    description = EXCLUDED.description,
			    is_secret = EXCLUDED.is_secret,
			    updated_at = NOW()
		`
		if _, err := s.db.Exec(ctx, query, key, value, description, isSecret); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.cache[key] = Setting{Key: key, Value: value, Description: description, IsSecret: isSecret, UpdatedAt: now}
	s.mu.Unlock()

	return nil
}

// GetAll returns all settings (masking secrets)
func (s *SettingsService) GetAll(ctx context.Context) ([]Setting, error) {
	if s.db == nil {
		return s.cached(), nil
	}

	rows, err := s.db.Query(ctx, "SELECT key, value, COALESCE(description, ''), is_secret, updated_at FROM system_settings ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := []Setting{}
	for rows.Next() {
		var st Setting
		if err := rows.Scan(&st.Key, &st.Value, &st.Description, &st.IsSecret, &st.UpdatedAt); err != nil {
			return nil, err
		}
		if st.IsSecret {
			st.Value = "********"
		}
		settings = append(settings, st)
	}
	return settings, rows.Err()
}

func (s *SettingsService) cached() []Setting {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Setting, 0, len(s.cache))
	for _, st := range s.cache {
		if st.IsSecret {
			st.Value = "********"
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// GetRaw reads a value straight from the database, bypassing the cache.
func (s *SettingsService) GetRaw(ctx context.Context, key string) (string, error) {
	if s.db == nil {
		return s.Get(ctx, key, ""), nil
	}
	var value string
	err := s.db.QueryRow(ctx, "SELECT value FROM system_settings WHERE key = $1", key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}
