package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/tinify")
	t.Setenv("PROVIDER_API_KEYS", "")
	t.Setenv("DASHBOARD_USERS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, LedgerPostgres, cfg.LedgerBackend)
	assert.Equal(t, 500, cfg.DefaultMonthlyLimit)
	assert.Equal(t, "https://api.tinify.com", cfg.ProviderBaseURL)
	assert.False(t, cfg.LedgerStrict)
	assert.Empty(t, cfg.DashboardUsers)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "SQLite")
	t.Setenv("LEDGER_STRICT", "true")
	t.Setenv("PROVIDER_API_KEYS", " key-a , ,key-b")
	t.Setenv("PROVIDER_TIMEOUT", "5s")
	t.Setenv("DASHBOARD_USERS", "alice:s3cret:with:colons, bob:pw")
	t.Setenv("DISCORD_ALLOWED_IDS", "1,2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, LedgerSQLite, cfg.LedgerBackend)
	assert.True(t, cfg.LedgerStrict)
	assert.Equal(t, []string{"key-a", "key-b"}, cfg.ProviderAPIKeys)
	assert.Equal(t, 5*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, map[string]string{"alice": "s3cret:with:colons", "bob": "pw"}, cfg.DashboardUsers)
	assert.Equal(t, []string{"1", "2"}, cfg.DiscordAllowedIDs)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("backend", func(t *testing.T) {
		t.Setenv("LEDGER_BACKEND", "mongo")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("postgres without url", func(t *testing.T) {
		t.Setenv("LEDGER_BACKEND", "postgres")
		t.Setenv("DATABASE_URL", "")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("users", func(t *testing.T) {
		t.Setenv("LEDGER_BACKEND", "memory")
		t.Setenv("DASHBOARD_USERS", "nocolon")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("limit", func(t *testing.T) {
		t.Setenv("LEDGER_BACKEND", "memory")
		t.Setenv("DASHBOARD_USERS", "")
		t.Setenv("DEFAULT_MONTHLY_LIMIT", "-1")
		_, err := Load()
		assert.Error(t, err)
	})
}
