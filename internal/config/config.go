package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Ledger backends.
const (
	LedgerPostgres = "postgres"
	LedgerSQLite   = "sqlite"
	LedgerMemory   = "memory"
)

type Config struct {
	// Server
	Port           string
	Environment    string
	MaxUploadSize  int64
	FrontendURL    string
	PublicAPIURL   string
	AllowedOrigins []string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Ledger
	LedgerBackend    string
	LedgerSQLitePath string
	LedgerStrict     bool // hold a lock across select, compress and record

	// Provider
	ProviderBaseURL     string
	ProviderTimeout     time.Duration
	ProviderAPIKeys     []string
	ProviderRateLimit   int // requests per minute
	DefaultMonthlyLimit int

	// Security
	EncryptionKey  string
	JWTSecret      string
	DashboardUsers map[string]string // username -> password

	// Discord
	DiscordBotToken     string
	DiscordChannelID    string
	DiscordWebhookURL   string
	DiscordClientID     string
	DiscordClientSecret string
	DiscordAllowedIDs   []string
	BotAPISecret        string // shared with cmd/discordbot

	// Workers
	KeyCheckInterval        time.Duration
	UsageResetCheckInterval time.Duration
	NotifyCooldown          time.Duration
	EmbeddedWorkers         bool // run workers inside the API process
}

func Load() (*Config, error) {
	// Try loading from current directory first, then parent.
	// We ignore errors here as we might be running in an environment
	// where env vars are set directly (e.g. docker/k8s).
	_ = godotenv.Load()
	_ = godotenv.Load("../.env")

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		MaxUploadSize: int64(getIntEnv("MAX_UPLOAD_SIZE", 32<<20)),
		FrontendURL:   getEnv("FRONTEND_URL", "http://localhost:3000"),
		PublicAPIURL:  getEnv("PUBLIC_API_URL", "http://localhost:8080"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		LedgerBackend:    strings.ToLower(getEnv("LEDGER_BACKEND", LedgerPostgres)),
		LedgerSQLitePath: getEnv("LEDGER_SQLITE_PATH", "ledger.db"),
		LedgerStrict:     getBoolEnv("LEDGER_STRICT", false),

		ProviderBaseURL:     getEnv("PROVIDER_BASE_URL", "https://api.tinify.com"),
		ProviderTimeout:     getDurationEnv("PROVIDER_TIMEOUT", 60*time.Second),
		ProviderRateLimit:   getIntEnv("PROVIDER_RATE_LIMIT", 60),
		DefaultMonthlyLimit: getIntEnv("DEFAULT_MONTHLY_LIMIT", 500), // free tier

		// Key for encrypting API keys in database
		// Default is a 32-byte dummy key for development. IN PRODUCTION, CHANGE THIS!
		EncryptionKey: getEnv("ENCRYPTION_KEY", "dummy_encryption_key_32_bytes_lk"),
		JWTSecret:     getEnv("JWT_SECRET", "default-insecure-secret-change-me"),

		DiscordBotToken:     getEnv("DISCORD_BOT_TOKEN", ""),
		DiscordChannelID:    getEnv("DISCORD_CHANNEL_ID", ""),
		DiscordWebhookURL:   getEnv("DISCORD_WEBHOOK_URL", ""),
		DiscordClientID:     getEnv("DISCORD_CLIENT_ID", ""),
		DiscordClientSecret: getEnv("DISCORD_CLIENT_SECRET", ""),
		BotAPISecret:        getEnv("BOT_API_SECRET", ""),

		KeyCheckInterval:        getDurationEnv("KEY_CHECK_INTERVAL", 6*time.Hour),
		UsageResetCheckInterval: getDurationEnv("USAGE_RESET_CHECK_INTERVAL", time.Hour),
		NotifyCooldown:          getDurationEnv("NOTIFY_COOLDOWN", 15*time.Minute),
		EmbeddedWorkers:         getBoolEnv("EMBEDDED_WORKERS", false),
	}

	// Parse API keys (comma-separated)
	if keys := os.Getenv("PROVIDER_API_KEYS"); keys != "" {
		cfg.ProviderAPIKeys = splitAndTrim(keys, ",")
	}
	if ids := os.Getenv("DISCORD_ALLOWED_IDS"); ids != "" {
		cfg.DiscordAllowedIDs = splitAndTrim(ids, ",")
	}
	cfg.AllowedOrigins = splitAndTrim(getEnv("ALLOWED_ORIGINS", cfg.FrontendURL), ",")

	users, err := parseUsers(os.Getenv("DASHBOARD_USERS"))
	if err != nil {
		return nil, err
	}
	cfg.DashboardUsers = users

	switch cfg.LedgerBackend {
	case LedgerPostgres, LedgerSQLite, LedgerMemory:
	default:
		return nil, fmt.Errorf("unknown LEDGER_BACKEND %q", cfg.LedgerBackend)
	}
	if cfg.LedgerBackend == LedgerPostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("LEDGER_BACKEND=postgres requires DATABASE_URL")
	}
	if cfg.DefaultMonthlyLimit <= 0 {
		return nil, fmt.Errorf("DEFAULT_MONTHLY_LIMIT must be positive, got %d", cfg.DefaultMonthlyLimit)
	}

	return cfg, nil
}

// IsProduction reports whether insecure development defaults must be refused.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// parseUsers reads "alice:secret,bob:hunter2".
func parseUsers(raw string) (map[string]string, error) {
	users := make(map[string]string)
	for _, entry := range splitAndTrim(raw, ",") {
		name, pass, ok := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" || pass == "" {
			return nil, fmt.Errorf("invalid DASHBOARD_USERS entry %q, want user:password", name)
		}
		users[name] = pass
	}
	return users, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitAndTrim(s, sep string) []string {
	var result []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
