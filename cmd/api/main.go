package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/tinify-dashboard/internal/backend"
	"github.com/akagifreeez/tinify-dashboard/internal/config"
	"github.com/akagifreeez/tinify-dashboard/internal/handlers"
	"github.com/akagifreeez/tinify-dashboard/internal/services"
	"github.com/akagifreeez/tinify-dashboard/internal/workers"
)

const (
	insecureJWTSecret     = "default-insecure-secret-change-me"
	insecureEncryptionKey = "dummy_encryption_key_32_bytes_lk"
)

func main() {
	// Setup logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.IsProduction() {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		if cfg.JWTSecret == insecureJWTSecret || cfg.EncryptionKey == insecureEncryptionKey {
			log.Fatal().Msg("JWT_SECRET and ENCRYPTION_KEY must be set in production")
		}
	}

	log.Info().Str("environment", cfg.Environment).Str("ledger", cfg.LedgerBackend).Msg("Starting Tinify Dashboard API")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := backend.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open backend")
	}
	defer b.Close()

	settingsService := b.Settings
	seedSettings(ctx, settingsService, cfg)

	// Provider client, honouring any rate limit saved from the dashboard
	client := b.Provider(cfg)
	client.UpdateRateLimit(settingsService.GetInt(ctx, services.SettingProviderRateLimit, cfg.ProviderRateLimit))

	channelID := settingsService.Get(ctx, services.SettingDiscordChannelID, cfg.DiscordChannelID)
	notifier := services.NewDiscordNotifier(cfg.DiscordBotToken, channelID, cfg.DiscordWebhookURL, cfg.NotifyCooldown)

	// Initialize services
	keyService := services.NewKeyService(b.Ledger, client, cfg.DefaultMonthlyLimit)
	if n, err := keyService.SeedKeys(ctx, cfg.ProviderAPIKeys); err != nil {
		log.Error().Err(err).Msg("Failed to seed API keys")
	} else if n > 0 {
		log.Info().Int("added", n).Msg("Seeded API keys from PROVIDER_API_KEYS")
	}

	dispatcher := services.NewDispatcher(b.Attempter(cfg), client, notifier)
	compressionService := services.NewCompressionService(dispatcher, b.Records, nil)

	// A crash mid-upload leaves records pending or processing forever.
	if _, err := compressionService.RecoverInterrupted(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to recover interrupted compressions")
	}

	if cfg.EmbeddedWorkers {
		log.Info().Msg("Starting embedded workers")
		go workers.NewUsageReset(keyService, settingsService, notifier, cfg).Start(ctx)
		go workers.NewKeyHealthCheck(keyService, client, notifier, cfg).Start(ctx)
	}

	router := handlers.NewRouter(handlers.Routes{
		JWTSecret:      cfg.JWTSecret,
		BotSecret:      cfg.BotAPISecret,
		AllowedOrigins: cfg.AllowedOrigins,
		Auth:           handlers.NewAuthHandler(cfg),
		Keys:           handlers.NewKeyHandler(keyService, notifier),
		Compressions:   handlers.NewCompressionHandler(compressionService, cfg.MaxUploadSize),
		Settings:       handlers.NewSettingsHandler(settingsService, client),
		Feed:           handlers.NewFeedHandler(compressionService.Events(), cfg.AllowedOrigins),
		Bot:            handlers.NewBotInternalHandler(keyService, compressionService),
	})

	// Start server. No WriteTimeout: batch uploads and the live feed are
	// bounded by route middleware instead.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
		cancel()
	}()

	log.Info().Str("port", cfg.Port).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}

	log.Info().Msg("Server stopped")
}

func seedSettings(ctx context.Context, s *services.SettingsService, cfg *config.Config) {
	if val := s.Get(ctx, services.SettingProviderRateLimit, "NOT_SET"); val == "NOT_SET" {
		log.Info().Msg("Seeding provider_rate_limit")
		if err := s.Set(ctx, services.SettingProviderRateLimit, strconv.Itoa(cfg.ProviderRateLimit), "Provider requests per minute (shared by all keys)", false); err != nil {
			log.Error().Err(err).Msg("Failed to seed provider_rate_limit")
		}
	}

	if val := s.Get(ctx, services.SettingDiscordChannelID, "NOT_SET"); val == "NOT_SET" {
		log.Info().Msg("Seeding discord_channel_id")
		if err := s.Set(ctx, services.SettingDiscordChannelID, cfg.DiscordChannelID, "Discord channel for quota notifications", false); err != nil {
			log.Error().Err(err).Msg("Failed to seed discord_channel_id")
		}
	}
}
