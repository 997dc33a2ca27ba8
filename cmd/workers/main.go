package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/tinify-dashboard/internal/backend"
	"github.com/akagifreeez/tinify-dashboard/internal/config"
	"github.com/akagifreeez/tinify-dashboard/internal/services"
	"github.com/akagifreeez/tinify-dashboard/internal/workers"
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

	log.Info().Str("environment", cfg.Environment).Msg("Starting Tinify Dashboard Workers")

	if cfg.LedgerBackend == config.LedgerMemory {
		// Nothing would be shared with the API process.
		log.Fatal().Msg("Workers need a shared ledger; use EMBEDDED_WORKERS with the memory backend")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := backend.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open backend")
	}
	defer b.Close()

	settingsService := b.Settings
	client := b.Provider(cfg)
	client.UpdateRateLimit(settingsService.GetInt(ctx, services.SettingProviderRateLimit, cfg.ProviderRateLimit))

	channelID := settingsService.Get(ctx, services.SettingDiscordChannelID, cfg.DiscordChannelID)
	notifier := services.NewDiscordNotifier(cfg.DiscordBotToken, channelID, cfg.DiscordWebhookURL, cfg.NotifyCooldown)
	keyService := services.NewKeyService(b.Ledger, client, cfg.DefaultMonthlyLimit)

	// Create workers
	usageReset := workers.NewUsageReset(keyService, settingsService, notifier, cfg)
	keyHealth := workers.NewKeyHealthCheck(keyService, client, notifier, cfg)
	rateRefresher := workers.NewRateLimitRefresher(settingsService, client, cfg.ProviderRateLimit, time.Minute)

	// Start workers in goroutines
	go usageReset.Start(ctx)
	go keyHealth.Start(ctx)
	go rateRefresher.Start(ctx)

	log.Info().Msg("All workers started")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutdown signal received, stopping workers...")
	cancel()

	log.Info().Msg("Workers stopped")
}
