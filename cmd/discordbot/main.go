package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/tinify-dashboard/internal/discordbot"
)

const defaultAPIBaseURL = "http://localhost:8080"

type botConfig struct {
	Token      string
	AppID      string
	GuildID    string
	APISecret  string
	APIBaseURL string
}

// loadBotConfig reads the bot settings and reports every missing variable
// at once.
func loadBotConfig(getenv func(string) string) (botConfig, error) {
	cfg := botConfig{
		Token:      getenv("DISCORD_BOT_TOKEN"),
		AppID:      getenv("DISCORD_CLIENT_ID"),
		GuildID:    getenv("DISCORD_GUILD_ID"),
		APISecret:  getenv("BOT_API_SECRET"),
		APIBaseURL: strings.TrimRight(getenv("API_BASE_URL"), "/"),
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}

	var missing []string
	for _, req := range []struct{ name, val string }{
		{"DISCORD_BOT_TOKEN", cfg.Token},
		{"DISCORD_CLIENT_ID", cfg.AppID},
		{"BOT_API_SECRET", cfg.APISecret},
	} {
		if req.val == "" {
			missing = append(missing, req.name)
		}
	}
	if len(missing) > 0 {
		return cfg, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	_ = godotenv.Load()

	cfg, err := loadBotConfig(os.Getenv)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid bot configuration")
	}
	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("Discord bot stopped")
	}
}

func run(cfg botConfig) error {
	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}

	bot := discordbot.NewBotHandler(cfg.APIBaseURL, cfg.APISecret)
	bot.RegisterHandlers(dg)

	if err := dg.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	defer dg.Close()

	registered, err := bot.RegisterCommands(dg, cfg.AppID, cfg.GuildID)
	if err != nil {
		return err
	}
	log.Info().
		Int("commands", len(registered)).
		Str("guild", cfg.GuildID).
		Str("api", cfg.APIBaseURL).
		Msg("Discord bot running")

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	<-sc

	// Guild commands are per deployment; global ones are left registered.
	if cfg.GuildID != "" {
		for _, c := range registered {
			if err := dg.ApplicationCommandDelete(cfg.AppID, cfg.GuildID, c.ID); err != nil {
				log.Warn().Err(err).Str("command", c.Name).Msg("Failed to remove guild command")
			}
		}
	}
	log.Info().Msg("Discord bot shutting down")
	return nil
}
