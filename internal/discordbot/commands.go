package discordbot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/akagifreeez/tinify-dashboard/internal/handlers"
)

// Discord caps an embed at 25 fields.
const maxKeyFields = 24

type BotHandler struct {
	apiBaseURL string
	apiSecret  string
	httpClient *http.Client
}

func NewBotHandler(apiBaseURL, apiSecret string) *BotHandler {
	return &BotHandler{
		apiBaseURL: apiBaseURL,
		apiSecret:  apiSecret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

var commands = []*discordgo.ApplicationCommand{
	{
		Name:        "usage",
		Description: "Show this month's compression usage per API key",
	},
	{
		Name:        "help",
		Description: "Display help information about the Tinify Dashboard bot",
	},
}

func (h *BotHandler) RegisterHandlers(s *discordgo.Session) {
	s.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		switch i.ApplicationCommandData().Name {
		case "usage":
			h.handleUsage(s, i)
		case "help":
			h.handleHelp(s, i)
		}
	})
}

func (h *BotHandler) RegisterCommands(s *discordgo.Session, appID, guildID string) ([]*discordgo.ApplicationCommand, error) {
	registeredCommands := make([]*discordgo.ApplicationCommand, len(commands))
	var err error
	for idx, cmd := range commands {
		registeredCommands[idx], err = s.ApplicationCommandCreate(appID, guildID, cmd)
		if err != nil {
			return nil, fmt.Errorf("cannot create '%v' command: %w", cmd.Name, err)
		}
	}
	return registeredCommands, nil
}

// fetchUsage reads the bot usage endpoint of the dashboard API.
func (h *BotHandler) fetchUsage(ctx context.Context) (*handlers.BotUsage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.apiBaseURL+"/api/v1/bot/usage", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Bot-Secret", h.apiSecret)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch usage: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch usage: unexpected status %d", resp.StatusCode)
	}

	var usage handlers.BotUsage
	if err := json.NewDecoder(resp.Body).Decode(&usage); err != nil {
		return nil, fmt.Errorf("decode usage: %w", err)
	}
	return &usage, nil
}

func (h *BotHandler) handleUsage(s *discordgo.Session, i *discordgo.InteractionCreate) {
	// Acknowledge the interaction immediately to avoid timeout
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	usage, err := h.fetchUsage(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch usage for /usage")
		s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
			Content: func() *string { str := "Error fetching data from API."; return &str }(),
		})
		return
	}

	embed := usageEmbed(usage)
	s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Embeds: &[]*discordgo.MessageEmbed{embed},
	})
}

// usageEmbed renders key usage as one field per key plus a totals line.
func usageEmbed(usage *handlers.BotUsage) *discordgo.MessageEmbed {
	p := message.NewPrinter(language.English)

	used, limit := 0, 0
	for _, k := range usage.Keys {
		if !k.IsActive {
			continue
		}
		used += k.UsageCount
		limit += k.MonthlyLimit
	}

	color := 0x00cc66
	switch {
	case limit == 0 || used >= limit:
		color = 0xff3333
	case used*10 >= limit*8:
		color = 0xffaa00
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Compression usage this month",
		Description: p.Sprintf("**%d / %d** compressions used across %d active keys", used, limit, activeCount(usage)),
		Color:       color,
		Footer: &discordgo.MessageEmbedFooter{
			Text: p.Sprintf("Records: %d total, %d completed, %d failed", usage.Stats.Total, usage.Stats.Completed, usage.Stats.Failed),
		},
	}

	if len(usage.Keys) == 0 {
		embed.Description = "No API keys registered."
		return embed
	}

	for idx, k := range usage.Keys {
		if idx == maxKeyFields {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name:  "…",
				Value: p.Sprintf("%d more keys", len(usage.Keys)-maxKeyFields),
			})
			break
		}
		name := k.Masked
		if k.Label != "" {
			name = fmt.Sprintf("%s (%s)", k.Label, k.Masked)
		}
		value := p.Sprintf("%d / %d", k.UsageCount, k.MonthlyLimit)
		if !k.IsActive {
			value += " · disabled"
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   name,
			Value:  value,
			Inline: true,
		})
	}
	return embed
}

func activeCount(usage *handlers.BotUsage) int {
	n := 0
	for _, k := range usage.Keys {
		if k.IsActive {
			n++
		}
	}
	return n
}

func (h *BotHandler) handleHelp(s *discordgo.Session, i *discordgo.InteractionCreate) {
	embed := &discordgo.MessageEmbed{
		Title:       "Tinify Dashboard Bot Help",
		Description: "This bot reports API key usage for the image compression dashboard.",
		Color:       0x00ff00,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:  "/usage",
				Value: "Show how many compressions each API key has used this month.",
			},
		},
	}
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
		},
	})
}
