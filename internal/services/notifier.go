package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type EventKind string

const (
	EventQuotaExhausted    EventKind = "quota_exhausted"
	EventInvalidCredential EventKind = "invalid_credential"
	EventUsageStale        EventKind = "usage_stale"
	EventUsageReset        EventKind = "usage_reset"
	EventKeyHealth         EventKind = "key_health"
)

// Event is something an operator should hear about.
type Event struct {
	Kind    EventKind
	KeyHint string
	Detail  string
	Count   int // number of keys involved, where meaningful
}

// Notifier delivers operator events. Implementations must not block callers.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) {}

// DiscordNotifier posts events to a Discord channel through a bot session
// and/or to a plain webhook URL. Repeats of the same event within the
// cooldown are dropped.
type DiscordNotifier struct {
	discord    *discordgo.Session
	channelID  string
	webhookURL string
	httpClient *http.Client
	cooldown   time.Duration
	printer    *message.Printer

	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewDiscordNotifier creates a notifier. botToken and webhookURL are both
// optional; with neither set every event is only logged.
func NewDiscordNotifier(botToken, channelID, webhookURL string, cooldown time.Duration) *DiscordNotifier {
	var session *discordgo.Session
	if botToken != "" && channelID != "" {
		s, err := discordgo.New("Bot " + botToken)
		if err == nil {
			session = s
		} else {
			log.Error().Err(err).Msg("Failed to initialize discordgo session in DiscordNotifier")
		}
	}

	return &DiscordNotifier{
		discord:    session,
		channelID:  channelID,
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cooldown:   cooldown,
		printer:    message.NewPrinter(language.English),
		last:       make(map[string]time.Time),
		now:        time.Now,
	}
}

func (n *DiscordNotifier) Notify(_ context.Context, ev Event) {
	if !n.allow(ev) {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := n.Send(ctx, ev); err != nil {
			log.Error().Err(err).Str("event", string(ev.Kind)).Msg("Failed to send notification")
		}
	}()
}

func (n *DiscordNotifier) allow(ev Event) bool {
	key := string(ev.Kind) + ":" + ev.KeyHint
	now := n.now()

	n.mu.Lock()
	defer n.mu.Unlock()
	if last, ok := n.last[key]; ok && now.Sub(last) < n.cooldown {
		return false
	}
	n.last[key] = now
	return true
}

type webhookPayload struct {
	Content string                    `json:"content"`
	Embeds  []*discordgo.MessageEmbed `json:"embeds"`
}

// Send delivers ev immediately, ignoring the cooldown.
func (n *DiscordNotifier) Send(ctx context.Context, ev Event) error {
	embed := n.Embed(ev)
	content := fmt.Sprintf("**%s**", embed.Title)

	log.Info().Str("event", string(ev.Kind)).Str("key", ev.KeyHint).Msg(embed.Description)

	if n.webhookURL != "" {
		body, err := json.Marshal(webhookPayload{Content: content, Embeds: []*discordgo.MessageEmbed{embed}})
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := n.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("webhook: %w", err)
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("webhook: status %d", resp.StatusCode)
		}
	}

	if n.discord != nil {
		_, err := n.discord.ChannelMessageSendComplex(n.channelID, &discordgo.MessageSend{
			Content: content,
			Embeds:  []*discordgo.MessageEmbed{embed},
		})
		if err != nil {
			return fmt.Errorf("discord channel message: %w", err)
		}
	}
	return nil
}

// Embed renders ev as a Discord embed.
func (n *DiscordNotifier) Embed(ev Event) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Color:     0xFFA500,
		Footer:    &discordgo.MessageEmbedFooter{Text: "Tinify Dashboard"},
		Timestamp: n.now().Format(time.RFC3339),
	}

	switch ev.Kind {
	case EventQuotaExhausted:
		embed.Title = "API quota exhausted"
		embed.Description = "Every API key has reached its monthly limit. Compressions will fail until keys are added or usage resets."
		embed.Color = 0xE74C3C
	case EventInvalidCredential:
		embed.Title = "API key rejected"
		embed.Description = "The provider rejected an API key during validation. It stays in rotation until an operator disables or removes it."
		embed.Color = 0xE74C3C
	case EventUsageStale:
		embed.Title = "Usage not recorded"
		embed.Description = "A compression succeeded but its usage could not be saved. Reported usage may be behind."
	case EventUsageReset:
		embed.Title = "Monthly usage reset"
		embed.Description = n.printer.Sprintf("Usage counters were reset for %d API keys.", ev.Count)
		embed.Color = 0x2ECC71
	case EventKeyHealth:
		embed.Title = "API key health check failed"
		embed.Description = n.printer.Sprintf("%d API keys failed validation.", ev.Count)
	default:
		embed.Title = string(ev.Kind)
	}

	if ev.KeyHint != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Key", Value: ev.KeyHint, Inline: true})
	}
	if ev.Detail != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Detail", Value: ev.Detail, Inline: false})
	}
	return embed
}
