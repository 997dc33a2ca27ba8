package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/tinify-dashboard/internal/config"
	"github.com/akagifreeez/tinify-dashboard/internal/services"
)

// periodLayout names a billing period. Provider quotas roll over on the
// calendar month in UTC.
const periodLayout = "2006-01"

// UsageResetter zeroes monthly usage counters.
type UsageResetter interface {
	ResetMonthlyUsage(ctx context.Context) (int, error)
}

// SettingStore is the subset of SettingsService the workers need.
type SettingStore interface {
	Reload(ctx context.Context) error
	Get(ctx context.Context, key string, defaultValue string) string
	GetInt(ctx context.Context, key string, defaultValue int) int
	Set(ctx context.Context, key, value, description string, isSecret bool) error
}

// UsageReset zeroes usage counters once per calendar month
type UsageReset struct {
	keys     UsageResetter
	settings SettingStore
	notifier services.Notifier
	interval time.Duration
	now      func() time.Time
}

// NewUsageReset creates a new UsageReset worker
func NewUsageReset(keys UsageResetter, settings SettingStore, notifier services.Notifier, cfg *config.Config) *UsageReset {
	if notifier == nil {
		notifier = services.NopNotifier{}
	}
	return &UsageReset{
		keys:     keys,
		settings: settings,
		notifier: notifier,
		interval: cfg.UsageResetCheckInterval,
		now:      time.Now,
	}
}

// Start begins the periodic check
func (u *UsageReset) Start(ctx context.Context) {
	log.Info().Dur("interval", u.interval).Msg("Starting Usage Reset worker")

	// Run immediately on start
	if _, err := u.check(ctx); err != nil {
		log.Error().Err(err).Msg("Initial usage reset check failed")
	}

	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Usage Reset worker stopped")
			return
		case <-ticker.C:
			if _, err := u.check(ctx); err != nil {
				log.Error().Err(err).Msg("Usage reset check failed")
			}
		}
	}
}

// check resets usage when the current period differs from the last recorded
// one. With no period recorded yet the current one is recorded and counters
// are left alone, since they may already belong to this month.
func (u *UsageReset) check(ctx context.Context) (bool, error) {
	if err := u.settings.Reload(ctx); err != nil {
		return false, fmt.Errorf("reload settings: %w", err)
	}

	current := u.now().UTC().Format(periodLayout)
	last := u.settings.Get(ctx, services.SettingLastUsageReset, "")
	if last == current {
		return false, nil
	}

	if last == "" {
		log.Info().Str("period", current).Msg("No usage period recorded, starting from current month")
		return false, u.record(ctx, current)
	}

	n, err := u.keys.ResetMonthlyUsage(ctx)
	if err != nil {
		return false, fmt.Errorf("reset monthly usage: %w", err)
	}
	if err := u.record(ctx, current); err != nil {
		return true, err
	}

	log.Info().Str("from", last).Str("to", current).Int("keys", n).Msg("Monthly usage reset")
	u.notifier.Notify(ctx, services.Event{
		Kind:   services.EventUsageReset,
		Count:  n,
		Detail: "monthly rollover to " + current,
	})
	return true, nil
}

func (u *UsageReset) record(ctx context.Context, period string) error {
	if err := u.settings.Set(ctx, services.SettingLastUsageReset, period, "Billing period of the last usage reset (UTC)", false); err != nil {
		return fmt.Errorf("record usage period: %w", err)
	}
	return nil
}

// RunOnce performs a single check (useful for testing)
func (u *UsageReset) RunOnce(ctx context.Context) (bool, error) {
	return u.check(ctx)
}
