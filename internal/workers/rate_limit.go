package workers

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/tinify-dashboard/internal/services"
)

// RateLimitUpdater accepts a new provider request ceiling.
type RateLimitUpdater interface {
	UpdateRateLimit(perMinute int)
}

// RateLimitRefresher keeps the provider limiter in step with the
// provider_rate_limit setting, which may be changed from the dashboard.
type RateLimitRefresher struct {
	settings SettingStore
	target   RateLimitUpdater
	fallback int
	interval time.Duration
	current  int
}

func NewRateLimitRefresher(settings SettingStore, target RateLimitUpdater, fallback int, interval time.Duration) *RateLimitRefresher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &RateLimitRefresher{
		settings: settings,
		target:   target,
		fallback: fallback,
		interval: interval,
		current:  fallback,
	}
}

func (r *RateLimitRefresher) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

// refresh returns the limit in effect afterwards.
func (r *RateLimitRefresher) refresh(ctx context.Context) int {
	if err := r.settings.Reload(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to reload settings for rate limit")
		return r.current
	}
	limit := r.settings.GetInt(ctx, services.SettingProviderRateLimit, r.fallback)
	if limit > 0 && limit != r.current {
		log.Info().Int("from", r.current).Int("to", limit).Msg("Provider rate limit updated")
		r.target.UpdateRateLimit(limit)
		r.current = limit
	}
	return r.current
}
