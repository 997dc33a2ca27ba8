package workers

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/tinify-dashboard/internal/config"
	"github.com/akagifreeez/tinify-dashboard/internal/ledger"
	"github.com/akagifreeez/tinify-dashboard/internal/services"
	"github.com/akagifreeez/tinify-dashboard/pkg/crypto"
)

// CredentialSource lists the credentials enabled for rotation.
type CredentialSource interface {
	ActiveCredentials(ctx context.Context) ([]ledger.Credential, error)
}

// KeyHealthCheck validates every active key against the provider. Failures
// are reported, never acted on: an operator decides whether to disable a key.
type KeyHealthCheck struct {
	keys      CredentialSource
	validator services.KeyValidator
	notifier  services.Notifier
	interval  time.Duration
}

// NewKeyHealthCheck creates a new KeyHealthCheck worker
func NewKeyHealthCheck(keys CredentialSource, validator services.KeyValidator, notifier services.Notifier, cfg *config.Config) *KeyHealthCheck {
	if notifier == nil {
		notifier = services.NopNotifier{}
	}
	return &KeyHealthCheck{
		keys:      keys,
		validator: validator,
		notifier:  notifier,
		interval:  cfg.KeyCheckInterval,
	}
}

// Start begins the periodic validation
func (k *KeyHealthCheck) Start(ctx context.Context) {
	log.Info().Dur("interval", k.interval).Msg("Starting Key Health worker")

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Key Health worker stopped")
			return
		case <-ticker.C:
			k.checkAll(ctx)
		}
	}
}

// checkAll returns the number of keys that failed validation.
func (k *KeyHealthCheck) checkAll(ctx context.Context) int {
	creds, err := k.keys.ActiveCredentials(ctx)
	if err != nil {
		log.Error().Err(err).Msg("KeyHealth: Failed to list active keys")
		return 0
	}

	failed := 0
	for _, c := range creds {
		if ctx.Err() != nil {
			break
		}
		hint := crypto.MaskToken(c.Token)
		if err := k.validator.Validate(ctx, c.Token); err != nil {
			failed++
			log.Warn().Err(err).Str("key", hint).Msg("KeyHealth: Key failed validation")
			k.notifier.Notify(ctx, services.Event{
				Kind:    services.EventKeyHealth,
				KeyHint: hint,
				Detail:  err.Error(),
			})
			continue
		}
		log.Debug().Str("key", hint).Msg("KeyHealth: Key OK")
	}

	log.Info().Int("checked", len(creds)).Int("failed", failed).Msg("KeyHealth: Check completed")
	return failed
}

// RunOnce performs a single pass (useful for testing)
func (k *KeyHealthCheck) RunOnce(ctx context.Context) int {
	return k.checkAll(ctx)
}
