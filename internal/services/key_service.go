package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/tinify-dashboard/internal/ledger"
	"github.com/akagifreeez/tinify-dashboard/internal/models"
	"github.com/akagifreeez/tinify-dashboard/pkg/crypto"
)

// KeyValidator checks a token against the provider before it is admitted.
type KeyValidator interface {
	Validate(ctx context.Context, token string) error
}

// ErrKeyRejected wraps the provider's reason for refusing a new key.
var ErrKeyRejected = errors.New("API key rejected by provider")

// KeyService is the administrative face of the ledger. Keys are addressed by
// the SHA-256 of their token so plaintext never has to travel in URLs.
type KeyService struct {
	ledger       *ledger.Ledger
	validator    KeyValidator
	defaultLimit int
}

func NewKeyService(l *ledger.Ledger, validator KeyValidator, defaultLimit int) *KeyService {
	return &KeyService{
		ledger:       l,
		validator:    validator,
		defaultLimit: defaultLimit,
	}
}

// GetNextAvailableKey hands out the next token with remaining quota.
func (ks *KeyService) GetNextAvailableKey(ctx context.Context) (string, error) {
	cred, err := ks.ledger.SelectCredential(ctx)
	if err != nil {
		return "", err
	}
	return cred.Token, nil
}

func (ks *KeyService) RecordUsage(ctx context.Context, token string) error {
	return ks.ledger.RecordUsage(ctx, token)
}

// AddAPIKey validates token with the provider and adds it to the rotation.
// A non-positive monthlyLimit falls back to the configured default.
func (ks *KeyService) AddAPIKey(ctx context.Context, token string, monthlyLimit int, label string) (*models.ApiKey, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ledger.ErrEmptyToken
	}
	if monthlyLimit <= 0 {
		monthlyLimit = ks.defaultLimit
	}

	if _, err := ks.ledger.Credential(ctx, token); err == nil {
		return nil, ledger.ErrCredentialExists
	}

	if ks.validator != nil {
		if err := ks.validator.Validate(ctx, token); err != nil {
			ce := classifyProvider(stageValidate, crypto.MaskToken(token), err)
			return nil, fmt.Errorf("%w: %w", ErrKeyRejected, ce)
		}
	}

	if err := ks.ledger.AddCredential(ctx, token, monthlyLimit, label); err != nil {
		return nil, err
	}
	log.Info().Str("key", crypto.MaskToken(token)).Int("monthly_limit", monthlyLimit).Msg("API key added")

	cred, err := ks.ledger.Credential(ctx, token)
	if err != nil {
		return nil, err
	}
	key := toApiKey(cred)
	return &key, nil
}

// RemoveAPIKey drops the key identified by id (token hash).
func (ks *KeyService) RemoveAPIKey(ctx context.Context, id string) error {
	token, err := ks.resolve(ctx, id)
	if err != nil {
		return err
	}
	if err := ks.ledger.RemoveCredential(ctx, token); err != nil {
		return err
	}
	log.Info().Str("key", crypto.MaskToken(token)).Msg("API key removed")
	return nil
}

// UpdateAPIKey applies an administrative change and returns the new view.
func (ks *KeyService) UpdateAPIKey(ctx context.Context, id string, upd ledger.CredentialUpdate) (*models.ApiKey, error) {
	token, err := ks.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ks.ledger.UpdateCredential(ctx, token, upd); err != nil {
		return nil, err
	}
	cred, err := ks.ledger.Credential(ctx, token)
	if err != nil {
		return nil, err
	}
	key := toApiKey(cred)
	return &key, nil
}

// GetKeyUsage returns every key in rotation order with masked tokens.
func (ks *KeyService) GetKeyUsage(ctx context.Context) ([]models.ApiKey, error) {
	usage, err := ks.ledger.ListUsage(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]models.ApiKey, 0, len(usage))
	for _, u := range usage {
		keys = append(keys, models.ApiKey{
			ID:           crypto.HashToken(u.Token),
			Masked:       crypto.MaskToken(u.Token),
			Label:        u.Label,
			IsActive:     u.Active,
			MonthlyLimit: u.Limit,
			UsageCount:   u.Used,
			Remaining:    u.Remaining,
			LastUsedAt:   u.LastUsedAt,
		})
	}
	return keys, nil
}

// ResetMonthlyUsage zeroes all counters and returns how many keys were reset.
func (ks *KeyService) ResetMonthlyUsage(ctx context.Context) (int, error) {
	if err := ks.ledger.ResetMonthlyUsage(ctx); err != nil {
		return 0, err
	}
	st, err := ks.ledger.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	log.Info().Int("keys", len(st.Credentials)).Msg("Monthly usage reset")
	return len(st.Credentials), nil
}

// SeedKeys adds configured tokens without provider validation. Tokens that
// are already present keep their counters.
func (ks *KeyService) SeedKeys(ctx context.Context, tokens []string) (int, error) {
	added := 0
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		err := ks.ledger.AddCredential(ctx, token, ks.defaultLimit, "")
		switch {
		case err == nil:
			added++
		case errors.Is(err, ledger.ErrCredentialExists):
		default:
			return added, fmt.Errorf("seed key %s: %w", crypto.MaskToken(token), err)
		}
	}
	if added > 0 {
		log.Info().Int("count", added).Msg("Seeded API keys from configuration")
	}
	return added, nil
}

// ActiveCredentials returns the credentials currently enabled for rotation.
func (ks *KeyService) ActiveCredentials(ctx context.Context) ([]ledger.Credential, error) {
	st, err := ks.ledger.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Credential, 0, len(st.Credentials))
	for _, c := range st.Credentials {
		if c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

func (ks *KeyService) resolve(ctx context.Context, id string) (string, error) {
	st, err := ks.ledger.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	for _, c := range st.Credentials {
		if crypto.HashToken(c.Token) == id || c.Token == id {
			return c.Token, nil
		}
	}
	return "", ledger.ErrCredentialNotFound
}

func toApiKey(c ledger.Credential) models.ApiKey {
	return models.ApiKey{
		ID:           crypto.HashToken(c.Token),
		Masked:       crypto.MaskToken(c.Token),
		Label:        c.Label,
		IsActive:     c.Active,
		MonthlyLimit: c.MonthlyLimit,
		UsageCount:   c.Used,
		Remaining:    c.Remaining(),
		LastUsedAt:   c.LastUsedAt,
	}
}
