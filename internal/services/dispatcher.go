package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/tinify-dashboard/internal/ledger"
	"github.com/akagifreeez/tinify-dashboard/pkg/crypto"
)

// Provider is the external compression service as the dispatcher sees it.
// Failures are expected to be *tinify.Error values.
type Provider interface {
	Validate(ctx context.Context, token string) error
	Compress(ctx context.Context, token string, data []byte) ([]byte, error)
}

// CompressResult is a successful compression.
type CompressResult struct {
	Compressed     []byte
	OriginalSize   int64
	CompressedSize int64
	SavingsPercent float64
	KeyHint        string

	// UsageStale is set when the provider call succeeded but the usage
	// increment could not be persisted.
	UsageStale bool
}

// Dispatcher performs one end-to-end compression attempt. It never retries.
type Dispatcher struct {
	attempter ledger.Attempter
	provider  Provider
	notifier  Notifier
}

// NewDispatcher wires a dispatcher. notifier may be nil.
func NewDispatcher(attempter ledger.Attempter, provider Provider, notifier Notifier) *Dispatcher {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Dispatcher{
		attempter: attempter,
		provider:  provider,
		notifier:  notifier,
	}
}

// Compress selects a credential, validates it, compresses payload and charges
// one unit of usage on success. Any failure is a *CompressionError.
func (d *Dispatcher) Compress(ctx context.Context, payload []byte) (*CompressResult, error) {
	var result *CompressResult
	var keyHint string

	err := d.attempter.AttemptWithCredential(ctx, func(ctx context.Context, cred ledger.Credential) error {
		keyHint = crypto.MaskToken(cred.Token)

		if err := d.provider.Validate(ctx, cred.Token); err != nil {
			return classifyProvider(stageValidate, keyHint, err)
		}

		out, err := d.provider.Compress(ctx, cred.Token, payload)
		if err != nil {
			return classifyProvider(stageCompress, keyHint, err)
		}

		result = &CompressResult{
			Compressed:     out,
			OriginalSize:   int64(len(payload)),
			CompressedSize: int64(len(out)),
			SavingsPercent: savingsPercent(int64(len(payload)), int64(len(out))),
			KeyHint:        keyHint,
		}
		return nil
	})

	if err == nil {
		return result, nil
	}

	if result != nil && errors.Is(err, ledger.ErrUsageNotRecorded) {
		result.UsageStale = true
		log.Error().Err(err).Str("key", keyHint).Msg("Compression succeeded but usage was not persisted")
		d.notifier.Notify(ctx, Event{
			Kind:    EventUsageStale,
			KeyHint: keyHint,
			Detail:  err.Error(),
		})
		return result, nil
	}

	var ce *CompressionError
	switch {
	case errors.As(err, &ce):
	case errors.Is(err, ledger.ErrNoCredentialsAvailable):
		ce = &CompressionError{
			Kind:    KindQuotaExhausted,
			Message: "all API keys have reached their monthly limit",
			Err:     err,
		}
	default:
		ce = &CompressionError{
			Kind:    KindPersistence,
			KeyHint: keyHint,
			Message: err.Error(),
			Err:     err,
		}
	}

	switch ce.Kind {
	case KindQuotaExhausted:
		log.Warn().Msg("No API key with remaining quota")
		d.notifier.Notify(ctx, Event{Kind: EventQuotaExhausted, Detail: ce.Message})
	case KindInvalidCredential:
		log.Warn().Str("key", keyHint).Str("message", ce.Message).Msg("Provider rejected API key")
		d.notifier.Notify(ctx, Event{Kind: EventInvalidCredential, KeyHint: keyHint, Detail: ce.Message})
	default:
		log.Error().Err(err).Str("kind", string(ce.Kind)).Str("key", keyHint).Msg("Compression failed")
	}
	return nil, ce
}

// savingsPercent is (original - compressed) / original as a percentage.
func savingsPercent(original, compressed int64) float64 {
	if original <= 0 {
		return 0
	}
	return float64(original-compressed) / float64(original) * 100
}
