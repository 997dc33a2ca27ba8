// Package backend opens the stores and clients shared by the API and worker
// binaries.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/tinify-dashboard/internal/config"
	"github.com/akagifreeez/tinify-dashboard/internal/ledger"
	"github.com/akagifreeez/tinify-dashboard/internal/services"
	"github.com/akagifreeez/tinify-dashboard/pkg/crypto"
	"github.com/akagifreeez/tinify-dashboard/pkg/database"
	"github.com/akagifreeez/tinify-dashboard/pkg/redislock"
	"github.com/akagifreeez/tinify-dashboard/pkg/sqlite"
	"github.com/akagifreeez/tinify-dashboard/pkg/tinify"
)

const (
	rateLimitKey = "tinify:rate_limit"
	attemptLock  = "tinify:ledger:attempt"

	// attemptCalls is the provider round trips one attempt can make:
	// validate, shrink and output download.
	attemptCalls = 3
	// limiterWindow is the longest a single RedisLimiter wait can block.
	limiterWindow = time.Minute
	leaseSlack    = 30 * time.Second
)

// attemptLease outlasts the slowest possible attempt, so the strict lock is
// never lost while an attempt is still running.
func attemptLease(providerTimeout time.Duration) time.Duration {
	if providerTimeout <= 0 {
		providerTimeout = 60 * time.Second
	}
	return attemptCalls*(providerTimeout+limiterWindow) + leaseSlack
}

// Backend holds the opened stores. DB and Redis are nil when not configured.
type Backend struct {
	DB       *database.DB
	Redis    *redis.Client
	Ledger   *ledger.Ledger
	Records  services.RecordStore
	Settings *services.SettingsService

	closers []func()
}

// Open connects everything cfg asks for. PostgreSQL, when configured, holds
// records and settings whatever the ledger backend is.
func Open(ctx context.Context, cfg *config.Config) (*Backend, error) {
	b := &Backend{}
	ok := false
	defer func() {
		if !ok {
			b.Close()
		}
	}()

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.DB = db
		b.closers = append(b.closers, db.Close)
		pool = db.Pool

		log.Info().Msg("Running database migrations...")
		if err := db.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info().Msg("Migrations completed successfully")
		b.Records = database.NewCompressionStore(db)
	} else {
		log.Warn().Msg("DATABASE_URL not set, compression records are kept in memory")
		b.Records = services.NewMemoryRecordStore()
	}

	settings, err := services.NewSettingsService(ctx, pool)
	if err != nil {
		return nil, err
	}
	b.Settings = settings

	store, err := b.openLedgerStore(cfg)
	if err != nil {
		return nil, err
	}
	b.Ledger = ledger.New(store)

	if cfg.RedisURL != "" {
		client, err := tinify.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			// The limiter and lock degrade to in-process versions.
			log.Warn().Err(err).Msg("Redis unavailable, using in-process rate limiting")
		} else {
			b.Redis = client
			b.closers = append(b.closers, func() { client.Close() })
		}
	}

	ok = true
	return b, nil
}

func (b *Backend) openLedgerStore(cfg *config.Config) (ledger.StateStore, error) {
	switch cfg.LedgerBackend {
	case config.LedgerPostgres:
		cipher, err := crypto.NewCipher(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("ENCRYPTION_KEY: %w", err)
		}
		if b.DB == nil {
			return nil, fmt.Errorf("ledger backend %q requires DATABASE_URL", cfg.LedgerBackend)
		}
		return database.NewLedgerStore(b.DB, cipher)

	case config.LedgerSQLite:
		var cipher *crypto.Cipher
		if cfg.EncryptionKey != "" {
			c, err := crypto.NewCipher(cfg.EncryptionKey)
			if err != nil {
				return nil, fmt.Errorf("ENCRYPTION_KEY: %w", err)
			}
			cipher = c
		}
		store, err := sqlite.Open(cfg.LedgerSQLitePath, cipher)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { store.Close() })
		log.Info().Str("path", cfg.LedgerSQLitePath).Msg("Using SQLite ledger")
		return store, nil

	default:
		log.Warn().Msg("Using in-memory ledger, usage counters are lost on restart")
		return ledger.NewMemoryStore(ledger.RotationState{}), nil
	}
}

// Provider builds the compression provider client with a limiter shared
// through Redis when available.
func (b *Backend) Provider(cfg *config.Config) *tinify.Client {
	var limiter tinify.Limiter
	if b.Redis != nil {
		limiter = tinify.NewRedisLimiter(b.Redis, cfg.ProviderRateLimit, rateLimitKey)
	} else {
		limiter = tinify.NewLocalLimiter(cfg.ProviderRateLimit)
	}
	return tinify.NewClient(cfg.ProviderBaseURL, cfg.ProviderTimeout, tinify.WithLimiter(limiter))
}

// Attempter picks the ledger attempt strategy. Strict mode serializes whole
// attempts, across processes when Redis is available.
func (b *Backend) Attempter(cfg *config.Config) ledger.Attempter {
	if !cfg.LedgerStrict {
		return ledger.TwoPhase{Ledger: b.Ledger}
	}
	if b.Redis != nil {
		log.Info().Msg("Strict ledger mode with Redis lock")
		return ledger.Serialized{Ledger: b.Ledger, Lock: redislock.New(b.Redis, attemptLock, attemptLease(cfg.ProviderTimeout))}
	}
	log.Info().Msg("Strict ledger mode with in-process lock")
	return ledger.Serialized{Ledger: b.Ledger, Lock: &ledger.MutexLocker{}}
}

// Close releases everything in reverse opening order.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}
