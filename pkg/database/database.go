package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Dashboard traffic is light; uploads hold a connection only briefly.
	config.MaxConns = 20
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate creates the dashboard schema. Every statement is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		// Provider API keys in rotation order. token_hash is the public ID.
		`CREATE TABLE IF NOT EXISTS api_keys (
			token_hash TEXT PRIMARY KEY,
			encrypted_token TEXT NOT NULL,
			position INT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			monthly_limit INT NOT NULL,
			usage_count INT NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_used_at TIMESTAMPTZ
		);`,

		// Single-row rotation cursor
		`CREATE TABLE IF NOT EXISTS rotation_state (
			id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			cursor_pos INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`INSERT INTO rotation_state (id, cursor_pos) VALUES (1, 0) ON CONFLICT (id) DO NOTHING;`,

		// Compression records
		`CREATE TABLE IF NOT EXISTS compressions (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			original_size BIGINT NOT NULL,
			compressed_size BIGINT,
			savings_percent DOUBLE PRECISION,
			status VARCHAR(16) NOT NULL,
			error_kind VARCHAR(64) NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			key_hint TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMPTZ
		);`,

		`CREATE TABLE IF NOT EXISTS compression_outputs (
			compression_id TEXT PRIMARY KEY REFERENCES compressions(id) ON DELETE CASCADE,
			data BYTEA NOT NULL
		);`,

		// System settings
		`CREATE TABLE IF NOT EXISTS system_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			description TEXT,
			is_secret BOOLEAN DEFAULT FALSE,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);`,

		// Create indexes
		`CREATE INDEX IF NOT EXISTS idx_api_keys_position ON api_keys(position);`,
		`CREATE INDEX IF NOT EXISTS idx_compressions_created_at ON compressions(created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_compressions_in_flight ON compressions(status) WHERE status IN ('pending', 'processing');`,
	}

	for _, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w\nQuery: %s", err, migration)
		}
	}

	return nil
}
