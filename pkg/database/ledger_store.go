package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/akagifreeez/tinify-dashboard/internal/ledger"
	"github.com/akagifreeez/tinify-dashboard/pkg/crypto"
)

// LedgerStore keeps the rotation state in PostgreSQL. Tokens are stored
// encrypted and addressed by their hash.
type LedgerStore struct {
	db     *DB
	cipher *crypto.Cipher
}

var _ ledger.StateStore = (*LedgerStore)(nil)

func NewLedgerStore(db *DB, cipher *crypto.Cipher) (*LedgerStore, error) {
	if cipher == nil {
		return nil, errors.New("ledger store requires an encryption key")
	}
	return &LedgerStore{db: db, cipher: cipher}, nil
}

func (s *LedgerStore) ReadState(ctx context.Context) (ledger.RotationState, error) {
	var st ledger.RotationState

	err := s.db.Pool.QueryRow(ctx, `SELECT cursor_pos FROM rotation_state WHERE id = 1`).Scan(&st.Cursor)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return st, fmt.Errorf("read cursor: %w", err)
	}

	rows, err := s.db.Pool.Query(ctx, `
		SELECT encrypted_token, label, monthly_limit, usage_count, is_active, created_at, last_used_at
		FROM api_keys
		ORDER BY position ASC
	`)
	if err != nil {
		return st, fmt.Errorf("read api keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c ledger.Credential
		var encrypted string
		if err := rows.Scan(&encrypted, &c.Label, &c.MonthlyLimit, &c.Used, &c.Active, &c.CreatedAt, &c.LastUsedAt); err != nil {
			return st, fmt.Errorf("scan api key: %w", err)
		}
		c.Token, err = s.cipher.Decrypt(encrypted)
		if err != nil {
			return st, fmt.Errorf("decrypt api key: %w", err)
		}
		st.Credentials = append(st.Credentials, c)
	}
	if err := rows.Err(); err != nil {
		return st, fmt.Errorf("read api keys: %w", err)
	}
	return st, nil
}

// WriteState replaces the stored state in one transaction.
func (s *LedgerStore) WriteState(ctx context.Context, st ledger.RotationState) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	hashes := make([]string, 0, len(st.Credentials))
	for i, c := range st.Credentials {
		hash := crypto.HashToken(c.Token)
		hashes = append(hashes, hash)

		encrypted, err := s.cipher.Encrypt(c.Token)
		if err != nil {
			return fmt.Errorf("encrypt api key: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO api_keys (token_hash, encrypted_token, position, label, monthly_limit, usage_count, is_active, created_at, last_used_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (token_hash) DO UPDATE
			SET position = EXCLUDED.position,
			    label = EXCLUDED.label,
			    monthly_limit = EXCLUDED.monthly_limit,
			    usage_count = EXCLUDED.usage_count,
			    is_active = EXCLUDED.is_active,
			    last_used_at = EXCLUDED.last_used_at
		`, hash, encrypted, i, c.Label, c.MonthlyLimit, c.Used, c.Active, c.CreatedAt, c.LastUsedAt)
		if err != nil {
			return fmt.Errorf("upsert api key: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM api_keys WHERE NOT (token_hash = ANY($1))`, hashes); err != nil {
		return fmt.Errorf("prune api keys: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO rotation_state (id, cursor_pos, updated_at) VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET cursor_pos = EXCLUDED.cursor_pos, updated_at = NOW()
	`, st.Cursor)
	if err != nil {
		return fmt.Errorf("write cursor: %w", err)
	}

	return tx.Commit(ctx)
}
