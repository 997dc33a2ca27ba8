// Package sqlite provides a single-file ledger store for deployments without
// PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/akagifreeez/tinify-dashboard/internal/ledger"
	"github.com/akagifreeez/tinify-dashboard/pkg/crypto"
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	position      INTEGER NOT NULL,
	token         TEXT PRIMARY KEY,
	label         TEXT NOT NULL DEFAULT '',
	monthly_limit INTEGER NOT NULL,
	used          INTEGER NOT NULL DEFAULT 0,
	active        INTEGER NOT NULL DEFAULT 1,
	created_at    INTEGER NOT NULL,
	last_used_at  INTEGER
);
CREATE TABLE IF NOT EXISTS rotation (
	id     INTEGER PRIMARY KEY CHECK (id = 1),
	cursor INTEGER NOT NULL DEFAULT 0
);
INSERT OR IGNORE INTO rotation (id, cursor) VALUES (1, 0);
`

// LedgerStore persists rotation state in SQLite. When a cipher is given,
// tokens are encrypted at rest.
type LedgerStore struct {
	sqlDB  *sql.DB
	cipher *crypto.Cipher
}

var _ ledger.StateStore = (*LedgerStore)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens (creating if needed) the database at path. ":memory:" is
// accepted for tests.
func Open(path string, cipher *crypto.Cipher) (*LedgerStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path)
	}
	dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &LedgerStore{sqlDB: sqlDB, cipher: cipher}, nil
}

// Close closes the SQLite handle.
func (s *LedgerStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *LedgerStore) ReadState(ctx context.Context) (ledger.RotationState, error) {
	var st ledger.RotationState
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT cursor FROM rotation WHERE id = 1`).Scan(&st.Cursor); err != nil {
		return st, fmt.Errorf("read cursor: %w", err)
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT token, label, monthly_limit, used, active, created_at, last_used_at
		FROM credentials
		ORDER BY position ASC
	`)
	if err != nil {
		return st, fmt.Errorf("read credentials: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c         ledger.Credential
			stored    string
			active    int
			createdAt int64
			lastUsed  sql.NullInt64
		)
		if err := rows.Scan(&stored, &c.Label, &c.MonthlyLimit, &c.Used, &active, &createdAt, &lastUsed); err != nil {
			return st, fmt.Errorf("scan credential: %w", err)
		}
		if c.Token, err = s.decrypt(stored); err != nil {
			return st, fmt.Errorf("decrypt credential: %w", err)
		}
		c.Active = active != 0
		c.CreatedAt = fromMillis(createdAt)
		if lastUsed.Valid {
			t := fromMillis(lastUsed.Int64)
			c.LastUsedAt = &t
		}
		st.Credentials = append(st.Credentials, c)
	}
	if err := rows.Err(); err != nil {
		return st, fmt.Errorf("read credentials: %w", err)
	}
	return st, nil
}

// WriteState overwrites the stored state in one transaction.
func (s *LedgerStore) WriteState(ctx context.Context, st ledger.RotationState) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}

	for i, c := range st.Credentials {
		stored, err := s.encrypt(c.Token)
		if err != nil {
			return fmt.Errorf("encrypt credential: %w", err)
		}
		var lastUsed sql.NullInt64
		if c.LastUsedAt != nil {
			lastUsed = sql.NullInt64{Int64: toMillis(*c.LastUsedAt), Valid: true}
		}
		active := 0
		if c.Active {
			active = 1
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO credentials (position, token, label, monthly_limit, used, active, created_at, last_used_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, i, stored, c.Label, c.MonthlyLimit, c.Used, active, toMillis(c.CreatedAt), lastUsed)
		if err != nil {
			return fmt.Errorf("insert credential: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE rotation SET cursor = ? WHERE id = 1`, st.Cursor); err != nil {
		return fmt.Errorf("write cursor: %w", err)
	}
	return tx.Commit()
}

func (s *LedgerStore) encrypt(token string) (string, error) {
	if s.cipher == nil {
		return token, nil
	}
	return s.cipher.Encrypt(token)
}

func (s *LedgerStore) decrypt(stored string) (string, error) {
	if s.cipher == nil {
		return stored, nil
	}
	return s.cipher.Decrypt(stored)
}
