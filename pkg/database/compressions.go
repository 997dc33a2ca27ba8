package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/akagifreeez/tinify-dashboard/internal/models"
	"github.com/akagifreeez/tinify-dashboard/internal/services"
)

// CompressionStore persists compression records and outputs in PostgreSQL.
type CompressionStore struct {
	db *DB
}

var _ services.RecordStore = (*CompressionStore)(nil)

func NewCompressionStore(db *DB) *CompressionStore {
	return &CompressionStore{db: db}
}

const compressionColumns = `id, filename, content_type, original_size, compressed_size, savings_percent,
	status, error_kind, error_message, key_hint, created_by, created_at, completed_at`

func scanCompression(row pgx.Row) (*models.Compression, error) {
	var c models.Compression
	err := row.Scan(&c.ID, &c.Filename, &c.ContentType, &c.OriginalSize, &c.CompressedSize, &c.SavingsPercent,
		&c.Status, &c.ErrorKind, &c.ErrorMessage, &c.KeyHint, &c.CreatedBy, &c.CreatedAt, &c.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *CompressionStore) CreateCompression(ctx context.Context, rec *models.Compression) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO compressions (`+compressionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, rec.ID, rec.Filename, rec.ContentType, rec.OriginalSize, rec.CompressedSize, rec.SavingsPercent,
		rec.Status, rec.ErrorKind, rec.ErrorMessage, rec.KeyHint, rec.CreatedBy, rec.CreatedAt, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert compression: %w", err)
	}
	return nil
}

func (s *CompressionStore) UpdateCompression(ctx context.Context, rec *models.Compression) error {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE compressions
		SET compressed_size = $2,
		    savings_percent = $3,
		    status = $4,
		    error_kind = $5,
		    error_message = $6,
		    key_hint = $7,
		    completed_at = $8
		WHERE id = $1
	`, rec.ID, rec.CompressedSize, rec.SavingsPercent, rec.Status, rec.ErrorKind, rec.ErrorMessage, rec.KeyHint, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("update compression: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *CompressionStore) GetCompression(ctx context.Context, id string) (*models.Compression, error) {
	row := s.db.Pool.QueryRow(ctx, `SELECT `+compressionColumns+` FROM compressions WHERE id = $1`, id)
	rec, err := scanCompression(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get compression: %w", err)
	}
	return rec, nil
}

func (s *CompressionStore) ListCompressions(ctx context.Context, limit, offset int) ([]models.Compression, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT `+compressionColumns+`
		FROM compressions
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list compressions: %w", err)
	}
	defer rows.Close()

	list := []models.Compression{}
	for rows.Next() {
		rec, err := scanCompression(rows)
		if err != nil {
			return nil, fmt.Errorf("scan compression: %w", err)
		}
		list = append(list, *rec)
	}
	return list, rows.Err()
}

func (s *CompressionStore) DeleteCompression(ctx context.Context, id string) error {
	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM compressions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete compression: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *CompressionStore) CompressionStats(ctx context.Context) (models.CompressionStats, error) {
	var st models.CompressionStats
	err := s.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status IN ('pending', 'processing')),
			COALESCE(SUM(original_size) FILTER (WHERE status = 'completed'), 0)::BIGINT,
			COALESCE(SUM(compressed_size) FILTER (WHERE status = 'completed'), 0)::BIGINT,
			COALESCE(AVG(savings_percent) FILTER (WHERE status = 'completed'), 0)
		FROM compressions
	`).Scan(&st.Total, &st.Completed, &st.Failed, &st.InFlight, &st.BytesIn, &st.BytesOut, &st.AverageSavingsPct)
	if err != nil {
		return st, fmt.Errorf("compression stats: %w", err)
	}
	return st, nil
}

func (s *CompressionStore) FailInFlight(ctx context.Context, message string, at time.Time) (int64, error) {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE compressions
		SET status = 'failed', error_kind = $1, error_message = $2, completed_at = $3
		WHERE status IN ('pending', 'processing')
	`, string(services.KindPersistence), message, at)
	if err != nil {
		return 0, fmt.Errorf("fail in-flight compressions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *CompressionStore) SaveOutput(ctx context.Context, id string, data []byte) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO compression_outputs (compression_id, data) VALUES ($1, $2)
		ON CONFLICT (compression_id) DO UPDATE SET data = EXCLUDED.data
	`, id, data)
	if err != nil {
		return fmt.Errorf("save output: %w", err)
	}
	return nil
}

func (s *CompressionStore) LoadOutput(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.db.Pool.QueryRow(ctx, `SELECT data FROM compression_outputs WHERE compression_id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load output: %w", err)
	}
	return data, nil
}
