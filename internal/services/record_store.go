package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/akagifreeez/tinify-dashboard/internal/models"
)

// RecordStore persists compression records and their compressed output.
type RecordStore interface {
	CreateCompression(ctx context.Context, rec *models.Compression) error
	UpdateCompression(ctx context.Context, rec *models.Compression) error
	GetCompression(ctx context.Context, id string) (*models.Compression, error)
	ListCompressions(ctx context.Context, limit, offset int) ([]models.Compression, error)
	DeleteCompression(ctx context.Context, id string) error
	CompressionStats(ctx context.Context) (models.CompressionStats, error)

	// FailInFlight marks every pending or processing record failed.
	FailInFlight(ctx context.Context, message string, at time.Time) (int64, error)

	SaveOutput(ctx context.Context, id string, data []byte) error
	LoadOutput(ctx context.Context, id string) ([]byte, error)
}

// MemoryRecordStore is an in-process RecordStore.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]models.Compression
	outputs map[string][]byte
}

var _ RecordStore = (*MemoryRecordStore)(nil)

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records: make(map[string]models.Compression),
		outputs: make(map[string][]byte),
	}
}

func (m *MemoryRecordStore) CreateCompression(_ context.Context, rec *models.Compression) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = *rec
	return nil
}

func (m *MemoryRecordStore) UpdateCompression(_ context.Context, rec *models.Compression) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; !ok {
		return models.ErrNotFound
	}
	m.records[rec.ID] = *rec
	return nil
}

func (m *MemoryRecordStore) GetCompression(_ context.Context, id string) (*models.Compression, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryRecordStore) ListCompressions(_ context.Context, limit, offset int) ([]models.Compression, error) {
	m.mu.RLock()
	out := make([]models.Compression, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if offset >= len(out) {
		return []models.Compression{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRecordStore) DeleteCompression(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return models.ErrNotFound
	}
	delete(m.records, id)
	delete(m.outputs, id)
	return nil
}

func (m *MemoryRecordStore) CompressionStats(_ context.Context) (models.CompressionStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var st models.CompressionStats
	var savings float64
	for _, rec := range m.records {
		st.Total++
		switch rec.Status {
		case models.StatusCompleted:
			st.Completed++
			st.BytesIn += rec.OriginalSize
			if rec.CompressedSize != nil {
				st.BytesOut += *rec.CompressedSize
			}
			if rec.SavingsPercent != nil {
				savings += *rec.SavingsPercent
			}
		case models.StatusFailed:
			st.Failed++
		default:
			st.InFlight++
		}
	}
	if st.Completed > 0 {
		st.AverageSavingsPct = savings / float64(st.Completed)
	}
	return st, nil
}

func (m *MemoryRecordStore) FailInFlight(_ context.Context, message string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.records {
		if rec.Status.Terminal() {
			continue
		}
		if err := rec.Fail(string(KindPersistence), message, at); err != nil {
			return n, err
		}
		m.records[id] = rec
		n++
	}
	return n, nil
}

func (m *MemoryRecordStore) SaveOutput(_ context.Context, id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return models.ErrNotFound
	}
	m.outputs[id] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryRecordStore) LoadOutput(_ context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.outputs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return data, nil
}
