package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/tinify-dashboard/internal/models"
)

// Compressor is satisfied by *Dispatcher.
type Compressor interface {
	Compress(ctx context.Context, payload []byte) (*CompressResult, error)
}

// Upload is one file from a batch upload.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// CompressionService drives compression records through their lifecycle.
type CompressionService struct {
	compressor Compressor
	records    RecordStore
	events     *EventHub
	now        func() time.Time
}

func NewCompressionService(compressor Compressor, records RecordStore, events *EventHub) *CompressionService {
	if events == nil {
		events = NewEventHub()
	}
	return &CompressionService{
		compressor: compressor,
		records:    records,
		events:     events,
		now:        time.Now,
	}
}

// ProcessBatch compresses uploads one after another. A failed file never
// stops the rest; every upload gets exactly one record in the result.
func (s *CompressionService) ProcessBatch(ctx context.Context, createdBy string, uploads []Upload) []models.Compression {
	results := make([]models.Compression, 0, len(uploads))
	for _, up := range uploads {
		results = append(results, s.process(ctx, createdBy, up))
	}

	completed := 0
	for _, r := range results {
		if r.Status == models.StatusCompleted {
			completed++
		}
	}
	log.Info().
		Int("files", len(uploads)).
		Int("completed", completed).
		Int("failed", len(uploads)-completed).
		Msg("Compression batch finished")

	return results
}

func (s *CompressionService) process(ctx context.Context, createdBy string, up Upload) models.Compression {
	// Record writes must land even if the client goes away mid-batch, or a
	// record could be stranded in processing.
	storeCtx := context.WithoutCancel(ctx)

	rec := &models.Compression{
		ID:           uuid.New().String(),
		Filename:     up.Filename,
		ContentType:  up.ContentType,
		OriginalSize: int64(len(up.Data)),
		Status:       models.StatusPending,
		CreatedBy:    createdBy,
		CreatedAt:    s.now(),
	}

	if err := s.records.CreateCompression(storeCtx, rec); err != nil {
		log.Error().Err(err).Str("filename", up.Filename).Msg("Failed to create compression record")
		rec.Fail(string(KindPersistence), "failed to create compression record: "+err.Error(), s.now())
		return *rec
	}
	s.events.Publish(*rec)

	if err := rec.Transition(models.StatusProcessing); err != nil {
		return s.fail(storeCtx, rec, KindPersistence, err.Error())
	}
	if err := s.records.UpdateCompression(storeCtx, rec); err != nil {
		return s.fail(storeCtx, rec, KindPersistence, "failed to update compression record: "+err.Error())
	}
	s.events.Publish(*rec)

	result, err := s.compressor.Compress(ctx, up.Data)
	if err != nil {
		kind := KindOf(err)
		msg := err.Error()
		var ce *CompressionError
		if errors.As(err, &ce) {
			rec.KeyHint = ce.KeyHint
			msg = ce.Message
		}
		if kind == "" {
			kind = KindProviderConnection
		}
		return s.fail(storeCtx, rec, kind, msg)
	}

	rec.KeyHint = result.KeyHint
	if err := s.records.SaveOutput(storeCtx, rec.ID, result.Compressed); err != nil {
		log.Error().Err(err).Str("id", rec.ID).Msg("Failed to store compressed output")
		return s.fail(storeCtx, rec, KindPersistence, "compressed output could not be stored: "+err.Error())
	}

	// The completed state is only adopted once it is stored; otherwise the
	// caller would see completed while the store still says processing.
	done := *rec
	if err := done.Complete(result.CompressedSize, result.SavingsPercent, s.now()); err != nil {
		return s.fail(storeCtx, rec, KindPersistence, err.Error())
	}
	if err := s.records.UpdateCompression(storeCtx, &done); err != nil {
		log.Error().Err(err).Str("id", rec.ID).Msg("Failed to mark compression completed")
		return s.fail(storeCtx, rec, KindPersistence, "failed to mark compression completed: "+err.Error())
	}
	*rec = done
	s.events.Publish(*rec)

	log.Info().
		Str("id", rec.ID).
		Str("filename", rec.Filename).
		Int64("original_size", result.OriginalSize).
		Int64("compressed_size", result.CompressedSize).
		Float64("savings_percent", result.SavingsPercent).
		Bool("usage_stale", result.UsageStale).
		Msg("Compression completed")

	return *rec
}

func (s *CompressionService) fail(ctx context.Context, rec *models.Compression, kind ErrorKind, msg string) models.Compression {
	if err := rec.Fail(string(kind), msg, s.now()); err != nil {
		log.Error().Err(err).Str("id", rec.ID).Msg("Invalid compression record transition")
		return *rec
	}
	if err := s.records.UpdateCompression(ctx, rec); err != nil {
		log.Error().Err(err).Str("id", rec.ID).Msg("Failed to mark compression failed")
	}
	s.events.Publish(*rec)
	return *rec
}

// RecoverInterrupted fails records a previous process left unfinished.
func (s *CompressionService) RecoverInterrupted(ctx context.Context) (int64, error) {
	n, err := s.records.FailInFlight(ctx, "interrupted before completion", s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Warn().Int64("count", n).Msg("Marked interrupted compressions as failed")
	}
	return n, nil
}

func (s *CompressionService) Get(ctx context.Context, id string) (*models.Compression, error) {
	return s.records.GetCompression(ctx, id)
}

func (s *CompressionService) List(ctx context.Context, limit, offset int) ([]models.Compression, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.records.ListCompressions(ctx, limit, offset)
}

func (s *CompressionService) Delete(ctx context.Context, id string) error {
	return s.records.DeleteCompression(ctx, id)
}

func (s *CompressionService) Stats(ctx context.Context) (models.CompressionStats, error) {
	return s.records.CompressionStats(ctx)
}

// Output returns the compressed bytes of a completed record.
func (s *CompressionService) Output(ctx context.Context, id string) (*models.Compression, []byte, error) {
	rec, err := s.records.GetCompression(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if rec.Status != models.StatusCompleted {
		return rec, nil, models.ErrNotFound
	}
	data, err := s.records.LoadOutput(ctx, id)
	if err != nil {
		return rec, nil, err
	}
	return rec, data, nil
}

// Events exposes the live update hub.
func (s *CompressionService) Events() *EventHub {
	return s.events
}
