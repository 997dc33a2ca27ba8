package models

import (
	"errors"
	"fmt"
	"time"
)

type CompressionStatus string

const (
	StatusPending    CompressionStatus = "pending"
	StatusProcessing CompressionStatus = "processing"
	StatusCompleted  CompressionStatus = "completed"
	StatusFailed     CompressionStatus = "failed"
)

func (s CompressionStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether no further transitions are possible.
func (s CompressionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Compression is one uploaded file and the outcome of compressing it.
type Compression struct {
	ID             string            `json:"id" db:"id"`
	Filename       string            `json:"filename" db:"filename"`
	ContentType    string            `json:"content_type,omitempty" db:"content_type"`
	OriginalSize   int64             `json:"original_size" db:"original_size"`
	CompressedSize *int64            `json:"compressed_size,omitempty" db:"compressed_size"`
	SavingsPercent *float64          `json:"savings_percent,omitempty" db:"savings_percent"`
	Status         CompressionStatus `json:"status" db:"status"`
	ErrorKind      string            `json:"error_kind,omitempty" db:"error_kind"`
	ErrorMessage   string            `json:"error_message,omitempty" db:"error_message"`
	KeyHint        string            `json:"key_hint,omitempty" db:"key_hint"`
	CreatedBy      string            `json:"created_by,omitempty" db:"created_by"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
}

// Transition moves the record forward. Status never regresses and terminal
// states are final.
func (c *Compression) Transition(to CompressionStatus) error {
	from := c.Status
	if to.rank() < 0 {
		return fmt.Errorf("unknown compression status %q", to)
	}
	if from.Terminal() || to.rank() <= from.rank() {
		return fmt.Errorf("invalid compression status transition %s -> %s", from, to)
	}
	c.Status = to
	return nil
}

// Complete records a successful compression.
func (c *Compression) Complete(compressedSize int64, savingsPercent float64, at time.Time) error {
	if err := c.Transition(StatusCompleted); err != nil {
		return err
	}
	c.CompressedSize = &compressedSize
	c.SavingsPercent = &savingsPercent
	c.CompletedAt = &at
	return nil
}

// Fail records a failed compression. The message is never left empty.
func (c *Compression) Fail(kind, message string, at time.Time) error {
	if err := c.Transition(StatusFailed); err != nil {
		return err
	}
	if message == "" {
		message = "compression failed"
	}
	c.ErrorKind = kind
	c.ErrorMessage = message
	c.CompletedAt = &at
	return nil
}

// CompressionStats aggregates the records table for the dashboard header.
type CompressionStats struct {
	Total             int64   `json:"total"`
	Completed         int64   `json:"completed"`
	Failed            int64   `json:"failed"`
	InFlight          int64   `json:"in_flight"`
	BytesIn           int64   `json:"bytes_in"`
	BytesOut          int64   `json:"bytes_out"`
	AverageSavingsPct float64 `json:"average_savings_percent"`
}

// ErrNotFound is returned by record stores for unknown IDs.
var ErrNotFound = errors.New("record not found")
