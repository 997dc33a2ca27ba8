package ledger

import (
	"context"
	"errors"
	"sync"
)

// StateStore persists the whole rotation state. Writes are full overwrites.
type StateStore interface {
	ReadState(ctx context.Context) (RotationState, error)
	WriteState(ctx context.Context, state RotationState) error
}

// MemoryStore is an in-process StateStore.
type MemoryStore struct {
	mu       sync.RWMutex
	state    RotationState
	writeErr error
}

var _ StateStore = (*MemoryStore)(nil)

// NewMemoryStore creates a store seeded with the given state.
func NewMemoryStore(initial RotationState) *MemoryStore {
	return &MemoryStore{state: initial.Clone()}
}

func (m *MemoryStore) ReadState(_ context.Context) (RotationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone(), nil
}

func (m *MemoryStore) WriteState(_ context.Context, state RotationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.state = state.Clone()
	return nil
}

// FailWrites makes every subsequent WriteState return err. Pass nil to recover.
func (m *MemoryStore) FailWrites(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

// ErrDestinationNotEmpty is returned by CopyState when dst already holds
// credentials and overwrite was not requested.
var ErrDestinationNotEmpty = errors.New("ledger: destination store is not empty")

// CopyState moves the full rotation state from src to dst, counters and
// cursor included. It returns the number of credentials copied.
func CopyState(ctx context.Context, dst, src StateStore, overwrite bool) (int, error) {
	st, err := src.ReadState(ctx)
	if err != nil {
		return 0, &PersistenceError{Op: "read", Err: err}
	}
	st.normalize()
	if !overwrite {
		existing, err := dst.ReadState(ctx)
		if err != nil {
			return 0, &PersistenceError{Op: "read", Err: err}
		}
		if len(existing.Credentials) > 0 {
			return 0, ErrDestinationNotEmpty
		}
	}
	if err := dst.WriteState(ctx, st); err != nil {
		return 0, &PersistenceError{Op: "write", Err: err}
	}
	return len(st.Credentials), nil
}
