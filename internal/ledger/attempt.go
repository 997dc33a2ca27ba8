package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUsageNotRecorded wraps a failure to charge usage after the attempt itself
// succeeded. The work is done; only the counter is behind.
var ErrUsageNotRecorded = errors.New("ledger: attempt succeeded but usage was not recorded")

// UsageLedger is the part of the Ledger an Attempter needs.
type UsageLedger interface {
	SelectCredential(ctx context.Context) (Credential, error)
	RecordUsage(ctx context.Context, token string) error
}

var _ UsageLedger = (*Ledger)(nil)

// Attempt is one unit of work performed with a selected credential.
type Attempt func(ctx context.Context, cred Credential) error

// Attempter runs work against a credential chosen by the ledger and charges
// usage only when the work succeeds.
type Attempter interface {
	AttemptWithCredential(ctx context.Context, fn Attempt) error
}

// TwoPhase selects, runs fn and records usage as separate ledger operations.
// Two concurrent attempts can both pass selection on a credential with one
// unit of headroom left, so the ceiling may be exceeded under load.
type TwoPhase struct {
	Ledger UsageLedger
}

var _ Attempter = TwoPhase{}

func (t TwoPhase) AttemptWithCredential(ctx context.Context, fn Attempt) error {
	return attempt(ctx, t.Ledger, fn)
}

// Locker guards a critical section that may span several operations.
type Locker interface {
	Lock(ctx context.Context) (release func(), err error)
}

// MutexLocker is an in-process Locker.
type MutexLocker struct {
	mu sync.Mutex
}

var _ Locker = (*MutexLocker)(nil)

func (m *MutexLocker) Lock(ctx context.Context) (func(), error) {
	locked := make(chan struct{})
	go func() {
		m.mu.Lock()
		close(locked)
	}()
	select {
	case <-locked:
		return m.mu.Unlock, nil
	case <-ctx.Done():
		// The goroutine still takes the lock eventually; hand it straight back.
		go func() {
			<-locked
			m.mu.Unlock()
		}()
		return nil, ctx.Err()
	}
}

// Serialized holds Lock across the whole select, fn, record span so no two
// attempts can interleave and overrun a credential's monthly limit.
type Serialized struct {
	Ledger UsageLedger
	Lock   Locker
}

var _ Attempter = Serialized{}

func (s Serialized) AttemptWithCredential(ctx context.Context, fn Attempt) error {
	release, err := s.Lock.Lock(ctx)
	if err != nil {
		return fmt.Errorf("ledger: acquire attempt lock: %w", err)
	}
	defer release()
	return attempt(ctx, s.Ledger, fn)
}

func attempt(ctx context.Context, l UsageLedger, fn Attempt) error {
	cred, err := l.SelectCredential(ctx)
	if err != nil {
		return err
	}
	if err := fn(ctx, cred); err != nil {
		return err
	}
	if err := l.RecordUsage(ctx, cred.Token); err != nil {
		return fmt.Errorf("%w: %w", ErrUsageNotRecorded, err)
	}
	return nil
}
