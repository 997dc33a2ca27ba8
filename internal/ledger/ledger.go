// Package ledger tracks provider credentials, their monthly usage and the
// round-robin cursor used to hand them out.
//
// Every operation reads the full state from its StateStore, mutates it in
// memory and writes it back before returning. Operations are serialized
// within one Ledger, but a SelectCredential followed later by RecordUsage is
// not atomic as a pair: concurrent callers can both be handed the last unit of
// a credential's headroom. Use Serialized when a hard ceiling is required.
package ledger

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Ledger owns all mutations of credential usage and membership.
type Ledger struct {
	store StateStore
	mu    sync.Mutex
	now   func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for created/last-used timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger backed by store.
func New(store StateStore, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) read(ctx context.Context) (RotationState, error) {
	st, err := l.store.ReadState(ctx)
	if err != nil {
		return RotationState{}, &PersistenceError{Op: "read", Err: err}
	}
	st.normalize()
	return st, nil
}

// update runs one read-modify-write cycle. If fn fails nothing is written.
func (l *Ledger) update(ctx context.Context, fn func(*RotationState) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.read(ctx)
	if err != nil {
		return err
	}
	if err := fn(&st); err != nil {
		return err
	}
	if err := l.store.WriteState(ctx, st); err != nil {
		return &PersistenceError{Op: "write", Err: err}
	}
	return nil
}

// SelectCredential returns the next eligible credential in round-robin order
// and moves the cursor past it. When nothing in a full wrap-around is
// eligible it returns ErrNoCredentialsAvailable and leaves the cursor alone.
func (l *Ledger) SelectCredential(ctx context.Context) (Credential, error) {
	var selected Credential
	err := l.update(ctx, func(st *RotationState) error {
		n := len(st.Credentials)
		for i := 0; i < n; i++ {
			idx := (st.Cursor + i) % n
			if st.Credentials[idx].Eligible() {
				selected = st.Credentials[idx]
				st.Cursor = (idx + 1) % n
				return nil
			}
		}
		return ErrNoCredentialsAvailable
	})
	if err != nil {
		return Credential{}, err
	}
	return selected, nil
}

// RecordUsage charges exactly one unit against token. It is not idempotent.
func (l *Ledger) RecordUsage(ctx context.Context, token string) error {
	return l.update(ctx, func(st *RotationState) error {
		idx := st.indexOf(token)
		if idx < 0 {
			return ErrCredentialNotFound
		}
		now := l.now()
		st.Credentials[idx].Used++
		st.Credentials[idx].LastUsedAt = &now
		return nil
	})
}

// AddCredential appends a new active credential with zero usage.
func (l *Ledger) AddCredential(ctx context.Context, token string, monthlyLimit int, label string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	if monthlyLimit <= 0 {
		return ErrInvalidLimit
	}
	return l.update(ctx, func(st *RotationState) error {
		if st.indexOf(token) >= 0 {
			return ErrCredentialExists
		}
		st.Credentials = append(st.Credentials, Credential{
			Token:        token,
			Label:        label,
			MonthlyLimit: monthlyLimit,
			Active:       true,
			CreatedAt:    l.now(),
		})
		return nil
	})
}

// RemoveCredential drops token from the rotation. If the cursor falls off the
// end of the shortened sequence it restarts at the beginning.
func (l *Ledger) RemoveCredential(ctx context.Context, token string) error {
	return l.update(ctx, func(st *RotationState) error {
		idx := st.indexOf(token)
		if idx < 0 {
			return ErrCredentialNotFound
		}
		st.Credentials = append(st.Credentials[:idx], st.Credentials[idx+1:]...)
		if st.Cursor >= len(st.Credentials) {
			st.Cursor = 0
		}
		return nil
	})
}

// UpdateCredential applies administrative changes to one credential.
func (l *Ledger) UpdateCredential(ctx context.Context, token string, upd CredentialUpdate) error {
	if upd.MonthlyLimit != nil && *upd.MonthlyLimit <= 0 {
		return ErrInvalidLimit
	}
	return l.update(ctx, func(st *RotationState) error {
		idx := st.indexOf(token)
		if idx < 0 {
			return ErrCredentialNotFound
		}
		c := &st.Credentials[idx]
		if upd.Active != nil {
			c.Active = *upd.Active
		}
		if upd.MonthlyLimit != nil {
			c.MonthlyLimit = *upd.MonthlyLimit
		}
		if upd.Label != nil {
			c.Label = *upd.Label
		}
		return nil
	})
}

// ResetMonthlyUsage zeroes every usage counter. Membership and cursor are kept.
func (l *Ledger) ResetMonthlyUsage(ctx context.Context) error {
	return l.update(ctx, func(st *RotationState) error {
		for i := range st.Credentials {
			st.Credentials[i].Used = 0
		}
		return nil
	})
}

// ListUsage returns a read-only usage snapshot in rotation order.
func (l *Ledger) ListUsage(ctx context.Context) ([]Usage, error) {
	st, err := l.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Usage, 0, len(st.Credentials))
	for _, c := range st.Credentials {
		out = append(out, Usage{
			Token:      c.Token,
			Label:      c.Label,
			Used:       c.Used,
			Limit:      c.MonthlyLimit,
			Remaining:  c.Remaining(),
			Active:     c.Active,
			LastUsedAt: c.LastUsedAt,
		})
	}
	return out, nil
}

// Snapshot returns a copy of the current persisted state.
func (l *Ledger) Snapshot(ctx context.Context) (RotationState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read(ctx)
}

// Credential looks up a single credential by token.
func (l *Ledger) Credential(ctx context.Context, token string) (Credential, error) {
	st, err := l.Snapshot(ctx)
	if err != nil {
		return Credential{}, err
	}
	idx := st.indexOf(token)
	if idx < 0 {
		return Credential{}, ErrCredentialNotFound
	}
	return st.Credentials[idx], nil
}
