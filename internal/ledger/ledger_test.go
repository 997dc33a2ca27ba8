package ledger_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akagifreeez/tinify-dashboard/internal/ledger"
)

func newLedger(t *testing.T, creds ...ledger.Credential) (*ledger.Ledger, *ledger.MemoryStore) {
	t.Helper()
	store := ledger.NewMemoryStore(ledger.RotationState{Credentials: creds})
	return ledger.New(store), store
}

func cred(token string, limit, used int) ledger.Credential {
	return ledger.Credential{Token: token, MonthlyLimit: limit, Used: used, Active: true}
}

func TestSelectCredential_RoundRobin(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, cred("a", 500, 0), cred("b", 500, 0), cred("c", 500, 0))

	var got []string
	for i := 0; i < 6; i++ {
		c, err := l.SelectCredential(ctx)
		require.NoError(t, err)
		got = append(got, c.Token)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, got)
}

func TestSelectThenRecord_Scenario(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, cred("A", 500, 0), cred("B", 500, 0))

	first, err := l.SelectCredential(ctx)
	require.NoError(t, err)
	second, err := l.SelectCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", first.Token)
	assert.Equal(t, "B", second.Token)

	require.NoError(t, l.RecordUsage(ctx, "A"))

	usage, err := l.ListUsage(ctx)
	require.NoError(t, err)
	require.Len(t, usage, 2)
	assert.Equal(t, 1, usage[0].Used)
	assert.Equal(t, 0, usage[1].Used)
}

func TestSelectCredential_SkipsExhausted(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, cred("a", 10, 10), cred("b", 10, 3), cred("c", 5, 7))

	for i := 0; i < 5; i++ {
		c, err := l.SelectCredential(ctx)
		require.NoError(t, err)
		assert.Equal(t, "b", c.Token)
	}
}

func TestSelectCredential_SkipsInactive(t *testing.T) {
	ctx := context.Background()
	off := cred("a", 10, 0)
	off.Active = false
	l, _ := newLedger(t, off, cred("b", 10, 0))

	c, err := l.SelectCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", c.Token)
}

func TestSelectCredential_NoneAvailableLeavesCursor(t *testing.T) {
	ctx := context.Background()
	l, store := newLedger(t, cred("a", 1, 1), cred("b", 2, 2))

	before, err := store.ReadState(ctx)
	require.NoError(t, err)

	_, err = l.SelectCredential(ctx)
	assert.ErrorIs(t, err, ledger.ErrNoCredentialsAvailable)

	after, err := store.ReadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Cursor, after.Cursor)
}

func TestSelectCredential_SingleExhausted(t *testing.T) {
	l, _ := newLedger(t, cred("only", 1, 1))
	_, err := l.SelectCredential(context.Background())
	assert.ErrorIs(t, err, ledger.ErrNoCredentialsAvailable)
}

func TestSelectCredential_Empty(t *testing.T) {
	l, _ := newLedger(t)
	_, err := l.SelectCredential(context.Background())
	assert.ErrorIs(t, err, ledger.ErrNoCredentialsAvailable)
}

func TestRecordUsage_IncrementsByOne(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	store := ledger.NewMemoryStore(ledger.RotationState{Credentials: []ledger.Credential{cred("a", 100, 0)}})
	l := ledger.New(store, ledger.WithClock(func() time.Time { return fixed }))

	for i := 1; i <= 3; i++ {
		require.NoError(t, l.RecordUsage(ctx, "a"))
		c, err := l.Credential(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, i, c.Used)
		require.NotNil(t, c.LastUsedAt)
		assert.Equal(t, fixed, *c.LastUsedAt)
	}
}

func TestRecordUsage_Unknown(t *testing.T) {
	l, _ := newLedger(t, cred("a", 1, 0))
	assert.ErrorIs(t, l.RecordUsage(context.Background(), "nope"), ledger.ErrCredentialNotFound)
}

func TestAddCredential(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	require.NoError(t, l.AddCredential(ctx, "a", 500, "primary"))
	assert.ErrorIs(t, l.AddCredential(ctx, "a", 900, "dup"), ledger.ErrCredentialExists)
	assert.ErrorIs(t, l.AddCredential(ctx, "b", 0, ""), ledger.ErrInvalidLimit)
	assert.ErrorIs(t, l.AddCredential(ctx, "  ", 10, ""), ledger.ErrEmptyToken)

	usage, err := l.ListUsage(ctx)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, "a", usage[0].Token)
	assert.Equal(t, 500, usage[0].Limit)
	assert.Equal(t, 0, usage[0].Used)
	assert.Equal(t, "primary", usage[0].Label)
	assert.True(t, usage[0].Active)
}

func TestRemoveCredential_ResetsCursorPastEnd(t *testing.T) {
	ctx := context.Background()
	l, store := newLedger(t, cred("a", 10, 0), cred("b", 10, 0), cred("c", 10, 0))

	// Select a and b so the cursor sits on c.
	for i := 0; i < 2; i++ {
		_, err := l.SelectCredential(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, l.RemoveCredential(ctx, "c"))

	st, err := store.ReadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Cursor)
	assert.Len(t, st.Credentials, 2)

	c, err := l.SelectCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", c.Token)

	assert.ErrorIs(t, l.RemoveCredential(ctx, "c"), ledger.ErrCredentialNotFound)
}

func TestCursorAlwaysValid(t *testing.T) {
	ctx := context.Background()
	l, store := newLedger(t)
	rng := rand.New(rand.NewSource(42))
	tokens := []string{"k1", "k2", "k3", "k4", "k5"}

	for i := 0; i < 500; i++ {
		tok := tokens[rng.Intn(len(tokens))]
		switch rng.Intn(3) {
		case 0:
			err := l.AddCredential(ctx, tok, 1+rng.Intn(3), "")
			if err != nil {
				require.ErrorIs(t, err, ledger.ErrCredentialExists)
			}
		case 1:
			err := l.RemoveCredential(ctx, tok)
			if err != nil {
				require.ErrorIs(t, err, ledger.ErrCredentialNotFound)
			}
		case 2:
			c, err := l.SelectCredential(ctx)
			if err == nil {
				require.NoError(t, l.RecordUsage(ctx, c.Token))
			} else {
				require.ErrorIs(t, err, ledger.ErrNoCredentialsAvailable)
			}
		}

		st, err := store.ReadState(ctx)
		require.NoError(t, err)
		if len(st.Credentials) == 0 {
			assert.Equal(t, 0, st.Cursor)
		} else {
			assert.GreaterOrEqual(t, st.Cursor, 0)
			assert.Less(t, st.Cursor, len(st.Credentials))
		}
	}
}

func TestUpdateCredential(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, cred("a", 10, 10))

	_, err := l.SelectCredential(ctx)
	require.ErrorIs(t, err, ledger.ErrNoCredentialsAvailable)

	limit := 20
	require.NoError(t, l.UpdateCredential(ctx, "a", ledger.CredentialUpdate{MonthlyLimit: &limit}))
	c, err := l.SelectCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, c.MonthlyLimit)

	inactive := false
	require.NoError(t, l.UpdateCredential(ctx, "a", ledger.CredentialUpdate{Active: &inactive}))
	_, err = l.SelectCredential(ctx)
	assert.ErrorIs(t, err, ledger.ErrNoCredentialsAvailable)

	zero := 0
	assert.ErrorIs(t, l.UpdateCredential(ctx, "a", ledger.CredentialUpdate{MonthlyLimit: &zero}), ledger.ErrInvalidLimit)
	assert.ErrorIs(t, l.UpdateCredential(ctx, "x", ledger.CredentialUpdate{}), ledger.ErrCredentialNotFound)
}

func TestResetMonthlyUsage(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, cred("a", 5, 5), cred("b", 5, 2))

	require.NoError(t, l.ResetMonthlyUsage(ctx))
	usage, err := l.ListUsage(ctx)
	require.NoError(t, err)
	for _, u := range usage {
		assert.Equal(t, 0, u.Used)
		assert.Equal(t, 5, u.Remaining)
	}
}

func TestWriteFailure_IsPersistenceError(t *testing.T) {
	ctx := context.Background()
	l, store := newLedger(t, cred("a", 5, 0))
	store.FailWrites(errors.New("disk full"))

	err := l.RecordUsage(ctx, "a")
	require.Error(t, err)
	assert.True(t, ledger.IsPersistence(err))

	var pe *ledger.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "write", pe.Op)

	store.FailWrites(nil)
	c, err := l.Credential(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 0, c.Used)
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	used := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	want := ledger.RotationState{
		Credentials: []ledger.Credential{
			{Token: "a", MonthlyLimit: 500, Used: 3, Active: true, LastUsedAt: &used},
			{Token: "b", MonthlyLimit: 100, Used: 0, Active: false},
		},
		Cursor: 1,
	}
	store := ledger.NewMemoryStore(ledger.RotationState{})
	require.NoError(t, store.WriteState(ctx, want))

	got, err := store.ReadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCopyState(t *testing.T) {
	ctx := context.Background()
	src := ledger.NewMemoryStore(ledger.RotationState{
		Credentials: []ledger.Credential{cred("a", 5, 2), cred("b", 5, 5)},
		Cursor:      1,
	})
	dst := ledger.NewMemoryStore(ledger.RotationState{})

	n, err := ledger.CopyState(ctx, dst, src, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := dst.ReadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Cursor)
	assert.Equal(t, 2, got.Credentials[0].Used)

	_, err = ledger.CopyState(ctx, dst, src, false)
	assert.ErrorIs(t, err, ledger.ErrDestinationNotEmpty)

	_, err = ledger.CopyState(ctx, dst, src, true)
	assert.NoError(t, err)
}
