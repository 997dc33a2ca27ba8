//go:build integration

package database_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akagifreeez/tinify-dashboard/internal/ledger"
	"github.com/akagifreeez/tinify-dashboard/internal/models"
	"github.com/akagifreeez/tinify-dashboard/pkg/crypto"
	"github.com/akagifreeez/tinify-dashboard/pkg/database"
)

func openDB(t *testing.T) *database.DB {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := database.New(ctx, url)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))
	t.Cleanup(func() {
		_, _ = db.Pool.Exec(ctx, `TRUNCATE api_keys, compressions CASCADE`)
		_, _ = db.Pool.Exec(ctx, `UPDATE rotation_state SET cursor_pos = 0`)
		db.Close()
	})
	return db
}

func TestLedgerStore_RoundTrip(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	cipher, err := crypto.NewCipher("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	store, err := database.NewLedgerStore(db, cipher)
	require.NoError(t, err)

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	want := ledger.RotationState{
		Credentials: []ledger.Credential{
			{Token: "pg-b", MonthlyLimit: 500, Used: 3, Active: true, CreatedAt: created},
			{Token: "pg-a", Label: "spare", MonthlyLimit: 50, Active: false, CreatedAt: created},
		},
		Cursor: 1,
	}
	require.NoError(t, store.WriteState(ctx, want))

	got, err := store.ReadState(ctx)
	require.NoError(t, err)
	require.Len(t, got.Credentials, 2)
	assert.Equal(t, 1, got.Cursor)
	assert.Equal(t, "pg-b", got.Credentials[0].Token)
	assert.Equal(t, 3, got.Credentials[0].Used)
	assert.Equal(t, "spare", got.Credentials[1].Label)
	assert.False(t, got.Credentials[1].Active)

	want.Credentials = want.Credentials[1:]
	want.Cursor = 0
	require.NoError(t, store.WriteState(ctx, want))
	got, err = store.ReadState(ctx)
	require.NoError(t, err)
	require.Len(t, got.Credentials, 1)
	assert.Equal(t, "pg-a", got.Credentials[0].Token)
}

func TestCompressionStore_Lifecycle(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	store := database.NewCompressionStore(db)

	rec := &models.Compression{
		ID:           uuid.NewString(),
		Filename:     "cat.png",
		OriginalSize: 1000,
		Status:       models.StatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.CreateCompression(ctx, rec))
	require.NoError(t, rec.Transition(models.StatusProcessing))
	require.NoError(t, store.UpdateCompression(ctx, rec))
	require.NoError(t, rec.Complete(400, 60, time.Now().UTC()))
	require.NoError(t, store.UpdateCompression(ctx, rec))
	require.NoError(t, store.SaveOutput(ctx, rec.ID, []byte("small")))

	got, err := store.GetCompression(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.NotNil(t, got.CompressedSize)
	assert.Equal(t, int64(400), *got.CompressedSize)

	data, err := store.LoadOutput(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("small"), data)

	stuck := &models.Compression{ID: uuid.NewString(), Filename: "dog.png", Status: models.StatusProcessing, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.CreateCompression(ctx, stuck))
	n, err := store.FailInFlight(ctx, "interrupted", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	st, err := store.CompressionStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Total)
	assert.Equal(t, int64(1), st.Completed)
	assert.Equal(t, int64(1), st.Failed)

	require.NoError(t, store.DeleteCompression(ctx, rec.ID))
	_, err = store.LoadOutput(ctx, rec.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, store.DeleteCompression(ctx, rec.ID), models.ErrNotFound)
}
