package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tillsync/internal/config"
	"tillsync/internal/errs"
	"tillsync/internal/model"
	v1 "tillsync/pkg/api/v1"
	"tillsync/pkg/constraints"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := OpenDB(config.StoreConfig{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = CloseDB(db) })
	return db
}

func saleDraft(t *testing.T, ref string) model.Draft {
	t.Helper()
	d, err := model.NewSaleDraft(v1.SalePayload{
		Items:       []v1.SaleItem{{ProductID: 7, Quantity: 2, Price: "12.50"}},
		PaymentType: constraints.PaymentCash,
		Reference:   ref,
	})
	require.NoError(t, err)
	return d
}

func TestQueue_ListIsFIFOWithinSameMillisecond(t *testing.T) {
	ctx := context.Background()
	fixed := time.UnixMilli(1_700_000_000_000)
	repo := NewQueueRepository(newTestDB(t)).WithClock(func() time.Time { return fixed })

	var ids []string
	for _, ref := range []string{"a", "b", "c"} {
		id, err := repo.Enqueue(ctx, saleDraft(t, ref))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	ops, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	for i, op := range ops {
		assert.Equal(t, ids[i], op.ID)
		assert.Equal(t, constraints.StatusPending, op.Status)
		assert.Zero(t, op.RetryCount)
		if i > 0 {
			assert.Greater(t, op.Timestamp, ops[i-1].Timestamp)
		}
	}
	assert.Regexp(t, `^op_\d+_[0-9a-f]{12}$`, ids[0])

	sale, err := ops[1].Sale()
	require.NoError(t, err)
	assert.Equal(t, "b", sale.Reference)
}

func TestQueue_RemoveAndClear(t *testing.T) {
	ctx := context.Background()
	repo := NewQueueRepository(newTestDB(t))

	id, err := repo.Enqueue(ctx, saleDraft(t, "x"))
	require.NoError(t, err)
	_, err = repo.Enqueue(ctx, saleDraft(t, "y"))
	require.NoError(t, err)

	require.NoError(t, repo.Remove(ctx, id))
	require.NoError(t, repo.Remove(ctx, id), "removing an absent id is a no-op")

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = repo.Get(ctx, id)
	assert.ErrorIs(t, err, errs.ErrOperationAbsent)

	require.NoError(t, repo.Clear(ctx))
	n, err = repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueue_RecordFailureDeadLettersAtCap(t *testing.T) {
	ctx := context.Background()
	repo := NewQueueRepository(newTestDB(t))

	id, err := repo.Enqueue(ctx, saleDraft(t, "z"))
	require.NoError(t, err)

	for i := 1; i <= constraints.MaxRetries; i++ {
		op, err := repo.RecordFailure(ctx, id, "boom", constraints.MaxRetries)
		require.NoError(t, err)
		assert.Equal(t, i, op.RetryCount)
		assert.Equal(t, i == constraints.MaxRetries, op.DeadLettered())
	}

	stored, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constraints.StatusFailed, stored.Status)
	assert.Equal(t, constraints.MaxRetries, stored.RetryCount)
	assert.Equal(t, "boom", stored.LastError)

	failed, err := repo.CountByStatus(ctx, constraints.StatusFailed)
	require.NoError(t, err)
	assert.EqualValues(t, 1, failed)

	require.NoError(t, repo.Requeue(ctx, id))
	stored, err = repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constraints.StatusPending, stored.Status)
	assert.Zero(t, stored.RetryCount)

	assert.ErrorIs(t, repo.Requeue(ctx, "op_missing"), errs.ErrOperationAbsent)
	_, err = repo.RecordFailure(ctx, "op_missing", "x", 3)
	assert.ErrorIs(t, err, errs.ErrOperationAbsent)
}

func TestQueue_EnqueueRejectsUnknownKind(t *testing.T) {
	repo := NewQueueRepository(newTestDB(t))
	_, err := repo.Enqueue(context.Background(), model.Draft{Kind: "refund", Payload: "{}"})
	assert.Error(t, err)
}

func TestQueue_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	cfg := config.StoreConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "queue.db")}

	db, err := OpenDB(cfg)
	require.NoError(t, err)
	id, err := NewQueueRepository(db).Enqueue(ctx, saleDraft(t, "persist"))
	require.NoError(t, err)
	require.NoError(t, CloseDB(db))

	db, err = OpenDB(cfg)
	require.NoError(t, err)
	defer CloseDB(db)

	op, err := NewQueueRepository(db).Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constraints.KindSale, op.Kind)
}

func TestQueue_StorageErrorIsClassified(t *testing.T) {
	db := newTestDB(t)
	repo := NewQueueRepository(db)
	require.NoError(t, CloseDB(db))

	_, err := repo.Enqueue(context.Background(), saleDraft(t, "closed"))
	require.Error(t, err)
	assert.True(t, errs.IsStorage(err))
}
