package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tillsync/internal/errs"
	"tillsync/internal/model"
	"tillsync/pkg/constraints"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// QueueInterface is the durable local queue of pending writes.
type QueueInterface interface {
	Enqueue(ctx context.Context, draft model.Draft) (string, error)
	List(ctx context.Context) ([]model.QueuedOperation, error)
	Get(ctx context.Context, id string) (*model.QueuedOperation, error)
	Remove(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context, status string) (int64, error)
	Clear(ctx context.Context) error
	RecordFailure(ctx context.Context, id, reason string, maxRetries int) (*model.QueuedOperation, error)
	Requeue(ctx context.Context, id string) error
	WithTx(tx *gorm.DB) QueueInterface
}

type QueueRepository struct {
	db    *gorm.DB
	clock *monotonicClock
}

func NewQueueRepository(db *gorm.DB) *QueueRepository {
	return &QueueRepository{db: db, clock: &monotonicClock{now: time.Now}}
}

// WithClock replaces the time source, mainly for tests.
func (r *QueueRepository) WithClock(now func() time.Time) *QueueRepository {
	r.clock = &monotonicClock{now: now}
	return r
}

func (r *QueueRepository) WithTx(tx *gorm.DB) QueueInterface {
	return &QueueRepository{db: tx, clock: r.clock}
}

// Enqueue stores the draft with a fresh id and timestamp and returns the id.
func (r *QueueRepository) Enqueue(ctx context.Context, draft model.Draft) (string, error) {
	if draft.Kind != constraints.KindSale && draft.Kind != constraints.KindRequest {
		return "", fmt.Errorf("unknown operation kind %q", draft.Kind)
	}
	ts := r.clock.next()
	op := &model.QueuedOperation{
		ID:        newOperationID(ts),
		Kind:      draft.Kind,
		Payload:   draft.Payload,
		Timestamp: ts,
		Status:    constraints.StatusPending,
	}
	if err := r.db.WithContext(ctx).Create(op).Error; err != nil {
		return "", errs.Storage("enqueue", err)
	}
	return op.ID, nil
}

// List returns every entry, oldest first.
func (r *QueueRepository) List(ctx context.Context) ([]model.QueuedOperation, error) {
	var ops []model.QueuedOperation
	if err := r.db.WithContext(ctx).Order("timestamp ASC").Order("id ASC").Find(&ops).Error; err != nil {
		return nil, errs.Storage("list", err)
	}
	return ops, nil
}

func (r *QueueRepository) Get(ctx context.Context, id string) (*model.QueuedOperation, error) {
	var op model.QueuedOperation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&op).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.ErrOperationAbsent
	}
	if err != nil {
		return nil, errs.Storage("get", err)
	}
	return &op, nil
}

// Remove deletes the entry. Removing an absent id is not an error.
func (r *QueueRepository) Remove(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.QueuedOperation{}).Error; err != nil {
		return errs.Storage("remove", err)
	}
	return nil
}

func (r *QueueRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.QueuedOperation{}).Count(&n).Error; err != nil {
		return 0, errs.Storage("count", err)
	}
	return n, nil
}

func (r *QueueRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.QueuedOperation{}).Where("status = ?", status).Count(&n).Error; err != nil {
		return 0, errs.Storage("count", err)
	}
	return n, nil
}

// Clear drops every entry. Only explicit reset actions call this.
func (r *QueueRepository) Clear(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Where("1 = 1").Delete(&model.QueuedOperation{}).Error; err != nil {
		return errs.Storage("clear", err)
	}
	return nil
}

// RecordFailure bumps the retry counter of one entry and dead-letters it once
// the counter reaches maxRetries. The update is a compare-and-set on the
// previous counter so two contexts never lose an increment.
func (r *QueueRepository) RecordFailure(ctx context.Context, id, reason string, maxRetries int) (*model.QueuedOperation, error) {
	const maxAttempts = 3
	for attempt := 0; attempt < maxAttempts; attempt++ {
		op, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		retries := op.RetryCount + 1
		status := op.Status
		if retries >= maxRetries {
			status = constraints.StatusFailed
		}

		res := r.db.WithContext(ctx).Model(&model.QueuedOperation{}).
			Where("id = ? AND retry_count = ?", id, op.RetryCount).
			Updates(map[string]any{
				"retry_count": retries,
				"status":      status,
				"last_error":  reason,
			})
		if res.Error != nil {
			return nil, errs.Storage("record failure", res.Error)
		}
		if res.RowsAffected == 1 {
			op.RetryCount = retries
			op.Status = status
			op.LastError = reason
			return op, nil
		}
		// another context touched the row in between, read it again
	}
	return nil, errs.Storage("record failure", fmt.Errorf("contention on operation %s", id))
}

// Requeue puts a dead-lettered entry back into automatic retry.
func (r *QueueRepository) Requeue(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&model.QueuedOperation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count": 0,
			"status":      constraints.StatusPending,
			"last_error":  "",
		})
	if res.Error != nil {
		return errs.Storage("requeue", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.ErrOperationAbsent
	}
	return nil
}

func newOperationID(ts int64) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("op_%d_%s", ts, suffix)
}

// monotonicClock hands out strictly increasing epoch-ms timestamps so that
// two writes in the same millisecond keep their order.
type monotonicClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

func (c *monotonicClock) next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now().UnixMilli()
	if ts <= c.last {
		ts = c.last + 1
	}
	c.last = ts
	return ts
}
