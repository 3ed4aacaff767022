package repository

import (
	"context"
	"time"

	"tillsync/internal/errs"
	"tillsync/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Locker serializes queue drains across execution contexts that share a store.
type Locker interface {
	// TryAcquire returns false without blocking when another holder owns the lock.
	TryAcquire(ctx context.Context) (bool, error)
	// Renew extends a held lock. It returns errs.ErrLeaseLost when the lock
	// is no longer held by this locker.
	Renew(ctx context.Context) error
	Release(ctx context.Context) error
	// TTL is how long a held lock survives without renewal.
	TTL() time.Duration
}

// StoreLocker keeps the lock as a row in the shared store. The row expires
// after ttl so a crashed holder cannot block draining forever.
type StoreLocker struct {
	db     *gorm.DB
	name   string
	holder string
	ttl    time.Duration
	now    func() time.Time
}

func NewStoreLocker(db *gorm.DB, name string, ttl time.Duration) *StoreLocker {
	return &StoreLocker{
		db:     db,
		name:   name,
		holder: uuid.NewString(),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (l *StoreLocker) Holder() string { return l.holder }

func (l *StoreLocker) TTL() time.Duration { return l.ttl }

func (l *StoreLocker) TryAcquire(ctx context.Context) (bool, error) {
	now := l.now()
	expires := now.Add(l.ttl).UnixMilli()

	lease := &model.SyncLease{Name: l.name, Holder: l.holder, ExpiresAt: expires}
	res := l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(lease)
	if res.Error != nil {
		return false, errs.Storage("acquire lease", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	// Row exists: take it over only if it is ours or has expired.
	res = l.db.WithContext(ctx).Model(&model.SyncLease{}).
		Where("name = ? AND (holder = ? OR expires_at < ?)", l.name, l.holder, now.UnixMilli()).
		Updates(map[string]any{"holder": l.holder, "expires_at": expires})
	if res.Error != nil {
		return false, errs.Storage("acquire lease", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Renew pushes the expiry forward. Only the current holder can renew, so an
// expired lease that another context already took over is reported as lost.
func (l *StoreLocker) Renew(ctx context.Context) error {
	res := l.db.WithContext(ctx).Model(&model.SyncLease{}).
		Where("name = ? AND holder = ?", l.name, l.holder).
		Update("expires_at", l.now().Add(l.ttl).UnixMilli())
	if res.Error != nil {
		return errs.Storage("renew lease", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.ErrLeaseLost
	}
	return nil
}

// Release drops the lease if this locker still holds it.
func (l *StoreLocker) Release(ctx context.Context) error {
	err := l.db.WithContext(ctx).
		Where("name = ? AND holder = ?", l.name, l.holder).
		Delete(&model.SyncLease{}).Error
	if err != nil {
		return errs.Storage("release lease", err)
	}
	return nil
}
