package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"tillsync/internal/errs"
	"tillsync/internal/model"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const responseCachePrefix = "tillsync:resp:"

// ResponseCache keeps successful GET responses for offline fallback.
// Get returns nil on a miss. Entries older than the max age are evicted on
// read and never returned.
type ResponseCache interface {
	Put(ctx context.Context, entry *model.CachedResponse) error
	Get(ctx context.Context, key string) (*model.CachedResponse, error)
}

// CacheKey identifies a GET by method, path and query.
func CacheKey(method, path, rawQuery string) string {
	if rawQuery == "" {
		return method + " " + path
	}
	return method + " " + path + "?" + rawQuery
}

type RedisResponseCache struct {
	rdb    *redis.Client
	maxAge time.Duration
	now    func() time.Time
}

func NewRedisResponseCache(rdb *redis.Client, maxAge time.Duration) *RedisResponseCache {
	return &RedisResponseCache{rdb: rdb, maxAge: maxAge, now: time.Now}
}

func (c *RedisResponseCache) Put(ctx context.Context, entry *model.CachedResponse) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	// redis expiry is a backstop; staleness is still checked on read
	if err := c.rdb.Set(ctx, responseCachePrefix+entry.CacheKey, b, c.maxAge).Err(); err != nil {
		return errs.Storage("cache put", err)
	}
	return nil
}

func (c *RedisResponseCache) Get(ctx context.Context, key string) (*model.CachedResponse, error) {
	raw, err := c.rdb.Get(ctx, responseCachePrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Storage("cache get", err)
	}

	var entry model.CachedResponse
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.rdb.Del(ctx, responseCachePrefix+key)
		return nil, nil
	}
	if entry.Stale(c.now(), c.maxAge) {
		c.rdb.Del(ctx, responseCachePrefix+key)
		return nil, nil
	}
	return &entry, nil
}

// StoreResponseCache keeps responses in the durable store when no redis is configured.
type StoreResponseCache struct {
	db     *gorm.DB
	maxAge time.Duration
	now    func() time.Time
}

func NewStoreResponseCache(db *gorm.DB, maxAge time.Duration) *StoreResponseCache {
	return &StoreResponseCache{db: db, maxAge: maxAge, now: time.Now}
}

func (c *StoreResponseCache) Put(ctx context.Context, entry *model.CachedResponse) error {
	if err := c.db.WithContext(ctx).Save(entry).Error; err != nil {
		return errs.Storage("cache put", err)
	}
	return nil
}

func (c *StoreResponseCache) Get(ctx context.Context, key string) (*model.CachedResponse, error) {
	var entry model.CachedResponse
	err := c.db.WithContext(ctx).Where("cache_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Storage("cache get", err)
	}
	if entry.Stale(c.now(), c.maxAge) {
		if err := c.db.WithContext(ctx).Where("cache_key = ?", key).Delete(&model.CachedResponse{}).Error; err != nil {
			return nil, errs.Storage("cache evict", err)
		}
		return nil, nil
	}
	return &entry, nil
}
