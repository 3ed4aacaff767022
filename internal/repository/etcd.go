package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tillsync/internal/config"
	"tillsync/internal/errs"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

func NewEtcdClient(cfg config.EtcdConfig) (*clientv3.Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return client, nil
}

// EtcdLocker is a Locker backed by an etcd concurrency mutex. The session
// lease plays the role of the row expiry in StoreLocker.
type EtcdLocker struct {
	client  *clientv3.Client
	key     string
	ttlSecs int

	mu      sync.Mutex
	session *concurrency.Session
	mutex   *concurrency.Mutex
}

func NewEtcdLocker(client *clientv3.Client, name string, ttlSecs int) *EtcdLocker {
	if ttlSecs <= 0 {
		ttlSecs = 10
	}
	return &EtcdLocker{client: client, key: "/locks/" + name, ttlSecs: ttlSecs}
}

func (l *EtcdLocker) ensureSession() (*concurrency.Mutex, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session != nil {
		select {
		case <-l.session.Done():
			// lease lost, start over
			l.session = nil
		default:
			return l.mutex, nil
		}
	}

	session, err := concurrency.NewSession(l.client, concurrency.WithTTL(l.ttlSecs))
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd concurrency session: %w", err)
	}
	l.session = session
	l.mutex = concurrency.NewMutex(session, l.key)
	return l.mutex, nil
}

func (l *EtcdLocker) TryAcquire(ctx context.Context) (bool, error) {
	m, err := l.ensureSession()
	if err != nil {
		return false, err
	}
	if err := m.TryLock(ctx); err != nil {
		if errors.Is(err, concurrency.ErrLocked) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Renew only checks the session: its keepalive extends the etcd lease on
// its own, and a session that is done has lost the mutex with it.
func (l *EtcdLocker) Renew(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session == nil {
		return errs.ErrLeaseLost
	}
	select {
	case <-l.session.Done():
		return errs.ErrLeaseLost
	default:
		return nil
	}
}

func (l *EtcdLocker) TTL() time.Duration {
	return time.Duration(l.ttlSecs) * time.Second
}

func (l *EtcdLocker) Release(ctx context.Context) error {
	l.mu.Lock()
	m := l.mutex
	l.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.Unlock(ctx)
}

// Close ends the session and with it any held lock.
func (l *EtcdLocker) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session == nil {
		return nil
	}
	err := l.session.Close()
	l.session = nil
	l.mutex = nil
	return err
}
