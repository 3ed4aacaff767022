// Package client is the foreground SDK of a till: the offline-aware calls
// feature code makes and the foreground side of queue synchronization.
package client

import (
	"context"
	"sync"
	"time"

	"tillsync/internal/config"
	"tillsync/internal/errs"
	"tillsync/internal/netmon"
	"tillsync/internal/remote"
	"tillsync/internal/repository"
	"tillsync/internal/service"
	v1 "tillsync/pkg/api/v1"
	"tillsync/pkg/constraints"
	"tillsync/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type TerminalConfig struct {
	Store  config.StoreConfig
	Remote config.RemoteConfig
	Sync   config.SyncConfig

	// Online seeds the connectivity state until the platform reports.
	Online bool
	// Token is sent as a bearer token on every live call.
	Token string
	// CoordinatorURL enables the broadcast listener when set.
	CoordinatorURL string
	TerminalKey    string
	// AutoSync drains the queue whenever connectivity returns.
	AutoSync bool
}

// Terminal hides the online/offline decision from feature code. Writes go
// live when possible and into the local queue otherwise.
type Terminal struct {
	db       *gorm.DB
	remote   *remote.Client
	repo     *repository.QueueRepository
	queue    *service.QueueService
	engine   *service.SyncEngine
	monitor  *netmon.Monitor
	listener *Listener

	unsubscribe func()
	syncing     chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func NewTerminal(cfg TerminalConfig) (*Terminal, error) {
	db, err := repository.OpenDB(cfg.Store)
	if err != nil {
		return nil, err
	}

	var opts []remote.Option
	if cfg.Token != "" {
		opts = append(opts, remote.WithHeader("Authorization", "Bearer "+cfg.Token))
	}
	rc := remote.NewClient(cfg.Remote, opts...)

	leaseName := cfg.Sync.LeaseName
	if leaseName == "" {
		leaseName = "queue-drain"
	}
	leaseTTL := cfg.Sync.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = 2 * time.Minute
	}

	repo := repository.NewQueueRepository(db)
	monitor := netmon.New(cfg.Online)
	t := &Terminal{
		db:      db,
		remote:  rc,
		repo:    repo,
		queue:   service.NewQueueService(repo, nil),
		engine:  service.NewSyncEngine(repo, rc, monitor, repository.NewStoreLocker(db, leaseName, leaseTTL), nil, cfg.Sync.MaxRetries),
		monitor: monitor,
		syncing: make(chan struct{}, 1),
	}

	if cfg.AutoSync {
		t.unsubscribe = monitor.OnOnline(t.syncInBackground)
	}
	if cfg.CoordinatorURL != "" {
		t.listener = NewListener(cfg.CoordinatorURL, cfg.TerminalKey)
		t.listener.Start()
	}
	return t, nil
}

// Close stops background work and closes the local store. Later calls
// return the first call's result.
func (t *Terminal) Close() error {
	t.closeOnce.Do(func() {
		if t.unsubscribe != nil {
			t.unsubscribe()
		}
		if t.listener != nil {
			t.listener.Stop()
		}
		// wait for a background drain to finish
		t.syncing <- struct{}{}
		t.closeErr = repository.CloseDB(t.db)
	})
	return t.closeErr
}

// Listener is nil unless a coordinator URL was configured.
func (t *Terminal) Listener() *Listener {
	return t.listener
}

// SetOnline feeds the platform connectivity signal.
func (t *Terminal) SetOnline(online bool) {
	t.monitor.Set(online)
}

func (t *Terminal) IsOnline() bool {
	return t.monitor.IsOnline()
}

func (t *Terminal) OnOnline(cb func()) func() {
	return t.monitor.OnOnline(cb)
}

func (t *Terminal) OnOffline(cb func()) func() {
	return t.monitor.OnOffline(cb)
}

// RestockProductOfflineAware adds quantity units of productID to stock.
// Offline, or if the live call fails, the request is queued and the result
// has Offline set; only a failure to queue is returned as error.
func (t *Terminal) RestockProductOfflineAware(ctx context.Context, productID int64, quantity int, costPrice *string) (v1.OfflineResult, error) {
	payload, err := t.remote.RestockRequest(productID, v1.RestockRequest{Quantity: quantity, CostPrice: costPrice})
	if err != nil {
		return v1.OfflineResult{}, err
	}

	if t.monitor.IsOnline() {
		data, err := t.remote.Forward(ctx, payload)
		if err == nil {
			return v1.OfflineResult{Offline: false, Data: data}, nil
		}
		logger.Warn("live restock failed, queueing",
			zap.Int64("product_id", productID),
			zap.String("error_kind", errs.Kind(err)),
			zap.Error(err))
	}

	id, err := t.queue.EnqueueRequest(ctx, payload)
	if err != nil {
		return v1.OfflineResult{}, err
	}
	return v1.OfflineResult{Offline: true, OperationID: id}, nil
}

// RecordSaleOfflineAware records a sale with the same contract as
// RestockProductOfflineAware. An invalid sale is rejected before any call.
func (t *Terminal) RecordSaleOfflineAware(ctx context.Context, sale v1.SalePayload) (v1.OfflineResult, error) {
	if err := sale.Validate(); err != nil {
		return v1.OfflineResult{}, err
	}

	if t.monitor.IsOnline() {
		data, err := t.remote.CreateSale(ctx, sale)
		if err == nil {
			return v1.OfflineResult{Offline: false, Data: data}, nil
		}
		logger.Warn("live sale failed, queueing", zap.String("error_kind", errs.Kind(err)), zap.Error(err))
	}

	id, err := t.queue.EnqueueSale(ctx, sale)
	if err != nil {
		return v1.OfflineResult{}, err
	}
	return v1.OfflineResult{Offline: true, OperationID: id}, nil
}

func (t *Terminal) SyncWithServer(ctx context.Context) (v1.SyncResult, error) {
	return t.engine.Sync(ctx)
}

func (t *Terminal) ForceSyncNow(ctx context.Context) (v1.SyncResult, error) {
	return t.engine.ForceSyncNow(ctx)
}

func (t *Terminal) PendingCount(ctx context.Context) (int64, error) {
	return t.repo.CountByStatus(ctx, constraints.StatusPending)
}

// DeadLetterCount is the number of operations that stopped retrying and
// need someone to look at them.
func (t *Terminal) DeadLetterCount(ctx context.Context) (int64, error) {
	return t.repo.CountByStatus(ctx, constraints.StatusFailed)
}

func (t *Terminal) QueueStats(ctx context.Context) (v1.QueueStats, error) {
	return t.queue.Stats(ctx)
}

// ClearQueue is the explicit "reset queue" action.
func (t *Terminal) ClearQueue(ctx context.Context) error {
	return t.queue.Clear(ctx)
}

func (t *Terminal) syncInBackground() {
	select {
	case t.syncing <- struct{}{}:
	default:
		return
	}
	go func() {
		defer func() { <-t.syncing }()
		res, err := t.engine.Sync(context.Background())
		if err != nil {
			logger.Error("auto sync failed", zap.Error(err))
			return
		}
		logger.Info("auto sync finished", zap.Int("synced", res.SyncedItems), zap.Int("failed", len(res.Errors)))
	}()
}
