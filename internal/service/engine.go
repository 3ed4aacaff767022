package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"tillsync/internal/errs"
	"tillsync/internal/metrics"
	"tillsync/internal/model"
	"tillsync/internal/repository"
	v1 "tillsync/pkg/api/v1"
	"tillsync/pkg/constraints"
	"tillsync/pkg/logger"

	"go.uber.org/zap"
)

// Drain triggers, used in logs and metrics.
const (
	TriggerForeground = "foreground"
	TriggerForce      = "force"
	TriggerOnline     = "online"
	TriggerWake       = "wake"
)

// Replayer turns a queued operation back into the live call it stands for.
type Replayer interface {
	Replay(ctx context.Context, op *model.QueuedOperation) error
}

// Connectivity reports whether the device can reach the network.
type Connectivity interface {
	IsOnline() bool
}

// SyncEngine drains the local queue against the live API, oldest first.
// Only one drain runs at a time per engine; the Locker extends that to every
// context sharing the store.
type SyncEngine struct {
	queue      repository.QueueInterface
	replayer   Replayer
	net        Connectivity
	locker     repository.Locker
	observer   metrics.SyncObserver
	maxRetries int

	running atomic.Bool
}

func NewSyncEngine(queue repository.QueueInterface, replayer Replayer, net Connectivity, locker repository.Locker, observer metrics.SyncObserver, maxRetries int) *SyncEngine {
	if maxRetries <= 0 {
		maxRetries = constraints.MaxRetries
	}
	if observer == nil {
		observer = metrics.Nop{}
	}
	return &SyncEngine{
		queue:      queue,
		replayer:   replayer,
		net:        net,
		locker:     locker,
		observer:   observer,
		maxRetries: maxRetries,
	}
}

func (e *SyncEngine) Sync(ctx context.Context) (v1.SyncResult, error) {
	return e.Drain(ctx, TriggerForeground)
}

// ForceSyncNow drains immediately. Offline it reports "Device is offline".
func (e *SyncEngine) ForceSyncNow(ctx context.Context) (v1.SyncResult, error) {
	return e.Drain(ctx, TriggerForce)
}

// Drain runs one pass over the queue. Replay failures are recorded on the
// operation and reported in the result; only storage failures are returned
// as error.
func (e *SyncEngine) Drain(ctx context.Context, trigger string) (v1.SyncResult, error) {
	if !e.net.IsOnline() {
		return v1.SyncResult{Success: false, Offline: true, Errors: []string{constraints.ErrDeviceOffline}}, nil
	}

	if !e.running.CompareAndSwap(false, true) {
		logger.Debug("drain skipped, another run in progress", zap.String("trigger", trigger))
		return v1.SyncResult{Success: true, Skipped: true, Errors: []string{}}, nil
	}
	defer e.running.Store(false)

	drainCtx := ctx
	var lost *atomic.Bool
	if e.locker != nil {
		ok, err := e.locker.TryAcquire(ctx)
		if err != nil {
			return v1.SyncResult{}, err
		}
		if !ok {
			logger.Debug("drain skipped, lease held elsewhere", zap.String("trigger", trigger))
			return v1.SyncResult{Success: true, Skipped: true, Errors: []string{}}, nil
		}
		defer func() {
			if err := e.locker.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("failed to release drain lease", zap.Error(err))
			}
		}()

		var stop func()
		drainCtx, lost, stop = e.keepLease(ctx)
		defer stop()
	}

	start := time.Now()
	result, err := e.drain(drainCtx)
	if lost != nil && lost.Load() {
		result.Errors = append(result.Errors, errs.ErrLeaseLost.Error())
		result.Success = false
	}
	e.observer.ObserveSync(trigger, result.SyncedItems, len(result.Errors), result.DeadLettered, time.Since(start))
	if err != nil {
		logger.Error("drain aborted", zap.String("trigger", trigger), zap.Error(err))
		return result, err
	}

	if result.SyncedItems > 0 || len(result.Errors) > 0 {
		logger.Info("drain finished",
			zap.String("trigger", trigger),
			zap.Int("synced", result.SyncedItems),
			zap.Int("failed", len(result.Errors)),
			zap.Int("dead_lettered", result.DeadLettered),
			zap.Duration("elapsed", time.Since(start)))
	}
	return result, nil
}

// keepLease renews the drain lease every third of its TTL for as long as the
// drain runs. If a renewal fails the returned context is cancelled, so no
// further operation is replayed without the lease.
func (e *SyncEngine) keepLease(ctx context.Context) (context.Context, *atomic.Bool, func()) {
	leaseCtx, cancel := context.WithCancel(ctx)
	lost := &atomic.Bool{}
	done := make(chan struct{})

	interval := e.locker.TTL() / 3
	if interval <= 0 {
		interval = time.Second
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-leaseCtx.Done():
				return
			case <-ticker.C:
				if err := e.locker.Renew(leaseCtx); err != nil {
					if leaseCtx.Err() != nil {
						return
					}
					logger.Error("drain lease renewal failed, stopping drain", zap.Error(err))
					lost.Store(true)
					cancel()
					return
				}
			}
		}
	}()

	return leaseCtx, lost, func() {
		cancel()
		<-done
	}
}

func (e *SyncEngine) drain(ctx context.Context) (v1.SyncResult, error) {
	result := v1.SyncResult{Errors: []string{}}

	// snapshot: entries added while this run is in flight wait for the next one
	ops, err := e.queue.List(ctx)
	if err != nil {
		return result, err
	}

	for i := range ops {
		op := &ops[i]
		if op.DeadLettered() {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		replayErr := e.replayer.Replay(ctx, op)
		if replayErr == nil {
			// the call went through; record it even if ctx was cancelled meanwhile
			if err := e.queue.Remove(context.WithoutCancel(ctx), op.ID); err != nil {
				return result, err
			}
			result.SyncedItems++
			result.Operations = append(result.Operations, v1.OperationOutcome{ID: op.ID, Kind: op.Kind, Success: true})
			continue
		}

		if ctx.Err() != nil {
			// cancelled mid-call, not the operation's fault
			break
		}

		logger.Warn("replay failed",
			zap.String("id", op.ID),
			zap.String("kind", op.Kind),
			zap.String("error_kind", errs.Kind(replayErr)),
			zap.Error(replayErr))

		updated, err := e.queue.RecordFailure(ctx, op.ID, replayErr.Error(), e.maxRetries)
		if errors.Is(err, errs.ErrOperationAbsent) {
			// another context finished it while we were calling
			continue
		}
		if err != nil {
			return result, err
		}
		if updated.DeadLettered() {
			result.DeadLettered++
			logger.Error("operation dead-lettered", zap.String("id", op.ID), zap.Int("retries", updated.RetryCount))
		}
		result.Errors = append(result.Errors, fmt.Sprintf("%s %s: %v", op.Kind, op.ID, replayErr))
		result.Operations = append(result.Operations, v1.OperationOutcome{ID: op.ID, Kind: op.Kind, Success: false})
	}

	result.Success = len(result.Errors) == 0
	return result, nil
}
