package service

import (
	"context"
	"errors"
	"sync"
	"time"

	v1 "tillsync/pkg/api/v1"
	"tillsync/pkg/constraints"
	"tillsync/pkg/logger"

	"go.uber.org/zap"
)

var (
	ErrUnknownControl = errors.New("unknown control message")
	// ErrDeviceOffline refuses a forced sync the coordinator cannot run.
	ErrDeviceOffline = errors.New(constraints.ErrDeviceOffline)
)

// Broadcaster delivers coordinator messages to foreground listeners.
type Broadcaster interface {
	Publish(msg v1.Message) bool
}

// EdgeNotifier reports connectivity restoration.
type EdgeNotifier interface {
	OnOnline(cb func()) func()
}

// Coordinator is the background side of synchronization: it drains the
// queue when connectivity returns, on a periodic wake and on request, and
// announces each outcome to foreground listeners.
type Coordinator struct {
	engine *SyncEngine
	edges  EdgeNotifier
	out    Broadcaster
	queue  *QueueService
	wake   time.Duration

	mu      sync.Mutex
	pending string
	wakeup  chan struct{}
}

func NewCoordinator(engine *SyncEngine, edges EdgeNotifier, out Broadcaster, queue *QueueService, wake time.Duration) *Coordinator {
	if wake <= 0 {
		wake = 5 * time.Minute
	}
	return &Coordinator{
		engine: engine,
		edges:  edges,
		out:    out,
		queue:  queue,
		wake:   wake,
		wakeup: make(chan struct{}, 1),
	}
}

// Request schedules a drain. Requests made while one is already pending
// collapse into it; a forced request keeps its trigger.
func (c *Coordinator) Request(trigger string) {
	c.mu.Lock()
	if c.pending == "" || trigger == TriggerForce {
		c.pending = trigger
	}
	c.mu.Unlock()

	select {
	case c.wakeup <- struct{}{}:
	default:
	}
}

func (c *Coordinator) takePending() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	trigger := c.pending
	c.pending = ""
	return trigger
}

// HandleControl applies a foreground control message.
func (c *Coordinator) HandleControl(msg v1.ControlMessage) error {
	switch msg.Type {
	case constraints.CtlForceSync:
		if !c.engine.net.IsOnline() {
			return ErrDeviceOffline
		}
		c.Request(TriggerForce)
		return nil
	case constraints.CtlSkipWaiting:
		// lifecycle only; a new coordinator build takes over on next start
		logger.Info("skip waiting acknowledged")
		return nil
	default:
		return ErrUnknownControl
	}
}

func (c *Coordinator) Run(ctx context.Context) {
	unsubscribe := c.edges.OnOnline(func() { c.Request(TriggerOnline) })
	defer unsubscribe()

	ticker := time.NewTicker(c.wake)
	defer ticker.Stop()

	logger.Info("coordinator started", zap.Duration("wake", c.wake))

	for {
		select {
		case <-ctx.Done():
			logger.Info("coordinator stopped")
			return
		case <-ticker.C:
			c.drain(ctx, TriggerWake)
		case <-c.wakeup:
			if trigger := c.takePending(); trigger != "" {
				c.drain(ctx, trigger)
			}
		}
	}
}

func (c *Coordinator) drain(ctx context.Context, trigger string) {
	result, err := c.engine.Drain(ctx, trigger)
	if err != nil {
		logger.Error("background drain failed", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	if result.Skipped {
		return
	}
	if result.Offline {
		logger.Debug("background drain deferred, offline", zap.String("trigger", trigger))
		return
	}

	// an idle wake has nothing to report; a forced run always answers
	if len(result.Operations) > 0 || trigger == TriggerForce {
		c.announce(result)
	}

	if c.queue != nil {
		if _, err := c.queue.Stats(ctx); err != nil {
			logger.Warn("failed to refresh queue depth", zap.Error(err))
		}
	}
}

func (c *Coordinator) announce(result v1.SyncResult) {
	c.out.Publish(v1.Message{Type: constraints.MsgSyncComplete, SyncedCount: result.SyncedItems})
	for _, op := range result.Operations {
		if op.Kind != constraints.KindSale {
			continue
		}
		ok := op.Success
		c.out.Publish(v1.Message{Type: constraints.MsgSaleSynced, SaleID: op.ID, Success: &ok})
	}
}
