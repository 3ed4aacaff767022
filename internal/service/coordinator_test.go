package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	v1 "tillsync/pkg/api/v1"
	"tillsync/pkg/constraints"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	mu   sync.Mutex
	msgs []v1.Message
}

func (r *recordingBroadcaster) Publish(msg v1.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return true
}

func (r *recordingBroadcaster) Messages() []v1.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]v1.Message(nil), r.msgs...)
}

func startCoordinator(t *testing.T, f *engineFixture, wake time.Duration) (*Coordinator, *recordingBroadcaster) {
	t.Helper()
	out := &recordingBroadcaster{}
	coord := NewCoordinator(f.engine, f.monitor, out, f.queue, wake)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return coord, out
}

func TestCoordinator_DrainsWhenConnectivityReturns(t *testing.T) {
	f := newEngineFixture(t, false)
	ids := enqueueSales(t, f.queue, "a", "b")
	f.replayer.fail[ids[1]] = errors.New("upstream unavailable")

	_, out := startCoordinator(t, f, time.Hour)
	f.monitor.Set(true)

	require.Eventually(t, func() bool { return len(out.Messages()) == 3 }, 2*time.Second, 10*time.Millisecond)
	msgs := out.Messages()
	assert.Equal(t, constraints.MsgSyncComplete, msgs[0].Type)
	assert.Equal(t, 1, msgs[0].SyncedCount)

	assert.Equal(t, constraints.MsgSaleSynced, msgs[1].Type)
	assert.Equal(t, ids[0], msgs[1].SaleID)
	require.NotNil(t, msgs[1].Success)
	assert.True(t, *msgs[1].Success)

	assert.Equal(t, ids[1], msgs[2].SaleID)
	assert.False(t, *msgs[2].Success)
}

func TestCoordinator_ForceSyncControl(t *testing.T) {
	f := newEngineFixture(t, true)
	enqueueSales(t, f.queue, "a")
	coord, out := startCoordinator(t, f, time.Hour)

	require.NoError(t, coord.HandleControl(v1.ControlMessage{Type: constraints.CtlForceSync}))
	require.Eventually(t, func() bool { return len(out.Messages()) >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, out.Messages()[0].SyncedCount)

	assert.NoError(t, coord.HandleControl(v1.ControlMessage{Type: constraints.CtlSkipWaiting}))
	assert.ErrorIs(t, coord.HandleControl(v1.ControlMessage{Type: "REBOOT"}), ErrUnknownControl)
}

func TestCoordinator_ForceSyncRefusedOffline(t *testing.T) {
	f := newEngineFixture(t, false)
	enqueueSales(t, f.queue, "a")
	coord, out := startCoordinator(t, f, time.Hour)

	err := coord.HandleControl(v1.ControlMessage{Type: constraints.CtlForceSync})
	require.ErrorIs(t, err, ErrDeviceOffline)
	assert.Equal(t, constraints.ErrDeviceOffline, err.Error())
	assert.Empty(t, out.Messages())
	assert.Equal(t, int64(1), f.count(t))
}

func TestCoordinator_ForceWinsPendingTrigger(t *testing.T) {
	f := newEngineFixture(t, true)
	out := &recordingBroadcaster{}
	coord := NewCoordinator(f.engine, f.monitor, out, f.queue, time.Hour)

	coord.Request(TriggerOnline)
	coord.Request(TriggerForce)
	coord.Request(TriggerWake)
	assert.Equal(t, TriggerForce, coord.takePending())
	assert.Empty(t, coord.takePending())

	// collapsed into a forced run, the empty drain is still announced
	coord.Request(TriggerOnline)
	coord.Request(TriggerForce)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool { return len(out.Messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	msg := out.Messages()[0]
	assert.Equal(t, constraints.MsgSyncComplete, msg.Type)
	assert.Zero(t, msg.SyncedCount)
}

func TestCoordinator_PeriodicWake(t *testing.T) {
	f := newEngineFixture(t, true)
	enqueueSales(t, f.queue, "a")
	_, out := startCoordinator(t, f, 20*time.Millisecond)

	require.Eventually(t, func() bool { return len(out.Messages()) >= 2 }, 2*time.Second, 10*time.Millisecond)
	n, err := f.repo.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCoordinator_IdleWakeIsQuiet(t *testing.T) {
	f := newEngineFixture(t, true)
	_, out := startCoordinator(t, f, 10*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, out.Messages())
}

func TestCoordinator_NoBroadcastWhileOffline(t *testing.T) {
	f := newEngineFixture(t, false)
	enqueueSales(t, f.queue, "a")
	coord, out := startCoordinator(t, f, 10*time.Millisecond)
	coord.Request(TriggerForce)

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, out.Messages())
	assert.Empty(t, f.replayer.Calls())
}
