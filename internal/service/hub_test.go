package service

import (
	"context"
	"sync"
	"testing"
	"time"

	v1 "tillsync/pkg/api/v1"
	"tillsync/pkg/constraints"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type MockObserver struct {
	mu     sync.Mutex
	online int
	pushes int
}

func (m *MockObserver) IncOnline()        { m.mu.Lock(); m.online++; m.mu.Unlock() }
func (m *MockObserver) DecOnline()        { m.mu.Lock(); m.online--; m.mu.Unlock() }
func (m *MockObserver) RecordPush(string) { m.mu.Lock(); m.pushes++; m.mu.Unlock() }
func (m *MockObserver) RecordDrop()       {}

func startHub(t *testing.T, obs *MockObserver) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(obs, time.Hour, 512, 64)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	return hub, func() {
		cancel()
		<-done
	}
}

func TestHub_AssignsSequenceAndReplays(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	hub, stop := startHub(t, &MockObserver{})
	defer stop()

	c := &Client{ID: "a", Send: make(chan v1.Message, 8)}
	require.True(t, hub.Subscribe(c))

	hub.Publish(v1.Message{Type: constraints.MsgSyncComplete, SyncedCount: 2})
	hub.Publish(v1.Message{Type: constraints.MsgSaleSynced, SaleID: "op_1"})

	first := <-c.Send
	second := <-c.Send
	assert.EqualValues(t, 1, first.Seq)
	assert.EqualValues(t, 2, second.Seq)
	assert.Equal(t, "op_1", second.SaleID)

	missed, ok := hub.Since(1)
	require.True(t, ok)
	require.Len(t, missed, 1)
	assert.Equal(t, constraints.MsgSaleSynced, missed[0].Type)
}

func TestHub_StopClosesListeners(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	obs := &MockObserver{}
	hub, stop := startHub(t, obs)

	c := &Client{ID: "a", Send: make(chan v1.Message, 1)}
	require.True(t, hub.Subscribe(c))
	stop()

	_, open := <-c.Send
	assert.False(t, open)
	assert.False(t, hub.Subscribe(&Client{Send: make(chan v1.Message)}))
	assert.Equal(t, 0, obs.online)
}

func TestHub_HeartbeatPings(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	hub := NewHub(&MockObserver{}, 10*time.Millisecond, 8, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { hub.Run(ctx); close(done) }()
	defer func() { cancel(); <-done }()

	c := &Client{ID: "p", Send: make(chan v1.Message, 4)}
	require.True(t, hub.Subscribe(c))

	select {
	case msg := <-c.Send:
		assert.Equal(t, constraints.MsgPing, msg.Type)
		assert.Zero(t, msg.Seq, "pings are not sequenced")
	case <-time.After(time.Second):
		t.Fatal("no heartbeat")
	}
}

func TestHub_Concurrency(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	hub, stop := startHub(t, &MockObserver{})
	defer stop()

	var wg sync.WaitGroup
	clientCount := 50
	msgCount := 200

	clients := make([]*Client, clientCount)
	for i := 0; i < clientCount; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			c := &Client{Send: make(chan v1.Message, 50)}
			clients[idx] = c
			hub.Subscribe(c)
		}(i)
	}
	wg.Wait()

	broadcastDone := make(chan struct{})
	go func() {
		for i := 0; i < msgCount; i++ {
			hub.Publish(v1.Message{Type: constraints.MsgSyncComplete, SyncedCount: i})
			if i%10 == 0 {
				time.Sleep(time.Millisecond)
			}
		}
		close(broadcastDone)
	}()

	// churn
	churnDone := make(chan struct{})
	go func() {
		defer close(churnDone)
		for i := 0; i < clientCount/2; i++ {
			time.Sleep(2 * time.Millisecond)
			hub.Unsubscribe(clients[i])
		}
	}()

	var readWg sync.WaitGroup
	for i := 0; i < clientCount; i++ {
		readWg.Add(1)
		go func(c *Client) {
			defer readWg.Done()
			timeout := time.After(3 * time.Second)
			var last int64
			for {
				select {
				case msg, ok := <-c.Send:
					if !ok {
						return
					}
					if msg.Seq <= last {
						t.Errorf("seq went backwards: %d after %d", msg.Seq, last)
						return
					}
					last = msg.Seq
				case <-broadcastDone:
					return
				case <-timeout:
					return
				}
			}
		}(clients[i])
	}
	readWg.Wait()
	<-churnDone
}
