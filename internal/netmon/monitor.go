// Package netmon tracks device connectivity and notifies subscribers on
// each offline/online edge.
package netmon

import (
	"sync"

	"tillsync/pkg/logger"

	"go.uber.org/zap"
)

type Monitor struct {
	mu        sync.Mutex
	online    bool
	nextID    int
	onOnline  map[int]func()
	onOffline map[int]func()
}

// New returns a monitor seeded with the platform's current reachability.
func New(initial bool) *Monitor {
	return &Monitor{
		online:    initial,
		onOnline:  make(map[int]func()),
		onOffline: make(map[int]func()),
	}
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnOnline registers cb for offline->online transitions. The returned func
// removes the subscription.
func (m *Monitor) OnOnline(cb func()) func() {
	return m.subscribe(m.onOnline, cb)
}

// OnOffline registers cb for online->offline transitions.
func (m *Monitor) OnOffline(cb func()) func() {
	return m.subscribe(m.onOffline, cb)
}

func (m *Monitor) subscribe(set map[int]func(), cb func()) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	set[id] = cb
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(set, id)
			m.mu.Unlock()
		})
	}
}

// Set feeds a platform reachability signal. Callbacks run on the caller's
// goroutine, only when the state actually changes.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	src := m.onOffline
	if online {
		src = m.onOnline
	}
	cbs := make([]func(), 0, len(src))
	for _, cb := range src {
		cbs = append(cbs, cb)
	}
	m.mu.Unlock()

	logger.Info("connectivity changed", zap.Bool("online", online), zap.Int("subscribers", len(cbs)))
	for _, cb := range cbs {
		cb()
	}
}
