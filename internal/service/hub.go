package service

import (
	"context"
	"time"

	"tillsync/internal/buffer"
	"tillsync/internal/metrics"
	v1 "tillsync/pkg/api/v1"
	"tillsync/pkg/constraints"
	"tillsync/pkg/logger"

	"go.uber.org/zap"
)

// Client is one connected broadcast listener.
type Client struct {
	ID   string
	Send chan v1.Message
}

// Hub fans coordinator broadcasts out to every listener. Each message gets
// the next sequence number and is kept in a replay buffer.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan v1.Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	observer  metrics.HubObserver
	heartbeat time.Duration
	history   *buffer.SeqBuffer
	seq       int64
}

func NewHub(observer metrics.HubObserver, heartbeat time.Duration, bufferSize, replaySize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan v1.Message, bufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		observer:   observer,
		heartbeat:  heartbeat,
		history:    buffer.NewSeqBuffer(replaySize),
	}
}

// Subscribe adds c. It returns false once the hub has stopped.
func (h *Hub) Subscribe(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unsubscribe(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Publish queues msg for delivery without blocking. Broadcasts are
// fire-and-forget: a full hub drops the message.
func (h *Hub) Publish(msg v1.Message) bool {
	select {
	case h.broadcast <- msg:
		return true
	default:
		logger.Warn("hub saturated, broadcast dropped", zap.String("type", msg.Type))
		return false
	}
}

// Since returns the broadcasts after lastSeq still held for replay.
func (h *Hub) Since(lastSeq int64) ([]v1.Message, bool) {
	return h.history.Since(lastSeq)
}

func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			logger.Info("hub stopped")
			return

		case c := <-h.register:
			h.clients[c] = true
			h.observer.IncOnline()

		case c := <-h.unregister:
			if h.clients[c] {
				h.drop(c)
			}

		case msg := <-h.broadcast:
			h.seq++
			msg.Seq = h.seq
			h.history.Add(msg)
			h.observer.RecordPush(msg.Type)
			h.fanOut(msg)

		case <-ticker.C:
			h.fanOut(v1.Message{Type: constraints.MsgPing})
		}
	}
}

func (h *Hub) fanOut(msg v1.Message) {
	for c := range h.clients {
		select {
		case c.Send <- msg:
		default:
			logger.Warn("listener too slow, disconnecting", zap.String("client", c.ID))
			h.observer.RecordDrop()
			h.drop(c)
		}
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.Send)
	h.observer.DecOnline()
}
