package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	v1 "tillsync/pkg/api/v1"
	"tillsync/pkg/constraints"
	"tillsync/pkg/logger"

	"go.uber.org/zap"
)

const terminalKeyHeader = "X-Till-Key"

// ErrOffline is returned by RequestForceSync when the coordinator has no
// connectivity and refused to sync.
var ErrOffline = errors.New(constraints.ErrDeviceOffline)

// ControlError is a control call the coordinator answered with a failure status.
type ControlError struct {
	Status  int
	Message string
}

func (e *ControlError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("coordinator answered %d", e.Status)
	}
	return fmt.Sprintf("coordinator answered %d: %s", e.Status, e.Message)
}

// Listener follows the coordinator's broadcast stream and sends it control
// messages. Handlers run on the listener goroutine.
type Listener struct {
	addr       string
	key        string
	httpClient *http.Client
	idle       time.Duration

	mu        sync.RWMutex
	lastSeq   int64
	onMessage []func(v1.Message)
	onReset   []func()
	connected atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewListener targets the coordinator at addr. key is the terminal key, if
// the coordinator requires one.
func NewListener(addr, key string) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		addr:       strings.TrimRight(addr, "/"),
		key:        key,
		httpClient: &http.Client{Timeout: 0},
		idle:       45 * time.Second,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// OnMessage registers h for SYNC_COMPLETE and SALE_SYNCED broadcasts.
func (l *Listener) OnMessage(h func(v1.Message)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onMessage = append(l.onMessage, h)
}

// OnReset registers h for when missed broadcasts could not be replayed; the
// UI should refresh everything.
func (l *Listener) OnReset(h func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onReset = append(l.onReset, h)
}

func (l *Listener) LastSeq() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastSeq
}

func (l *Listener) Connected() bool {
	return l.connected.Load()
}

func (l *Listener) Start() {
	go l.runWatchLoop()
}

// Stop ends the watch loop and waits for it.
func (l *Listener) Stop() {
	l.cancel()
	<-l.done
}

func (l *Listener) runWatchLoop() {
	defer close(l.done)
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		if l.ctx.Err() != nil {
			return
		}

		url := fmt.Sprintf("%s/v1/stream", l.addr)
		if seq := l.LastSeq(); seq > 0 {
			url = fmt.Sprintf("%s?last_seq=%d", url, seq)
		}

		reqCtx, reqCancel := context.WithCancel(l.ctx)
		req, _ := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		l.authorize(req)
		resp, err := l.httpClient.Do(req)
		if err == nil && resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			err = fmt.Errorf("stream status %d", resp.StatusCode)
		}
		if err != nil {
			reqCancel()
			jitter := time.Duration(rand.Int63n(int64(backoff / 2)))
			logger.Warn("SSE disconnected", zap.Error(err), zap.Duration("retry_in", backoff+jitter))
			select {
			case <-l.ctx.Done():
				return
			case <-time.After(backoff + jitter):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = time.Second
		l.connected.Store(true)
		l.consume(reqCtx, reqCancel, resp)
		l.connected.Store(false)
		reqCancel()
		resp.Body.Close()

		select {
		case <-l.ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// consume reads events until the stream ends or goes quiet for longer than
// the idle limit. The coordinator pings well within it.
func (l *Listener) consume(ctx context.Context, cancel context.CancelFunc, resp *http.Response) {
	var lastActivity atomic.Int64
	lastActivity.Store(time.Now().UnixNano())
	go func() {
		ticker := time.NewTicker(l.idle / 5)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if time.Since(time.Unix(0, lastActivity.Load())) > l.idle {
					logger.Warn("sse heartbeat timeout, reconnecting")
					cancel()
					return
				}
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	var eventType string
	var data bytes.Buffer

	for scanner.Scan() {
		lastActivity.Store(time.Now().UnixNano())
		line := scanner.Text()
		if line != "" {
			switch {
			case strings.HasPrefix(line, "event:"):
				eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				if data.Len() > 0 {
					data.WriteString("\n")
				}
				data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			}
			continue
		}

		switch eventType {
		case "reset":
			logger.Warn("broadcast history lost, resetting")
			l.mu.Lock()
			l.lastSeq = 0
			handlers := append([]func(){}, l.onReset...)
			l.mu.Unlock()
			for _, h := range handlers {
				h()
			}
		case "ping":
		case "message":
			var msg v1.Message
			if err := json.Unmarshal(data.Bytes(), &msg); err != nil {
				logger.Error("failed to decode broadcast", zap.Error(err))
				break
			}
			l.dispatch(msg)
		}
		eventType = ""
		data.Reset()
	}
}

func (l *Listener) dispatch(msg v1.Message) {
	l.mu.Lock()
	if msg.Seq <= l.lastSeq {
		l.mu.Unlock()
		return
	}
	l.lastSeq = msg.Seq
	handlers := append([]func(v1.Message){}, l.onMessage...)
	l.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

// RequestForceSync asks the coordinator to drain now. It returns ErrOffline
// when the coordinator cannot sync for lack of connectivity.
func (l *Listener) RequestForceSync(ctx context.Context) error {
	err := l.post(ctx, "/v1/control", v1.ControlMessage{Type: constraints.CtlForceSync})
	var ce *ControlError
	if errors.As(err, &ce) && ce.Status == http.StatusConflict {
		return fmt.Errorf("%w: %s", ErrOffline, ce.Message)
	}
	return err
}

// ReportConnectivity forwards the platform's connectivity signal.
func (l *Listener) ReportConnectivity(ctx context.Context, online bool) error {
	return l.post(ctx, "/v1/connectivity", map[string]bool{"online": online})
}

func (l *Listener) post(ctx context.Context, path string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, l.addr+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	l.authorize(req)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return &ControlError{Status: resp.StatusCode, Message: body.Error}
	}
	return nil
}

func (l *Listener) authorize(req *http.Request) {
	if l.key != "" {
		req.Header.Set(terminalKeyHeader, l.key)
	}
}
