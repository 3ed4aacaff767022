package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"tillsync/internal/config"
	v1 "tillsync/pkg/api/v1"
	"tillsync/pkg/constraints"
	"tillsync/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.InitLogger("test")
}

type backend struct {
	srv      *httptest.Server
	sales    atomic.Int32
	restocks atomic.Int32
	status   atomic.Int32
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{}
	b.status.Store(http.StatusCreated)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sales", func(w http.ResponseWriter, r *http.Request) {
		b.sales.Add(1)
		w.WriteHeader(int(b.status.Load()))
		_, _ = w.Write([]byte(`{"id":"sale-1"}`))
	})
	mux.HandleFunc("POST /api/products/{id}/restock", func(w http.ResponseWriter, r *http.Request) {
		b.restocks.Add(1)
		var body v1.RestockRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(int(b.status.Load()))
		_, _ = w.Write([]byte(`{"productId":"` + r.PathValue("id") + `"}`))
	})
	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func newTerminal(t *testing.T, b *backend, online, autoSync bool) *Terminal {
	t.Helper()
	term, err := NewTerminal(TerminalConfig{
		Store: config.StoreConfig{
			Driver: "sqlite",
			DSN:    "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		},
		Remote: config.RemoteConfig{
			BaseURL:     b.srv.URL,
			SalesPath:   "/api/sales",
			RestockPath: "/api/products/%d/restock",
			Timeout:     2 * time.Second,
		},
		Sync:     config.SyncConfig{MaxRetries: 3, LeaseTTL: time.Minute},
		Online:   online,
		AutoSync: autoSync,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = term.Close() })
	return term
}

func cashSale() v1.SalePayload {
	return v1.SalePayload{
		Items:       []v1.SaleItem{{ProductID: 7, Quantity: 2, Price: "60.00"}},
		PaymentType: constraints.PaymentCash,
	}
}

func TestTerminal_OfflineRestockIsQueued(t *testing.T) {
	b := newBackend(t)
	term := newTerminal(t, b, false, false)
	ctx := context.Background()

	cost := "12.50"
	res, err := term.RestockProductOfflineAware(ctx, 42, 10, &cost)
	require.NoError(t, err)

	assert.True(t, res.Offline)
	assert.NotEmpty(t, res.OperationID)
	assert.Equal(t, int32(0), b.restocks.Load(), "nothing may reach the network while offline")

	pending, err := term.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestTerminal_OnlineSuccessSkipsQueue(t *testing.T) {
	b := newBackend(t)
	term := newTerminal(t, b, true, false)
	ctx := context.Background()

	res, err := term.RecordSaleOfflineAware(ctx, cashSale())
	require.NoError(t, err)
	assert.False(t, res.Offline)
	assert.JSONEq(t, `{"id":"sale-1"}`, string(res.Data))

	rs, err := term.RestockProductOfflineAware(ctx, 42, 3, nil)
	require.NoError(t, err)
	assert.False(t, rs.Offline)
	assert.JSONEq(t, `{"productId":"42"}`, string(rs.Data))

	stats, err := term.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Total)
}

func TestTerminal_OnlineFailureFallsBackToQueue(t *testing.T) {
	b := newBackend(t)
	b.status.Store(http.StatusInternalServerError)
	term := newTerminal(t, b, true, false)
	ctx := context.Background()

	res, err := term.RecordSaleOfflineAware(ctx, cashSale())
	require.NoError(t, err)
	assert.True(t, res.Offline)
	assert.Equal(t, int32(1), b.sales.Load())

	pending, err := term.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestTerminal_InvalidSaleRejected(t *testing.T) {
	b := newBackend(t)
	term := newTerminal(t, b, false, false)

	_, err := term.RecordSaleOfflineAware(context.Background(), v1.SalePayload{PaymentType: constraints.PaymentCash})
	require.Error(t, err)

	pending, err := term.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestTerminal_AutoSyncOnReconnect(t *testing.T) {
	b := newBackend(t)
	term := newTerminal(t, b, false, true)
	ctx := context.Background()

	_, err := term.RecordSaleOfflineAware(ctx, cashSale())
	require.NoError(t, err)
	_, err = term.RestockProductOfflineAware(ctx, 42, 1, nil)
	require.NoError(t, err)

	term.SetOnline(true)

	require.Eventually(t, func() bool {
		n, err := term.PendingCount(ctx)
		return err == nil && n == 0
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int32(1), b.sales.Load())
	assert.Equal(t, int32(1), b.restocks.Load())
}

func TestTerminal_ForceSyncOffline(t *testing.T) {
	b := newBackend(t)
	term := newTerminal(t, b, false, false)

	res, err := term.ForceSyncNow(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.Offline)
	assert.Equal(t, []string{"Device is offline"}, res.Errors)
}

func TestTerminal_DeadLetterAfterRetries(t *testing.T) {
	b := newBackend(t)
	b.status.Store(http.StatusInternalServerError)
	term := newTerminal(t, b, false, false)
	ctx := context.Background()

	_, err := term.RecordSaleOfflineAware(ctx, cashSale())
	require.NoError(t, err)
	term.SetOnline(true)

	for i := 0; i < 3; i++ {
		res, err := term.SyncWithServer(ctx)
		require.NoError(t, err)
		assert.False(t, res.Success)
	}

	dead, err := term.DeadLetterCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead)

	// dead-lettered entries are not replayed again
	res, err := term.SyncWithServer(ctx)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int32(3), b.sales.Load())

	require.NoError(t, term.ClearQueue(ctx))
	stats, err := term.QueueStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestTerminal_CloseIsIdempotent(t *testing.T) {
	b := newBackend(t)
	term := newTerminal(t, b, false, true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, term.Close())
		assert.NoError(t, term.Close())
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second Close blocked")
	}
}
