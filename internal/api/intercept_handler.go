package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"tillsync/internal/dto/resp"
	"tillsync/internal/errs"
	"tillsync/internal/model"
	"tillsync/internal/remote"
	"tillsync/internal/repository"
	v1 "tillsync/pkg/api/v1"
	"tillsync/pkg/constraints"
	"tillsync/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	CacheHeader    = "X-Tillsync-Cache"
	CachedAtHeader = "X-Tillsync-Cached-At"
	QueuedMessage  = "Request queued for sync when online"
)

type Upstream interface {
	Send(ctx context.Context, method, url string, header http.Header, body []byte) (*remote.Response, error)
	Resolve(pathOrURL string) string
}

type RequestQueuer interface {
	EnqueueRequest(ctx context.Context, req v1.RequestPayload) (string, error)
}

// hop-by-hop and transport-managed headers never forwarded or stored
var skipHeaders = map[string]bool{
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
	"Te":                true,
	"Trailer":           true,
	"Content-Length":    true,
	"Accept-Encoding":   true,
	"Host":              true,
	"X-Till-Key":        true,
	"X-Dev-Pass":        true,
}

// InterceptHandler sits between the terminal UI and the hosted API for every
// route the coordinator does not serve itself.
type InterceptHandler struct {
	upstream Upstream
	cache    repository.ResponseCache
	queue    RequestQueuer
}

func NewInterceptHandler(upstream Upstream, cache repository.ResponseCache, queue RequestQueuer) *InterceptHandler {
	return &InterceptHandler{upstream: upstream, cache: cache, queue: queue}
}

func (h *InterceptHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, resp.ErrorResponse{Error: "unreadable body"})
		return
	}
	header := forwardHeader(c.Request.Header)
	url := h.upstream.Resolve(c.Request.URL.RequestURI())
	method := c.Request.Method

	switch {
	case method == http.MethodGet:
		h.get(c, url, header)
	case constraints.IsMutating(method):
		h.mutate(c, method, url, header, body)
	default:
		r, err := h.upstream.Send(c.Request.Context(), method, url, header, body)
		if err != nil {
			c.JSON(http.StatusBadGateway, resp.ErrorResponse{Error: err.Error(), Kind: errs.Kind(err)})
			return
		}
		writeUpstream(c, r)
	}
}

// get is network first; a successful response refreshes the cache and the
// cache answers only when the network fails.
func (h *InterceptHandler) get(c *gin.Context, url string, header http.Header) {
	ctx := c.Request.Context()
	key := repository.CacheKey(http.MethodGet, c.Request.URL.Path, c.Request.URL.RawQuery)

	r, err := h.upstream.Send(ctx, http.MethodGet, url, header, nil)
	if err == nil {
		if r.OK() {
			entry := &model.CachedResponse{CacheKey: key, Status: r.Status, Body: r.Body, CachedAt: time.Now()}
			if herr := entry.SetHeader(r.Header); herr == nil {
				if perr := h.cache.Put(ctx, entry); perr != nil {
					logger.Warn("failed to cache response", zap.String("key", key), zap.Error(perr))
				}
			}
		}
		writeUpstream(c, r)
		return
	}

	cached, cerr := h.cache.Get(ctx, key)
	if cerr != nil {
		logger.Error("response cache read failed", zap.String("key", key), zap.Error(cerr))
	}
	if cached == nil {
		c.JSON(http.StatusServiceUnavailable, resp.ErrorResponse{Error: "offline and no cached response", Kind: errs.Kind(err)})
		return
	}

	for k, vs := range cached.HTTPHeader() {
		if skipHeaders[k] {
			continue
		}
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Header(CacheHeader, "HIT")
	c.Header(CachedAtHeader, cached.CachedAt.UTC().Format(time.RFC3339))
	c.Data(cached.Status, cached.HTTPHeader().Get("Content-Type"), cached.Body)
}

// mutate is network first. Only a failure to reach the server queues the
// write; a server rejection goes back to the caller as is.
func (h *InterceptHandler) mutate(c *gin.Context, method, url string, header http.Header, body []byte) {
	ctx := c.Request.Context()
	r, err := h.upstream.Send(ctx, method, url, header, body)
	if err == nil {
		writeUpstream(c, r)
		return
	}

	captured := v1.RequestPayload{
		Method:  method,
		URL:     url,
		Headers: make(map[string]string, len(header)),
		Body:    string(body),
	}
	for k := range header {
		captured.Headers[k] = header.Get(k)
	}

	id, qerr := h.queue.EnqueueRequest(ctx, captured)
	if qerr != nil {
		c.JSON(http.StatusInternalServerError, resp.ErrorResponse{Error: qerr.Error(), Kind: errs.Kind(qerr)})
		return
	}
	logger.Info("write queued while offline", zap.String("id", id), zap.String("method", method), zap.String("url", url), zap.Error(err))
	c.JSON(http.StatusAccepted, v1.QueuedResponse{
		Success:     true,
		Queued:      true,
		Message:     QueuedMessage,
		OperationID: id,
	})
}

func forwardHeader(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for k, vs := range in {
		if skipHeaders[k] {
			continue
		}
		out[k] = append([]string(nil), vs...)
	}
	return out
}

func writeUpstream(c *gin.Context, r *remote.Response) {
	for k, vs := range r.Header {
		if skipHeaders[k] {
			continue
		}
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Data(r.Status, r.Header.Get("Content-Type"), r.Body)
}
