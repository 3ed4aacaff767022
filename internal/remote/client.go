// Package remote talks to the hosted point-of-sale API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tillsync/internal/config"
	"tillsync/internal/errs"
	"tillsync/internal/model"
	v1 "tillsync/pkg/api/v1"
	"tillsync/pkg/constraints"
)

const maxErrorBody = 512

// Response is a raw upstream reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

type Client struct {
	baseURL     string
	salesPath   string
	restockPath string
	headers     http.Header
	httpClient  *http.Client
}

type Option func(*Client)

// WithHeader adds a header sent on every call, e.g. the session token.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Set(key, value) }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(cfg config.RemoteConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		salesPath:   cfg.SalesPath,
		restockPath: cfg.RestockPath,
		headers:     http.Header{},
		httpClient:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve turns a path into an absolute URL. Absolute URLs pass through.
func (c *Client) Resolve(pathOrURL string) string {
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		return pathOrURL
	}
	if !strings.HasPrefix(pathOrURL, "/") {
		pathOrURL = "/" + pathOrURL
	}
	return c.baseURL + pathOrURL
}

// Send performs one call. Only a failure to reach the server is returned as
// an error; any status code comes back in the Response.
func (c *Client) Send(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error) {
	var rd io.Reader
	if len(body) > 0 {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Resolve(url), rd)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range c.headers {
		req.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range header {
		req.Header[k] = append([]string(nil), vs...)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Connectivity(err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Connectivity(err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: b}, nil
}

// call is Send with non-2xx mapped to *errs.RemoteError.
func (c *Client) call(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error) {
	resp, err := c.Send(ctx, method, url, header, body)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		msg := string(resp.Body)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &errs.RemoteError{Status: resp.Status, Body: msg}
	}
	return resp, nil
}

func jsonHeader() http.Header {
	return http.Header{"Content-Type": {"application/json"}}
}

func (c *Client) CreateSale(ctx context.Context, sale v1.SalePayload) (json.RawMessage, error) {
	b, err := json.Marshal(sale)
	if err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, http.MethodPost, c.salesPath, jsonHeader(), b)
	if err != nil {
		return nil, err
	}
	return rawJSON(resp.Body), nil
}

// RestockRequest describes the restock call for productID so it can be sent
// now or stored and replayed later with identical content.
func (c *Client) RestockRequest(productID int64, r v1.RestockRequest) (v1.RequestPayload, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return v1.RequestPayload{}, err
	}
	return v1.RequestPayload{
		Method:  http.MethodPost,
		URL:     c.Resolve(fmt.Sprintf(c.restockPath, productID)),
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    string(b),
	}, nil
}

// Forward sends a stored request.
func (c *Client) Forward(ctx context.Context, p v1.RequestPayload) (json.RawMessage, error) {
	h := http.Header{}
	for k, v := range p.Headers {
		h.Set(k, v)
	}
	resp, err := c.call(ctx, p.Method, p.URL, h, []byte(p.Body))
	if err != nil {
		return nil, err
	}
	return rawJSON(resp.Body), nil
}

// Replay sends a queued operation as the live call it stands for.
func (c *Client) Replay(ctx context.Context, op *model.QueuedOperation) error {
	switch op.Kind {
	case constraints.KindSale:
		sale, err := op.Sale()
		if err != nil {
			return err
		}
		_, err = c.CreateSale(ctx, *sale)
		return err
	case constraints.KindRequest:
		req, err := op.Request()
		if err != nil {
			return err
		}
		_, err = c.Forward(ctx, *req)
		return err
	default:
		return fmt.Errorf("operation %s has unknown kind %q", op.ID, op.Kind)
	}
}

func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 || !json.Valid(b) {
		return json.RawMessage("null")
	}
	return json.RawMessage(b)
}
