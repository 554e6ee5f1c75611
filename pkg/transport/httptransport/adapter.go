// Package httptransport implements the Adapter interface over plain HTTP
// POST JSON-RPC calls: every request is its own POST; there is no
// persistent session beyond the keep-alive connection pool.
package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/open-mcp/mcpbridge/pkg/mcprpc"
	"github.com/open-mcp/mcpbridge/pkg/transport/types"
)

const (
	initializeTimeout = 30 * time.Second
	syncTimeout       = 60 * time.Second
)

// Adapter sends one JSON-RPC POST per call to a fixed URL.
type Adapter struct {
	url         string
	bearerToken string
	client      *http.Client
	nextID      int64
	closed      atomic.Bool
}

// Option configures an Adapter at construction time.
type Option func(*Adapter)

// WithBearerToken attaches an Authorization: Bearer header to every
// request, for dynamic backends supplied with an mcp_auth_token.
func WithBearerToken(token string) Option {
	return func(a *Adapter) { a.bearerToken = token }
}

// New builds an http Adapter targeting url, using a pooled keep-alive
// client so repeated calls reuse their TCP connection.
func New(url string, opts ...Option) *Adapter {
	a := &Adapter{
		url: url,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start performs the initialize handshake over a single POST.
func (a *Adapter) Start(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, initializeTimeout)
	defer cancel()
	if _, err := a.Request(initCtx, mcprpc.MethodInitialize, mcprpc.DefaultInitializeParams()); err != nil {
		return fmt.Errorf("http: initialize handshake with %s: %w", a.url, err)
	}
	return nil
}

// Request POSTs a JSON-RPC request and decodes its response. ctx is
// always bounded to syncTimeout, same as a caller-supplied deadline that
// happens to be tighter: a hung backend cannot stall a request past
// syncTimeout regardless of what timeout (if any) the caller already
// applied upstream.
func (a *Adapter) Request(ctx context.Context, method string, params any) ([]byte, error) {
	if a.closed.Load() {
		return nil, types.ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	id := atomic.AddInt64(&a.nextID, 1)
	req := mcprpc.NewRequest(id, method, params)
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("http: encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("http: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if a.bearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.bearerToken)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", types.ErrUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDecode, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: backend returned %d", types.ErrUnavailable, resp.StatusCode)
	}

	var rpcResp mcprpc.Response
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDecode, err)
	}
	if rpcResp.Error != nil {
		return nil, &types.MCPError{RPC: rpcResp.Error}
	}
	return rpcResp.Result, nil
}

// Shutdown marks the adapter closed and releases idle connections.
func (a *Adapter) Shutdown(_ context.Context) error {
	a.closed.Store(true)
	a.client.CloseIdleConnections()
	return nil
}
