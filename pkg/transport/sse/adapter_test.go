package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-mcp/mcpbridge/pkg/config"
	"github.com/open-mcp/mcpbridge/pkg/mcprpc"
	"github.com/open-mcp/mcpbridge/pkg/transport/types"
)

// endpointFrameServer emulates a backend using the "endpoint" SSE frame to
// advertise its session-scoped POST channel, and echoes every JSON-RPC
// request posted there back as a matching `data:` frame. getHits counts
// how many times the stream endpoint itself was opened.
func endpointFrameServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var mu sync.Mutex
	flushers := map[chan string]struct{}{}
	var getHits int32

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&getHits, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		ch := make(chan string, 8)
		mu.Lock()
		flushers[ch] = struct{}{}
		mu.Unlock()
		defer func() {
			mu.Lock()
			delete(flushers, ch)
			mu.Unlock()
		}()

		fmt.Fprintf(w, "event: endpoint\ndata: /message\n\n")
		flusher.Flush()

		for {
			select {
			case msg := <-ch:
				fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
	mux.HandleFunc("/message", func(w http.ResponseWriter, r *http.Request) {
		var req mcprpc.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := mcprpc.Response{JSONRPC: "2.0", ID: mustRaw(req.ID), Result: json.RawMessage(`{}`)}
		raw, _ := json.Marshal(resp) //nolint:errcheck
		mu.Lock()
		for ch := range flushers {
			ch <- string(raw)
		}
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})
	return httptest.NewServer(mux), &getHits
}

func TestAdapter_EndpointFrameModeStartAndRequest(t *testing.T) {
	srv, _ := endpointFrameServer(t)
	defer srv.Close()

	a := New(srv.URL+"/sse", &config.SSETuning{RetryDelay: 10 * time.Millisecond, RetryCount: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, a.Start(ctx))
	defer a.Shutdown(ctx) //nolint:errcheck

	_, err := a.Request(ctx, "tools/list", nil)
	assert.NoError(t, err)
}

// TestAdapter_OpensFreshStreamPerRequest asserts the adapter never reuses
// a GET stream across calls: each of Start's initialize handshake and
// every subsequent Request opens (and the server observes) its own GET.
func TestAdapter_OpensFreshStreamPerRequest(t *testing.T) {
	srv, getHits := endpointFrameServer(t)
	defer srv.Close()

	a := New(srv.URL+"/sse", &config.SSETuning{RetryDelay: 10 * time.Millisecond, RetryCount: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, a.Start(ctx))
	assert.EqualValues(t, 1, atomic.LoadInt32(getHits), "Start's initialize handshake should open exactly one stream")

	_, err := a.Request(ctx, "tools/list", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(getHits), "a second Request must open its own fresh stream, not reuse Start's")

	_, err = a.Request(ctx, "resources/list", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(getHits))

	require.NoError(t, a.Shutdown(ctx))
}

// headerModeServer emulates a backend using the Mcp-Session-Id response
// header to hand back a session id instead of an "endpoint" frame: every
// subsequent JSON-RPC call is POSTed back to the same stream URL carrying
// that header. inline controls whether the POST answers with the
// JSON-RPC response directly in its body (true) or only pushes it over
// the SSE channel (false). getHits counts GET opens on /stream.
func headerModeServer(t *testing.T, inline bool) (*httptest.Server, *int32, *int32) {
	t.Helper()
	var mu sync.Mutex
	flushers := map[chan string]struct{}{}
	var sawSessionHeader int32
	var getHits int32

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			atomic.AddInt32(&getHits, 1)
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Mcp-Session-Id", "sess-123")
			flusher := w.(http.Flusher)
			ch := make(chan string, 8)
			mu.Lock()
			flushers[ch] = struct{}{}
			mu.Unlock()
			defer func() {
				mu.Lock()
				delete(flushers, ch)
				mu.Unlock()
			}()
			w.WriteHeader(http.StatusOK)
			flusher.Flush()
			for {
				select {
				case msg := <-ch:
					fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
					flusher.Flush()
				case <-r.Context().Done():
					return
				}
			}
		case http.MethodPost:
			if r.Header.Get("Mcp-Session-Id") == "sess-123" {
				atomic.AddInt32(&sawSessionHeader, 1)
			}
			var req mcprpc.Request
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			resp := mcprpc.Response{JSONRPC: "2.0", ID: mustRaw(req.ID), Result: json.RawMessage(`{}`)}
			raw, _ := json.Marshal(resp) //nolint:errcheck

			if inline {
				w.Header().Set("Content-Type", "application/json")
				w.Write(raw) //nolint:errcheck
				return
			}
			mu.Lock()
			for ch := range flushers {
				ch <- string(raw)
			}
			mu.Unlock()
			w.WriteHeader(http.StatusAccepted)
		}
	})
	return httptest.NewServer(mux), &sawSessionHeader, &getHits
}

func TestAdapter_HeaderModeInlineResponse(t *testing.T) {
	srv, sawSessionHeader, getHits := headerModeServer(t, true)
	defer srv.Close()

	a := New(srv.URL+"/stream", &config.SSETuning{RetryDelay: 10 * time.Millisecond, RetryCount: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, a.Start(ctx))

	_, err := a.Request(ctx, "tools/list", nil)
	assert.NoError(t, err)
	assert.Positive(t, atomic.LoadInt32(sawSessionHeader), "POST must carry the Mcp-Session-Id header")
	assert.EqualValues(t, 2, atomic.LoadInt32(getHits), "initialize and tools/list must each open their own stream")

	require.NoError(t, a.Shutdown(ctx))
}

func TestAdapter_HeaderModeStreamedResponse(t *testing.T) {
	srv, sawSessionHeader, _ := headerModeServer(t, false)
	defer srv.Close()

	a := New(srv.URL+"/stream", &config.SSETuning{RetryDelay: 10 * time.Millisecond, RetryCount: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, a.Start(ctx))
	defer a.Shutdown(ctx) //nolint:errcheck

	_, err := a.Request(ctx, "tools/list", nil)
	assert.NoError(t, err)
	assert.Positive(t, atomic.LoadInt32(sawSessionHeader))
}

func TestAdapter_RequestBeforeSessionIsSessionUnavailable(t *testing.T) {
	a := New("http://127.0.0.1:0/sse", &config.SSETuning{RetryDelay: time.Millisecond, RetryCount: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := a.Request(ctx, "tools/list", nil)
	assert.ErrorIs(t, err, types.ErrSessionUnavailable)
}

func TestAdapter_ShutdownRejectsFurtherRequests(t *testing.T) {
	srv, _ := endpointFrameServer(t)
	defer srv.Close()

	a := New(srv.URL+"/sse", &config.SSETuning{RetryDelay: 10 * time.Millisecond, RetryCount: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, a.Start(ctx))
	require.NoError(t, a.Shutdown(ctx))

	_, err := a.Request(ctx, "tools/list", nil)
	assert.ErrorIs(t, err, types.ErrClosed)
}

func TestResolveEndpoint_relativePath(t *testing.T) {
	got := resolveEndpoint("http://example.test/sse", "/message?sid=1")
	assert.Equal(t, "http://example.test/message?sid=1", got)
}

func mustRaw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
