// Package sse implements the Adapter interface over Server-Sent Events:
// every call opens its own short-lived GET stream to discover a
// session-scoped POST endpoint, posts the JSON-RPC request, waits for the
// matching response (inline on the POST body or streamed back as a
// `data:` frame), and tears the stream down before returning.
package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/open-mcp/mcpbridge/pkg/config"
	"github.com/open-mcp/mcpbridge/pkg/logger"
	"github.com/open-mcp/mcpbridge/pkg/mcprpc"
	"github.com/open-mcp/mcpbridge/pkg/transport/types"
)

const (
	sessionAcquireTimeout = 30 * time.Second
	responseTimeout       = 30 * time.Second

	// sessionHeader is the header some backends use to hand back a session
	// id instead of sending an "endpoint" frame; POSTs to the stream URL
	// then carry it.
	sessionHeader = "Mcp-Session-Id"
)

// Adapter speaks MCP over SSE: Request is the unit of connection, not
// Start — each call owns its own GET stream from open to teardown.
type Adapter struct {
	streamURL   string
	bearerToken string
	tuning      config.SSETuning
	client      *http.Client

	nextID int64
	closed atomic.Bool
	done   chan struct{}
}

// Option configures an Adapter at construction time.
type Option func(*Adapter)

// WithBearerToken attaches an Authorization: Bearer header to both the GET
// stream and every POST, for dynamic backends supplied with an
// mcp_auth_token.
func WithBearerToken(token string) Option {
	return func(a *Adapter) { a.bearerToken = token }
}

// New builds an sse Adapter against streamURL, applying tuning defaults
// for anything left zero.
func New(streamURL string, tuning *config.SSETuning, opts ...Option) *Adapter {
	a := &Adapter{
		streamURL: streamURL,
		tuning:    tuning.WithDefaults(),
		client:    &http.Client{},
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start registers the session by performing the initialize handshake as
// an ordinary Request: no connection is opened until then, matching the
// rest of the transport's per-request stream lifecycle.
func (a *Adapter) Start(ctx context.Context) error {
	if _, err := a.Request(ctx, mcprpc.MethodInitialize, mcprpc.DefaultInitializeParams()); err != nil {
		return fmt.Errorf("sse: initialize handshake: %w", err)
	}
	return nil
}

// sessionInfo is what one GET stream's discovery phase hands back: either
// a session-scoped POST URL (endpoint-frame mode) or a session id sent
// back as a header on every POST to the stream URL itself (header mode).
type sessionInfo struct {
	postURL   string
	sessionID string
}

// Request opens a fresh GET stream, discovers its session endpoint,
// posts the JSON-RPC call, and awaits the matching response — retrying
// the whole cycle up to the adapter's tuning.RetryCount times if the
// stream drops before a response arrives. The stream is destroyed before
// Request returns, on every path.
func (a *Adapter) Request(ctx context.Context, method string, params any) ([]byte, error) {
	if a.closed.Load() {
		return nil, types.ErrClosed
	}

	id := strconv.FormatInt(atomic.AddInt64(&a.nextID, 1), 10)
	body, err := json.Marshal(mcprpc.NewRequest(id, method, params))
	if err != nil {
		return nil, err
	}

	result, err := backoff.Retry(ctx,
		func() ([]byte, error) { return a.roundTrip(ctx, id, body) },
		backoff.WithBackOff(backoff.NewConstantBackOff(a.tuning.RetryDelay)),
		backoff.WithMaxTries(uint(a.tuning.RetryCount)+1), // first attempt plus RetryCount retries
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// roundTrip is one full attempt: open stream, acquire session, POST,
// await response, teardown. Transport-level failures (session never
// discovered, stream closed before a response arrived, response
// deadline) are returned as-is so Request's backoff.Retry can retry
// them; a decoded backend response — success or JSON-RPC error — is
// wrapped in backoff.Permanent since the backend has already answered
// and retrying would not change that.
func (a *Adapter) roundTrip(ctx context.Context, id string, reqBody []byte) ([]byte, error) {
	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()
	go func() {
		select {
		case <-a.done:
			cancelStream()
		case <-streamCtx.Done():
		}
	}()

	sessionCh := make(chan sessionInfo, 1)
	respCh := make(chan json.RawMessage, 1)
	streamDone := make(chan error, 1)
	go a.openStream(streamCtx, id, sessionCh, respCh, streamDone)

	var info sessionInfo
	select {
	case info = <-sessionCh:
	case err := <-streamDone:
		return nil, err
	case <-time.After(sessionAcquireTimeout):
		return nil, fmt.Errorf("sse: %w: no session endpoint within %s", types.ErrSessionUnavailable, sessionAcquireTimeout)
	case <-ctx.Done():
		return nil, backoff.Permanent(ctx.Err())
	}

	targetURL := info.postURL
	if targetURL == "" {
		targetURL = a.streamURL
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, strings.NewReader(string(reqBody)))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if info.sessionID != "" {
		httpReq.Header.Set(sessionHeader, info.sessionID)
	}
	if a.bearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.bearerToken)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUnavailable, err)
	}
	respBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close() //nolint:errcheck
	if readErr == nil {
		if frame, ok := inlineFrame(respBody, id); ok {
			return decodeResultPermanent(frame)
		}
	}

	select {
	case frame := <-respCh:
		return decodeResultPermanent(frame)
	case err := <-streamDone:
		return nil, err
	case <-time.After(responseTimeout):
		return nil, types.ErrTimeout
	case <-ctx.Done():
		return nil, backoff.Permanent(ctx.Err())
	}
}

// openStream opens one GET request against the adapter's stream URL,
// reports the session endpoint on sessionCh as soon as it is discovered
// (response header or an "endpoint" frame), forwards at most one
// response frame matching wantID to respCh, and always sends exactly one
// terminal error to streamDone when the stream ends — by EOF, by ctx
// cancellation, or by the heartbeat watchdog forcing the body closed.
func (a *Adapter) openStream(ctx context.Context, wantID string, sessionCh chan<- sessionInfo, respCh chan<- json.RawMessage, streamDone chan<- error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.streamURL, nil)
	if err != nil {
		streamDone <- err
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	if a.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.bearerToken)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		streamDone <- fmt.Errorf("%w: %v", types.ErrSessionUnavailable, err)
		return
	}
	defer resp.Body.Close() //nolint:errcheck

	var sessionSent atomic.Bool
	notifySession := func(info sessionInfo) {
		if sessionSent.CompareAndSwap(false, true) {
			select {
			case sessionCh <- info:
			case <-ctx.Done():
			}
		}
	}

	if sid := resp.Header.Get(sessionHeader); sid != "" {
		notifySession(sessionInfo{sessionID: sid})
	}

	var lastActivity atomic.Int64
	lastActivity.Store(time.Now().UnixNano())
	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		ticker := time.NewTicker(a.tuning.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if time.Since(time.Unix(0, lastActivity.Load())) > a.tuning.HeartbeatInterval {
					resp.Body.Close() //nolint:errcheck // force the scanner below to unblock so the retry policy can take over
					return
				}
			case <-watchdogDone:
				return
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	var event, data strings.Builder
	flush := func() {
		if data.Len() == 0 {
			return
		}
		a.handleFrame(event.String(), data.String(), wantID, notifySession, respCh)
		event.Reset()
		data.Reset()
	}

	for scanner.Scan() {
		lastActivity.Store(time.Now().UnixNano())
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event:"):
			event.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "event:")))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		streamDone <- fmt.Errorf("%w: %v", types.ErrClosed, err)
		return
	}
	streamDone <- types.ErrClosed
}

func (a *Adapter) handleFrame(event, data, wantID string, notifySession func(sessionInfo), respCh chan<- json.RawMessage) {
	if event == "endpoint" {
		notifySession(sessionInfo{postURL: resolveEndpoint(a.streamURL, data)})
		return
	}

	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal([]byte(data), &probe); err != nil {
		logger.Warnf("sse: undecodable frame on %s: %v", a.streamURL, err)
		return
	}
	if len(probe.ID) == 0 || idText(probe.ID) != wantID {
		return
	}
	select {
	case respCh <- json.RawMessage(data):
	default:
	}
}

// decodeResultPermanent decodes frame and, on either a well-formed success
// or a backend-reported JSON-RPC error, wraps the outcome in
// backoff.Permanent: the backend has answered, so Request's retry loop
// must not attempt the round trip again.
func decodeResultPermanent(frame json.RawMessage) ([]byte, error) {
	result, err := decodeResult(frame)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return result, nil
}

// inlineFrame recognizes a POST response body that already carries the
// matching JSON-RPC response, either as a bare JSON object or as a single
// `data: {...}` SSE-style frame, instead of being streamed back later on
// the event channel.
func inlineFrame(raw []byte, wantID string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, false
	}
	if rest, ok := strings.CutPrefix(trimmed, "data:"); ok {
		trimmed = strings.TrimSpace(rest)
	}
	if !mcprpc.IsResponseFor([]byte(trimmed), wantID) {
		return nil, false
	}
	return json.RawMessage(trimmed), true
}

func decodeResult(frame json.RawMessage) ([]byte, error) {
	var resp mcprpc.Response
	if err := json.Unmarshal(frame, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDecode, err)
	}
	if resp.Error != nil {
		return nil, &types.MCPError{RPC: resp.Error}
	}
	return resp.Result, nil
}

// Shutdown marks the adapter closed, rejecting future Request calls, and
// cancels the stream context of any Request currently in flight.
func (a *Adapter) Shutdown(_ context.Context) error {
	if a.closed.CompareAndSwap(false, true) {
		close(a.done)
	}
	return nil
}

func idText(raw json.RawMessage) string {
	s := string(raw)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// resolveEndpoint turns the "endpoint" event's data (an absolute or
// relative URL) into an absolute URL against the stream's own origin.
func resolveEndpoint(streamURL, data string) string {
	base, err := url.Parse(streamURL)
	if err != nil {
		return data
	}
	ref, err := url.Parse(strings.TrimSpace(data))
	if err != nil {
		return data
	}
	return base.ResolveReference(ref).String()
}
