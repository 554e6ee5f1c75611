// Package types defines the Adapter interface every transport (stdio,
// http, sse) implements, and the sentinel errors the Session Supervisor
// and Risk Gate match against.
package types

import (
	"context"
	"errors"

	"github.com/open-mcp/mcpbridge/pkg/mcprpc"
)

// Sentinel errors returned by Adapter implementations. Callers should use
// errors.Is against these rather than comparing strings.
var (
	// ErrUnavailable means the adapter could not establish or no longer
	// holds a usable connection to the backend (process exited, socket
	// closed, session dropped).
	ErrUnavailable = errors.New("transport: backend unavailable")

	// ErrDecode means a frame arrived but could not be parsed as a
	// JSON-RPC envelope.
	ErrDecode = errors.New("transport: could not decode backend frame")

	// ErrTimeout means a request did not receive a matching response
	// within its deadline.
	ErrTimeout = errors.New("transport: request timed out")

	// ErrClosed means Request was called after Shutdown.
	ErrClosed = errors.New("transport: adapter is shut down")

	// ErrSessionUnavailable is specific to the SSE adapter: no session
	// endpoint has been discovered yet.
	ErrSessionUnavailable = errors.New("transport: sse session not yet established")
)

// MCPError wraps a JSON-RPC error object returned by the backend itself,
// as opposed to a transport-level failure.
type MCPError struct {
	RPC *mcprpc.RPCError
}

func (e *MCPError) Error() string { return "backend error: " + e.RPC.Error() }
func (e *MCPError) Unwrap() error { return e.RPC }

// Adapter is the uniform interface the Session Supervisor drives
// regardless of which of the three transports a backend uses. Start performs the initialize handshake; Request sends one
// JSON-RPC call and waits for its matching response; Shutdown releases
// any underlying process or connection.
//
//go:generate mockgen -destination=mocks/mock_adapter.go -package=mocks github.com/open-mcp/mcpbridge/pkg/transport/types Adapter
type Adapter interface {
	// Start performs the transport-specific handshake (spawn + initialize
	// for stdio, a POST for http, session discovery + initialize for sse)
	// and returns once the backend is ready to accept tools/call and
	// friends. ctx bounds the handshake itself, not the adapter's
	// lifetime.
	Start(ctx context.Context) error

	// Request sends method/params as a JSON-RPC call and returns the
	// decoded result payload (the response's "result" member) or an
	// error wrapping one of the sentinels above or an *MCPError.
	Request(ctx context.Context, method string, params any) (result []byte, err error)

	// Shutdown releases the adapter's resources. It is safe to call more
	// than once and safe to call without a prior successful Start.
	Shutdown(ctx context.Context) error
}
