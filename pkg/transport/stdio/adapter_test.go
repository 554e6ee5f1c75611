package stdio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-mcp/mcpbridge/pkg/config"
	"github.com/open-mcp/mcpbridge/pkg/transport/types"
)

// cat echoes each stdin line back on stdout unmodified, which is enough to
// exercise the framing and correlation logic without a real MCP backend:
// every request this adapter sends comes back as its own echo, which
// round-trips through dispatch/decodeResult as a response carrying no
// result and no error.
func catSpec() *config.BackendSpec {
	return &config.BackendSpec{ID: "cat", Transport: config.TransportStdio, Command: "cat"}
}

func TestAdapter_StartAndRequestRoundTrip(t *testing.T) {
	a := New(catSpec())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, a.Start(ctx))
	defer a.Shutdown(ctx) //nolint:errcheck

	_, err := a.Request(ctx, "tools/list", nil)
	assert.NoError(t, err)
}

func TestAdapter_ShutdownStopsProcess(t *testing.T) {
	a := New(catSpec())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, a.Start(ctx))
	require.NoError(t, a.Shutdown(ctx))

	_, err := a.Request(ctx, "tools/list", nil)
	assert.ErrorIs(t, err, types.ErrClosed)
}

func TestAdapter_StartFailsWhenProcessExitsImmediately(t *testing.T) {
	spec := &config.BackendSpec{ID: "false", Transport: config.TransportStdio, Command: "true"}
	a := New(spec)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// "true" exits immediately, so the initialize handshake should fail
	// rather than hang.
	err := a.Start(ctx)
	assert.Error(t, err)
}

func TestAdapter_HighRiskRewritesArgvThroughIsolationRuntime(t *testing.T) {
	spec := &config.BackendSpec{
		ID:        "fs",
		Transport: config.TransportStdio,
		Command:   "node",
		Args:      []string{"server.js"},
		RiskLevel: config.RiskHigh,
		Isolation: &config.IsolationDescriptor{Image: "mcp/fs:latest"},
	}
	a := New(spec)
	command, args, err := a.resolveArgv()
	require.NoError(t, err)
	assert.Equal(t, "isolation", command)
	assert.Equal(t, []string{"run", "--rm", "mcp/fs:latest", "node", "server.js"}, args)
}
