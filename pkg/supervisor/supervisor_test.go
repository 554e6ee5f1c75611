package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-mcp/mcpbridge/pkg/config"
	mcperrors "github.com/open-mcp/mcpbridge/pkg/errors"
)

func catSpec(id string) *config.BackendSpec {
	return &config.BackendSpec{ID: id, Transport: config.TransportStdio, Command: "cat"}
}

func TestSupervisor_StartThenAdapterSucceeds(t *testing.T) {
	s := New()
	s.Register(catSpec("fs"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Start(ctx, "fs"))
	defer s.Stop(ctx, "fs") //nolint:errcheck

	a, err := s.Adapter("fs")
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestSupervisor_AdapterBeforeStartIsNotInitialized(t *testing.T) {
	s := New()
	s.Register(catSpec("fs"))

	_, err := s.Adapter("fs")
	assert.True(t, mcperrors.IsNotInitialized(err))
}

func TestSupervisor_UnknownIDIsNotFound(t *testing.T) {
	s := New()
	_, err := s.Adapter("missing")
	assert.True(t, mcperrors.IsNotFound(err))

	err = s.Start(context.Background(), "missing")
	assert.True(t, mcperrors.IsNotFound(err))
}

func TestSupervisor_StartTwiceIsConflict(t *testing.T) {
	s := New()
	s.Register(catSpec("fs"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Start(ctx, "fs"))
	defer s.Stop(ctx, "fs") //nolint:errcheck

	err := s.Start(ctx, "fs")
	assert.True(t, mcperrors.IsConflict(err))
}

func TestSupervisor_StopRemovesFromRegistry(t *testing.T) {
	s := New()
	s.Register(catSpec("fs"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Start(ctx, "fs"))
	require.NoError(t, s.Stop(ctx, "fs"))

	_, err := s.Adapter("fs")
	assert.True(t, mcperrors.IsNotFound(err))
}

func TestSupervisor_StopUnknownIDIsNotFound(t *testing.T) {
	s := New()
	err := s.Stop(context.Background(), "missing")
	assert.True(t, mcperrors.IsNotFound(err))
}

// TestSupervisor_SpecReturnsIndependentCopy guards against a caller that
// mutates the returned spec (as introspect.Generate's transient-backend
// flow does to rewrite .ID) reaching back into the registered session's
// own state and corrupting its publicly reported id.
func TestSupervisor_SpecReturnsIndependentCopy(t *testing.T) {
	s := New()
	s.Register(catSpec("math"))

	spec, err := s.Spec("math")
	require.NoError(t, err)
	spec.ID = "temp-1"
	spec.Env = map[string]string{"X": "1"}

	status, err := s.Status("math")
	require.NoError(t, err)
	assert.Equal(t, "math", status.ID)

	again, err := s.Spec("math")
	require.NoError(t, err)
	assert.Equal(t, "math", again.ID)
	assert.Empty(t, again.Env)
}

func TestSupervisor_ShutdownStopsAllInParallel(t *testing.T) {
	s := New()
	s.Register(catSpec("a"))
	s.Register(catSpec("b"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Start(ctx, "a"))
	require.NoError(t, s.Start(ctx, "b"))

	require.NoError(t, s.Shutdown(ctx))
	assert.Empty(t, s.List())
}
