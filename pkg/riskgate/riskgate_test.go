package riskgate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/open-mcp/mcpbridge/pkg/config"
	mcperrors "github.com/open-mcp/mcpbridge/pkg/errors"
	"github.com/open-mcp/mcpbridge/pkg/transport/types/mocks"
)

// newMockAdapter builds a MockAdapter (structurally satisfying the
// narrower riskgate.Adapter interface, which only needs Request) stubbed
// to return body for every call.
func newMockAdapter(t *testing.T, body []byte) *mocks.MockAdapter {
	t.Helper()
	a := mocks.NewMockAdapter(gomock.NewController(t))
	a.EXPECT().Request(gomock.Any(), gomock.Any(), gomock.Any()).Return(body, nil).AnyTimes()
	return a
}

func TestGate_LowRiskPassesThrough(t *testing.T) {
	g := New()
	spec := &config.BackendSpec{ID: "fs", RiskLevel: config.RiskLow}
	a := mocks.NewMockAdapter(gomock.NewController(t))
	a.EXPECT().Request(gomock.Any(), gomock.Any(), gomock.Any()).Return([]byte(`{}`), nil).Times(1)

	result, err := g.Call(context.Background(), spec, a, "read_file", json.RawMessage(`{}`), false)
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestGate_MediumRiskWithoutConfirmationChallenges(t *testing.T) {
	g := New()
	spec := &config.BackendSpec{ID: "fs", RiskLevel: config.RiskMedium}
	a := mocks.NewMockAdapter(gomock.NewController(t))
	a.EXPECT().Request(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	result, err := g.Call(context.Background(), spec, a, "write_file", json.RawMessage(`{"path":"/t"}`), false)
	require.NoError(t, err)

	challenge, ok := result.(*ChallengeResponse)
	require.True(t, ok)
	assert.True(t, challenge.RequiresConfirmation)
	assert.Equal(t, "fs", challenge.ServerID)
	assert.Equal(t, "write_file", challenge.ToolName)
}

func TestGate_MediumRiskWithConfirmationSkipsGate(t *testing.T) {
	g := New()
	spec := &config.BackendSpec{ID: "fs", RiskLevel: config.RiskMedium}
	a := mocks.NewMockAdapter(gomock.NewController(t))
	a.EXPECT().Request(gomock.Any(), gomock.Any(), gomock.Any()).Return([]byte(`{}`), nil).Times(1)

	_, err := g.Call(context.Background(), spec, a, "write_file", json.RawMessage(`{}`), true)
	require.NoError(t, err)
}

func TestGate_ConsumeUnknownIsNotFound(t *testing.T) {
	g := New()
	_, err := g.Consume("missing")
	assert.True(t, mcperrors.IsNotFound(err))
}

func TestGate_ConsumeTwiceFailsSecondTime(t *testing.T) {
	g := New()
	spec := &config.BackendSpec{ID: "fs", RiskLevel: config.RiskMedium}
	a := newMockAdapter(t, []byte(`{}`))
	result, err := g.Call(context.Background(), spec, a, "write_file", nil, false)
	require.NoError(t, err)
	challenge := result.(*ChallengeResponse)

	_, err = g.Consume(challenge.ConfirmationID)
	require.NoError(t, err)

	_, err = g.Consume(challenge.ConfirmationID)
	assert.True(t, mcperrors.IsNotFound(err))
}

func TestGate_ConsumeExpiredIsGoneAndEvicted(t *testing.T) {
	g := New()
	start := time.Now()
	g.now = func() time.Time { return start }

	spec := &config.BackendSpec{ID: "fs", RiskLevel: config.RiskMedium}
	a := newMockAdapter(t, []byte(`{}`))
	result, err := g.Call(context.Background(), spec, a, "write_file", nil, false)
	require.NoError(t, err)
	challenge := result.(*ChallengeResponse)

	g.now = func() time.Time { return start.Add(11 * time.Minute) }
	_, err = g.Consume(challenge.ConfirmationID)
	assert.True(t, mcperrors.IsGone(err))

	g.now = func() time.Time { return start }
	_, err = g.Consume(challenge.ConfirmationID)
	assert.True(t, mcperrors.IsNotFound(err))
}

func TestGate_RejectDeletesEntry(t *testing.T) {
	g := New()
	spec := &config.BackendSpec{ID: "fs", RiskLevel: config.RiskMedium}
	a := newMockAdapter(t, []byte(`{}`))
	result, err := g.Call(context.Background(), spec, a, "write_file", nil, false)
	require.NoError(t, err)
	challenge := result.(*ChallengeResponse)

	require.NoError(t, g.Reject(challenge.ConfirmationID))
	_, err = g.Consume(challenge.ConfirmationID)
	assert.True(t, mcperrors.IsNotFound(err))
}

func TestGate_SweepRemovesExpiredOnly(t *testing.T) {
	g := New()
	start := time.Now()
	g.now = func() time.Time { return start }

	spec := &config.BackendSpec{ID: "fs", RiskLevel: config.RiskMedium}
	a := newMockAdapter(t, []byte(`{}`))
	_, err := g.Call(context.Background(), spec, a, "old", nil, false)
	require.NoError(t, err)

	g.now = func() time.Time { return start.Add(1 * time.Minute) }
	_, err = g.Call(context.Background(), spec, a, "fresh", nil, false)
	require.NoError(t, err)

	g.now = func() time.Time { return start.Add(11 * time.Minute) }
	removed := g.Sweep()
	assert.Equal(t, 1, removed)
}

func TestGate_HighRiskAnnotatesExecutionEnvironment(t *testing.T) {
	g := New()
	spec := &config.BackendSpec{
		ID:        "fs",
		RiskLevel: config.RiskHigh,
		Isolation: &config.IsolationDescriptor{Image: "mcp/fs:latest"},
	}
	a := newMockAdapter(t, []byte(`{"content":"ok"}`))

	result, err := g.Call(context.Background(), spec, a, "write_file", nil, false)
	require.NoError(t, err)

	body, ok := result.(map[string]any)
	require.True(t, ok)
	env, ok := body["execution_environment"].(ExecutionEnvironment)
	require.True(t, ok)
	assert.True(t, env.Docker)
	assert.Equal(t, "mcp/fs:latest", env.DockerImage)
}
