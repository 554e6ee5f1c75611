// Package riskgate implements the Risk Gate: it
// intercepts tools/call, suspends Medium-risk invocations behind a
// confirmation step, and annotates High-risk results with the isolation
// environment they ran under.
package riskgate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/open-mcp/mcpbridge/pkg/config"
	mcperrors "github.com/open-mcp/mcpbridge/pkg/errors"
	"github.com/open-mcp/mcpbridge/pkg/mcprpc"
	"github.com/open-mcp/mcpbridge/pkg/metrics"
	"github.com/open-mcp/mcpbridge/pkg/transport/types"
)

// confirmationTTL is how long a PendingConfirmation survives before use.
const confirmationTTL = 10 * time.Minute

// PendingConfirmation is a suspended Medium-risk tools/call awaiting an
// explicit confirm/reject decision.
type PendingConfirmation struct {
	ID          string
	BackendID   string
	Method      string
	ToolName    string
	Params      json.RawMessage
	RiskLevel   config.RiskLevel
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (p *PendingConfirmation) expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Adapter is the subset of transport/types.Adapter the gate needs to
// perform the real dispatch once a call is cleared.
type Adapter interface {
	Request(ctx context.Context, method string, params any) ([]byte, error)
}

// ChallengeResponse is the body returned instead of a tool result when a
// Medium-risk call needs confirmation.
type ChallengeResponse struct {
	RequiresConfirmation bool      `json:"requires_confirmation"`
	ConfirmationID       string    `json:"confirmation_id"`
	RiskLevel            string    `json:"risk_level"`
	RiskDescription      string    `json:"risk_description"`
	ServerID             string    `json:"server_id"`
	Method               string    `json:"method"`
	ToolName             string    `json:"tool_name"`
	ExpiresAt            time.Time `json:"expires_at"`
}

// ExecutionEnvironment is appended to a High-risk tool result.
type ExecutionEnvironment struct {
	RiskLevel       string `json:"risk_level"`
	RiskDescription string `json:"risk_description"`
	Docker          bool   `json:"docker"`
	DockerImage     string `json:"docker_image"`
}

// Gate owns the process-wide PendingConfirmation table.
type Gate struct {
	mu      sync.Mutex
	pending map[string]*PendingConfirmation
	now     func() time.Time
}

// New builds an empty Gate.
func New() *Gate {
	return &Gate{pending: map[string]*PendingConfirmation{}, now: time.Now}
}

// Call runs toolName/params against the backend described by spec
// through adapter, applying the Low/Medium/High policy. A Medium-risk
// call with skipGate false returns a *ChallengeResponse instead of
// invoking the backend. skipGate true bypasses the Medium-risk challenge;
// the confirmation path passes it after the confirmation has been
// validated and consumed by Consume.
func (g *Gate) Call(ctx context.Context, spec *config.BackendSpec, adapter Adapter, toolName string, params json.RawMessage, skipGate bool) (any, error) {
	if !skipGate && spec.RiskLevel == config.RiskMedium {
		return g.challenge(spec, toolName, params), nil
	}

	start := time.Now()
	result, err := adapter.Request(ctx, mcprpc.MethodToolsCall, toolCallParams(toolName, params))
	if err != nil {
		metrics.Get().RecordToolCall(ctx, spec.ID, spec.RiskLevel.String(), "error", time.Since(start))
		return nil, translateAdapterError(err)
	}
	metrics.Get().RecordToolCall(ctx, spec.ID, spec.RiskLevel.String(), "success", time.Since(start))

	if spec.RiskLevel == config.RiskHigh {
		return annotateHighRisk(result, spec)
	}
	return json.RawMessage(result), nil
}

func toolCallParams(toolName string, params json.RawMessage) map[string]any {
	var args any
	if len(params) > 0 {
		_ = json.Unmarshal(params, &args) //nolint:errcheck // malformed args are forwarded as-is to the backend, which reports its own error
	}
	return map[string]any{"name": toolName, "arguments": args}
}

// challenge allocates a fresh PendingConfirmation and returns the
// {requires_confirmation: true, ...} body the REST facade sends back
// without ever calling the backend.
func (g *Gate) challenge(spec *config.BackendSpec, toolName string, params json.RawMessage) *ChallengeResponse {
	now := g.now()
	pc := &PendingConfirmation{
		ID:        uuid.NewString(),
		BackendID: spec.ID,
		Method:    mcprpc.MethodToolsCall,
		ToolName:  toolName,
		Params:    params,
		RiskLevel: spec.RiskLevel,
		CreatedAt: now,
		ExpiresAt: now.Add(confirmationTTL),
	}

	g.mu.Lock()
	g.pending[pc.ID] = pc
	g.mu.Unlock()
	metrics.Get().IncConfirmation(context.Background(), "issued")

	return &ChallengeResponse{
		RequiresConfirmation: true,
		ConfirmationID:       pc.ID,
		RiskLevel:            pc.RiskLevel.String(),
		RiskDescription:      riskDescription(pc.RiskLevel),
		ServerID:             pc.BackendID,
		Method:               pc.Method,
		ToolName:             pc.ToolName,
		ExpiresAt:            pc.ExpiresAt,
	}
}

// Consume validates and removes the PendingConfirmation named by id. A
// missing id is NotFound; an expired one is Gone (and evicted); either
// way the entry cannot be used twice.
func (g *Gate) Consume(id string) (*PendingConfirmation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pc, ok := g.pending[id]
	if !ok {
		return nil, mcperrors.NewNotFoundError(fmt.Sprintf("confirmation %q is not known", id), nil)
	}
	delete(g.pending, id)

	if pc.expired(g.now()) {
		metrics.Get().IncConfirmation(context.Background(), "expired")
		return nil, mcperrors.NewGoneError(fmt.Sprintf("confirmation %q has expired", id), nil)
	}
	metrics.Get().IncConfirmation(context.Background(), "confirmed")
	return pc, nil
}

// Reject deletes a PendingConfirmation without performing its dispatch.
func (g *Gate) Reject(id string) error {
	g.mu.Lock()
	pc, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
	}
	g.mu.Unlock()
	if !ok {
		return mcperrors.NewNotFoundError(fmt.Sprintf("confirmation %q is not known", id), nil)
	}
	if pc.expired(g.now()) {
		metrics.Get().IncConfirmation(context.Background(), "expired")
		return mcperrors.NewGoneError(fmt.Sprintf("confirmation %q has expired", id), nil)
	}
	metrics.Get().IncConfirmation(context.Background(), "rejected")
	return nil
}

// Sweep deletes every PendingConfirmation past its expiry. Intended to
// run alongside the Job Queue's TTL sweeper.
func (g *Gate) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	removed := 0
	for id, pc := range g.pending {
		if pc.expired(now) {
			delete(g.pending, id)
			removed++
		}
	}
	return removed
}

func annotateHighRisk(result []byte, spec *config.BackendSpec) (any, error) {
	var body map[string]any
	if len(result) > 0 {
		if err := json.Unmarshal(result, &body); err != nil {
			body = map[string]any{"result": json.RawMessage(result)}
		}
	}
	if body == nil {
		body = map[string]any{}
	}
	body["execution_environment"] = ExecutionEnvironment{
		RiskLevel:       spec.RiskLevel.String(),
		RiskDescription: riskDescription(spec.RiskLevel),
		Docker:          true,
		DockerImage:     spec.Isolation.Image,
	}
	return body, nil
}

func riskDescription(level config.RiskLevel) string {
	switch level {
	case config.RiskLow:
		return "low risk: executes without restriction"
	case config.RiskMedium:
		return "medium risk: requires explicit confirmation before executing"
	case config.RiskHigh:
		return "high risk: executes inside an isolated runtime"
	default:
		return "unspecified risk"
	}
}

func translateAdapterError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, types.ErrTimeout):
		return mcperrors.NewTimeoutError("backend request timed out", err)
	case errors.Is(err, types.ErrClosed), errors.Is(err, types.ErrUnavailable), errors.Is(err, types.ErrSessionUnavailable):
		return mcperrors.NewTransportClosedError("backend transport is unavailable", err)
	default:
		return mcperrors.NewUpstreamError("backend request failed", err)
	}
}
