package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/open-mcp/mcpbridge/pkg/jobs"
	"github.com/open-mcp/mcpbridge/pkg/logger"
	"github.com/open-mcp/mcpbridge/pkg/mcprpc"
	"github.com/open-mcp/mcpbridge/pkg/supervisor"
	"github.com/open-mcp/mcpbridge/pkg/transport/httptransport"
	"github.com/open-mcp/mcpbridge/pkg/transport/sse"
	"github.com/open-mcp/mcpbridge/pkg/transport/types"
)

// jobDispatcher resolves and executes one Job's underlying tool call,
// implementing jobs.Dispatcher by covering the three enqueue modes: an
// explicit registered backend id, a dynamic (URL-only) backend, or
// name-based discovery across every initialized backend.
type jobDispatcher struct {
	sup        *supervisor.Supervisor
	convention jobs.DynamicCallConvention
}

// newJobDispatcher builds a jobDispatcher reading backends through sup.
func newJobDispatcher(sup *supervisor.Supervisor) *jobDispatcher {
	return &jobDispatcher{sup: sup, convention: jobs.DefaultDynamicCallConvention}
}

func (d *jobDispatcher) Dispatch(ctx context.Context, job *jobs.Job) (json.RawMessage, error) {
	switch {
	case job.BackendID != "":
		return d.dispatchRegistered(ctx, job)
	case job.DynamicURL != "":
		return d.dispatchDynamic(ctx, job)
	default:
		return d.dispatchDiscover(ctx, job)
	}
}

// dispatchRegistered sends tools/call to an already-supervised backend.
func (d *jobDispatcher) dispatchRegistered(ctx context.Context, job *jobs.Job) (json.RawMessage, error) {
	adapter, err := d.sup.Adapter(job.BackendID)
	if err != nil {
		return nil, err
	}
	return adapter.Request(ctx, mcprpc.MethodToolsCall, toolCallArgs(job.ToolName, job.Parameters))
}

// dispatchDynamic opens a throwaway adapter against a URL the caller
// supplied directly, with no registry entry, and invokes the tool by the
// calling convention recorded on the dispatcher.
func (d *jobDispatcher) dispatchDynamic(ctx context.Context, job *jobs.Job) (json.RawMessage, error) {
	adapter := buildDynamicAdapter(job.DynamicURL, job.DynamicAuthToken)
	if err := adapter.Start(ctx); err != nil {
		return nil, fmt.Errorf("dynamic backend %s: %w", job.DynamicURL, err)
	}
	defer func() {
		if err := adapter.Shutdown(context.Background()); err != nil {
			logger.Warnf("jobs: shutting down dynamic adapter for %s: %v", job.DynamicURL, err)
		}
	}()

	method, params := jobs.BuildDynamicRequest(d.convention, job.ToolName, job.Parameters)
	return adapter.Request(ctx, method, params)
}

// dispatchDiscover enumerates every initialized backend, lists its tools,
// and dispatches to the first one advertising the requested tool name.
func (d *jobDispatcher) dispatchDiscover(ctx context.Context, job *jobs.Job) (json.RawMessage, error) {
	for _, st := range d.sup.StatusAll() {
		if st.InitializationState != supervisor.StateInitialized {
			continue
		}
		adapter, err := d.sup.Adapter(st.ID)
		if err != nil {
			continue
		}
		raw, err := adapter.Request(ctx, mcprpc.MethodToolsList, map[string]any{})
		if err != nil {
			logger.Warnf("jobs: tools/list probe of %q failed during discovery: %v", st.ID, err)
			continue
		}
		if !hasTool(raw, job.ToolName) {
			continue
		}
		return adapter.Request(ctx, mcprpc.MethodToolsCall, toolCallArgs(job.ToolName, job.Parameters))
	}
	return nil, fmt.Errorf("no initialized backend advertises tool %q", job.ToolName)
}

func hasTool(toolsListResult []byte, name string) bool {
	var body struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(toolsListResult, &body); err != nil {
		return false
	}
	for _, t := range body.Tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func toolCallArgs(toolName string, params json.RawMessage) map[string]any {
	var args any
	if len(params) > 0 {
		_ = json.Unmarshal(params, &args) //nolint:errcheck // malformed args are forwarded as-is; the backend reports its own error
	}
	return map[string]any{"name": toolName, "arguments": args}
}

// buildDynamicAdapter picks the http or sse transport for a dynamic
// (URL-only) backend by a simple heuristic: a "/sse" path suffix implies
// the SSE transport, otherwise plain HTTP.
func buildDynamicAdapter(rawURL, authToken string) types.Adapter {
	if strings.HasSuffix(strings.TrimSuffix(rawURL, "/"), "/sse") {
		var opts []sse.Option
		if authToken != "" {
			opts = append(opts, sse.WithBearerToken(authToken))
		}
		return sse.New(rawURL, nil, opts...)
	}
	var opts []httptransport.Option
	if authToken != "" {
		opts = append(opts, httptransport.WithBearerToken(authToken))
	}
	return httptransport.New(rawURL, opts...)
}
