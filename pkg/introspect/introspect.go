// Package introspect implements the Collection Generator:
// it starts a transient backend session, probes its tool/resource/prompt
// surface, and synthesizes a Postman v2.1 collection document.
package introspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/errgroup"

	"github.com/open-mcp/mcpbridge/pkg/config"
	"github.com/open-mcp/mcpbridge/pkg/logger"
	"github.com/open-mcp/mcpbridge/pkg/mcprpc"
	"github.com/open-mcp/mcpbridge/pkg/supervisor"
)

// warmUp bounds how long Generate waits for the transient backend to
// settle before probing it.
const warmUp = 2 * time.Second

// Tool, Resource, and Prompt mirror the MCP descriptors Generate probes
// for.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Prompt struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Arguments   []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Required    bool   `json:"required"`
	} `json:"arguments"`
}

// monotonicCounter gives each transient backend a distinct id without
// relying on wall-clock time, which workflow scripts and tests must not
// call.
var monotonicCounter int64

func nextTempID() string {
	monotonicCounter++
	return fmt.Sprintf("temp-%d", monotonicCounter)
}

// Generate starts spec as a transient backend under sup, probes its
// surface, and returns a Postman v2.1 collection. The transient backend
// is stopped before Generate returns, even on error.
func Generate(ctx context.Context, sup *supervisor.Supervisor, spec *config.BackendSpec) (*Collection, error) {
	id := nextTempID()
	spec.ID = id
	sup.Register(spec)
	defer sup.Stop(context.Background(), id) //nolint:errcheck // best-effort teardown of the transient session

	startCtx, cancel := context.WithTimeout(ctx, warmUp)
	defer cancel()
	if err := sup.Start(startCtx, id); err != nil {
		return nil, fmt.Errorf("introspect: starting transient backend: %w", err)
	}

	adapter, err := sup.Adapter(id)
	if err != nil {
		return nil, err
	}

	var tools []Tool
	var resources []Resource
	var prompts []Prompt

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tools = probeTools(gctx, adapter)
		return nil
	})
	g.Go(func() error {
		resources = probeResources(gctx, adapter)
		return nil
	})
	g.Go(func() error {
		prompts = probePrompts(gctx, adapter)
		return nil
	})
	_ = g.Wait() // each probe folds its own failure to an empty list, so Wait cannot itself fail

	return synthesize(spec, tools, resources, prompts), nil
}

type requester interface {
	Request(ctx context.Context, method string, params any) ([]byte, error)
}

func probeTools(ctx context.Context, adapter requester) []Tool {
	raw, err := adapter.Request(ctx, mcprpc.MethodToolsList, map[string]any{})
	if err != nil {
		logger.Warnf("introspect: tools/list probe failed: %v", err)
		return nil
	}
	var body struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		logger.Warnf("introspect: decoding tools/list result: %v", err)
		return nil
	}
	return body.Tools
}

func probeResources(ctx context.Context, adapter requester) []Resource {
	raw, err := adapter.Request(ctx, mcprpc.MethodResourcesList, map[string]any{})
	if err != nil {
		logger.Warnf("introspect: resources/list probe failed: %v", err)
		return nil
	}
	var body struct {
		Resources []Resource `json:"resources"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		logger.Warnf("introspect: decoding resources/list result: %v", err)
		return nil
	}
	return body.Resources
}

func probePrompts(ctx context.Context, adapter requester) []Prompt {
	raw, err := adapter.Request(ctx, mcprpc.MethodPromptsList, map[string]any{})
	if err != nil {
		logger.Warnf("introspect: prompts/list probe failed: %v", err)
		return nil
	}
	var body struct {
		Prompts []Prompt `json:"prompts"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		logger.Warnf("introspect: decoding prompts/list result: %v", err)
		return nil
	}
	return body.Prompts
}

// exampleFromSchema projects a JSON-schema tool input descriptor into an
// example parameter bag, one example value per declared property, typed
// by the schema's own "type" keyword.
func exampleFromSchema(schema json.RawMessage) map[string]any {
	if len(schema) == 0 {
		return map[string]any{}
	}
	loaded, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil || loaded == nil {
		return map[string]any{}
	}

	var doc struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(schema, &doc); err != nil {
		return map[string]any{}
	}

	out := make(map[string]any, len(doc.Properties))
	for name, prop := range doc.Properties {
		out[name] = exampleForType(prop.Type)
	}
	return out
}

func exampleForType(jsonType string) any {
	switch jsonType {
	case "string":
		return "example"
	case "number", "integer":
		return 1
	case "boolean":
		return true
	case "array":
		return []any{}
	case "object":
		return map[string]any{}
	default:
		return nil
	}
}

// deriveServerID guesses a human-readable identifier from a backend's
// URL or command, falling back to a hostname-shaped synthetic one.
func deriveServerID(spec *config.BackendSpec) string {
	switch {
	case spec.URL != "":
		return hostnameLike(spec.URL)
	case spec.Command != "":
		return strings.TrimSuffix(baseName(spec.Command), ".js")
	default:
		return "mcp-server"
	}
}

func hostnameLike(rawURL string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
	if i := strings.IndexAny(trimmed, "/:"); i >= 0 {
		trimmed = trimmed[:i]
	}
	if trimmed == "" {
		return "mcp-server"
	}
	return trimmed
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

