package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/open-mcp/mcpbridge/pkg/config"
	mcperrors "github.com/open-mcp/mcpbridge/pkg/errors"
	"github.com/open-mcp/mcpbridge/pkg/logger"
	"github.com/open-mcp/mcpbridge/pkg/mcprpc"
)

// startTimeout bounds how long handleAddServer waits for the new
// backend's handshake before reporting it persisted-but-not-live.
const startTimeout = 35 * time.Second

// handleListServers serves GET /servers.
func (a *App) handleListServers(w http.ResponseWriter, _ *http.Request) error {
	writeJSON(w, http.StatusOK, map[string]any{"servers": summarize(a.Supervisor.StatusAll())})
	return nil
}

// addServerRequest is BackendSpec plus the id field BackendSpec itself
// excludes from (de)serialization.
type addServerRequest struct {
	ID string `json:"id"`
}

// handleAddServer serves POST /servers: it applies
// environment-variable substitution to the inbound body before the spec
// reaches the Loader's decode path, persists it, and attempts to start
// it — 201 if the session comes up live, 202 if it only persisted.
func (a *App) handleAddServer(w http.ResponseWriter, r *http.Request) error {
	raw, err := rawBody(r)
	if err != nil {
		return err
	}
	interpolated := json.RawMessage(config.Interpolate(string(raw)))

	var envelope addServerRequest
	if err := json.Unmarshal(interpolated, &envelope); err != nil {
		return mcperrors.NewBadRequestError("request body is not valid JSON", err)
	}
	if envelope.ID == "" {
		return mcperrors.NewBadRequestError("id is required", nil)
	}

	spec, err := config.DecodeSpec(envelope.ID, interpolated)
	if err != nil {
		return mcperrors.NewBadRequestError("decoding backend spec", err)
	}
	config.ValidateSpec(spec)

	doc, err := a.Store.Read()
	if err != nil {
		return mcperrors.NewInternalError("reading persisted config", err)
	}
	if _, exists := doc.MCPServers[spec.ID]; exists {
		return mcperrors.NewConflictError("backend id already exists", nil)
	}

	if err := a.Store.Update(func(doc *config.Document) { doc.MCPServers[spec.ID] = spec }); err != nil {
		return mcperrors.NewInternalError("persisting backend spec", err)
	}

	a.Supervisor.Register(spec)
	startCtx, cancel := context.WithTimeout(r.Context(), startTimeout)
	defer cancel()
	if err := a.Supervisor.Start(startCtx, spec.ID); err != nil {
		logger.Warnf("api: backend %q persisted but did not start: %v", spec.ID, err)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"id":     spec.ID,
			"status": "disconnected",
			"error":  err.Error(),
		})
		return nil
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": spec.ID, "status": "connected"})
	return nil
}

// handleDeleteServer serves DELETE /servers/:id.
func (a *App) handleDeleteServer(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")

	doc, err := a.Store.Read()
	if err != nil {
		return mcperrors.NewInternalError("reading persisted config", err)
	}
	if _, exists := doc.MCPServers[id]; !exists {
		return mcperrors.NewNotFoundError("backend is not known", nil)
	}

	if err := a.Store.Update(func(doc *config.Document) { delete(doc.MCPServers, id) }); err != nil {
		return mcperrors.NewInternalError("removing persisted backend spec", err)
	}

	if err := a.Supervisor.Stop(r.Context(), id); err != nil && !mcperrors.IsNotFound(err) {
		return err
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "disconnected"})
	return nil
}

// handleListTools serves GET /servers/:id/tools.
func (a *App) handleListTools(w http.ResponseWriter, r *http.Request) error {
	adapter, err := a.Supervisor.Adapter(chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	raw, err := adapter.Request(r.Context(), mcprpc.MethodToolsList, map[string]any{})
	if err != nil {
		return translateAdapterError(err)
	}
	writeRaw(w, http.StatusOK, raw)
	return nil
}

// handleCallTool serves POST /servers/:id/tools/:toolName, routing
// through the Risk Gate so a Medium-risk call can be suspended behind a
// confirmation challenge instead of reaching the backend.
func (a *App) handleCallTool(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	toolName := chi.URLParam(r, "toolName")

	spec, err := a.Supervisor.Spec(id)
	if err != nil {
		return err
	}
	adapter, err := a.Supervisor.Adapter(id)
	if err != nil {
		return err
	}
	params, err := rawBody(r)
	if err != nil {
		return err
	}

	result, err := a.Gate.Call(r.Context(), spec, adapter, toolName, params, false)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, result)
	return nil
}

// handleListResources serves GET /servers/:id/resources.
func (a *App) handleListResources(w http.ResponseWriter, r *http.Request) error {
	adapter, err := a.Supervisor.Adapter(chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	raw, err := adapter.Request(r.Context(), mcprpc.MethodResourcesList, map[string]any{})
	if err != nil {
		return translateAdapterError(err)
	}
	writeRaw(w, http.StatusOK, raw)
	return nil
}

// handleReadResource serves GET /servers/:id/resources/:uri, where :uri is
// a URL-encoded resource URI.
func (a *App) handleReadResource(w http.ResponseWriter, r *http.Request) error {
	adapter, err := a.Supervisor.Adapter(chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	uri, err := url.QueryUnescape(chi.URLParam(r, "uri"))
	if err != nil {
		return mcperrors.NewBadRequestError("uri is not validly URL-encoded", err)
	}
	raw, err := adapter.Request(r.Context(), mcprpc.MethodResourcesRead, map[string]any{"uri": uri})
	if err != nil {
		return translateAdapterError(err)
	}
	writeRaw(w, http.StatusOK, raw)
	return nil
}

// handleListPrompts serves GET /servers/:id/prompts.
func (a *App) handleListPrompts(w http.ResponseWriter, r *http.Request) error {
	adapter, err := a.Supervisor.Adapter(chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	raw, err := adapter.Request(r.Context(), mcprpc.MethodPromptsList, map[string]any{})
	if err != nil {
		return translateAdapterError(err)
	}
	writeRaw(w, http.StatusOK, raw)
	return nil
}

// handleGetPrompt serves POST /servers/:id/prompts/:name.
func (a *App) handleGetPrompt(w http.ResponseWriter, r *http.Request) error {
	adapter, err := a.Supervisor.Adapter(chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	name := chi.URLParam(r, "name")
	body, err := rawBody(r)
	if err != nil {
		return err
	}
	var args any
	if len(body) > 0 {
		_ = json.Unmarshal(body, &args) //nolint:errcheck // forwarded as-is; the backend reports its own error on malformed args
	}
	raw, err := adapter.Request(r.Context(), mcprpc.MethodPromptsGet, map[string]any{"name": name, "arguments": args})
	if err != nil {
		return translateAdapterError(err)
	}
	writeRaw(w, http.StatusOK, raw)
	return nil
}
