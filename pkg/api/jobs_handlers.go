package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	mcperrors "github.com/open-mcp/mcpbridge/pkg/errors"
	"github.com/open-mcp/mcpbridge/pkg/jobs"
)

// executeRequest is the body of POST /tool/execute: either a registered
// backend id or bare tool name discovery, with the tool's arguments
// passed through verbatim.
type executeRequest struct {
	ServerID   string          `json:"server_id"`
	ToolName   string          `json:"tool_name"`
	Parameters json.RawMessage `json:"parameters"`
}

// handleExecute serves POST /tool/execute: it enqueues the
// job and returns its id and bearer token immediately rather than
// blocking for the backend's response.
func (a *App) handleExecute(w http.ResponseWriter, r *http.Request) error {
	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.ToolName == "" {
		return mcperrors.NewBadRequestError("tool_name is required", nil)
	}

	job, err := a.Jobs.Enqueue(r.Context(), req.ToolName, req.ServerID, req.Parameters, a.dispatcher)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse(job))
	return nil
}

// executeDynamicRequest is the body of POST /tool/execute/dynamic: it
// names a backend by URL instead of a registered id.
type executeDynamicRequest struct {
	ServerURL  string          `json:"mcp_server_url"`
	AuthToken  string          `json:"mcp_auth_token"`
	ToolName   string          `json:"tool_name"`
	Parameters json.RawMessage `json:"parameters"`
}

// handleExecuteDynamic serves POST /tool/execute/dynamic.
func (a *App) handleExecuteDynamic(w http.ResponseWriter, r *http.Request) error {
	var req executeDynamicRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.ServerURL == "" {
		return mcperrors.NewBadRequestError("mcp_server_url is required", nil)
	}
	if req.ToolName == "" {
		return mcperrors.NewBadRequestError("tool_name is required", nil)
	}

	job, err := a.Jobs.EnqueueDynamic(r.Context(), req.ToolName, req.ServerURL, req.AuthToken, req.Parameters, a.dispatcher)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse(job))
	return nil
}

func enqueueResponse(job *jobs.Job) map[string]any {
	return map[string]any{
		"job_id":       job.ID,
		"bearer_token": job.Token,
		"status":       job.Status,
		"created_at":   job.CreatedAt,
		"expires_at":   job.ExpiresAt,
	}
}

// handlePollResult serves both POST and GET /results/:jobID: the bearer token is read from the Authorization header,
// falling back to a "token" query parameter for clients that cannot set
// headers on a GET.
func (a *App) handlePollResult(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "jobID")
	token := bearerToken(r)

	result, err := a.Jobs.Poll(id, token)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, result)
	return nil
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return rest
		}
		return auth
	}
	return r.URL.Query().Get("token")
}

// handleListJobs serves GET /jobs, an operator-facing
// listing that never includes bearer tokens.
func (a *App) handleListJobs(w http.ResponseWriter, _ *http.Request) error {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": a.Jobs.List()})
	return nil
}
