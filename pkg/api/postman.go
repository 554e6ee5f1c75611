package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/open-mcp/mcpbridge/pkg/config"
	mcperrors "github.com/open-mcp/mcpbridge/pkg/errors"
	"github.com/open-mcp/mcpbridge/pkg/introspect"
)

// generatePostmanRequest names the backend to probe: a stdio command and
// its argument vector, or an http/sse base URL, plus an optional
// environment overlay and risk/isolation metadata carried through like any
// other BackendSpec field. An id already registered with the Supervisor
// can be named directly instead of describing a backend inline.
type generatePostmanRequest struct {
	ID            string                      `json:"id"`
	ServerURL     string                      `json:"serverUrl"`
	ServerCommand string                      `json:"serverCommand"`
	ServerArgs    []string                    `json:"serverArgs"`
	Env           map[string]string           `json:"env"`
	RiskLevel     json.RawMessage             `json:"riskLevel"`
	Isolation     *config.IsolationDescriptor `json:"isolation"`
}

// handleGeneratePostman serves POST /generate-postman: it spins up a transient probe session against the named or
// inline-described backend, walks its tools/resources/prompts, and
// returns a Postman v2.1 collection document.
func (a *App) handleGeneratePostman(w http.ResponseWriter, r *http.Request) error {
	raw, err := rawBody(r)
	if err != nil {
		return err
	}
	interpolated := json.RawMessage(config.Interpolate(string(raw)))
	var req generatePostmanRequest
	if len(interpolated) > 0 {
		if err := json.Unmarshal(interpolated, &req); err != nil {
			return mcperrors.NewBadRequestError("request body is not valid JSON", err)
		}
	}

	spec, err := a.resolveProbeSpec(req)
	if err != nil {
		return err
	}

	collection, err := introspect.Generate(r.Context(), a.Supervisor, spec)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, collection)
	return nil
}

// resolveProbeSpec returns the BackendSpec to probe: either the spec of
// an already-registered backend (when id names one and neither
// serverUrl nor serverCommand is given), or one built from the inline
// serverUrl/serverCommand fields.
func (a *App) resolveProbeSpec(req generatePostmanRequest) (*config.BackendSpec, error) {
	if req.ID != "" && req.ServerURL == "" && req.ServerCommand == "" {
		if spec, err := a.Supervisor.Spec(req.ID); err == nil {
			return spec, nil
		}
	}
	if req.ServerURL == "" && req.ServerCommand == "" {
		return nil, mcperrors.NewBadRequestError("either id, serverUrl, or serverCommand is required", nil)
	}

	id := req.ID
	if id == "" {
		id = "postman-probe"
	}

	spec := &config.BackendSpec{ID: id, Env: req.Env, Isolation: req.Isolation}
	if req.ServerURL != "" {
		spec.URL = req.ServerURL
		if strings.Contains(req.ServerURL, "/sse") {
			spec.Transport = config.TransportSSE
		} else {
			spec.Transport = config.TransportHTTP
		}
	} else {
		spec.Transport = config.TransportStdio
		spec.Command = req.ServerCommand
		spec.Args = req.ServerArgs
	}
	if level, ok := config.ParseRiskLevel(decodeRawAny(req.RiskLevel)); ok {
		spec.RiskLevel = level
	}
	config.ValidateSpec(spec)
	return spec, nil
}

func decodeRawAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	_ = json.Unmarshal(raw, &v) //nolint:errcheck // malformed risk level is simply dropped by ParseRiskLevel
	return v
}
