package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/open-mcp/mcpbridge/pkg/logger"
)

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }
func (osEnv) Environ() []string        { return os.Environ() }

// OSEnv is the real process environment, for production callers.
var OSEnv EnvReader = osEnv{}

// Loader turns a persisted JSON document plus environment variables into
// a validated {id → BackendSpec} map. It never starts sessions: that is the Session Supervisor's job.
type Loader struct {
	env EnvReader
}

// NewLoader builds a Loader reading from env.
func NewLoader(env EnvReader) *Loader {
	return &Loader{env: env}
}

// LoadDocument reads and validates the persisted document at path. A
// missing file is treated as an empty registry, not an error, so a fresh
// deployment can start with no backends configured.
func (l *Loader) LoadDocument(path string) (map[string]*BackendSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l.finalize(map[string]*BackendSpec{})
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	interpolated := interpolate(string(raw), l.env)

	var envelope struct {
		MCPServers map[string]json.RawMessage `json:"mcpServers"`
	}
	if err := json.Unmarshal([]byte(interpolated), &envelope); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	specs := make(map[string]*BackendSpec, len(envelope.MCPServers))
	for id, raw := range envelope.MCPServers {
		spec, err := decodeBackendSpec(id, raw)
		if err != nil {
			return nil, fmt.Errorf("parsing backend %q: %w", id, err)
		}
		specs[id] = spec
	}

	return l.finalize(specs)
}

// rawBackendSpec mirrors BackendSpec but keeps the risk level and isolation
// descriptor as raw JSON so malformed values can be downgraded instead of
// failing the whole document.
type rawBackendSpec struct {
	Transport TransportKind     `json:"type"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
	RiskLevel json.RawMessage   `json:"riskLevel,omitempty"`
	Isolation json.RawMessage   `json:"isolation,omitempty"`
	SSE       *SSETuning        `json:"sse,omitempty"`
}

// decodeBackendSpec parses one backend's JSON with per-field leniency: an
// unrecognized risk level drops the field, and malformed isolation JSON is
// treated as absent (both paths are finished off by validate, which
// applies the High/isolation coupling).
func decodeBackendSpec(id string, raw json.RawMessage) (*BackendSpec, error) {
	var r rawBackendSpec
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}

	spec := &BackendSpec{
		ID:        id,
		Transport: r.Transport,
		Command:   r.Command,
		Args:      r.Args,
		Env:       r.Env,
		URL:       r.URL,
		SSE:       r.SSE,
	}

	if len(r.RiskLevel) > 0 {
		var v any
		if err := json.Unmarshal(r.RiskLevel, &v); err == nil {
			if level, ok := ParseRiskLevel(v); ok {
				spec.RiskLevel = level
			} else {
				logger.Warnf("config: backend %q has an unrecognized riskLevel, dropping the field", id)
			}
		}
	}

	if len(r.Isolation) > 0 {
		var iso IsolationDescriptor
		if err := json.Unmarshal(r.Isolation, &iso); err != nil {
			logger.Warnf("config: backend %q has a malformed isolation descriptor, ignoring: %v", id, err)
		} else {
			spec.Isolation = &iso
		}
	}

	return spec, nil
}

// DecodeSpec parses a single backend's JSON body the same lenient way a
// persisted document's entries are parsed: an unrecognized
// risk level or malformed isolation descriptor is dropped rather than
// rejected outright. Used by the REST facade for POST /servers, which
// accepts one BackendSpec at a time rather than a whole document.
func DecodeSpec(id string, raw json.RawMessage) (*BackendSpec, error) {
	return decodeBackendSpec(id, raw)
}

// ValidateSpec applies the High-risk/isolation coupling rule in place.
func ValidateSpec(spec *BackendSpec) {
	validate(spec)
}

// finalize applies the MCP_SERVER_<ID>_* environment overrides and then
// validates every spec.
func (l *Loader) finalize(specs map[string]*BackendSpec) (map[string]*BackendSpec, error) {
	l.applyEnvOverrides(specs)
	for id, spec := range specs {
		validate(spec)
		specs[id] = spec
	}
	return specs, nil
}

// applyEnvOverrides scans the process environment for MCP_SERVER_<ID>_*
// variables and applies them on top of any spec loaded
// from the config file (the <ID> is matched against file ids
// case-insensitively), creating a new spec under <ID> as written if no
// file id matches.
func (l *Loader) applyEnvOverrides(specs map[string]*BackendSpec) {
	const prefix = "MCP_SERVER_"
	suffixes := []string{"_COMMAND", "_ARGS", "_ENV", "_RISK_LEVEL", "_DOCKER_CONFIG"}

	overrides := map[string]map[string]string{} // id -> suffix -> raw value
	for _, kv := range l.env.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		for _, suffix := range suffixes {
			if strings.HasSuffix(rest, suffix) {
				id := strings.TrimSuffix(rest, suffix)
				if overrides[id] == nil {
					overrides[id] = map[string]string{}
				}
				overrides[id][suffix] = v
				break
			}
		}
	}

	for id, fields := range overrides {
		spec, ok := specs[id]
		if !ok {
			for existingID, existing := range specs {
				if strings.EqualFold(existingID, id) {
					spec, ok = existing, true
					break
				}
			}
		}
		if !ok {
			spec = &BackendSpec{ID: id, Transport: TransportStdio}
			specs[id] = spec
		}
		if v, ok := fields["_COMMAND"]; ok {
			spec.Command = v
		}
		if v, ok := fields["_ARGS"]; ok {
			spec.Args = splitArgs(v)
		}
		if v, ok := fields["_ENV"]; ok {
			var env map[string]string
			if err := json.Unmarshal([]byte(v), &env); err != nil {
				logger.Warnf("config: %s%s_ENV is not valid JSON, ignoring: %v", prefix, id, err)
			} else {
				spec.Env = env
			}
		}
		if v, ok := fields["_RISK_LEVEL"]; ok {
			if level, ok := ParseRiskLevel(v); ok {
				spec.RiskLevel = level
			} else {
				logger.Warnf("config: %s%s_RISK_LEVEL %q is not a recognized risk level, dropping", prefix, id, v)
			}
		}
		if v, ok := fields["_DOCKER_CONFIG"]; ok {
			var iso IsolationDescriptor
			if err := json.Unmarshal([]byte(v), &iso); err != nil {
				logger.Warnf("config: %s%s_DOCKER_CONFIG is not valid JSON, ignoring: %v", prefix, id, err)
			} else {
				spec.Isolation = &iso
			}
		}
	}
}

func splitArgs(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validate applies the backend validation rules in place:
//   - an unrecognized risk level is already rejected by ParseRiskLevel
//     before reaching this struct, so here we only enforce the High/
//     isolation coupling.
//   - High risk without a complete isolation descriptor downgrades to
//     Medium with a warning.
func validate(spec *BackendSpec) {
	if spec.RiskLevel == RiskHigh && !spec.Isolation.Complete() {
		logger.Warnf("config: backend %q declares risk=high without a complete isolation descriptor, downgrading to medium", spec.ID)
		spec.RiskLevel = RiskMedium
	}
}
