// Package errors adapts mcpbridge's typed error taxonomy to HTTP
// responses for the REST facade.
package errors

import (
	"encoding/json"
	"net/http"

	"github.com/open-mcp/mcpbridge/pkg/errors"
	"github.com/open-mcp/mcpbridge/pkg/logger"
)

// HandlerWithError is an HTTP handler that can return an error instead of
// writing its own error response, letting ErrorHandler centralize the
// mapping to status codes and bodies.
type HandlerWithError func(http.ResponseWriter, *http.Request) error

// errorBody is the {error, details} shape
// UpstreamError responses; details is omitted for every other kind.
type errorBody struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// ErrorHandler wraps fn, converting a returned error into a JSON response
// with the matching status code. 5xx errors are logged in full and
// surface a generic message (except UpstreamError, which also surfaces
// {details}).
func ErrorHandler(fn HandlerWithError) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}

		code := errors.Code(err)
		body := errorBody{Error: err.Error()}

		if code >= http.StatusInternalServerError {
			logger.Errorf("api: request %s %s failed: %v", r.Method, r.URL.Path, err)
			if errors.IsUpstream(err) {
				body = errorBody{Error: "upstream error", Details: errors.Details(err)}
			} else {
				body = errorBody{Error: http.StatusText(code)}
			}
		}

		writeJSON(w, code, body)
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // response writer errors are not actionable here
}
