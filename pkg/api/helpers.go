package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	mcperrors "github.com/open-mcp/mcpbridge/pkg/errors"
	"github.com/open-mcp/mcpbridge/pkg/transport/types"
)

// writeJSON encodes body as the response, setting the status code and
// content type. Centralized here so every handler produces the same
// response shape.
func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // response writer errors are not actionable here
}

// writeRaw emits an already-encoded JSON-RPC result byte-for-byte,
// passing a backend's response through rather than re-marshaling it.
func writeRaw(w http.ResponseWriter, code int, raw []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if len(raw) == 0 {
		_, _ = w.Write([]byte("null")) //nolint:errcheck
		return
	}
	_, _ = w.Write(raw) //nolint:errcheck
}

// decodeJSON reads and parses r's body into v, translating a malformed or
// empty body into a BadRequest.
func decodeJSON(r *http.Request, v any) error {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return mcperrors.NewBadRequestError("reading request body", err)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return mcperrors.NewBadRequestError("request body is not valid JSON", err)
	}
	return nil
}

// translateAdapterError maps a transport-level failure onto the error
// taxonomy pkg/api/errors renders, for the handlers that call an adapter
// directly rather than going through the Risk Gate.
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

// rawBody reads r's body verbatim, for handlers that forward the body to
// a backend as opaque tool/prompt arguments.
func rawBody(r *http.Request) (json.RawMessage, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, mcperrors.NewBadRequestError("reading request body", err)
	}
	if len(raw) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.RawMessage(raw), nil
}
