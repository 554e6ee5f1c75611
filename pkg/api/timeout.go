package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	mcperrors "github.com/open-mcp/mcpbridge/pkg/errors"
)

// Bounds on the /test/timeout/:minutes diagnostic. A request outside this
// range is rejected outright rather than silently clamped.
const (
	minTestMinutes = 0.01
	maxTestMinutes = 95
)

// handleTestTimeout serves POST /test/timeout/:minutes, a diagnostic
// endpoint that sleeps for the requested duration and then reports how
// long it actually waited, useful for exercising client and
// load-balancer timeout behavior against this service.
func (a *App) handleTestTimeout(w http.ResponseWriter, r *http.Request) error {
	raw := chi.URLParam(r, "minutes")
	minutes, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return mcperrors.NewBadRequestError("minutes must be a number", err)
	}
	if minutes < minTestMinutes || minutes > maxTestMinutes {
		return mcperrors.NewBadRequestError(
			fmt.Sprintf("minutes must be between %g and %g", minTestMinutes, maxTestMinutes), nil)
	}

	wait := time.Duration(minutes * float64(time.Minute))

	select {
	case <-time.After(wait):
	case <-r.Context().Done():
		return mcperrors.NewTimeoutError("client disconnected before timeout test completed", r.Context().Err())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"requested_minutes": minutes,
		"waited_seconds":    wait.Seconds(),
	})
	return nil
}
