package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// confirmDecision is the body POST /confirmations/:confirmationId expects.
type confirmDecision struct {
	Confirm bool `json:"confirm"`
}

// handleConfirmation serves POST /confirmations/:confirmationId: it
// consumes the named PendingConfirmation and, on confirm=true, performs
// the tool call the original request was suspended for, bypassing the
// gate a second time.
func (a *App) handleConfirmation(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "confirmationId")

	var decision confirmDecision
	if err := decodeJSON(r, &decision); err != nil {
		return err
	}

	if !decision.Confirm {
		if err := a.Gate.Reject(id); err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "rejected", "confirmation_id": id})
		return nil
	}

	pc, err := a.Gate.Consume(id)
	if err != nil {
		return err
	}

	spec, err := a.Supervisor.Spec(pc.BackendID)
	if err != nil {
		return err
	}
	adapter, err := a.Supervisor.Adapter(pc.BackendID)
	if err != nil {
		return err
	}

	result, err := a.Gate.Call(r.Context(), spec, adapter, pc.ToolName, pc.Params, true)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, result)
	return nil
}
