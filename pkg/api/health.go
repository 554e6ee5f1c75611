package api

import (
	"net/http"
	"time"

	"github.com/open-mcp/mcpbridge/pkg/supervisor"
)

// serverSummary is the shape
// and GET /servers' "servers" array.
type serverSummary struct {
	ID                  string `json:"id"`
	Connected           bool   `json:"connected"`
	PID                 int    `json:"pid,omitempty"`
	InitializationState string `json:"initialization_state"`
	RiskLevel           string `json:"risk_level,omitempty"`
}

func summarize(statuses []supervisor.Status) []serverSummary {
	out := make([]serverSummary, 0, len(statuses))
	for _, st := range statuses {
		s := serverSummary{
			ID:                  st.ID,
			Connected:           st.Connected,
			PID:                 st.PID,
			InitializationState: string(st.InitializationState),
		}
		if st.RiskLevel != 0 {
			s.RiskLevel = st.RiskLevel.String()
		}
		out = append(out, s)
	}
	return out
}

type healthResponse struct {
	Status      string          `json:"status"`
	UptimeSecs  float64         `json:"uptime"`
	ServerCount int             `json:"serverCount"`
	Servers     []serverSummary `json:"servers"`
}

// handleHealth serves GET /health.
func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) error {
	statuses := a.Supervisor.StatusAll()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		UptimeSecs:  time.Since(a.startedAt).Seconds(),
		ServerCount: len(statuses),
		Servers:     summarize(statuses),
	})
	return nil
}
