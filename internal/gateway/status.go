package gateway

import (
	"encoding/json"
	"net/http"
	"time"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Uptime       float64 `json:"uptime_seconds"`
	ActiveGrants int     `json:"active_grants"`
	NextDeadline string  `json:"next_deadline,omitempty"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			Uptime: time.Since(g.startedAt).Truncate(time.Second).Seconds(),
		}

		if g.engine != nil {
			if grants, err := g.engine.ListGrants(r.Context()); err == nil {
				resp.ActiveGrants = len(grants)
				// Grants come back ordered by deadline.
				if len(grants) > 0 {
					resp.NextDeadline = grants[0].Deadline.UTC().Format(time.RFC3339)
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
