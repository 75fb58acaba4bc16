package gateway

import (
	"encoding/json"
	"net/http"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status       string `json:"status"` // "ok" or "degraded"
	ActiveGrants int    `json:"active_grants"`
}

// handleHealth returns an http.HandlerFunc for GET /health. Returns 200
// when the engine answers, 503 when it is unavailable.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok"}

		if g.engine != nil {
			grants, err := g.engine.ListGrants(r.Context())
			if err != nil {
				resp.Status = "degraded"
			} else {
				resp.ActiveGrants = len(grants)
			}
		} else {
			resp.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == "degraded" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
