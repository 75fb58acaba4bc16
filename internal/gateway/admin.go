package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/flemzord/cooldownd/internal/entitlement"
	"github.com/flemzord/cooldownd/internal/grant"
	"github.com/flemzord/cooldownd/internal/security"
	"github.com/go-chi/chi/v5"
)

// adminActor identifies admin API mutations in grant records and audit
// events that have no chat-side actor.
const adminActor = "admin-api"

// grantJSON is a serializable grant snapshot.
type grantJSON struct {
	SubjectID string   `json:"subject_id"`
	ScopeID   string   `json:"scope_id"`
	BackedUp  []string `json:"backed_up"`
	Deadline  string   `json:"deadline"`
	CreatedAt string   `json:"created_at"`
}

func toGrantJSON(g grant.Grant) grantJSON {
	backedUp := g.BackedUp
	if backedUp == nil {
		backedUp = []string{}
	}
	return grantJSON{
		SubjectID: g.SubjectID,
		ScopeID:   g.ScopeID,
		BackedUp:  backedUp,
		Deadline:  g.Deadline.UTC().Format(time.RFC3339),
		CreatedAt: g.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// handleListGrants returns all active grants as JSON, ordered by deadline.
func (g *Gateway) handleListGrants() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.engine == nil {
			http.Error(w, "engine unavailable", http.StatusServiceUnavailable)
			return
		}

		grants, err := g.engine.ListGrants(r.Context())
		if err != nil {
			g.logger.Error("gateway: list grants", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		out := make([]grantJSON, len(grants))
		for i, gr := range grants {
			out[i] = toGrantJSON(gr)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}

// createGrantRequest is the JSON body for POST /api/grants.
type createGrantRequest struct {
	ScopeID   string `json:"scope_id"`
	SubjectID string `json:"subject_id"`
	Duration  string `json:"duration"`
}

// createGrantResponse reports the created grant and any entitlements that
// could not be removed.
type createGrantResponse struct {
	Grant   grantJSON `json:"grant"`
	Skipped []string  `json:"skipped,omitempty"`
}

// handleCreateGrant applies a grant via the admin API.
func (g *Gateway) handleCreateGrant() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.engine == nil {
			http.Error(w, "engine unavailable", http.StatusServiceUnavailable)
			return
		}

		var req createGrantRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		if req.ScopeID == "" || req.SubjectID == "" {
			http.Error(w, "scope_id and subject_id are required", http.StatusBadRequest)
			return
		}

		d := g.engine.ParseDuration(req.Duration)
		res, err := g.engine.CreateGrant(r.Context(), req.ScopeID, req.SubjectID, d)
		if err != nil {
			g.writeGrantError(w, err)
			return
		}

		g.audit.Log(security.AuditEvent{
			Type:      security.EventGrantCreate,
			ScopeID:   req.ScopeID,
			SubjectID: req.SubjectID,
			ActorID:   adminActor,
			Detail:    "duration " + d.String(),
		})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(createGrantResponse{
			Grant:   toGrantJSON(res.Grant),
			Skipped: res.Skipped,
		})
	}
}

// releaseGrantResponse reports a release performed via the admin API.
type releaseGrantResponse struct {
	Restored []string `json:"restored"`
	Skipped  []string `json:"skipped,omitempty"`
}

// handleReleaseGrant ends a grant early via the admin API.
func (g *Gateway) handleReleaseGrant() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.engine == nil {
			http.Error(w, "engine unavailable", http.StatusServiceUnavailable)
			return
		}

		scope := chi.URLParam(r, "scope")
		subject := chi.URLParam(r, "subject")
		if scope == "" || subject == "" {
			http.Error(w, "missing scope or subject", http.StatusBadRequest)
			return
		}

		res, err := g.engine.Override(r.Context(), adminActor, scope, subject)
		if err != nil {
			g.writeGrantError(w, err)
			return
		}

		g.audit.Log(security.AuditEvent{
			Type:      security.EventOverride,
			ScopeID:   scope,
			SubjectID: subject,
			ActorID:   adminActor,
		})

		restored := res.Restored
		if restored == nil {
			restored = []string{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(releaseGrantResponse{
			Restored: restored,
			Skipped:  res.Skipped,
		})
	}
}

// writeGrantError maps engine errors to HTTP status codes.
func (g *Gateway) writeGrantError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, grant.ErrAlreadyActive):
		http.Error(w, "grant already active", http.StatusConflict)
	case errors.Is(err, grant.ErrNotActive):
		http.Error(w, "no active grant", http.StatusNotFound)
	case errors.Is(err, entitlement.ErrRestrictedMissing):
		http.Error(w, "restricted entitlement missing from scope", http.StatusUnprocessableEntity)
	case errors.Is(err, entitlement.ErrNotAssignable):
		http.Error(w, "restricted entitlement not assignable", http.StatusUnprocessableEntity)
	default:
		g.logger.Error("gateway: grant operation failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
