package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/flemzord/cooldownd/internal/engine"
	"github.com/flemzord/cooldownd/internal/grant"
	"github.com/flemzord/cooldownd/internal/security"
	"github.com/prometheus/client_golang/prometheus"
)

// fakeEngine is a minimal engine for handler tests.
type fakeEngine struct {
	grants []grant.Grant

	listErr     error
	createRes   engine.CreateResult
	createErr   error
	overrideRes engine.RestoreResult
	overrideErr error

	lastScope   string
	lastSubject string
	lastActor   string
	lastDur     time.Duration
}

func (f *fakeEngine) ParseDuration(raw string) time.Duration {
	return grant.NewDurationParser(time.Hour).Parse(raw)
}

func (f *fakeEngine) CreateGrant(_ context.Context, scopeID, subjectID string, d time.Duration) (engine.CreateResult, error) {
	f.lastScope, f.lastSubject, f.lastDur = scopeID, subjectID, d
	return f.createRes, f.createErr
}

func (f *fakeEngine) Override(_ context.Context, actorID, scopeID, subjectID string) (engine.RestoreResult, error) {
	f.lastActor, f.lastScope, f.lastSubject = actorID, scopeID, subjectID
	return f.overrideRes, f.overrideErr
}

func (f *fakeEngine) ListGrants(_ context.Context) ([]grant.Grant, error) {
	return f.grants, f.listErr
}

// newTestGateway builds a Gateway wired to a fake engine with auth
// configured, returning the gateway and its router.
func newTestGateway(t *testing.T, eng Engine) (*Gateway, http.Handler) {
	t.Helper()
	g := &Gateway{
		config: Config{
			Auth: AuthConfig{BearerToken: "secret-token"},
		},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		registry: prometheus.NewRegistry(),
		limiter:  security.NewRateLimiter(security.RateLimitConfig{}),
		audit:    security.NewAuditLogger(security.AuditLoggerConfig{}),
		engine:   eng,
	}
	g.config.defaults()
	g.startedAt = time.Now()
	return g, g.buildRouter()
}
