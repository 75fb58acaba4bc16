package gateway

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flemzord/cooldownd/internal/security"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func newAuthGateway(cfg AuthConfig) (*Gateway, *[]security.AuditEvent) {
	events := &[]security.AuditEvent{}
	g := &Gateway{
		config:  Config{Auth: cfg},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		limiter: security.NewRateLimiter(security.RateLimitConfig{}),
	}
	g.audit = security.NewAuditLogger(security.AuditLoggerConfig{
		OnEvent: func(e security.AuditEvent) { *events = append(*events, e) },
	})
	return g, events
}

func TestAuthMiddleware_ValidBearerToken(t *testing.T) {
	t.Parallel()

	g, events := newAuthGateway(AuthConfig{BearerToken: "secret-token"})
	handler := g.authMiddleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if len(*events) != 1 || (*events)[0].Type != security.EventAuthSuccess {
		t.Errorf("audit events = %+v, want one auth_success", *events)
	}
}

func TestAuthMiddleware_InvalidBearerToken(t *testing.T) {
	t.Parallel()

	g, events := newAuthGateway(AuthConfig{BearerToken: "secret-token"})
	handler := g.authMiddleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	if len(*events) != 1 || (*events)[0].Type != security.EventAuthFailure {
		t.Errorf("audit events = %+v, want one auth_failure", *events)
	}
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	t.Parallel()

	g, _ := newAuthGateway(AuthConfig{BearerToken: "secret-token"})
	handler := g.authMiddleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_ValidBasicAuth(t *testing.T) {
	t.Parallel()

	g, _ := newAuthGateway(AuthConfig{BasicUser: "admin", BasicPass: "pass123"})
	handler := g.authMiddleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.SetBasicAuth("admin", "pass123")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_InvalidBasicAuth(t *testing.T) {
	t.Parallel()

	g, _ := newAuthGateway(AuthConfig{BasicUser: "admin", BasicPass: "pass123"})
	handler := g.authMiddleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.SetBasicAuth("admin", "wrong")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_RateLimited(t *testing.T) {
	t.Parallel()

	g, _ := newAuthGateway(AuthConfig{BearerToken: "secret-token"})
	g.limiter = security.NewRateLimiter(security.RateLimitConfig{AuthPerMin: 1})
	handler := g.authMiddleware()(okHandler())

	for i := range 2 {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer secret-token")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		want := http.StatusOK
		if i == 1 {
			want = http.StatusTooManyRequests
		}
		if rr.Code != want {
			t.Errorf("request #%d status = %d, want %d", i+1, rr.Code, want)
		}
	}
}

func TestAuthConfigIsConfigured(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  AuthConfig
		want bool
	}{
		{"empty", AuthConfig{}, false},
		{"bearer", AuthConfig{BearerToken: "t"}, true},
		{"basic", AuthConfig{BasicUser: "u", BasicPass: "p"}, true},
		{"basic user only", AuthConfig{BasicUser: "u"}, false},
	}
	for _, tt := range tests {
		if got := tt.cfg.IsConfigured(); got != tt.want {
			t.Errorf("%s: IsConfigured() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
