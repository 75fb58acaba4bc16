package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flemzord/cooldownd/internal/grant"
)

func TestHealthOK(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{grants: []grant.Grant{{SubjectID: "42", ScopeID: "500"}}}
	_, router := newTestGateway(t, eng)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want ok", resp.Status)
	}
	if resp.ActiveGrants != 1 {
		t.Errorf("ActiveGrants = %d, want 1", resp.ActiveGrants)
	}
}

func TestHealthDegradedWhenStoreFails(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{listErr: errors.New("store gone")}
	_, router := newTestGateway(t, eng)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestHealthDoesNotRequireAuth(t *testing.T) {
	t.Parallel()

	_, router := newTestGateway(t, &fakeEngine{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	_, router := newTestGateway(t, &fakeEngine{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	deadline := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	eng := &fakeEngine{grants: []grant.Grant{
		{SubjectID: "42", ScopeID: "500", Deadline: deadline},
		{SubjectID: "43", ScopeID: "500", Deadline: deadline.Add(time.Hour)},
	}}
	_, router := newTestGateway(t, eng)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/status", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp StatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.ActiveGrants != 2 {
		t.Errorf("ActiveGrants = %d, want 2", resp.ActiveGrants)
	}
	if resp.NextDeadline != "2026-03-14T12:00:00Z" {
		t.Errorf("NextDeadline = %q", resp.NextDeadline)
	}
}
