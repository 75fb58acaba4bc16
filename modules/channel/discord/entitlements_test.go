package discord

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newRoleGatewayServer(t *testing.T) (*roleGateway, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/guilds/500/roles":
			writeJSON(t, w, []Role{
				{ID: "500", Name: "@everyone", Position: 0},
				{ID: "501", Name: "member", Position: 1},
				{ID: "502", Name: "cooldown", Position: 5},
				{ID: "503", Name: "bot", Position: 6},
				{ID: "504", Name: "admin", Position: 9},
			})
		case "/guilds/500/members/42":
			writeJSON(t, w, Member{
				User:  &User{ID: "42", Username: "someone"},
				Roles: []string{"501", "504"},
			})
		case "/guilds/500/members/99":
			writeJSON(t, w, Member{
				User:  &User{ID: "99", Username: "cooldownd", Bot: true},
				Roles: []string{"501", "503"},
			})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return newRoleGateway(NewClient("TOKEN", srv.URL), "99"), srv
}

func TestRoleGatewayScopeRanks(t *testing.T) {
	gw, _ := newRoleGatewayServer(t)

	ranks, err := gw.ScopeRanks(context.Background(), "500")
	if err != nil {
		t.Fatalf("ScopeRanks() error: %v", err)
	}
	if len(ranks) != 5 {
		t.Fatalf("len(ranks) = %d, want 5", len(ranks))
	}
	if ranks["502"] != 5 {
		t.Errorf("ranks[502] = %d, want 5", ranks["502"])
	}
	if ranks["500"] != 0 {
		t.Errorf("ranks[500] = %d, want 0", ranks["500"])
	}
}

func TestRoleGatewaySubjectEntitlements(t *testing.T) {
	gw, _ := newRoleGatewayServer(t)

	held, err := gw.SubjectEntitlements(context.Background(), "500", "42")
	if err != nil {
		t.Fatalf("SubjectEntitlements() error: %v", err)
	}
	want := []string{"501", "504"}
	if len(held) != len(want) {
		t.Fatalf("held = %v, want %v", held, want)
	}
	for i := range want {
		if held[i] != want[i] {
			t.Errorf("held[%d] = %q, want %q", i, held[i], want[i])
		}
	}
}

func TestRoleGatewayOwnRank(t *testing.T) {
	gw, _ := newRoleGatewayServer(t)

	// Bot holds member (1) and bot (6); own rank is the top position.
	rank, err := gw.OwnRank(context.Background(), "500")
	if err != nil {
		t.Fatalf("OwnRank() error: %v", err)
	}
	if rank != 6 {
		t.Errorf("OwnRank() = %d, want 6", rank)
	}
}

func TestRoleGatewayNeutralIsGuildID(t *testing.T) {
	gw := newRoleGateway(NewClient("TOKEN", "http://unused"), "99")
	if got := gw.Neutral("500"); got != "500" {
		t.Errorf("Neutral() = %q, want guild ID", got)
	}
}
