package engine

import (
	"context"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/flemzord/cooldownd/internal/entitlement/entitlementtest"
	"github.com/flemzord/cooldownd/internal/grant"
	"github.com/flemzord/cooldownd/internal/grant/granttest"
)

// seedGrant stores a grant directly, as if a previous process had persisted
// it, and puts the subject in the granted state on the platform.
func seedGrant(store *granttest.Store, gw *entitlementtest.Gateway, deadline time.Time) {
	gw.SetHeld(scope, subject, neutral, "moderator", restricted)
	_ = store.TryCreate(context.Background(), grant.Grant{
		SubjectID: subject,
		ScopeID:   scope,
		BackedUp:  []string{"member", "helper"},
		Deadline:  deadline,
		CreatedAt: deadline.Add(-time.Hour),
	})
}

func newRecoveryFixture(t *testing.T) (*granttest.Store, *entitlementtest.Gateway, Options) {
	t.Helper()

	store := granttest.NewStore()
	gw := entitlementtest.NewGateway()
	gw.SetScope(scope, map[string]int{
		neutral:     0,
		"member":    1,
		"helper":    3,
		restricted:  5,
		"moderator": 8,
	}, 6, neutral)

	return store, gw, Options{
		Store:      store,
		Gateway:    gw,
		Logger:     slog.Default(),
		Restricted: restricted,
	}
}

func TestRecover_PastDeadlineReleasedImmediately(t *testing.T) {
	t.Parallel()

	store, gw, opts := newRecoveryFixture(t)
	seedGrant(store, gw, time.Now().Add(-time.Minute))

	s := NewScheduler(opts)
	if err := s.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	if store.Len() != 0 {
		t.Error("expired grant still stored after recovery")
	}
	held := gw.Held(scope, subject)
	if slices.Contains(held, restricted) {
		t.Errorf("restricted entitlement still held: %v", held)
	}
	for _, id := range []string{"member", "helper"} {
		if !slices.Contains(held, id) {
			t.Errorf("entitlement %s not restored: %v", id, held)
		}
	}
	if s.pendingTimers() != 0 {
		t.Errorf("pending timers = %d, want 0", s.pendingTimers())
	}
}

func TestRecover_FutureDeadlineRearmedForRemainder(t *testing.T) {
	t.Parallel()

	store, gw, opts := newRecoveryFixture(t)
	// Grant created an hour ago with ~40ms left. Recovery must schedule the
	// remaining interval, not the original duration.
	seedGrant(store, gw, time.Now().Add(40*time.Millisecond))

	s := NewScheduler(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	if err := s.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if s.pendingTimers() != 1 {
		t.Fatalf("pending timers = %d, want 1", s.pendingTimers())
	}
	if store.Len() != 1 {
		t.Fatal("grant with future deadline removed during recovery")
	}

	waitFor(t, time.Second, func() bool { return store.Len() == 0 })

	if slices.Contains(gw.Held(scope, subject), restricted) {
		t.Error("restricted entitlement still held after rearmed release")
	}
}

func TestRecover_RearmUsesInjectedClock(t *testing.T) {
	t.Parallel()

	store, gw, opts := newRecoveryFixture(t)
	// The wall clock sees an hour left; the injected clock sees 30ms. The
	// rearmed timer must follow the injected clock.
	deadline := time.Now().Add(time.Hour)
	opts.Now = func() time.Time { return deadline.Add(-30 * time.Millisecond) }
	seedGrant(store, gw, deadline)

	s := NewScheduler(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	if err := s.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	waitFor(t, time.Second, func() bool { return store.Len() == 0 })
}

func TestRecover_ActiveGaugeBalanced(t *testing.T) {
	t.Parallel()

	store, gw, opts := newRecoveryFixture(t)
	opts.Metrics = NewMetrics()
	seedGrant(store, gw, time.Now().Add(-time.Minute))

	s := NewScheduler(opts)
	if err := s.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	// Releasing a grant this process never created must not drive the
	// gauge negative.
	if got := testutil.ToFloat64(opts.Metrics.Active); got != 0 {
		t.Errorf("grants_active = %v after recovering an expired grant, want 0", got)
	}
}

func TestSweepExpired(t *testing.T) {
	t.Parallel()

	store, gw, opts := newRecoveryFixture(t)
	// An expired grant with no armed timer: the situation the sweep exists
	// for (timer lost to a crash between persist and schedule).
	seedGrant(store, gw, time.Now().Add(-time.Second))

	s := NewScheduler(opts)
	released, err := s.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if released != 1 {
		t.Fatalf("released = %d, want 1", released)
	}
	if store.Len() != 0 {
		t.Error("expired grant still stored after sweep")
	}

	// Nothing left: the sweep is idempotent.
	released, err = s.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("second SweepExpired: %v", err)
	}
	if released != 0 {
		t.Fatalf("second sweep released %d, want 0", released)
	}
}

func TestSweepExpired_LeavesFutureGrants(t *testing.T) {
	t.Parallel()

	store, gw, opts := newRecoveryFixture(t)
	seedGrant(store, gw, time.Now().Add(time.Hour))

	s := NewScheduler(opts)
	released, err := s.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if released != 0 {
		t.Fatalf("released = %d, want 0", released)
	}
	if store.Len() != 1 {
		t.Error("future grant removed by sweep")
	}
}

func TestRestore_RoundTrip(t *testing.T) {
	t.Parallel()

	s, _, gw := newTestScheduler(t)

	before := gw.Held(scope, subject)

	if _, err := s.CreateGrant(context.Background(), scope, subject, time.Hour); err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}
	if _, err := s.EarlyRelease(context.Background(), scope, subject); err != nil {
		t.Fatalf("EarlyRelease: %v", err)
	}

	after := gw.Held(scope, subject)
	slices.Sort(before)
	slices.Sort(after)
	if !slices.Equal(before, after) {
		t.Fatalf("round trip mismatch: before %v, after %v", before, after)
	}
}
