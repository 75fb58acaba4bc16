package engine

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/cooldownd/internal/entitlement"
	"github.com/flemzord/cooldownd/internal/entitlement/entitlementtest"
	"github.com/flemzord/cooldownd/internal/grant"
	"github.com/flemzord/cooldownd/internal/grant/granttest"
)

const (
	scope      = "guild-1"
	subject    = "member-42"
	restricted = "cooldown-role"
	neutral    = "everyone"
)

// newTestScheduler builds a scheduler over in-memory fakes with a scope
// where the engine outranks member and helper but not moderator.
func newTestScheduler(t *testing.T) (*Scheduler, *granttest.Store, *entitlementtest.Gateway) {
	t.Helper()

	store := granttest.NewStore()
	gw := entitlementtest.NewGateway()
	gw.SetScope(scope, map[string]int{
		neutral:    0,
		"member":   1,
		"helper":   3,
		restricted: 5,
		"moderator": 8,
	}, 6, neutral)
	gw.SetHeld(scope, subject, neutral, "member", "helper", "moderator")

	s := NewScheduler(Options{
		Store:      store,
		Gateway:    gw,
		Logger:     slog.Default(),
		Restricted: restricted,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, store, gw
}

func TestCreateGrant(t *testing.T) {
	t.Parallel()

	s, store, gw := newTestScheduler(t)

	res, err := s.CreateGrant(context.Background(), scope, subject, time.Hour)
	if err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}

	if !slices.Equal(res.Grant.BackedUp, []string{"member", "helper"}) {
		t.Errorf("BackedUp = %v, want [member helper]", res.Grant.BackedUp)
	}
	if !slices.Equal(res.Skipped, []string{"moderator"}) {
		t.Errorf("Skipped = %v, want [moderator]", res.Skipped)
	}

	held := gw.Held(scope, subject)
	want := []string{neutral, "moderator", restricted}
	if !slices.Equal(held, want) {
		t.Errorf("held after grant = %v, want %v", held, want)
	}

	if store.Len() != 1 {
		t.Errorf("store has %d grants, want 1", store.Len())
	}
	if s.pendingTimers() != 1 {
		t.Errorf("pending timers = %d, want 1", s.pendingTimers())
	}
}

func TestCreateGrant_Stacking(t *testing.T) {
	t.Parallel()

	s, _, gw := newTestScheduler(t)

	if _, err := s.CreateGrant(context.Background(), scope, subject, time.Hour); err != nil {
		t.Fatalf("first CreateGrant: %v", err)
	}
	mutations := gw.MutationCount()

	_, err := s.CreateGrant(context.Background(), scope, subject, time.Hour)
	if !errors.Is(err, grant.ErrAlreadyActive) {
		t.Fatalf("second CreateGrant = %v, want ErrAlreadyActive", err)
	}
	if gw.MutationCount() != mutations {
		t.Error("stacking attempt performed entitlement changes")
	}
}

func TestCreateGrant_ConcurrentSameSubject(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestScheduler(t)

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.CreateGrant(context.Background(), scope, subject, time.Hour)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, grant.ErrAlreadyActive):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("%d creates succeeded, want exactly 1", succeeded)
	}
}

func TestCreateGrant_RestrictedMissing(t *testing.T) {
	t.Parallel()

	store := granttest.NewStore()
	gw := entitlementtest.NewGateway()
	gw.SetScope(scope, map[string]int{neutral: 0, "member": 1}, 6, neutral)
	gw.SetHeld(scope, subject, neutral, "member")

	s := NewScheduler(Options{Store: store, Gateway: gw, Restricted: restricted})

	_, err := s.CreateGrant(context.Background(), scope, subject, time.Hour)
	if !errors.Is(err, entitlement.ErrRestrictedMissing) {
		t.Fatalf("err = %v, want ErrRestrictedMissing", err)
	}
	if gw.MutationCount() != 0 {
		t.Error("failed grant performed entitlement changes")
	}
	if store.Len() != 0 {
		t.Error("failed grant was persisted")
	}
}

func TestCreateGrant_RestrictedNotAssignable(t *testing.T) {
	t.Parallel()

	store := granttest.NewStore()
	gw := entitlementtest.NewGateway()
	// Restricted role outranks the engine.
	gw.SetScope(scope, map[string]int{neutral: 0, "member": 1, restricted: 9}, 6, neutral)
	gw.SetHeld(scope, subject, neutral, "member")

	s := NewScheduler(Options{Store: store, Gateway: gw, Restricted: restricted})

	_, err := s.CreateGrant(context.Background(), scope, subject, time.Hour)
	if !errors.Is(err, entitlement.ErrNotAssignable) {
		t.Fatalf("err = %v, want ErrNotAssignable", err)
	}
	if gw.MutationCount() != 0 {
		t.Error("aborted grant performed entitlement changes")
	}
	if store.Len() != 0 {
		t.Error("aborted grant was persisted")
	}
}

func TestCreateGrant_PersistenceFailure(t *testing.T) {
	t.Parallel()

	store := granttest.NewStore()
	store.FailCreate = errors.New("disk full")
	gw := entitlementtest.NewGateway()
	gw.SetScope(scope, map[string]int{neutral: 0, "member": 1, restricted: 5}, 6, neutral)
	gw.SetHeld(scope, subject, neutral, "member")

	s := NewScheduler(Options{Store: store, Gateway: gw, Restricted: restricted})

	_, err := s.CreateGrant(context.Background(), scope, subject, time.Hour)
	if err == nil || errors.Is(err, grant.ErrAlreadyActive) {
		t.Fatalf("err = %v, want persistence failure", err)
	}
	if gw.MutationCount() != 0 {
		t.Error("persist-before-apply violated: entitlements changed without a record")
	}
}

func TestAutomaticRelease(t *testing.T) {
	t.Parallel()

	s, store, gw := newTestScheduler(t)

	if _, err := s.CreateGrant(context.Background(), scope, subject, 30*time.Millisecond); err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}

	waitFor(t, time.Second, func() bool { return store.Len() == 0 })

	held := gw.Held(scope, subject)
	for _, id := range []string{"member", "helper"} {
		if !slices.Contains(held, id) {
			t.Errorf("entitlement %s not restored, held = %v", id, held)
		}
	}
	if slices.Contains(held, restricted) {
		t.Errorf("restricted entitlement still held after release: %v", held)
	}
}

func TestEarlyRelease(t *testing.T) {
	t.Parallel()

	s, store, gw := newTestScheduler(t)

	if _, err := s.CreateGrant(context.Background(), scope, subject, time.Hour); err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}

	res, err := s.EarlyRelease(context.Background(), scope, subject)
	if err != nil {
		t.Fatalf("EarlyRelease: %v", err)
	}
	if res.Reason != ReasonEarly {
		t.Errorf("Reason = %s, want %s", res.Reason, ReasonEarly)
	}
	if !slices.Equal(res.Restored, []string{"member", "helper"}) {
		t.Errorf("Restored = %v, want [member helper]", res.Restored)
	}
	if store.Len() != 0 {
		t.Error("grant still stored after early release")
	}
	if s.pendingTimers() != 0 {
		t.Error("timer handle still armed after early release")
	}
	if slices.Contains(gw.Held(scope, subject), restricted) {
		t.Error("restricted entitlement still held")
	}

	// Second release is a distinct no-op.
	mutations := gw.MutationCount()
	if _, err := s.EarlyRelease(context.Background(), scope, subject); !errors.Is(err, grant.ErrNotActive) {
		t.Fatalf("second EarlyRelease = %v, want ErrNotActive", err)
	}
	if gw.MutationCount() != mutations {
		t.Error("no-op release performed entitlement changes")
	}
}

func TestEarlyRelease_NoGrant(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestScheduler(t)
	if _, err := s.EarlyRelease(context.Background(), scope, subject); !errors.Is(err, grant.ErrNotActive) {
		t.Fatalf("err = %v, want ErrNotActive", err)
	}
}

func TestOverride_ThenSubjectReleaseIsNoOp(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestScheduler(t)

	if _, err := s.CreateGrant(context.Background(), scope, subject, time.Hour); err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}

	res, err := s.Override(context.Background(), "moderator-7", scope, subject)
	if err != nil {
		t.Fatalf("Override: %v", err)
	}
	if res.Reason != ReasonOverride {
		t.Errorf("Reason = %s, want %s", res.Reason, ReasonOverride)
	}

	if _, err := s.EarlyRelease(context.Background(), scope, subject); !errors.Is(err, grant.ErrNotActive) {
		t.Fatalf("subject release after override = %v, want ErrNotActive", err)
	}
}

func TestRestore_RankDrift(t *testing.T) {
	t.Parallel()

	s, _, gw := newTestScheduler(t)

	if _, err := s.CreateGrant(context.Background(), scope, subject, time.Hour); err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}

	// "helper" is promoted above the engine between grant and release.
	gw.SetRank(scope, "helper", 9)

	res, err := s.EarlyRelease(context.Background(), scope, subject)
	if err != nil {
		t.Fatalf("EarlyRelease: %v", err)
	}
	if !slices.Equal(res.Restored, []string{"member"}) {
		t.Errorf("Restored = %v, want [member]", res.Restored)
	}
	if !slices.Contains(res.Skipped, "helper") {
		t.Errorf("Skipped = %v, want to contain helper", res.Skipped)
	}
	if slices.Contains(gw.Held(scope, subject), "helper") {
		t.Error("unmanageable entitlement was re-added")
	}
}

func TestRestore_CollectsGatewayFailures(t *testing.T) {
	t.Parallel()

	s, store, gw := newTestScheduler(t)

	if _, err := s.CreateGrant(context.Background(), scope, subject, time.Hour); err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}

	gw.FailAdd("member", errors.New("missing permission"))

	res, err := s.EarlyRelease(context.Background(), scope, subject)
	if err != nil {
		t.Fatalf("EarlyRelease: %v", err)
	}
	if !slices.Equal(res.Restored, []string{"helper"}) {
		t.Errorf("Restored = %v, want [helper]", res.Restored)
	}
	if !slices.Contains(res.Skipped, "member") {
		t.Errorf("Skipped = %v, want to contain member", res.Skipped)
	}
	if store.Len() != 0 {
		t.Error("partial restore left the grant stored")
	}
}

func TestNotifierInvoked(t *testing.T) {
	t.Parallel()

	store := granttest.NewStore()
	gw := entitlementtest.NewGateway()
	gw.SetScope(scope, map[string]int{neutral: 0, "member": 1, restricted: 5}, 6, neutral)
	gw.SetHeld(scope, subject, neutral, "member")

	notified := make(chan RestoreResult, 1)
	s := NewScheduler(Options{
		Store:      store,
		Gateway:    gw,
		Restricted: restricted,
		Notifier: notifyFunc(func(_ context.Context, gotScope, gotSubject string, res RestoreResult) {
			if gotScope == scope && gotSubject == subject {
				notified <- res
			}
		}),
	})

	if _, err := s.CreateGrant(context.Background(), scope, subject, time.Hour); err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}
	if _, err := s.EarlyRelease(context.Background(), scope, subject); err != nil {
		t.Fatalf("EarlyRelease: %v", err)
	}

	select {
	case res := <-notified:
		if res.Reason != ReasonEarly {
			t.Errorf("notified reason = %s, want %s", res.Reason, ReasonEarly)
		}
	default:
		t.Fatal("notifier not invoked")
	}
}

// notifyFunc adapts a function to the Notifier interface.
type notifyFunc func(ctx context.Context, scopeID, subjectID string, res RestoreResult)

func (f notifyFunc) NotifyRelease(ctx context.Context, scopeID, subjectID string, res RestoreResult) {
	f(ctx, scopeID, subjectID, res)
}

// waitFor polls cond until it holds or the deadline elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
