// Package engine implements the timed entitlement-override core: grant
// creation, the per-grant release timers, the shared restore routine, and
// startup recovery.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/cooldownd/internal/entitlement"
	"github.com/flemzord/cooldownd/internal/grant"
)

// ReleaseReason records which path performed a reversion.
type ReleaseReason string

// Release reasons, used for logging and metrics labels.
const (
	ReasonExpired   ReleaseReason = "expired"
	ReasonEarly     ReleaseReason = "early"
	ReasonOverride  ReleaseReason = "override"
	ReasonRecovered ReleaseReason = "recovered"
	ReasonSweep     ReleaseReason = "sweep"
)

// CreateResult reports the outcome of a successful grant creation.
type CreateResult struct {
	Grant grant.Grant

	// Skipped lists entitlements that could not be removed: outranked ones
	// and ones whose removal failed at the gateway.
	Skipped []string
}

// RestoreResult reports the outcome of a successful reversion.
type RestoreResult struct {
	Reason ReleaseReason

	// Restored lists the backed-up entitlements that were re-added.
	Restored []string

	// Skipped lists backed-up entitlements that were not restored: ones
	// that became unmanageable since grant time and ones whose re-add
	// failed at the gateway.
	Skipped []string
}

// Notifier receives release announcements. Implemented by the chat channel;
// optional.
type Notifier interface {
	NotifyRelease(ctx context.Context, scopeID, subjectID string, res RestoreResult)
}

// Scheduler owns every active grant's pending reversion. All state mutation
// funnels through the store's atomic TryCreate/Pop, so operations on the
// same subject are serialized and a race between the timer, an early
// release, and an override resolves to exactly one reversion.
type Scheduler struct {
	store      grant.Store
	gateway    entitlement.Gateway
	logger     *slog.Logger
	metrics    *Metrics
	tracer     trace.Tracer
	notifier   Notifier
	restricted string
	gwTimeout  time.Duration
	now        func() time.Time

	mu     sync.Mutex
	timers map[grant.Key]chan struct{}
	closed bool

	wg sync.WaitGroup
}

// Options configures a Scheduler.
type Options struct {
	Store      grant.Store
	Gateway    entitlement.Gateway
	Logger     *slog.Logger
	Metrics    *Metrics
	Notifier   Notifier // optional
	Restricted string   // restricted entitlement ID

	// GatewayTimeout bounds each platform call. A timeout counts as a
	// per-entitlement failure, not an abort. Defaults to 10 s.
	GatewayTimeout time.Duration

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// NewScheduler creates a scheduler. Call Recover before serving requests.
func NewScheduler(opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		store:      opts.Store,
		gateway:    opts.Gateway,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		tracer:     otel.Tracer("cooldownd/engine"),
		notifier:   opts.Notifier,
		restricted: opts.Restricted,
		gwTimeout:  opts.GatewayTimeout,
		now:        opts.Now,
		timers:     make(map[grant.Key]chan struct{}),
	}
}

// CreateGrant establishes a timed override: it backs up and removes the
// subject's manageable entitlements, applies the restricted entitlement,
// and arms a one-shot reversion at now+duration.
//
// The assignability check runs before any mutation: if the restricted
// entitlement is missing or outranks the engine, the call fails with no
// entitlement changes at all. The grant record is persisted before the
// first removal so a crash mid-application is reconciled by the next
// startup's recovery pass.
func (s *Scheduler) CreateGrant(ctx context.Context, scopeID, subjectID string, duration time.Duration) (CreateResult, error) {
	ctx, span := s.tracer.Start(ctx, "engine.CreateGrant", trace.WithAttributes(
		attribute.String("scope", scopeID),
		attribute.String("subject", subjectID),
		attribute.Int64("duration_s", int64(duration/time.Second)),
	))
	defer span.End()

	ranks, ownRank, err := s.authority(ctx, scopeID)
	if err != nil {
		return CreateResult{}, err
	}

	current, err := s.subjectEntitlements(ctx, scopeID, subjectID)
	if err != nil {
		return CreateResult{}, err
	}

	part := entitlement.Split(current, ranks, s.gateway.Neutral(scopeID), s.restricted, ownRank)
	if !part.RestrictedExists {
		return CreateResult{}, entitlement.ErrRestrictedMissing
	}
	if !part.RestrictedAssignable {
		return CreateResult{}, entitlement.ErrNotAssignable
	}

	now := s.now()
	g := grant.Grant{
		SubjectID: subjectID,
		ScopeID:   scopeID,
		BackedUp:  part.Removable,
		Deadline:  now.Add(duration),
		CreatedAt: now,
	}

	// Persist before mutating so a crash mid-application still leaves a
	// recoverable record.
	if err := s.store.TryCreate(ctx, g); err != nil {
		if errors.Is(err, grant.ErrAlreadyActive) {
			return CreateResult{}, err
		}
		return CreateResult{}, fmt.Errorf("engine: persist grant: %w", err)
	}

	res := CreateResult{Grant: g, Skipped: append([]string(nil), part.Skipped...)}

	for _, id := range part.Removable {
		if err := s.removeEntitlement(ctx, scopeID, subjectID, id); err != nil {
			s.logger.Warn("entitlement removal failed",
				"scope", scopeID, "subject", subjectID, "entitlement", id, "error", err)
			s.metrics.GatewayErrors.Inc()
			res.Skipped = append(res.Skipped, id)
		}
	}

	if err := s.addEntitlement(ctx, scopeID, subjectID, s.restricted); err != nil {
		s.logger.Warn("restricted entitlement apply failed",
			"scope", scopeID, "subject", subjectID, "entitlement", s.restricted, "error", err)
		s.metrics.GatewayErrors.Inc()
		res.Skipped = append(res.Skipped, s.restricted)
	}

	s.schedule(g)
	s.metrics.Created.Inc()
	s.metrics.Active.Inc()

	s.logger.Info("grant created",
		"scope", scopeID, "subject", subjectID,
		"deadline", g.Deadline.UTC().Format(time.RFC3339),
		"backed_up", len(g.BackedUp), "skipped", len(res.Skipped))

	return res, nil
}

// EarlyRelease reverts the subject's grant before its deadline. Returns
// grant.ErrNotActive if the subject has no grant.
func (s *Scheduler) EarlyRelease(ctx context.Context, scopeID, subjectID string) (RestoreResult, error) {
	key := grant.Key{SubjectID: subjectID, ScopeID: scopeID}
	s.cancelTimer(key)
	return s.restore(ctx, key, ReasonEarly)
}

// Override is an administrative release on behalf of another actor. It
// follows the same path as EarlyRelease; the actor is recorded in the log.
func (s *Scheduler) Override(ctx context.Context, actorID, scopeID, subjectID string) (RestoreResult, error) {
	key := grant.Key{SubjectID: subjectID, ScopeID: scopeID}
	s.cancelTimer(key)
	res, err := s.restore(ctx, key, ReasonOverride)
	if err == nil {
		s.logger.Info("grant overridden", "actor", actorID, "scope", scopeID, "subject", subjectID)
	}
	return res, err
}

// Recover replays the persisted ledger after a restart: grants whose
// deadline already passed are restored immediately, the rest are re-armed
// for the remaining interval rather than the original duration.
func (s *Scheduler) Recover(ctx context.Context) error {
	grants, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("engine: list grants for recovery: %w", err)
	}

	now := s.now()
	var expired, rearmed int
	for _, g := range grants {
		if g.Expired(now) {
			// Count the grant as active first so restore's decrement
			// balances; a fresh process never incremented for it.
			s.metrics.Active.Inc()
			if _, err := s.restore(ctx, g.Key(), ReasonRecovered); err != nil {
				if errors.Is(err, grant.ErrNotActive) {
					s.metrics.Active.Dec()
				} else {
					s.logger.Error("recovery restore failed",
						"scope", g.ScopeID, "subject", g.SubjectID, "error", err)
					continue
				}
			}
			expired++
			continue
		}
		s.schedule(g)
		s.metrics.Active.Inc()
		rearmed++
	}

	if expired > 0 || rearmed > 0 {
		s.logger.Info("grant recovery complete", "released", expired, "rescheduled", rearmed)
	}
	return nil
}

// Shutdown cancels all pending timers and waits for in-flight reversions.
// Grants stay in the store; the next start recovers them.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for key, cancel := range s.timers {
		close(cancel)
		delete(s.timers, key)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// schedule arms the one-shot reversion for the grant. The cancel channel is
// the handle: EarlyRelease, Override, and Shutdown close it. A timer that
// fires after its grant was already released is harmless; restore's
// atomic pop observes nothing and reports ErrNotActive.
func (s *Scheduler) schedule(g grant.Grant) {
	key := g.Key()
	cancel := make(chan struct{})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if prev, ok := s.timers[key]; ok {
		close(prev)
	}
	s.timers[key] = cancel
	s.mu.Unlock()

	delay := max(g.Deadline.Sub(s.now()), 0)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-cancel:
			return
		case <-timer.C:
		}

		s.mu.Lock()
		if s.timers[key] == cancel {
			delete(s.timers, key)
		}
		s.mu.Unlock()

		if _, err := s.restore(context.Background(), key, ReasonExpired); err != nil && !errors.Is(err, grant.ErrNotActive) {
			s.logger.Error("automatic release failed",
				"scope", key.ScopeID, "subject", key.SubjectID, "error", err)
		}
	}()
}

// cancelTimer closes the pending handle for the key, if any.
func (s *Scheduler) cancelTimer(key grant.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.timers[key]; ok {
		close(cancel)
		delete(s.timers, key)
	}
}

// pendingTimers returns the number of armed reversion handles.
func (s *Scheduler) pendingTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// authority fetches the scope's rank table and the engine's own rank.
func (s *Scheduler) authority(ctx context.Context, scopeID string) (map[string]int, int, error) {
	gwCtx, cancel := context.WithTimeout(ctx, s.gwTimeout)
	defer cancel()

	ranks, err := s.gateway.ScopeRanks(gwCtx, scopeID)
	if err != nil {
		return nil, 0, fmt.Errorf("engine: scope ranks: %w", err)
	}
	ownRank, err := s.gateway.OwnRank(gwCtx, scopeID)
	if err != nil {
		return nil, 0, fmt.Errorf("engine: own rank: %w", err)
	}
	return ranks, ownRank, nil
}

func (s *Scheduler) subjectEntitlements(ctx context.Context, scopeID, subjectID string) ([]string, error) {
	gwCtx, cancel := context.WithTimeout(ctx, s.gwTimeout)
	defer cancel()

	current, err := s.gateway.SubjectEntitlements(gwCtx, scopeID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("engine: subject entitlements: %w", err)
	}
	return current, nil
}

func (s *Scheduler) addEntitlement(ctx context.Context, scopeID, subjectID, id string) error {
	gwCtx, cancel := context.WithTimeout(ctx, s.gwTimeout)
	defer cancel()
	if err := s.gateway.AddEntitlement(gwCtx, scopeID, subjectID, id); err != nil {
		return &entitlement.OpError{Op: "add", EntitlementID: id, Err: err}
	}
	return nil
}

func (s *Scheduler) removeEntitlement(ctx context.Context, scopeID, subjectID, id string) error {
	gwCtx, cancel := context.WithTimeout(ctx, s.gwTimeout)
	defer cancel()
	if err := s.gateway.RemoveEntitlement(gwCtx, scopeID, subjectID, id); err != nil {
		return &entitlement.OpError{Op: "remove", EntitlementID: id, Err: err}
	}
	return nil
}
