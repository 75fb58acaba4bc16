package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/cooldownd/internal/grant"
)

// restore is the single code path that reverts a subject to its pre-grant
// entitlement set. It is shared by the automatic timer, EarlyRelease,
// Override, recovery, and the deadline sweep; the store's atomic Pop makes
// it idempotent: whichever caller pops the grant performs the reversion,
// every other caller observes grant.ErrNotActive and changes nothing.
func (s *Scheduler) restore(ctx context.Context, key grant.Key, reason ReleaseReason) (RestoreResult, error) {
	ctx, span := s.tracer.Start(ctx, "engine.restore", trace.WithAttributes(
		attribute.String("scope", key.ScopeID),
		attribute.String("subject", key.SubjectID),
		attribute.String("reason", string(reason)),
	))
	defer span.End()

	g, ok, err := s.store.Pop(ctx, key)
	if err != nil {
		return RestoreResult{}, fmt.Errorf("engine: pop grant: %w", err)
	}
	if !ok {
		return RestoreResult{}, grant.ErrNotActive
	}

	// The grant is ours now; make sure no timer handle outlives it.
	s.cancelTimer(key)
	s.metrics.Active.Dec()

	res := RestoreResult{Reason: reason}

	// Ranks can change between grant and release; re-derive what is still
	// manageable at the current authority rank. If the rank lookup itself
	// fails the reversion proceeds best-effort: every entitlement is
	// attempted and individual failures land in Skipped.
	ranks, ownRank, err := s.authority(ctx, key.ScopeID)
	attemptAll := false
	if err != nil {
		s.logger.Warn("rank lookup failed during restore, attempting all",
			"scope", key.ScopeID, "subject", key.SubjectID, "error", err)
		attemptAll = true
	}

	assignable := func(id string) bool {
		if attemptAll {
			return true
		}
		rank, exists := ranks[id]
		return exists && rank < ownRank
	}

	if assignable(s.restricted) {
		if err := s.removeEntitlement(ctx, key.ScopeID, key.SubjectID, s.restricted); err != nil {
			s.logger.Warn("restricted entitlement removal failed",
				"scope", key.ScopeID, "subject", key.SubjectID, "error", err)
			s.metrics.GatewayErrors.Inc()
			res.Skipped = append(res.Skipped, s.restricted)
		}
	} else {
		res.Skipped = append(res.Skipped, s.restricted)
	}

	for _, id := range g.BackedUp {
		if !assignable(id) {
			res.Skipped = append(res.Skipped, id)
			continue
		}
		if err := s.addEntitlement(ctx, key.ScopeID, key.SubjectID, id); err != nil {
			s.logger.Warn("entitlement restore failed",
				"scope", key.ScopeID, "subject", key.SubjectID, "entitlement", id, "error", err)
			s.metrics.GatewayErrors.Inc()
			res.Skipped = append(res.Skipped, id)
			continue
		}
		res.Restored = append(res.Restored, id)
	}

	s.metrics.Released.WithLabelValues(string(reason)).Inc()

	s.logger.Info("grant released",
		"scope", key.ScopeID, "subject", key.SubjectID, "reason", string(reason),
		"restored", len(res.Restored), "skipped", len(res.Skipped),
		"held", time.Since(g.CreatedAt).Round(time.Second).String())

	if s.notifier != nil {
		s.notifier.NotifyRelease(ctx, key.ScopeID, key.SubjectID, res)
	}

	return res, nil
}

// SweepExpired releases every stored grant whose deadline has passed. It is
// the reconciliation net behind the one-shot timers (lost timers after a
// partial failure, clock adjustments). Races with a concurrently firing
// timer are resolved by Pop: the loser's ErrNotActive is ignored.
func (s *Scheduler) SweepExpired(ctx context.Context) (int, error) {
	grants, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("engine: list grants for sweep: %w", err)
	}

	now := s.now()
	released := 0
	for _, g := range grants {
		if !g.Expired(now) {
			continue
		}
		if _, err := s.restore(ctx, g.Key(), ReasonSweep); err != nil {
			if errors.Is(err, grant.ErrNotActive) {
				continue
			}
			return released, err
		}
		released++
	}
	return released, nil
}
