// Package entitlement defines the bridge to the platform that actually
// holds entitlements (roles), and the authority arithmetic that decides
// which of them the engine may touch.
package entitlement

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for gateway-backed operations.
var (
	// ErrRestrictedMissing indicates the configured restricted entitlement
	// does not exist in the scope.
	ErrRestrictedMissing = errors.New("entitlement: restricted entitlement missing from scope")

	// ErrNotAssignable indicates the restricted entitlement exists but
	// outranks the engine's own authority, so a grant cannot be applied.
	ErrNotAssignable = errors.New("entitlement: restricted entitlement not assignable")
)

// Gateway is the platform bridge. Every concrete platform (Discord, a test
// fake, ...) implements this interface. Calls may take network round trips;
// callers bound them with a context deadline. Add/Remove act on a single
// entitlement and may fail individually with a platform permission error;
// the engine collects such failures instead of aborting.
type Gateway interface {
	// SubjectEntitlements lists the entitlement IDs the subject currently
	// holds in the scope, excluding nothing: the neutral entitlement is
	// filtered by the caller.
	SubjectEntitlements(ctx context.Context, scopeID, subjectID string) ([]string, error)

	// AddEntitlement grants one entitlement to the subject.
	AddEntitlement(ctx context.Context, scopeID, subjectID, entitlementID string) error

	// RemoveEntitlement revokes one entitlement from the subject.
	RemoveEntitlement(ctx context.Context, scopeID, subjectID, entitlementID string) error

	// ScopeRanks returns the authority rank of every entitlement defined in
	// the scope. Absence from the map means the entitlement no longer
	// exists.
	ScopeRanks(ctx context.Context, scopeID string) (map[string]int, error)

	// OwnRank returns the acting authority's own rank in the scope.
	OwnRank(ctx context.Context, scopeID string) (int, error)

	// Neutral returns the scope's neutral entitlement, held by every
	// subject and never manipulated.
	Neutral(scopeID string) string
}

// OpError records a single failed gateway mutation. The engine accumulates
// these and reports them as skipped items rather than failing the whole
// operation.
type OpError struct {
	Op            string // "add" or "remove"
	EntitlementID string
	Err           error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("entitlement: %s %s: %v", e.Op, e.EntitlementID, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
