// Package grant defines the persisted cooldown grant record, the durable
// store contract, and the duration grammar used by command input.
package grant

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for grant operations.
var (
	// ErrAlreadyActive indicates a grant already exists for the subject in
	// the scope. Stacking is rejected, not merged.
	ErrAlreadyActive = errors.New("grant: already active")

	// ErrNotActive indicates a release was requested for a subject without
	// an active grant.
	ErrNotActive = errors.New("grant: not active")
)

// Grant is the unit of persisted state: one active timed override for one
// subject within one scope. Released grants are deleted, not archived, so
// every stored grant is active by definition; expiry is derived from
// Deadline, never stored.
type Grant struct {
	// SubjectID identifies the member whose entitlements are overridden.
	SubjectID string

	// ScopeID identifies the community the grant applies within.
	ScopeID string

	// BackedUp lists the entitlement IDs removed from the subject at grant
	// time. Order is irrelevant; membership must be exact. It never contains
	// the restricted entitlement or an entitlement the engine was not
	// authorized to manage at creation time.
	BackedUp []string

	// Deadline is the instant after which the grant is eligible for
	// automatic reversion.
	Deadline time.Time

	// CreatedAt is when the grant was established.
	CreatedAt time.Time
}

// Key identifies a grant in the store.
type Key struct {
	SubjectID string
	ScopeID   string
}

// Key returns the store key for the grant.
func (g Grant) Key() Key {
	return Key{SubjectID: g.SubjectID, ScopeID: g.ScopeID}
}

// Expired reports whether the grant's deadline has passed at the given time.
func (g Grant) Expired(now time.Time) bool {
	return !now.Before(g.Deadline)
}

// Store is the durable grant ledger. Implementations must make TryCreate and
// Pop atomic: TryCreate is the sole stacking guard (exactly one of several
// concurrent creates for the same key succeeds) and Pop is the sole removal
// path (exactly one of several racing releases observes the grant). Every
// mutation is flushed to stable storage before the call returns.
type Store interface {
	// TryCreate inserts the grant if no grant exists for its key, returning
	// ErrAlreadyActive otherwise.
	TryCreate(ctx context.Context, g Grant) error

	// Get returns the grant for the key, with ok=false if absent.
	Get(ctx context.Context, key Key) (Grant, bool, error)

	// Pop atomically removes and returns the grant for the key, with
	// ok=false if absent.
	Pop(ctx context.Context, key Key) (Grant, bool, error)

	// List returns all stored grants. Used by startup recovery, the
	// deadline sweep, and the admin API.
	List(ctx context.Context) ([]Grant, error)
}
