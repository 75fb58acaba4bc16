// Package entitlementtest provides a scripted in-memory entitlement.Gateway
// for engine tests.
package entitlementtest

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Gateway is a concurrency-safe fake platform. Ranks, held entitlements,
// and per-entitlement failures are all mutable between calls so tests can
// model ranks changing between grant and release.
type Gateway struct {
	mu sync.Mutex

	// ranks maps entitlement ID to authority rank, per scope.
	ranks map[string]map[string]int

	// held maps "scope/subject" to the subject's entitlement IDs.
	held map[string][]string

	ownRank    map[string]int
	neutral    map[string]string
	failAdd    map[string]error
	failRemove map[string]error

	// Calls records every mutation as "add scope subject id" /
	// "remove scope subject id", in order.
	Calls []string
}

// NewGateway creates an empty fake gateway.
func NewGateway() *Gateway {
	return &Gateway{
		ranks:      make(map[string]map[string]int),
		held:       make(map[string][]string),
		ownRank:    make(map[string]int),
		neutral:    make(map[string]string),
		failAdd:    make(map[string]error),
		failRemove: make(map[string]error),
	}
}

func key(scopeID, subjectID string) string { return scopeID + "/" + subjectID }

// SetScope configures a scope's rank table, own rank, and neutral
// entitlement in one call.
func (g *Gateway) SetScope(scopeID string, ranks map[string]int, ownRank int, neutral string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := make(map[string]int, len(ranks))
	for id, r := range ranks {
		cp[id] = r
	}
	g.ranks[scopeID] = cp
	g.ownRank[scopeID] = ownRank
	g.neutral[scopeID] = neutral
}

// SetRank changes a single entitlement's rank, for modelling rank drift
// between grant and release.
func (g *Gateway) SetRank(scopeID, entitlementID string, rank int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ranks[scopeID][entitlementID] = rank
}

// SetHeld replaces the subject's entitlement set.
func (g *Gateway) SetHeld(scopeID, subjectID string, ids ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.held[key(scopeID, subjectID)] = slices.Clone(ids)
}

// Held returns a copy of the subject's current entitlement set.
func (g *Gateway) Held(scopeID, subjectID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.held[key(scopeID, subjectID)])
}

// FailAdd makes AddEntitlement fail for the given entitlement ID.
func (g *Gateway) FailAdd(entitlementID string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failAdd[entitlementID] = err
}

// FailRemove makes RemoveEntitlement fail for the given entitlement ID.
func (g *Gateway) FailRemove(entitlementID string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failRemove[entitlementID] = err
}

// SubjectEntitlements implements entitlement.Gateway.
func (g *Gateway) SubjectEntitlements(_ context.Context, scopeID, subjectID string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.held[key(scopeID, subjectID)]), nil
}

// AddEntitlement implements entitlement.Gateway.
func (g *Gateway) AddEntitlement(_ context.Context, scopeID, subjectID, entitlementID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Calls = append(g.Calls, fmt.Sprintf("add %s %s %s", scopeID, subjectID, entitlementID))
	if err := g.failAdd[entitlementID]; err != nil {
		return err
	}
	k := key(scopeID, subjectID)
	if !slices.Contains(g.held[k], entitlementID) {
		g.held[k] = append(g.held[k], entitlementID)
	}
	return nil
}

// RemoveEntitlement implements entitlement.Gateway.
func (g *Gateway) RemoveEntitlement(_ context.Context, scopeID, subjectID, entitlementID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Calls = append(g.Calls, fmt.Sprintf("remove %s %s %s", scopeID, subjectID, entitlementID))
	if err := g.failRemove[entitlementID]; err != nil {
		return err
	}
	k := key(scopeID, subjectID)
	g.held[k] = slices.DeleteFunc(g.held[k], func(id string) bool { return id == entitlementID })
	return nil
}

// ScopeRanks implements entitlement.Gateway.
func (g *Gateway) ScopeRanks(_ context.Context, scopeID string) (map[string]int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int, len(g.ranks[scopeID]))
	for id, r := range g.ranks[scopeID] {
		out[id] = r
	}
	return out, nil
}

// OwnRank implements entitlement.Gateway.
func (g *Gateway) OwnRank(_ context.Context, scopeID string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ownRank[scopeID], nil
}

// Neutral implements entitlement.Gateway.
func (g *Gateway) Neutral(scopeID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.neutral[scopeID]
}

// MutationCount returns how many add/remove calls have been made.
func (g *Gateway) MutationCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Calls)
}
