package entitlement

// Partition is the result of splitting a subject's entitlements by the
// acting authority's rank.
type Partition struct {
	// Removable holds entitlements ranked strictly below the authority,
	// excluding the neutral and restricted entitlements. These are safe to
	// remove and restore.
	Removable []string

	// Skipped holds entitlements at or above the authority's rank. They
	// cannot be touched and are reported to the caller, never silently
	// dropped.
	Skipped []string

	// RestrictedAssignable reports whether the restricted entitlement
	// itself ranks below the authority and can therefore be applied. When
	// false the whole grant must fail before any mutation.
	RestrictedAssignable bool

	// RestrictedExists reports whether the restricted entitlement is
	// defined in the scope at all.
	RestrictedExists bool
}

// Split partitions the subject's current entitlements given the scope's
// rank table and the acting authority's own rank. Entitlements missing from
// the rank table no longer exist in the scope and are dropped outright.
// Pure function: no I/O, no mutation of inputs.
func Split(current []string, ranks map[string]int, neutral, restricted string, ownRank int) Partition {
	restrictedRank, restrictedExists := ranks[restricted]

	p := Partition{
		RestrictedExists:     restrictedExists,
		RestrictedAssignable: restrictedExists && restrictedRank < ownRank,
	}

	for _, id := range current {
		if id == neutral || id == restricted {
			continue
		}
		rank, exists := ranks[id]
		if !exists {
			continue
		}
		if rank < ownRank {
			p.Removable = append(p.Removable, id)
		} else {
			p.Skipped = append(p.Skipped, id)
		}
	}

	return p
}
