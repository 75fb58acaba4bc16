package entitlement

import (
	"slices"
	"testing"
)

func TestSplit(t *testing.T) {
	t.Parallel()

	ranks := map[string]int{
		"neutral":    0,
		"cooldown":   5,
		"member":     1,
		"helper":     3,
		"moderator":  8,
		"founder":    12,
		"ghost-role": 2,
	}

	tests := []struct {
		name           string
		current        []string
		ownRank        int
		wantRemovable  []string
		wantSkipped    []string
		wantAssignable bool
	}{
		{
			name:           "mixed ranks",
			current:        []string{"neutral", "member", "helper", "moderator"},
			ownRank:        10,
			wantRemovable:  []string{"member", "helper"},
			wantSkipped:    []string{"moderator"},
			wantAssignable: true,
		},
		{
			name:           "authority outranked by everything",
			current:        []string{"neutral", "member", "moderator"},
			ownRank:        1,
			wantRemovable:  nil,
			wantSkipped:    []string{"member", "moderator"},
			wantAssignable: false,
		},
		{
			name:           "equal rank is skipped",
			current:        []string{"moderator"},
			ownRank:        8,
			wantRemovable:  nil,
			wantSkipped:    []string{"moderator"},
			wantAssignable: true,
		},
		{
			name:           "restricted held by subject is excluded",
			current:        []string{"cooldown", "member"},
			ownRank:        10,
			wantRemovable:  []string{"member"},
			wantSkipped:    nil,
			wantAssignable: true,
		},
		{
			name:           "vanished entitlement dropped",
			current:        []string{"member", "deleted-role"},
			ownRank:        10,
			wantRemovable:  []string{"member"},
			wantSkipped:    nil,
			wantAssignable: true,
		},
		{
			name:           "empty set",
			current:        nil,
			ownRank:        10,
			wantRemovable:  nil,
			wantSkipped:    nil,
			wantAssignable: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := Split(tc.current, ranks, "neutral", "cooldown", tc.ownRank)

			if !slices.Equal(p.Removable, tc.wantRemovable) {
				t.Errorf("Removable = %v, want %v", p.Removable, tc.wantRemovable)
			}
			if !slices.Equal(p.Skipped, tc.wantSkipped) {
				t.Errorf("Skipped = %v, want %v", p.Skipped, tc.wantSkipped)
			}
			if p.RestrictedAssignable != tc.wantAssignable {
				t.Errorf("RestrictedAssignable = %v, want %v", p.RestrictedAssignable, tc.wantAssignable)
			}
			if !p.RestrictedExists {
				t.Error("RestrictedExists = false, want true")
			}
		})
	}
}

func TestSplit_RestrictedMissingFromScope(t *testing.T) {
	t.Parallel()

	p := Split([]string{"member"}, map[string]int{"member": 1}, "neutral", "cooldown", 10)
	if p.RestrictedExists {
		t.Error("RestrictedExists = true, want false")
	}
	if p.RestrictedAssignable {
		t.Error("RestrictedAssignable = true for a missing entitlement")
	}
}
