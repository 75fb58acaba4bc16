package discord

import (
	"context"
	"fmt"

	"github.com/flemzord/cooldownd/internal/entitlement"
)

// roleGateway implements entitlement.Gateway over Discord guild roles. A
// scope is a guild, a subject is a member, an entitlement is a role, and
// rank is the role's position in the guild hierarchy. The @everyone role
// shares its ID with the guild and acts as the neutral entitlement.
type roleGateway struct {
	client *Client
	botID  string
}

func newRoleGateway(client *Client, botID string) *roleGateway {
	return &roleGateway{client: client, botID: botID}
}

var _ entitlement.Gateway = (*roleGateway)(nil)

func (g *roleGateway) SubjectEntitlements(ctx context.Context, scopeID, subjectID string) ([]string, error) {
	member, err := g.client.GetGuildMember(ctx, scopeID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("discord: fetch member %s: %w", subjectID, err)
	}
	return member.Roles, nil
}

func (g *roleGateway) AddEntitlement(ctx context.Context, scopeID, subjectID, entitlementID string) error {
	return g.client.AddMemberRole(ctx, scopeID, subjectID, entitlementID)
}

func (g *roleGateway) RemoveEntitlement(ctx context.Context, scopeID, subjectID, entitlementID string) error {
	return g.client.RemoveMemberRole(ctx, scopeID, subjectID, entitlementID)
}

func (g *roleGateway) ScopeRanks(ctx context.Context, scopeID string) (map[string]int, error) {
	roles, err := g.client.GetGuildRoles(ctx, scopeID)
	if err != nil {
		return nil, fmt.Errorf("discord: fetch roles for guild %s: %w", scopeID, err)
	}
	ranks := make(map[string]int, len(roles))
	for _, r := range roles {
		ranks[r.ID] = r.Position
	}
	return ranks, nil
}

// OwnRank is the highest position among the bot's own roles. Discord only
// lets a member manage roles strictly below its top role.
func (g *roleGateway) OwnRank(ctx context.Context, scopeID string) (int, error) {
	member, err := g.client.GetGuildMember(ctx, scopeID, g.botID)
	if err != nil {
		return 0, fmt.Errorf("discord: fetch own member %s: %w", g.botID, err)
	}
	ranks, err := g.ScopeRanks(ctx, scopeID)
	if err != nil {
		return 0, err
	}
	own := 0
	for _, id := range member.Roles {
		if pos, ok := ranks[id]; ok && pos > own {
			own = pos
		}
	}
	return own, nil
}

func (g *roleGateway) Neutral(scopeID string) string {
	// The @everyone role ID equals the guild ID.
	return scopeID
}
