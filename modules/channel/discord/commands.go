package discord

// Slash command names.
const (
	cmdTimeout  = "timeout"
	cmdRelease  = "release"
	cmdOverride = "override"
)

// moderateMembersPermission is Discord's MODERATE_MEMBERS bit (1 << 40),
// used to hide the override command from regular members.
const moderateMembersPermission = "1099511627776"

// commandDefinitions returns the application commands the bot registers on
// startup. Registration is global; Discord propagates updates within an
// hour, immediately for guilds the bot was just added to.
func commandDefinitions() []ApplicationCommand {
	return []ApplicationCommand{
		{
			Name:        cmdTimeout,
			Description: "Put a member in timeout for a while",
			Options: []ApplicationCommandOption{
				{
					Type:        optionTypeUser,
					Name:        "member",
					Description: "Who to put in timeout",
					Required:    true,
				},
				{
					Type:        optionTypeString,
					Name:        "duration",
					Description: "How long, like 30m or 2h",
				},
			},
		},
		{
			Name:        cmdRelease,
			Description: "End your own timeout early",
		},
		{
			Name:                     cmdOverride,
			Description:              "End a member's timeout (moderators only)",
			DefaultMemberPermissions: moderateMembersPermission,
			Options: []ApplicationCommandOption{
				{
					Type:        optionTypeUser,
					Name:        "member",
					Description: "Whose timeout to end",
					Required:    true,
				},
			},
		},
	}
}
