package discord

import "encoding/json"

// User is a Discord user.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot,omitempty"`
}

// Role is a guild role. Position is the role's place in the guild's role
// hierarchy; a member may only manage roles positioned strictly below their
// own highest role.
type Role struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
	Managed  bool   `json:"managed,omitempty"`
}

// Member is a guild member. Roles excludes the guild's @everyone role.
type Member struct {
	User  *User    `json:"user,omitempty"`
	Nick  string   `json:"nick,omitempty"`
	Roles []string `json:"roles"`
}

// GatewayBot is the response of the Get Gateway Bot call.
type GatewayBot struct {
	URL string `json:"url"`
}

// Message is an outbound channel message.
type Message struct {
	Content string `json:"content"`
}

// APIError is a Discord REST error response.
type APIError struct {
	Status     int     `json:"-"`
	Code       int     `json:"code"`
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return "discord: api error " + e.Message
	}
	return "discord: api error"
}

// Interaction types.
const (
	interactionPing               = 1
	interactionApplicationCommand = 2
)

// Interaction callback types.
const (
	callbackPong                     = 1
	callbackChannelMessageWithSource = 4
)

// messageFlagEphemeral makes an interaction reply visible only to the
// invoking user.
const messageFlagEphemeral = 1 << 6

// Interaction is a received INTERACTION_CREATE payload, trimmed to the
// fields the command handlers use.
type Interaction struct {
	ID        string           `json:"id"`
	Token     string           `json:"token"`
	Type      int              `json:"type"`
	GuildID   string           `json:"guild_id"`
	ChannelID string           `json:"channel_id"`
	Member    *Member          `json:"member,omitempty"`
	Data      *InteractionData `json:"data,omitempty"`
}

// InteractionData carries the invoked command and its arguments.
type InteractionData struct {
	Name    string              `json:"name"`
	Options []InteractionOption `json:"options,omitempty"`
}

// InteractionOption is one command argument. Value holds a string for both
// STRING and USER options (user options carry the user's ID).
type InteractionOption struct {
	Name  string          `json:"name"`
	Type  int             `json:"type"`
	Value json.RawMessage `json:"value"`
}

// String returns the option value as a string, tolerating both quoted and
// bare JSON scalars.
func (o InteractionOption) String() string {
	var s string
	if err := json.Unmarshal(o.Value, &s); err == nil {
		return s
	}
	return string(o.Value)
}

// InteractionResponse answers an interaction.
type InteractionResponse struct {
	Type int                      `json:"type"`
	Data *InteractionResponseData `json:"data,omitempty"`
}

// InteractionResponseData is the message body of an interaction response.
type InteractionResponseData struct {
	Content string `json:"content,omitempty"`
	Flags   int    `json:"flags,omitempty"`
}

// Application command option types.
const (
	optionTypeString = 3
	optionTypeUser   = 6
)

// ApplicationCommand defines a slash command for bulk registration.
type ApplicationCommand struct {
	Name                     string                     `json:"name"`
	Description              string                     `json:"description"`
	Options                  []ApplicationCommandOption `json:"options,omitempty"`
	DefaultMemberPermissions string                     `json:"default_member_permissions,omitempty"`
	DMPermission             bool                       `json:"dm_permission"`
}

// ApplicationCommandOption defines one slash command argument.
type ApplicationCommandOption struct {
	Type        int    `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required,omitempty"`
}

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatACK   = 11
)

// gatewayPayload is the envelope for all gateway traffic.
type gatewayPayload struct {
	Op   int             `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
	Seq  *int64          `json:"s,omitempty"`
	Type string          `json:"t,omitempty"`
}

// helloData is the op 10 payload.
type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// readyData is the READY dispatch payload.
type readyData struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
	User             User   `json:"user"`
}

// identifyData is the op 2 payload. Intents stays zero: interactions
// arrive without any privileged intent.
type identifyData struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// resumeData is the op 6 payload.
type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}
