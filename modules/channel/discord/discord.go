package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flemzord/cooldownd/internal/core"
	"github.com/flemzord/cooldownd/internal/engine"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Discord{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Discord)(nil)
	_ core.Provisioner  = (*Discord)(nil)
	_ core.Validator    = (*Discord)(nil)
	_ core.Starter      = (*Discord)(nil)
	_ core.Stopper      = (*Discord)(nil)
)

// Discord connects the engine to Discord: it exposes guild roles as the
// entitlement gateway, receives slash commands over the gateway websocket,
// and announces releases. List this module before engine.cooldown in the
// config so the gateway is authenticated before the engine recovers grants.
type Discord struct {
	config  Config
	client  *Client
	logger  *slog.Logger
	appCtx  *core.AppContext
	gateway *roleGateway
	socket  *Socket
	botUser *User
}

// ModuleInfo implements core.Module.
func (d *Discord) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "channel.discord",
		New: func() core.Module { return &Discord{} },
	}
}

// Configure implements core.Configurable.
func (d *Discord) Configure(node *yaml.Node) error {
	if err := node.Decode(&d.config); err != nil {
		return fmt.Errorf("discord: decode config: %w", err)
	}
	d.config.defaults()
	return nil
}

// Provision implements core.Provisioner. The entitlement gateway and the
// release notifier are registered here so the engine can resolve them;
// the gateway learns the bot's own ID during Start.
func (d *Discord) Provision(ctx *core.AppContext) error {
	d.appCtx = ctx
	d.logger = ctx.Logger
	if ctx.Redactor != nil {
		ctx.Redactor.AddLiteral(d.config.Token)
	}
	d.client = NewClient(d.config.Token, d.config.APIURL)
	d.gateway = newRoleGateway(d.client, "")
	ctx.RegisterService("entitlement.gateway", d.gateway)
	if d.config.AnnounceChannel != "" {
		ctx.RegisterService("release.notifier", &releaseNotifier{
			client:    d.client,
			channelID: d.config.AnnounceChannel,
			logger:    ctx.Logger,
		})
	}
	return nil
}

// Validate implements core.Validator.
func (d *Discord) Validate() error {
	return d.config.validate()
}

// Start implements core.Starter. It validates the token, registers slash
// commands, and opens the gateway websocket.
func (d *Discord) Start() error {
	ctx := context.Background()

	user, err := d.client.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("discord: authenticate (check token): %w", err)
	}
	d.botUser = user
	d.gateway.botID = user.ID
	d.logger.Info("discord: bot authenticated",
		"id", user.ID,
		"username", user.Username,
	)

	if d.config.registerCommands() {
		if err := d.client.BulkSetCommands(ctx, d.config.ApplicationID, commandDefinitions()); err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		d.logger.Info("discord: slash commands registered",
			"application_id", d.config.ApplicationID,
		)
	}

	svc, ok := d.appCtx.Service("engine")
	if !ok {
		return errors.New("discord: engine service not available, is engine.cooldown configured?")
	}
	eng, ok := svc.(Engine)
	if !ok {
		return errors.New("discord: engine service has unexpected type")
	}

	handler := &interactionHandler{
		engine:    eng,
		responder: d.client,
		logger:    d.logger,
	}
	d.socket = NewSocket(d.client, d.config.Token, d.config.GatewayURL, handler.handleDispatch, d.logger)
	if err := d.socket.Start(ctx); err != nil {
		return err
	}
	d.logger.Info("discord: gateway connected")
	return nil
}

// Stop implements core.Stopper.
func (d *Discord) Stop(ctx context.Context) error {
	if d.socket == nil {
		return nil
	}
	return d.socket.Stop(ctx)
}

// releaseNotifier posts release announcements to the configured channel.
// Failures are logged, never propagated: announcements are best effort.
type releaseNotifier struct {
	client    *Client
	channelID string
	logger    *slog.Logger
}

var _ engine.Notifier = (*releaseNotifier)(nil)

func (n *releaseNotifier) NotifyRelease(ctx context.Context, scopeID, subjectID string, res engine.RestoreResult) {
	var content string
	switch res.Reason {
	case engine.ReasonExpired, engine.ReasonSweep, engine.ReasonRecovered:
		content = fmt.Sprintf("<@%s>'s timeout has expired.", subjectID)
	case engine.ReasonEarly:
		content = fmt.Sprintf("<@%s> ended their timeout early.", subjectID)
	case engine.ReasonOverride:
		content = fmt.Sprintf("<@%s>'s timeout was lifted by a moderator.", subjectID)
	default:
		content = fmt.Sprintf("<@%s> is out of timeout.", subjectID)
	}
	if err := n.client.CreateMessage(ctx, n.channelID, content); err != nil {
		n.logger.Warn("discord: announce release",
			"channel_id", n.channelID, "subject", subjectID, "error", err)
	}
}
