package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flemzord/cooldownd/internal/engine"
	"github.com/flemzord/cooldownd/internal/entitlement"
	"github.com/flemzord/cooldownd/internal/grant"
)

// Engine is the subset of the cooldown engine the command handlers drive.
type Engine interface {
	ParseDuration(raw string) time.Duration
	CreateGrant(ctx context.Context, scopeID, subjectID string, d time.Duration) (engine.CreateResult, error)
	EarlyRelease(ctx context.Context, scopeID, subjectID string) (engine.RestoreResult, error)
	Override(ctx context.Context, actorID, scopeID, subjectID string) (engine.RestoreResult, error)
}

// responder answers interactions. Satisfied by *Client.
type responder interface {
	RespondToInteraction(ctx context.Context, interactionID, token string, resp InteractionResponse) error
}

// interactionHandler routes slash commands to the engine and renders the
// outcome as interaction replies.
type interactionHandler struct {
	engine    Engine
	responder responder
	logger    *slog.Logger
}

// handleDispatch is the gateway dispatch entry point.
func (h *interactionHandler) handleDispatch(ctx context.Context, event string, data json.RawMessage) {
	if event != "INTERACTION_CREATE" {
		return
	}
	var in Interaction
	if err := json.Unmarshal(data, &in); err != nil {
		h.logger.Warn("discord: decode interaction", "error", err)
		return
	}
	h.handleInteraction(ctx, in)
}

func (h *interactionHandler) handleInteraction(ctx context.Context, in Interaction) {
	if in.Type != interactionApplicationCommand || in.Data == nil {
		return
	}
	if in.GuildID == "" || in.Member == nil || in.Member.User == nil {
		h.reply(ctx, in, "This command only works inside a server.", true)
		return
	}

	var content string
	var ephemeral bool
	switch in.Data.Name {
	case cmdTimeout:
		content, ephemeral = h.timeout(ctx, in)
	case cmdRelease:
		content, ephemeral = h.release(ctx, in)
	case cmdOverride:
		content, ephemeral = h.override(ctx, in)
	default:
		h.logger.Warn("discord: unknown command", "command", in.Data.Name)
		return
	}
	h.reply(ctx, in, content, ephemeral)
}

func (h *interactionHandler) timeout(ctx context.Context, in Interaction) (string, bool) {
	target := optionValue(in.Data.Options, "member")
	if target == "" {
		return "I need to know who to put in timeout.", true
	}

	d := h.engine.ParseDuration(optionValue(in.Data.Options, "duration"))
	res, err := h.engine.CreateGrant(ctx, in.GuildID, target, d)
	switch {
	case err == nil:
		msg := fmt.Sprintf("<@%s> is in timeout for %s.", target, formatDuration(d))
		if len(res.Skipped) > 0 {
			msg += "\nCould not remove some roles: " + mentionRoles(res.Skipped)
		}
		return msg, false
	case errors.Is(err, grant.ErrAlreadyActive):
		return fmt.Sprintf("<@%s> is already in timeout.", target), true
	case errors.Is(err, entitlement.ErrRestrictedMissing):
		return "The timeout role does not exist in this server.", true
	case errors.Is(err, entitlement.ErrNotAssignable):
		return "The timeout role is above my highest role, I cannot assign it.", true
	default:
		h.logger.Error("discord: timeout command failed",
			"guild_id", in.GuildID, "target", target, "error", err)
		return "Something went wrong, the timeout was not applied.", true
	}
}

func (h *interactionHandler) release(ctx context.Context, in Interaction) (string, bool) {
	self := in.Member.User.ID
	res, err := h.engine.EarlyRelease(ctx, in.GuildID, self)
	switch {
	case err == nil:
		msg := fmt.Sprintf("<@%s> is out of timeout.", self)
		if len(res.Skipped) > 0 {
			msg += "\nCould not restore some roles: " + mentionRoles(res.Skipped)
		}
		return msg, false
	case errors.Is(err, grant.ErrNotActive):
		return "You are not in timeout.", true
	default:
		h.logger.Error("discord: release command failed",
			"guild_id", in.GuildID, "subject", self, "error", err)
		return "Something went wrong, try again in a moment.", true
	}
}

func (h *interactionHandler) override(ctx context.Context, in Interaction) (string, bool) {
	target := optionValue(in.Data.Options, "member")
	if target == "" {
		return "I need to know whose timeout to end.", true
	}

	actor := in.Member.User.ID
	res, err := h.engine.Override(ctx, actor, in.GuildID, target)
	switch {
	case err == nil:
		msg := fmt.Sprintf("<@%s> was released from timeout by <@%s>.", target, actor)
		if len(res.Skipped) > 0 {
			msg += "\nCould not restore some roles: " + mentionRoles(res.Skipped)
		}
		return msg, false
	case errors.Is(err, grant.ErrNotActive):
		return fmt.Sprintf("<@%s> is not in timeout.", target), true
	default:
		h.logger.Error("discord: override command failed",
			"guild_id", in.GuildID, "actor", actor, "target", target, "error", err)
		return "Something went wrong, the timeout is still active.", true
	}
}

func (h *interactionHandler) reply(ctx context.Context, in Interaction, content string, ephemeral bool) {
	data := &InteractionResponseData{Content: content}
	if ephemeral {
		data.Flags = messageFlagEphemeral
	}
	resp := InteractionResponse{Type: callbackChannelMessageWithSource, Data: data}
	if err := h.responder.RespondToInteraction(ctx, in.ID, in.Token, resp); err != nil {
		h.logger.Error("discord: respond to interaction",
			"interaction_id", in.ID, "error", err)
	}
}

func optionValue(opts []InteractionOption, name string) string {
	for _, o := range opts {
		if o.Name == name {
			return o.String()
		}
	}
	return ""
}

// formatDuration renders durations the way users typed them: whole hours as
// "2h", everything else as minutes.
func formatDuration(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dm", int(d.Minutes()))
}

func mentionRoles(ids []string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = "<@&" + id + ">"
	}
	return strings.Join(parts, ", ")
}
