// Package discord implements the Discord channel for cooldownd: the REST
// client and gateway socket, the entitlement bridge over guild roles, and
// the slash-command handlers that drive the engine.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	maxRetries       = 3
	initialBackoff   = time.Second
	maxResponseBytes = 8 << 20 // prevent unbounded reads from API responses
)

// Client is a thin HTTP wrapper around the Discord REST API.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
}

// NewClient creates a new Discord REST client.
func NewClient(token, baseURL string) *Client {
	return &Client{
		token:   token,
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// do sends a JSON request to the given route and decodes the response. It
// handles 429 rate limiting via the retry_after body field (max 3 retries,
// exponential backoff fallback). A 204 response decodes into the zero T.
func do[T any](ctx context.Context, c *Client, method, path string, payload any) (*T, error) {
	url := c.baseURL + path

	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("discord: marshal %s %s request: %w", method, path, err)
		}
	}

	backoff := initialBackoff

	for attempt := range maxRetries {
		var body io.Reader
		if data != nil {
			body = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, fmt.Errorf("discord: create %s %s request: %w", method, path, err)
		}
		req.Header.Set("Authorization", "Bot "+c.token)
		if data != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("discord: %s %s request failed: %w", method, path, err)
		}

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("discord: read %s %s response: %w", method, path, err)
		}

		// Handle rate limiting with retry.
		if resp.StatusCode == http.StatusTooManyRequests && attempt < maxRetries-1 {
			var apiErr APIError
			if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.RetryAfter > 0 {
				backoff = time.Duration(apiErr.RetryAfter * float64(time.Second))
			}

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			backoff *= 2
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := &APIError{Status: resp.StatusCode}
			if err := json.Unmarshal(respBody, apiErr); err != nil || apiErr.Message == "" {
				apiErr.Message = fmt.Sprintf("%s %s: status %d", method, path, resp.StatusCode)
			}
			return nil, apiErr
		}

		var result T
		if resp.StatusCode != http.StatusNoContent && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, &result); err != nil {
				return nil, fmt.Errorf("discord: decode %s %s response: %w", method, path, err)
			}
		}
		return &result, nil
	}

	// Unreachable under normal flow, but satisfy the compiler.
	return nil, fmt.Errorf("discord: %s %s: max retries exceeded", method, path)
}

// GetMe returns the bot's own user, validating the token.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	return do[User](ctx, c, http.MethodGet, "/users/@me", nil)
}

// GetGatewayBot returns the websocket URL the bot should connect to.
func (c *Client) GetGatewayBot(ctx context.Context) (*GatewayBot, error) {
	return do[GatewayBot](ctx, c, http.MethodGet, "/gateway/bot", nil)
}

// GetGuildRoles lists all roles defined in the guild.
func (c *Client) GetGuildRoles(ctx context.Context, guildID string) ([]Role, error) {
	roles, err := do[[]Role](ctx, c, http.MethodGet, "/guilds/"+guildID+"/roles", nil)
	if err != nil {
		return nil, err
	}
	return *roles, nil
}

// GetGuildMember fetches one guild member.
func (c *Client) GetGuildMember(ctx context.Context, guildID, userID string) (*Member, error) {
	return do[Member](ctx, c, http.MethodGet, "/guilds/"+guildID+"/members/"+userID, nil)
}

// AddMemberRole assigns a role to a member.
func (c *Client) AddMemberRole(ctx context.Context, guildID, userID, roleID string) error {
	_, err := do[struct{}](ctx, c, http.MethodPut,
		"/guilds/"+guildID+"/members/"+userID+"/roles/"+roleID, nil)
	return err
}

// RemoveMemberRole removes a role from a member.
func (c *Client) RemoveMemberRole(ctx context.Context, guildID, userID, roleID string) error {
	_, err := do[struct{}](ctx, c, http.MethodDelete,
		"/guilds/"+guildID+"/members/"+userID+"/roles/"+roleID, nil)
	return err
}

// BulkSetCommands overwrites the application's global slash commands.
func (c *Client) BulkSetCommands(ctx context.Context, applicationID string, cmds []ApplicationCommand) error {
	_, err := do[json.RawMessage](ctx, c, http.MethodPut,
		"/applications/"+applicationID+"/commands", cmds)
	return err
}

// RespondToInteraction answers an interaction within its 3-second window.
func (c *Client) RespondToInteraction(ctx context.Context, interactionID, token string, resp InteractionResponse) error {
	_, err := do[struct{}](ctx, c, http.MethodPost,
		"/interactions/"+interactionID+"/"+token+"/callback", resp)
	return err
}

// CreateMessage posts a message to a channel.
func (c *Client) CreateMessage(ctx context.Context, channelID, content string) error {
	_, err := do[json.RawMessage](ctx, c, http.MethodPost,
		"/channels/"+channelID+"/messages", Message{Content: content})
	return err
}
