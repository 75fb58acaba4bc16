package discord

import (
	"fmt"
	"net/url"
)

// Config holds the Discord channel configuration.
type Config struct {
	// Token is the bot token. Required.
	Token string `yaml:"token"`

	// ApplicationID is the application the slash commands belong to.
	// Required for command registration.
	ApplicationID string `yaml:"application_id"`

	// AnnounceChannel is the channel ID that receives release
	// announcements. Empty disables announcements.
	AnnounceChannel string `yaml:"announce_channel"`

	// RegisterCommands controls whether the slash commands are
	// bulk-overwritten at startup. Defaults to true.
	RegisterCommands *bool `yaml:"register_commands"`

	// APIURL overrides the REST endpoint, for tests.
	APIURL string `yaml:"api_url"`

	// GatewayURL overrides the websocket endpoint, for tests. Empty means
	// the URL returned by the Get Gateway Bot call is used.
	GatewayURL string `yaml:"gateway_url"`
}

// defaults applies default values to unset fields.
func (c *Config) defaults() {
	if c.APIURL == "" {
		c.APIURL = "https://discord.com/api/v10"
	}
	if c.RegisterCommands == nil {
		t := true
		c.RegisterCommands = &t
	}
}

// validate checks configuration field constraints beyond basic presence
// checks. It is called from Discord.Validate after defaults have been
// applied.
func (c *Config) validate() error {
	if c.Token == "" {
		return fmt.Errorf("discord: token is required")
	}
	if c.ApplicationID == "" {
		return fmt.Errorf("discord: application_id is required")
	}
	if c.APIURL != "" {
		u, err := url.Parse(c.APIURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("discord: api_url must be a valid http/https URL, got %q", c.APIURL)
		}
	}
	return nil
}

func (c *Config) registerCommands() bool {
	return c.RegisterCommands == nil || *c.RegisterCommands
}
