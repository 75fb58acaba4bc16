package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

// adminClient calls the running daemon's admin HTTP API.
type adminClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *adminClient) do(ctx context.Context, method, path, body string) (string, error) {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("admin api unreachable (is cooldownd running?): %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("admin api: %s: %s", resp.Status, bytes.TrimSpace(data))
	}
	return string(data), nil
}

// mcpCmd exposes the admin API as MCP tools over stdio, so an MCP client
// can inspect and manage timeouts through the running daemon.
func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the admin API as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			token, _ := cmd.Flags().GetString("token")
			if token == "" {
				return fmt.Errorf("--token is required (the gateway's bearer token)")
			}

			client := &adminClient{
				baseURL: "http://" + addr,
				token:   token,
				http:    &http.Client{Timeout: 30 * time.Second},
			}

			s := server.NewMCPServer("cooldownd", version,
				server.WithToolCapabilities(false),
			)

			s.AddTool(
				mcp.NewTool("list_timeouts",
					mcp.WithDescription("List all active timeouts, ordered by deadline."),
				),
				func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
					out, err := client.do(ctx, http.MethodGet, "/api/grants", "")
					if err != nil {
						return mcp.NewToolResultError(err.Error()), nil
					}
					return mcp.NewToolResultText(out), nil
				},
			)

			s.AddTool(
				mcp.NewTool("create_timeout",
					mcp.WithDescription("Put a member in timeout."),
					mcp.WithString("guild_id", mcp.Required(),
						mcp.Description("The guild (server) ID.")),
					mcp.WithString("user_id", mcp.Required(),
						mcp.Description("The member's user ID.")),
					mcp.WithString("duration",
						mcp.Description("How long, like 30m or 2h. Defaults to the configured duration.")),
				),
				func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
					guildID, err := req.RequireString("guild_id")
					if err != nil {
						return mcp.NewToolResultError(err.Error()), nil
					}
					userID, err := req.RequireString("user_id")
					if err != nil {
						return mcp.NewToolResultError(err.Error()), nil
					}
					duration := req.GetString("duration", "")

					body := fmt.Sprintf(`{"scope_id":%q,"subject_id":%q,"duration":%q}`,
						guildID, userID, duration)
					out, err := client.do(ctx, http.MethodPost, "/api/grants", body)
					if err != nil {
						return mcp.NewToolResultError(err.Error()), nil
					}
					return mcp.NewToolResultText(out), nil
				},
			)

			s.AddTool(
				mcp.NewTool("release_timeout",
					mcp.WithDescription("End a member's timeout and restore their roles."),
					mcp.WithString("guild_id", mcp.Required(),
						mcp.Description("The guild (server) ID.")),
					mcp.WithString("user_id", mcp.Required(),
						mcp.Description("The member's user ID.")),
				),
				func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
					guildID, err := req.RequireString("guild_id")
					if err != nil {
						return mcp.NewToolResultError(err.Error()), nil
					}
					userID, err := req.RequireString("user_id")
					if err != nil {
						return mcp.NewToolResultError(err.Error()), nil
					}

					path := fmt.Sprintf("/api/grants/%s/%s", guildID, userID)
					out, err := client.do(ctx, http.MethodDelete, path, "")
					if err != nil {
						return mcp.NewToolResultError(err.Error()), nil
					}
					return mcp.NewToolResultText(out), nil
				},
			)

			s.AddTool(
				mcp.NewTool("daemon_status",
					mcp.WithDescription("Report daemon uptime and active timeout count."),
				),
				func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
					out, err := client.do(ctx, http.MethodGet, "/status", "")
					if err != nil {
						return mcp.NewToolResultError(err.Error()), nil
					}
					return mcp.NewToolResultText(out), nil
				},
			)

			return server.ServeStdio(s)
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:8080", "Admin API address")
	cmd.Flags().String("token", "", "Admin API bearer token")
	return cmd
}
