package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/talbotapp/talbot/internal/chat"
	"github.com/talbotapp/talbot/internal/conversation"
	"github.com/talbotapp/talbot/internal/profile"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Chat    *chat.Orchestrator
	Profile *profile.Manager
	Version string
}

// NewMCPServer creates an MCP server exposing the companion's conversation
// and profile to MCP clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"talbot",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("talbot: a supportive chat companion. Messages go through the same crisis check and rules as the app."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Send a message to the companion and return its reply. The exchange is added to the conversation."),
			mcp.WithString("message", mcp.Description("The user's message"), mcp.Required()),
		),
		mcpSendMessage(deps),
	)

	s.AddTool(
		mcp.NewTool("save_profile_field",
			mcp.WithDescription("Set one field of the user profile, creating the profile if needed."),
			mcp.WithString("key", mcp.Description("Profile field (e.g. preferredName, diagnoses, communicationStyle)"), mcp.Required()),
			mcp.WithString("value", mcp.Description("Value to set; communicationStyle takes a comma-separated list"), mcp.Required()),
		),
		mcpSaveProfileField(deps),
	)

	s.AddTool(
		mcp.NewTool("clear_conversation",
			mcp.WithDescription("Irreversibly delete the conversation history. Requires confirm=true."),
			mcp.WithBoolean("confirm", mcp.Description("Must be true"), mcp.Required()),
		),
		mcpClearConversation(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"talbot://profile",
			"User Profile",
			mcp.WithResourceDescription("Current user profile as JSON, null when none is saved"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"talbot://conversation",
			"Conversation",
			mcp.WithResourceDescription("Conversation history, oldest first"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceConversation(deps),
	)

	return s
}

func mcpSendMessage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		turn, err := deps.Chat.Submit(ctx, message)
		switch {
		case errors.Is(err, chat.ErrEmptyInput):
			return mcpError("message is required"), nil
		case errors.Is(err, chat.ErrBusy):
			return mcpError("another message is being answered; try again shortly"), nil
		case err != nil:
			return mcpError(fmt.Sprintf("turn failed: %v", err)), nil
		}
		return mcpText(turn.Assistant.Content), nil
	}
}

func mcpSaveProfileField(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		if err := deps.Profile.SetField(key, value); err != nil {
			return mcpError(fmt.Sprintf("failed to save field: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Set %s = %s", key, value)), nil
	}
}

func mcpClearConversation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !req.GetBool("confirm", false) {
			return mcpError("clearing the conversation is irreversible; call again with confirm=true"), nil
		}
		if err := deps.Chat.Reset(); err != nil {
			return mcpError(fmt.Sprintf("failed to clear conversation: %v", err)), nil
		}
		return mcpText("Conversation cleared"), nil
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		p, err := deps.Profile.Get()
		if err != nil {
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}
		return jsonResource(req.Params.URI, p)
	}
}

func mcpResourceConversation(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		msgs := deps.Chat.History()
		if msgs == nil {
			msgs = []conversation.Message{}
		}
		return jsonResource(req.Params.URI, msgs)
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
