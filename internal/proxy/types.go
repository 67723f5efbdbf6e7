package proxy

import (
	"context"
	"errors"

	"github.com/talbotapp/talbot/internal/conversation"
	"github.com/talbotapp/talbot/internal/profile"
)

// ErrNoAPIKey is returned when an upstream requiring a key has none.
var ErrNoAPIKey = errors.New("upstream API key not configured")

// ErrRemote wraps every failure of the remote response service.
var ErrRemote = errors.New("remote response service failed")

// Message is one turn of an upstream conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessagesRequest is the body of an Anthropic Messages API call.
type MessagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
}

// messagesResponse is the subset of the Messages API response we read.
type messagesResponse struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Upstream completes a prompt with a language model.
type Upstream interface {
	Complete(ctx context.Context, req MessagesRequest) (string, error)
}

// RelayRequest is the body POSTed to the remote response service.
type RelayRequest struct {
	Message      string                 `json:"message"`
	SystemPrompt string                 `json:"systemPrompt,omitempty"`
	Profile      *profile.Profile       `json:"profile"`
	History      []conversation.Message `json:"history,omitempty"`
}

// RelayResponse is the remote response service's reply.
type RelayResponse struct {
	Response string `json:"response"`
}
