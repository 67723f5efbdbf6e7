package composer

import (
	_ "embed"
	"strings"

	"github.com/talbotapp/talbot/internal/conversation"
	"github.com/talbotapp/talbot/internal/profile"
	"github.com/talbotapp/talbot/internal/proxy"
)

const defaultMaxContextTokens = 4000

//go:embed system_prompt.txt
var systemPrompt string

// SystemPrompt returns the companion's built-in system prompt.
func SystemPrompt() string {
	return strings.TrimSpace(systemPrompt)
}

// Composer assembles upstream requests from the system prompt, the user's
// message with its profile context, and as much recent conversation as fits
// the token budget.
type Composer struct {
	MaxContextTokens int
	Model            string
	MaxTokens        int
}

// New creates a Composer with the given token budget for conversation
// history. If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int, model string, maxTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens, Model: model, MaxTokens: maxTokens}
}

// Compose builds a MessagesRequest. An empty system uses SystemPrompt. The
// profile context block is added to message unless it already carries one.
// history holds the turns before message, oldest first; the oldest turns are
// dropped first when over budget.
func (c *Composer) Compose(system, message string, p *profile.Profile, history []conversation.Message) proxy.MessagesRequest {
	if strings.TrimSpace(system) == "" {
		system = SystemPrompt()
	}
	if !strings.HasPrefix(message, profile.ContextHeader) {
		message = profile.BuildContext(p, message)
	}

	msgs := c.fitHistory(history)
	msgs = append(msgs, proxy.Message{Role: "user", Content: message})

	return proxy.MessagesRequest{
		Model:     c.Model,
		MaxTokens: c.MaxTokens,
		System:    system,
		Messages:  msgs,
	}
}

// fitHistory walks history from newest to oldest, keeping turns while they
// fit the budget. The result always starts with a user turn.
func (c *Composer) fitHistory(history []conversation.Message) []proxy.Message {
	remaining := c.MaxContextTokens
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		tokens := EstimateTokens(history[i].Content)
		if tokens > remaining {
			break
		}
		remaining -= tokens
		start = i
	}

	kept := history[start:]
	for len(kept) > 0 && kept[0].Sender != conversation.SenderUser {
		kept = kept[1:]
	}

	out := make([]proxy.Message, 0, len(kept)+1)
	for _, m := range kept {
		out = append(out, proxy.Message{Role: role(m.Sender), Content: m.Content})
	}
	return out
}

func role(s conversation.Sender) string {
	if s == conversation.SenderAssistant {
		return "assistant"
	}
	return "user"
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
