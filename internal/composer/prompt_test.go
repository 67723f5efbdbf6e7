package composer

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/talbotapp/talbot/internal/conversation"
	"github.com/talbotapp/talbot/internal/profile"
	"github.com/talbotapp/talbot/internal/proxy"
)

func msg(sender conversation.Sender, content string) conversation.Message {
	return conversation.Message{Sender: sender, Content: content}
}

func TestSystemPrompt(t *testing.T) {
	sp := SystemPrompt()
	if !strings.HasPrefix(sp, "You are Talbot") {
		t.Errorf("system prompt starts %q", sp[:min(len(sp), 30)])
	}
	if strings.HasSuffix(sp, "\n") {
		t.Error("system prompt not trimmed")
	}
}

func TestCompose_NoProfileNoHistory(t *testing.T) {
	c := New(4000, "test-model", 500)
	req := c.Compose("", "hello", nil, nil)

	want := proxy.MessagesRequest{
		Model:     "test-model",
		MaxTokens: 500,
		System:    SystemPrompt(),
		Messages:  []proxy.Message{{Role: "user", Content: "hello"}},
	}
	if diff := cmp.Diff(want, req); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestCompose_CustomSystem(t *testing.T) {
	req := New(0, "", 0).Compose("Be brief.", "hello", nil, nil)
	if req.System != "Be brief." {
		t.Errorf("System = %q", req.System)
	}
}

func TestCompose_ProfileContext(t *testing.T) {
	c := New(4000, "", 0)
	p := &profile.Profile{PreferredName: "Sam", Triggers: "hospitals"}

	req := c.Compose("", "I had a rough day", p, nil)
	got := req.Messages[len(req.Messages)-1].Content
	if !strings.HasPrefix(got, profile.ContextHeader) || !strings.Contains(got, "- Sensitive topics: hospitals") {
		t.Errorf("context not added: %q", got)
	}

	// A message that already carries the block is not wrapped twice.
	req = c.Compose("", got, p, nil)
	if again := req.Messages[len(req.Messages)-1].Content; again != got {
		t.Errorf("context added twice:\n%s", again)
	}
}

func TestCompose_HistoryOrderAndRoles(t *testing.T) {
	c := New(4000, "", 0)
	history := []conversation.Message{
		msg(conversation.SenderUser, "first"),
		msg(conversation.SenderAssistant, "reply"),
	}
	req := c.Compose("", "second", nil, history)

	want := []proxy.Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "second"},
	}
	if diff := cmp.Diff(want, req.Messages); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}
}

func TestCompose_HistoryBudgetDropsOldest(t *testing.T) {
	// Each 40-char turn costs 10 tokens; a budget of 25 keeps two.
	turn := strings.Repeat("x", 40)
	history := []conversation.Message{
		msg(conversation.SenderUser, "old "+turn[4:]),
		msg(conversation.SenderAssistant, turn),
		msg(conversation.SenderUser, "new "+turn[4:]),
		msg(conversation.SenderAssistant, turn),
	}
	req := New(25, "", 0).Compose("", "now", nil, history)

	if len(req.Messages) != 3 {
		t.Fatalf("got %d messages, want 3: %+v", len(req.Messages), req.Messages)
	}
	if !strings.HasPrefix(req.Messages[0].Content, "new") {
		t.Errorf("oldest kept = %q, want the newer user turn", req.Messages[0].Content)
	}
}

func TestCompose_HistoryStartsWithUser(t *testing.T) {
	history := []conversation.Message{
		msg(conversation.SenderAssistant, "welcome back"),
		msg(conversation.SenderUser, "hi"),
		msg(conversation.SenderAssistant, "how are you?"),
	}
	req := New(4000, "", 0).Compose("", "ok", nil, history)
	if req.Messages[0].Role != "user" || req.Messages[0].Content != "hi" {
		t.Errorf("first message = %+v, want leading user turn", req.Messages[0])
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%d chars) = %d, want %d", len(tt.text), got, tt.want)
		}
	}
}
