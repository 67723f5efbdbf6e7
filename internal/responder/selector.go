package responder

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/talbotapp/talbot/internal/conversation"
	"github.com/talbotapp/talbot/internal/profile"
)

// Source records which rule produced a response.
type Source string

const (
	SourceCrisis    Source = "crisis"
	SourceCondition Source = "condition"
	SourceEmotion   Source = "emotion"
	SourceTopic     Source = "topic"
	SourceDefault   Source = "default"
	SourceRemote    Source = "remote"
	SourceFallback  Source = "fallback"
)

// Response is the text chosen for a message and where it came from.
type Response struct {
	Text   string
	Source Source
	Rule   string // rule name for condition, emotion and topic matches
}

// RemoteRequest is what the Selector hands to a remote response service.
type RemoteRequest struct {
	// Message is the user's message wrapped in the profile context block.
	Message string
	Profile *profile.Profile
	History []conversation.Message
}

// Remote produces a response from an external service.
type Remote interface {
	Respond(ctx context.Context, req RemoteRequest) (string, error)
}

// Selector turns a user message into a response. It holds no conversation
// state; the rule set can be swapped while Select runs.
type Selector struct {
	rules   atomic.Pointer[RuleSet]
	rand    Rand
	remote  Remote
	timeout time.Duration
}

// NewSelector creates a Selector over rules. When remote is non-nil every
// non-crisis message is delegated to it, bounded by timeout (0 = no limit).
func NewSelector(rules *RuleSet, rnd Rand, remote Remote, timeout time.Duration) *Selector {
	if rnd == nil {
		rnd = NewRand(time.Now().UnixNano())
	}
	s := &Selector{rand: rnd, remote: remote, timeout: timeout}
	s.rules.Store(rules)
	return s
}

// Rules returns the active rule set.
func (s *Selector) Rules() *RuleSet {
	return s.rules.Load()
}

// SetRules atomically replaces the active rule set.
func (s *Selector) SetRules(rs *RuleSet) {
	s.rules.Store(rs)
}

// Select chooses the response for message. The crisis check always runs
// locally first. With a remote configured, remote failures of any kind are
// logged and replaced by a random fallback response; Select never fails.
func (s *Selector) Select(ctx context.Context, message string, p *profile.Profile, history []conversation.Message) Response {
	rs := s.Rules()
	lower := strings.ToLower(message)

	if containsAny(lower, rs.Crisis.Phrases) {
		return Response{Text: rs.Crisis.Response, Source: SourceCrisis}
	}

	if s.remote != nil {
		return s.selectRemote(ctx, rs, message, p, history)
	}
	return s.selectLocal(rs, lower, p)
}

func (s *Selector) selectLocal(rs *RuleSet, lower string, p *profile.Profile) Response {
	for _, c := range rs.Conditions {
		if p.HasCondition(c.Condition) && c.matches(lower) {
			return Response{Text: s.pick(c.Responses), Source: SourceCondition, Rule: c.Name}
		}
	}
	for _, r := range rs.Emotions {
		if r.matches(lower) {
			return Response{Text: s.pick(r.Responses), Source: SourceEmotion, Rule: r.Name}
		}
	}
	for _, r := range rs.Topics {
		if r.matches(lower) {
			return Response{Text: s.pick(r.Responses), Source: SourceTopic, Rule: r.Name}
		}
	}
	return Response{Text: s.pick(rs.Defaults), Source: SourceDefault}
}

func (s *Selector) selectRemote(ctx context.Context, rs *RuleSet, message string, p *profile.Profile, history []conversation.Message) Response {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	text, err := s.remote.Respond(ctx, RemoteRequest{
		Message: profile.BuildContext(p, message),
		Profile: p,
		History: history,
	})
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("remote returned an empty response")
	}
	if err != nil {
		slog.Warn("remote response failed, using fallback", "error", err)
		return Response{Text: s.pick(rs.Fallbacks), Source: SourceFallback}
	}
	return Response{Text: text, Source: SourceRemote}
}

func (s *Selector) pick(candidates []string) string {
	return candidates[s.rand.Intn(len(candidates))]
}
