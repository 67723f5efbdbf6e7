// Package chat drives one user turn at a time: the user's message is logged,
// a response is selected and personalized, and the reply is logged.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/talbotapp/talbot/internal/conversation"
	"github.com/talbotapp/talbot/internal/profile"
	"github.com/talbotapp/talbot/internal/responder"
)

var (
	// ErrEmptyInput is returned for messages that are blank after trimming.
	ErrEmptyInput = errors.New("message is empty")
	// ErrBusy is returned when a turn is already in flight.
	ErrBusy = errors.New("a message is already being answered")
)

// State is the turn state reported to observers.
type State int

const (
	StateIdle State = iota
	StateSending
	StateAwaitingResponse
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateAwaitingResponse:
		return "awaiting_response"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StatusFunc observes state transitions. err is set on the transition back to
// idle when the turn failed. It is called synchronously and must not call
// back into the Orchestrator.
type StatusFunc func(state State, err error)

// Selector picks a response for a message.
type Selector interface {
	Select(ctx context.Context, message string, p *profile.Profile, history []conversation.Message) responder.Response
}

// Analyzer grades the emotional content of a message.
type Analyzer interface {
	Analyze(message string) responder.Analysis
}

// Personalizer adapts a response to the profile's communication preferences.
type Personalizer interface {
	Apply(response string, p *profile.Profile) string
}

// ProfileSource returns the active profile, or nil when none is saved.
type ProfileSource interface {
	Get() (*profile.Profile, error)
}

// Log is the conversation record turns are appended to.
type Log interface {
	Append(m conversation.Message) error
	Messages() []conversation.Message
	Clear() error
	Import(data []byte) (int, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Deps holds the Orchestrator's collaborators. Analyzer, Clock and OnStatus
// are optional.
type Deps struct {
	Selector     Selector
	Analyzer     Analyzer
	Personalizer Personalizer
	Log          Log
	Profile      ProfileSource
	Clock        Clock
	OnStatus     StatusFunc
}

// Turn is the outcome of a successful Submit.
type Turn struct {
	User      conversation.Message `json:"user"`
	Assistant conversation.Message `json:"assistant"`
	Source    responder.Source     `json:"source"`
	Rule      string               `json:"rule,omitempty"`
	Analysis  *responder.Analysis  `json:"analysis,omitempty"`
}

// Orchestrator runs turns. At most one Submit is in flight; a concurrent
// Submit, Reset or Import fails with ErrBusy rather than queueing.
type Orchestrator struct {
	deps   Deps
	logger *slog.Logger

	mu    sync.Mutex
	state State
}

// New creates an Orchestrator in the idle state.
func New(deps Deps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = realClock{}
	}
	return &Orchestrator{deps: deps, logger: slog.Default()}
}

// State returns the current turn state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Submit runs one turn for message and returns the logged exchange. Blank
// input fails with ErrEmptyInput and a turn already in flight with ErrBusy;
// neither touches the log. A failing remote service never fails the turn.
// A panic in a collaborator fails the turn and leaves the Orchestrator idle.
func (o *Orchestrator) Submit(ctx context.Context, message string) (turn Turn, err error) {
	text := strings.TrimSpace(message)
	if text == "" {
		return Turn{}, ErrEmptyInput
	}
	if !o.begin() {
		return Turn{}, ErrBusy
	}
	defer func() {
		if r := recover(); r != nil {
			turn, err = Turn{}, fmt.Errorf("turn aborted: %v", r)
		}
		o.transition(StateIdle, err)
	}()
	return o.run(ctx, text)
}

func (o *Orchestrator) run(ctx context.Context, text string) (Turn, error) {
	p, err := o.deps.Profile.Get()
	if err != nil {
		o.logger.Warn("profile unavailable, responding without personalization", "error", err)
		p = nil
	}
	history := o.deps.Log.Messages()

	user, err := conversation.NewMessage(conversation.SenderUser, text, o.deps.Clock.Now())
	if err != nil {
		return Turn{}, err
	}
	if err := o.deps.Log.Append(user); err != nil {
		return Turn{}, fmt.Errorf("logging user message: %w", err)
	}

	var analysis *responder.Analysis
	if o.deps.Analyzer != nil {
		a := o.deps.Analyzer.Analyze(text)
		analysis = &a
		if a.Urgency != responder.UrgencyLow {
			o.logger.Warn("urgent message", "urgency", a.Urgency, "intensity", a.Intensity, "emotion", a.PrimaryEmotion)
		}
	}

	o.transition(StateAwaitingResponse, nil)
	resp := o.deps.Selector.Select(ctx, text, p, history)

	reply := resp.Text
	if resp.Source != responder.SourceCrisis && o.deps.Personalizer != nil {
		reply = o.deps.Personalizer.Apply(reply, p)
	}

	assistant, err := conversation.NewMessage(conversation.SenderAssistant, reply, o.deps.Clock.Now())
	if err != nil {
		return Turn{}, fmt.Errorf("response from %s: %w", resp.Source, err)
	}
	if err := o.deps.Log.Append(assistant); err != nil {
		return Turn{}, fmt.Errorf("logging response: %w", err)
	}

	o.logger.Debug("turn complete", "source", resp.Source, "rule", resp.Rule)
	return Turn{User: user, Assistant: assistant, Source: resp.Source, Rule: resp.Rule, Analysis: analysis}, nil
}

// History returns the in-memory conversation, oldest first.
func (o *Orchestrator) History() []conversation.Message {
	return o.deps.Log.Messages()
}

// Reset clears the conversation. Callers must have obtained the user's
// confirmation; the Orchestrator does not ask.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateIdle {
		return ErrBusy
	}
	return o.deps.Log.Clear()
}

// Import replaces the conversation with a previous export. It fails with
// ErrBusy while a turn is in flight.
func (o *Orchestrator) Import(data []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateIdle {
		return 0, ErrBusy
	}
	return o.deps.Log.Import(data)
}

func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return false
	}
	o.state = StateSending
	o.mu.Unlock()
	o.notify(StateSending, nil)
	return true
}

func (o *Orchestrator) transition(s State, err error) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.notify(s, err)
}

func (o *Orchestrator) notify(s State, err error) {
	if o.deps.OnStatus != nil {
		o.deps.OnStatus(s, err)
	}
}
