package conversation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyContent is returned when a message would be stored without content.
var ErrEmptyContent = errors.New("message content is empty")

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

func (s Sender) valid() bool {
	return s == SenderUser || s == SenderAssistant
}

// Message is one immutable entry of the conversation.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message stamped at at. Content that is blank after
// trimming is rejected with ErrEmptyContent.
func NewMessage(sender Sender, content string, at time.Time) (Message, error) {
	m := Message{
		ID:        uuid.New().String(),
		Sender:    sender,
		Content:   content,
		Timestamp: at.UTC(),
	}
	if err := m.validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

func (m Message) validate() error {
	if !m.Sender.valid() {
		return fmt.Errorf("unknown sender %q", m.Sender)
	}
	if strings.TrimSpace(m.Content) == "" {
		return ErrEmptyContent
	}
	return nil
}
