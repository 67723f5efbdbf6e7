package conversation

import (
	"encoding/json"
	"fmt"
	"time"
)

// Export is the downloadable form of a conversation.
type Export struct {
	ExportDate   time.Time `json:"exportDate"`
	Messages     []Message `json:"messages"`
	MessageCount int       `json:"messageCount"`
}

// Snapshot captures the full in-memory sequence, including messages that
// have already fallen out of the persisted window, dated by the log's clock.
func (l *Log) Snapshot() Export {
	l.mu.Lock()
	msgs := append([]Message{}, l.msgs...)
	l.mu.Unlock()

	return Export{
		ExportDate:   l.clock.Now().UTC(),
		Messages:     msgs,
		MessageCount: len(msgs),
	}
}

// Export serializes a Snapshot.
func (l *Log) Export() ([]byte, error) {
	b, err := json.MarshalIndent(l.Snapshot(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding export: %w", err)
	}
	return b, nil
}

// ParseExport decodes and validates an export produced by Log.Export.
func ParseExport(data []byte) (Export, error) {
	var exp Export
	if err := json.Unmarshal(data, &exp); err != nil {
		return Export{}, fmt.Errorf("decoding export: %w", err)
	}
	for i, m := range exp.Messages {
		if err := m.validate(); err != nil {
			return Export{}, fmt.Errorf("message %d: %w", i, err)
		}
	}
	if exp.MessageCount != len(exp.Messages) {
		return Export{}, fmt.Errorf("messageCount %d does not match %d messages", exp.MessageCount, len(exp.Messages))
	}
	return exp, nil
}

// Import replaces the log with the messages of an export and persists the
// trailing window. It returns the number of messages imported.
func (l *Log) Import(data []byte) (int, error) {
	exp, err := ParseExport(data)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = exp.Messages
	l.persist()
	return len(exp.Messages), nil
}
