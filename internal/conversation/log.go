package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/talbotapp/talbot/internal/storage"
)

// DefaultWindow is the number of trailing messages persisted.
const DefaultWindow = 50

// StateStore defines the storage operations the Log needs.
// Implemented by storage.Store.
type StateStore interface {
	GetState(key string) (string, error)
	SetState(key, value string) error
	DeleteState(keys ...string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Log is the ordered record of a conversation. The full sequence lives in
// memory; only the trailing window is written to the store, so the persisted
// copy is always a suffix of what Messages returns.
type Log struct {
	store  StateStore
	window int
	clock  Clock

	mu   sync.Mutex
	msgs []Message
}

// NewLog creates an empty Log persisting the trailing window messages.
// A window <= 0 selects DefaultWindow.
func NewLog(store StateStore, window int) *Log {
	return NewLogWithClock(store, window, realClock{})
}

// NewLogWithClock creates a Log with a custom clock (for testing).
func NewLogWithClock(store StateStore, window int, clock Clock) *Log {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Log{store: store, window: window, clock: clock}
}

// Append adds m to the end of the log and persists the trailing window.
// Invalid messages are rejected; a persistence failure is logged and does
// not undo the in-memory append.
func (l *Log) Append(m Message) error {
	if err := m.validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, m)
	l.persist()
	return nil
}

// Messages returns a copy of the in-memory sequence in chronological order.
func (l *Log) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.msgs...)
}

// Len returns the number of messages held in memory.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}

// Restore replaces the in-memory sequence with the persisted window and
// returns it. Storage and decode errors are logged and yield an empty log.
func (l *Log) Restore() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.msgs = nil
	raw, err := l.store.GetState(storage.KeyChatHistory)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		slog.Warn("could not load conversation history", "error", err)
		return nil
	}

	var msgs []Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		slog.Warn("stored conversation history is corrupt, starting empty", "error", err)
		return nil
	}
	for i, m := range msgs {
		if err := m.validate(); err != nil {
			slog.Warn("stored conversation history has invalid entry, starting empty", "index", i, "error", err)
			return nil
		}
	}
	l.msgs = msgs
	return append([]Message(nil), msgs...)
}

// Clear empties the log in memory and in the store. Callers are expected to
// have confirmed the action with the user.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = nil
	if err := l.store.DeleteState(storage.KeyChatHistory); err != nil {
		return fmt.Errorf("clearing conversation history: %w", err)
	}
	return nil
}

// persist writes the trailing window. Must be called with l.mu held.
func (l *Log) persist() {
	tail := l.msgs
	if len(tail) > l.window {
		tail = tail[len(tail)-l.window:]
	}
	b, err := json.Marshal(tail)
	if err != nil {
		slog.Warn("could not encode conversation history", "error", err)
		return
	}
	if err := l.store.SetState(storage.KeyChatHistory, string(b)); err != nil {
		slog.Warn("could not persist conversation history", "error", err)
	}
}
