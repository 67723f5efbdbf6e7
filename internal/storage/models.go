package storage

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Keys of the durable client state. Each value is a JSON document.
const (
	KeyProfile     = "profile"
	KeyDocuments   = "documents"
	KeyChatHistory = "chat_history"
	KeyAvatar      = "avatar"
)

// StateEntry is a single row of the key-value state table.
type StateEntry struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// JobStatus is the lifecycle position of a queued job.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// DefaultMaxAttempts applies to jobs enqueued without MaxAttempts.
const DefaultMaxAttempts = 3

// Job is a unit of background work. Payload is opaque to the store.
type Job struct {
	ID          string
	Type        string
	Payload     json.RawMessage
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	LastError   string
}
