package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talbotapp/talbot/internal/storage"
)

// MaxDocumentSize is the upload limit for a single document.
const MaxDocumentSize = 5 << 20

var (
	// ErrNoProfile is returned by operations that need a saved profile.
	ErrNoProfile = errors.New("no profile saved")
	// ErrDocumentTooLarge is returned when a document exceeds MaxDocumentSize.
	ErrDocumentTooLarge = errors.New("document exceeds 5MB limit")
)

// StateStore defines the storage operations the Manager needs.
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

// Manager owns the single user profile of this installation, its documents
// and avatar. Reads are cached for ttl; every write invalidates the cache.
type Manager struct {
	store StateStore
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	loaded   bool
	cached   *Profile
	cachedAt time.Time
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store StateStore) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store StateStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{store: store, clock: clock, ttl: ttl}
}

// Get returns the saved profile with its documents, or nil when no profile
// has been saved. A corrupt stored profile is logged and treated as absent.
func (m *Manager) Get() (*Profile, error) {
	m.mu.RLock()
	if m.fresh() {
		p := cloneProfile(m.cached)
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fresh() {
		return cloneProfile(m.cached), nil
	}

	p, err := m.load()
	if err != nil {
		return nil, err
	}
	m.cached = p
	m.cachedAt = m.clock.Now()
	m.loaded = true
	return cloneProfile(p), nil
}

func (m *Manager) fresh() bool {
	return m.loaded && m.clock.Now().Before(m.cachedAt.Add(m.ttl))
}

func (m *Manager) load() (*Profile, error) {
	raw, err := m.store.GetState(storage.KeyProfile)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		slog.Warn("stored profile is corrupt, ignoring", "error", err)
		return nil, nil
	}

	docs, err := m.loadDocuments()
	if err != nil {
		return nil, err
	}
	p.Documents = docs
	return &p, nil
}

func (m *Manager) loadDocuments() ([]Document, error) {
	raw, err := m.store.GetState(storage.KeyDocuments)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading documents: %w", err)
	}
	var docs []Document
	if err := json.Unmarshal([]byte(raw), &docs); err != nil {
		slog.Warn("stored documents are corrupt, ignoring", "error", err)
		return nil, nil
	}
	return docs, nil
}

func (m *Manager) saveDocuments(docs []Document) error {
	if docs == nil {
		docs = []Document{}
	}
	b, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("marshalling documents: %w", err)
	}
	if err := m.store.SetState(storage.KeyDocuments, string(b)); err != nil {
		return fmt.Errorf("saving documents: %w", err)
	}
	return nil
}

// Save replaces the stored profile wholesale. Documents carried on p replace
// the stored document list; a nil list leaves stored documents untouched.
func (m *Manager) Save(p Profile) error {
	p = p.normalized()
	docs := p.Documents
	p.Documents = nil

	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshalling profile: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = false

	if err := m.store.SetState(storage.KeyProfile, string(b)); err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	if docs != nil {
		return m.saveDocuments(docs)
	}
	return nil
}

// SetField updates a single field of the stored profile, creating the profile
// if none exists. "communicationStyle" accepts a comma-separated list.
func (m *Manager) SetField(key, value string) error {
	p, err := m.Get()
	if err != nil {
		return err
	}
	if p == nil {
		p = &Profile{}
	}

	if key == "communicationStyle" {
		var styles Styles
		for _, s := range strings.Split(value, ",") {
			styles = append(styles, Style(s))
		}
		p.CommunicationStyle = styles
	} else {
		f, ok := p.textFields()[key]
		if !ok {
			return fmt.Errorf("unknown profile field %q", key)
		}
		*f = value
	}
	p.Documents = nil
	return m.Save(*p)
}

// Clear removes the profile, its documents and the avatar. Irreversible.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = false
	if err := m.store.DeleteState(storage.KeyProfile, storage.KeyDocuments, storage.KeyAvatar); err != nil {
		return fmt.Errorf("clearing profile: %w", err)
	}
	return nil
}

// Documents returns the stored documents in upload order.
func (m *Manager) Documents() ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadDocuments()
}

// AddDocument appends doc to the document list, assigning an ID when empty.
func (m *Manager) AddDocument(doc Document) (Document, error) {
	if doc.SizeBytes > MaxDocumentSize {
		return Document{}, fmt.Errorf("%q: %w", doc.Name, ErrDocumentTooLarge)
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	docs, err := m.loadDocuments()
	if err != nil {
		return Document{}, err
	}
	m.loaded = false
	return doc, m.saveDocuments(append(docs, doc))
}

// RemoveDocument deletes the document with the given id.
func (m *Manager) RemoveDocument(id string) error {
	return m.updateDocuments(id, func(docs []Document, i int) []Document {
		return append(docs[:i], docs[i+1:]...)
	})
}

// UpdateDocumentText replaces the extracted text of the document with id.
func (m *Manager) UpdateDocumentText(id, text string) error {
	return m.updateDocuments(id, func(docs []Document, i int) []Document {
		docs[i].TextContent = text
		return docs
	})
}

func (m *Manager) updateDocuments(id string, fn func([]Document, int) []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs, err := m.loadDocuments()
	if err != nil {
		return err
	}
	for i := range docs {
		if docs[i].ID == id {
			m.loaded = false
			return m.saveDocuments(fn(docs, i))
		}
	}
	return storage.ErrNotFound
}

// Avatar returns the stored avatar reference, or "" when none is set.
func (m *Manager) Avatar() (string, error) {
	ref, err := m.store.GetState(storage.KeyAvatar)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	return ref, err
}

// SetAvatar stores an opaque avatar reference (URI or data URL).
func (m *Manager) SetAvatar(ref string) error {
	return m.store.SetState(storage.KeyAvatar, ref)
}
