package profile

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/talbotapp/talbot/internal/storage"
)

// --- Mock store ---

type mockStore struct {
	mu   sync.Mutex
	data map[string]string

	getCalls int
	getErr   error
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]string)}
}

func (m *mockStore) GetState(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (m *mockStore) SetState(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockStore) DeleteState(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Tests ---

func TestGet_NoProfile(t *testing.T) {
	mgr := NewManager(newMockStore())

	p, err := mgr.Get()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Errorf("Get() = %+v, want nil", p)
	}
}

func TestSaveAndGet(t *testing.T) {
	mgr := NewManager(newMockStore())

	in := Profile{
		PreferredName:      "  Sam ",
		Diagnoses:          "BPD, ADHD",
		CommunicationStyle: Styles{"direct", "gentle", "direct", ""},
		Documents:          []Document{{ID: "d1", Name: "plan.txt", TextContent: "safety plan"}},
	}
	if err := mgr.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := mgr.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := &Profile{
		PreferredName:      "Sam",
		Diagnoses:          "BPD, ADHD",
		CommunicationStyle: Styles{StyleDirect, StyleGentle},
		Documents:          []Document{{ID: "d1", Name: "plan.txt", TextContent: "safety plan"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("profile mismatch (-want +got):\n%s", diff)
	}
}

func TestGet_CorruptProfileTreatedAsAbsent(t *testing.T) {
	store := newMockStore()
	store.data[storage.KeyProfile] = "{not json"
	mgr := NewManager(store)

	p, err := mgr.Get()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Errorf("Get() = %+v, want nil for corrupt profile", p)
	}
}

func TestGet_StoreError(t *testing.T) {
	store := newMockStore()
	store.getErr = errors.New("disk on fire")
	mgr := NewManager(store)

	if _, err := mgr.Get(); err == nil {
		t.Fatal("expected error from failing store")
	}
}

func TestGet_CacheHitAndExpiry(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	mgr := NewManagerWithClock(store, clock, time.Minute)

	if err := mgr.Save(Profile{PreferredName: "Jo"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := mgr.Get(); err != nil {
		t.Fatalf("Get: %v", err)
	}
	calls := store.getCalls

	if _, err := mgr.Get(); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if store.getCalls != calls {
		t.Errorf("cache miss within TTL: calls %d -> %d", calls, store.getCalls)
	}

	clock.Advance(2 * time.Minute)
	if _, err := mgr.Get(); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if store.getCalls == calls {
		t.Error("expected reload after TTL expiry")
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	mgr := NewManager(newMockStore())
	if err := mgr.Save(Profile{CommunicationStyle: Styles{StyleGentle}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	p1, _ := mgr.Get()
	p1.CommunicationStyle[0] = StyleDirect

	p2, _ := mgr.Get()
	if p2.CommunicationStyle[0] != StyleGentle {
		t.Errorf("cached profile mutated through returned copy: %v", p2.CommunicationStyle)
	}
}

func TestClear(t *testing.T) {
	store := newMockStore()
	mgr := NewManager(store)

	if err := mgr.Save(Profile{PreferredName: "Sam", Documents: []Document{{ID: "d1"}}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := mgr.SetAvatar("data:image/png;base64,AAAA"); err != nil {
		t.Fatalf("SetAvatar: %v", err)
	}
	if err := mgr.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	p, err := mgr.Get()
	if err != nil || p != nil {
		t.Errorf("Get() after Clear = %+v, %v; want nil, nil", p, err)
	}
	if len(store.data) != 0 {
		t.Errorf("store not emptied: %v", store.data)
	}
	if ref, _ := mgr.Avatar(); ref != "" {
		t.Errorf("Avatar() after Clear = %q", ref)
	}
}

func TestSetField(t *testing.T) {
	mgr := NewManager(newMockStore())

	if err := mgr.SetField("preferredName", "Alex"); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	if err := mgr.SetField("communicationStyle", "encouraging, gentle"); err != nil {
		t.Fatalf("SetField styles: %v", err)
	}
	if err := mgr.SetField("favouriteColour", "blue"); err == nil {
		t.Error("expected error for unknown field")
	}

	p, _ := mgr.Get()
	if p.PreferredName != "Alex" {
		t.Errorf("PreferredName = %q, want %q", p.PreferredName, "Alex")
	}
	if !p.CommunicationStyle.Has(StyleGentle) || !p.CommunicationStyle.Has(StyleEncouraging) {
		t.Errorf("CommunicationStyle = %v", p.CommunicationStyle)
	}
}

func TestDocuments_AddUpdateRemove(t *testing.T) {
	mgr := NewManager(newMockStore())

	doc, err := mgr.AddDocument(Document{Name: "letter.pdf", SizeBytes: 1024, MIMEType: "application/pdf"})
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if doc.ID == "" {
		t.Fatal("AddDocument did not assign an ID")
	}

	if err := mgr.UpdateDocumentText(doc.ID, "extracted"); err != nil {
		t.Fatalf("UpdateDocumentText: %v", err)
	}
	docs, _ := mgr.Documents()
	if len(docs) != 1 || docs[0].TextContent != "extracted" {
		t.Fatalf("Documents() = %+v", docs)
	}

	if err := mgr.RemoveDocument(doc.ID); err != nil {
		t.Fatalf("RemoveDocument: %v", err)
	}
	if err := mgr.RemoveDocument(doc.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second RemoveDocument err = %v, want ErrNotFound", err)
	}
}

func TestAddDocument_TooLarge(t *testing.T) {
	mgr := NewManager(newMockStore())

	_, err := mgr.AddDocument(Document{Name: "huge.pdf", SizeBytes: MaxDocumentSize + 1})
	if !errors.Is(err, ErrDocumentTooLarge) {
		t.Errorf("err = %v, want ErrDocumentTooLarge", err)
	}
}

func TestBuildContext(t *testing.T) {
	if got := BuildContext(nil, "hello"); got != "hello" {
		t.Errorf("BuildContext(nil) = %q, want message unchanged", got)
	}

	p := &Profile{
		PreferredName:      "Sam",
		Diagnoses:          "BPD",
		Medications:        "sertraline",
		CommunicationStyle: Styles{StyleGentle, StyleDirect},
		TherapistInfo:      "Dr Lee, Tuesdays",
		Documents:          []Document{{Name: "plan.txt", TextContent: "call Lifeline"}},
	}
	got := BuildContext(p, "I feel flat")

	order := []string{
		"User Profile Context:\n",
		"- Call me: Sam\n",
		"- Mental health conditions: BPD\n",
		"- Clinical Documentation:\n  * plan.txt:\ncall Lifeline\n\n",
		"- Current medications: sertraline\n",
		"- Communication preferences: gentle, direct\n",
		"- Therapist information: Dr Lee, Tuesdays\n",
		"\nUser message: I feel flat",
	}
	pos := 0
	for _, part := range order {
		idx := strings.Index(got[pos:], part)
		if idx < 0 {
			t.Fatalf("context missing %q after offset %d:\n%s", part, pos, got)
		}
		pos += idx + len(part)
	}
	if strings.Contains(got, "Pronouns") {
		t.Error("empty field rendered")
	}
}

func TestSummary(t *testing.T) {
	if got := Summary(nil); got != "User profile: not yet configured." {
		t.Errorf("Summary(nil) = %q", got)
	}
	got := Summary(&Profile{PreferredName: "Sam", Pronouns: "they/them", CommunicationStyle: Styles{StyleGentle}})
	want := "User: Sam (they/them). Prefers: gentle."
	if got != want {
		t.Errorf("Summary = %q, want %q", got, want)
	}
}
