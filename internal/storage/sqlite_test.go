package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same directory and verifies
// no migration is applied twice.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) == 0 || len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestState_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetState(KeyProfile, `{"preferredName":"Sam"}`); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	got, err := s.GetState(KeyProfile)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got != `{"preferredName":"Sam"}` {
		t.Errorf("GetState = %q", got)
	}

	if err := s.SetState(KeyProfile, `{}`); err != nil {
		t.Fatalf("SetState overwrite: %v", err)
	}
	got, _ = s.GetState(KeyProfile)
	if got != `{}` {
		t.Errorf("after overwrite GetState = %q, want %q", got, `{}`)
	}
}

func TestState_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetState(KeyAvatar)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetState missing key: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteState(t *testing.T) {
	s := openTestStore(t)

	for _, k := range []string{KeyProfile, KeyDocuments, KeyChatHistory} {
		if err := s.SetState(k, "[]"); err != nil {
			t.Fatalf("SetState(%s): %v", k, err)
		}
	}
	if err := s.DeleteState(KeyProfile, KeyDocuments, KeyAvatar); err != nil {
		t.Fatalf("DeleteState: %v", err)
	}

	entries, err := s.ListState()
	if err != nil {
		t.Fatalf("ListState: %v", err)
	}
	if len(entries) != 1 || entries[0].Key != KeyChatHistory {
		t.Errorf("remaining entries = %+v, want only %s", entries, KeyChatHistory)
	}
	if entries[0].UpdatedAt.IsZero() {
		t.Error("UpdatedAt not populated")
	}
}

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "j-claim-1", Type: "extract_document", Payload: []byte(`{"document_id":"d1"}`)}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"extract_document"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != "j-claim-1" || got.Status != JobRunning || got.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("claimed = %+v", got)
	}
	if string(got.Payload) != `{"document_id":"d1"}` {
		t.Errorf("Payload = %s", got.Payload)
	}
	if got.CreatedAt.IsZero() || got.RunAfter.IsZero() {
		t.Errorf("timestamps not populated: %+v", got)
	}

	again, err := s.ClaimNextJob([]string{"extract_document"})
	if err != nil {
		t.Fatalf("second ClaimNextJob: %v", err)
	}
	if again != nil {
		t.Errorf("running job claimed twice: %+v", again)
	}
}

func TestClaimNextJob_OldestFirst(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	s.EnqueueJob(Job{ID: "newer", Type: "x", RunAfter: now.Add(-time.Minute)})
	s.EnqueueJob(Job{ID: "older", Type: "x", RunAfter: now.Add(-time.Hour)})

	got, err := s.ClaimNextJob([]string{"x", "y"})
	if err != nil || got == nil {
		t.Fatalf("ClaimNextJob = %v, %v", got, err)
	}
	if got.ID != "older" {
		t.Errorf("claimed %q, want older", got.ID)
	}
}

func TestClaimNextJob_TimestampsWithoutFullFraction(t *testing.T) {
	tests := []struct {
		name     string
		runAfter time.Time
	}{
		{"trailing zero", time.Date(2020, 1, 1, 0, 0, 0, 38540000, time.UTC)},
		{"whole second", time.Date(2020, 1, 1, 0, 0, 5, 0, time.UTC)},
		{"single digit", time.Date(2020, 1, 1, 0, 0, 7, 100000000, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openTestStore(t)
			if err := s.EnqueueJob(Job{ID: "j1", Type: "x", RunAfter: tt.runAfter}); err != nil {
				t.Fatalf("EnqueueJob: %v", err)
			}

			got, err := s.ClaimNextJob([]string{"x"})
			if err != nil || got == nil {
				t.Fatalf("ClaimNextJob = %v, %v", got, err)
			}
			if !got.RunAfter.Equal(tt.runAfter) {
				t.Errorf("RunAfter = %v, want %v", got.RunAfter, tt.runAfter)
			}
			if got.CreatedAt.IsZero() {
				t.Error("CreatedAt not populated")
			}

			stored, err := s.GetJob("j1")
			if err != nil {
				t.Fatalf("GetJob: %v", err)
			}
			if stored.Status != JobRunning || !stored.RunAfter.Equal(tt.runAfter) {
				t.Errorf("stored = %+v", stored)
			}
		})
	}
}

func TestClaimNextJob_RespectsRunAfter(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-future", Type: "x", RunAfter: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"x"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for future run_after, got %+v", got)
	}
}

func TestClaimNextJob_TypeFilter(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-a", Type: "a"}); err != nil {
		t.Fatalf("EnqueueJob a: %v", err)
	}
	got, err := s.ClaimNextJob([]string{"b"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("claimed job of wrong type: %+v", got)
	}
	if got, _ := s.ClaimNextJob(nil); got != nil {
		t.Errorf("claimed with no types: %+v", got)
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-complete", Type: "x"}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.CompleteJob("j-complete"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	job, err := s.GetJob("j-complete")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != JobDone {
		t.Errorf("status = %q, want %q", job.Status, JobDone)
	}

	if err := s.CompleteJob("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("CompleteJob(missing) err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetJob("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJob(missing) err = %v, want ErrNotFound", err)
	}
}

func TestFailJob_BackoffThenFailed(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-fail", Type: "x", MaxAttempts: 2}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	before := time.Now()
	if err := s.FailJob("j-fail", "retry"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	job, err := s.GetJob("j-fail")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != JobPending || job.Attempts != 1 || job.LastError != "retry" {
		t.Errorf("after first failure = %+v", job)
	}
	if !job.RunAfter.After(before.Add(retryDelay(1) - time.Second)) {
		t.Errorf("run_after %v not pushed back from %v", job.RunAfter, before)
	}
	if got, _ := s.ClaimNextJob([]string{"x"}); got != nil {
		t.Error("job claimable before its retry delay")
	}

	if err := s.FailJob("j-fail", "fatal"); err != nil {
		t.Fatalf("second FailJob: %v", err)
	}
	job, _ = s.GetJob("j-fail")
	if job.Status != JobFailed || job.LastError != "fatal" {
		t.Errorf("after last attempt = %+v", job)
	}

	if err := s.FailJob("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FailJob(missing) err = %v, want ErrNotFound", err)
	}
}

func TestRetryDelay(t *testing.T) {
	if retryDelay(1) != 2*time.Second || retryDelay(2) != 4*time.Second {
		t.Errorf("retryDelay = %v, %v", retryDelay(1), retryDelay(2))
	}
	if retryDelay(100) != retryDelay(10) {
		t.Error("retryDelay not capped")
	}
}

func TestRequeueRunning(t *testing.T) {
	s := openTestStore(t)

	s.EnqueueJob(Job{ID: "stuck", Type: "x"})
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	n, err := s.RequeueRunning()
	if err != nil || n != 1 {
		t.Fatalf("RequeueRunning = %d, %v", n, err)
	}
	got, _ := s.ClaimNextJob([]string{"x"})
	if got == nil || got.ID != "stuck" {
		t.Errorf("requeued job not claimable: %+v", got)
	}
}

func TestPruneJobs(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"done", "pending"} {
		s.EnqueueJob(Job{ID: id, Type: "x", RunAfter: time.Now().Add(-time.Minute)})
	}
	claimed, _ := s.ClaimNextJob([]string{"x"})
	s.CompleteJob(claimed.ID)

	if n, _ := s.PruneJobs(time.Now().Add(-time.Hour)); n != 0 {
		t.Errorf("pruned %d recent jobs", n)
	}
	n, err := s.PruneJobs(time.Now().Add(time.Second))
	if err != nil || n != 1 {
		t.Fatalf("PruneJobs = %d, %v", n, err)
	}
	if _, err := s.GetJob(claimed.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("completed job survived prune: %v", err)
	}
}

func TestBlobs(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetBlob("d1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetBlob missing: err = %v, want ErrNotFound", err)
	}
	if err := s.SaveBlob("d1", []byte("%PDF-1.4")); err != nil {
		t.Fatalf("SaveBlob: %v", err)
	}
	got, err := s.GetBlob("d1")
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if string(got) != "%PDF-1.4" {
		t.Errorf("GetBlob = %q", got)
	}
	if err := s.DeleteBlob("d1"); err != nil {
		t.Fatalf("DeleteBlob: %v", err)
	}
	if _, err := s.GetBlob("d1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetBlob after delete: err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteBlob("d1"); err != nil {
		t.Errorf("DeleteBlob missing: %v", err)
	}
}
