package docs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/talbotapp/talbot/internal/profile"
	"github.com/talbotapp/talbot/internal/storage"
)

// JobType is the queue type of document extraction jobs.
const JobType = "extract_document"

// jobRetention is how long finished jobs are kept before pruning.
const jobRetention = 7 * 24 * time.Hour

// pendingText is stored on a document until its extraction job finishes.
const pendingText = "[Document uploaded - extracting text]"

// JobStore abstracts the job queue and blob operations.
// Implemented by storage.Store.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	RequeueRunning() (int64, error)
	PruneJobs(cutoff time.Time) (int64, error)
	SaveBlob(id string, data []byte) error
	GetBlob(id string) ([]byte, error)
	DeleteBlob(id string) error
}

// DocumentStore is the part of the profile store documents are written to.
// Implemented by profile.Manager.
type DocumentStore interface {
	AddDocument(doc profile.Document) (profile.Document, error)
	RemoveDocument(id string) error
	UpdateDocumentText(id, text string) error
}

type extractPayload struct {
	DocumentID string `json:"document_id"`
	Name       string `json:"name"`
	MIMEType   string `json:"mime_type"`
	Size       int64  `json:"size"`
}

// Intake accepts uploads. Plain text is stored immediately; other formats are
// stored with a pending marker and extracted by a Worker.
type Intake struct {
	jobs JobStore
	docs DocumentStore
}

// NewIntake creates an Intake over the given stores.
func NewIntake(jobs JobStore, docs DocumentStore) *Intake {
	return &Intake{jobs: jobs, docs: docs}
}

// Add stores an uploaded document and schedules its extraction.
func (in *Intake) Add(name, mimeType string, data []byte) (profile.Document, error) {
	if len(data) > profile.MaxDocumentSize {
		return profile.Document{}, fmt.Errorf("%q: %w", name, ErrTooLarge)
	}

	doc := profile.Document{
		ID:        uuid.New().String(),
		Name:      name,
		SizeBytes: int64(len(data)),
		MIMEType:  mimeType,
	}

	if Detect(name, mimeType) == KindText {
		text, err := Extract(name, mimeType, data)
		if err != nil {
			return profile.Document{}, err
		}
		doc.TextContent = text
		return in.docs.AddDocument(doc)
	}

	doc.TextContent = pendingText
	if err := in.jobs.SaveBlob(doc.ID, data); err != nil {
		return profile.Document{}, fmt.Errorf("saving document data: %w", err)
	}
	id := doc.ID
	doc, err := in.docs.AddDocument(doc)
	if err != nil {
		in.jobs.DeleteBlob(id)
		return profile.Document{}, err
	}

	payload, _ := json.Marshal(extractPayload{DocumentID: doc.ID, Name: name, MIMEType: mimeType, Size: doc.SizeBytes})
	if err := in.jobs.EnqueueJob(storage.Job{
		ID:      uuid.New().String(),
		Type:    JobType,
		Payload: payload,
	}); err != nil {
		return doc, fmt.Errorf("scheduling extraction: %w", err)
	}
	return doc, nil
}

// Remove deletes a document and any raw data still waiting for extraction.
func (in *Intake) Remove(id string) error {
	if err := in.docs.RemoveDocument(id); err != nil {
		return err
	}
	if err := in.jobs.DeleteBlob(id); err != nil {
		return fmt.Errorf("deleting document data: %w", err)
	}
	return nil
}

// Worker processes extract_document jobs from the SQLite job queue.
type Worker struct {
	jobs   JobStore
	docs   DocumentStore
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(jobs JobStore, docs DocumentStore, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		jobs:   jobs,
		docs:   docs,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled. Jobs a previous process left
// running are requeued first and old finished jobs pruned.
func (w *Worker) Run(ctx context.Context) {
	if n, err := w.jobs.RequeueRunning(); err != nil {
		w.logger.Warn("could not requeue interrupted jobs", "error", err)
	} else if n > 0 {
		w.logger.Info("requeued interrupted jobs", "count", n)
	}
	if _, err := w.jobs.PruneJobs(time.Now().Add(-jobRetention)); err != nil {
		w.logger.Warn("could not prune finished jobs", "error", err)
	}

	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single extract_document job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.jobs.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.jobs.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(_ context.Context, job *storage.Job) error {
	var p extractPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	data, err := w.jobs.GetBlob(p.DocumentID)
	if errors.Is(err, storage.ErrNotFound) {
		// Document removed before extraction ran.
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading document %s: %w", p.DocumentID, err)
	}

	// Parsing is deterministic, so a document that fails to parse gets the
	// placeholder instead of a retry.
	text, err := Extract(p.Name, p.MIMEType, data)
	if err != nil && !errors.Is(err, ErrUnsupported) {
		w.logger.Warn("document extraction failed", "document_id", p.DocumentID, "error", err)
	}
	if err != nil || text == "" {
		text = Placeholder(p.Name, p.MIMEType, p.Size)
	}

	err = w.docs.UpdateDocumentText(p.DocumentID, text)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("updating document %s: %w", p.DocumentID, err)
	}
	if err := w.jobs.DeleteBlob(p.DocumentID); err != nil {
		w.logger.Warn("failed to delete document blob", "document_id", p.DocumentID, "error", err)
	}
	w.logger.Info("document extracted", "document_id", p.DocumentID, "chars", len(text))
	return nil
}
