package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/desertthunder/collectx/internal/models"
)

// JobHistory records a running job's progress: the job row on submission, accepted results as they
// arrive and the outcome at the end. It implements tasks.JobRecorder.
type JobHistory struct {
	Jobs    *JobRepository
	Results *ResultRepository

	mu   sync.Mutex
	rows map[string]*models.JobRecord // by remote id
	now  func() time.Time
}

func NewJobHistory(db *sql.DB) *JobHistory {
	return &JobHistory{
		Jobs:    NewJobRepository(db),
		Results: NewResultRepository(db),
		rows:    make(map[string]*models.JobRecord),
		now:     time.Now,
	}
}

// RecordSubmitted creates the job row, or reuses it when the job is being resumed.
func (h *JobHistory) RecordSubmitted(ctx context.Context, job models.Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rows[job.ID]; ok {
		return nil
	}
	if rec, err := h.Jobs.GetByRemoteID(job.ID); err == nil {
		h.rows[job.ID] = rec
		return nil
	}

	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = h.now()
	}
	rec := models.NewJobRecord(0, job)
	if err := h.Jobs.Create(rec); err != nil {
		return err
	}
	h.rows[job.ID] = rec
	return nil
}

// RecordItems stores newly accepted results for the job.
func (h *JobHistory) RecordItems(ctx context.Context, job models.Job, items []models.ResultItem) error {
	rec, err := h.row(job)
	if err != nil {
		return err
	}
	_, err = h.Results.SaveItems(ctx, rec.ID(), items)
	return err
}

// RecordFinished stores the job's outcome and final counts.
func (h *JobHistory) RecordFinished(ctx context.Context, job models.Job, outcome models.JobOutcome, completed, total int, errMsg string) error {
	rec, err := h.row(job)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	rec.SetProgress(completed, total)
	rec.Finish(outcome, errMsg, h.now().UTC())
	return h.Jobs.Update(rec)
}

func (h *JobHistory) row(job models.Job) (*models.JobRecord, error) {
	h.mu.Lock()
	rec, ok := h.rows[job.ID]
	h.mu.Unlock()
	if ok {
		return rec, nil
	}

	if err := h.RecordSubmitted(context.Background(), job); err != nil {
		return nil, fmt.Errorf("job %s has no history row: %w", job.ID, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rows[job.ID], nil
}
