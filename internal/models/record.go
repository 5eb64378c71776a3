package models

import (
	"fmt"
	"time"

	"github.com/desertthunder/collectx/internal/shared"
)

// JobOutcome is how a polled job ended, as stored in job history.
type JobOutcome string

const (
	JobRunning        JobOutcome = "running"
	JobCompleted      JobOutcome = "completed"
	JobQuotaExhausted JobOutcome = "quota_exhausted"
	JobFailed         JobOutcome = "failed"
	JobTimedOut       JobOutcome = "timed_out"
	JobCancelled      JobOutcome = "cancelled"
)

// Partial reports whether the outcome ended before all results arrived.
func (o JobOutcome) Partial() bool {
	return o == JobQuotaExhausted || o == JobTimedOut || o == JobCancelled
}

// JobRecord is the persisted history entry for one submitted job.
type JobRecord struct {
	entity
	remoteID       string
	kind           JobKind
	outcome        JobOutcome
	completedCount int
	totalCount     int
	errorMessage   string
	submittedAt    time.Time
	finishedAt     *time.Time
}

// NewJobRecord creates a running [JobRecord] for a submitted [Job].
func NewJobRecord(sequence int, job Job) *JobRecord {
	return &JobRecord{
		entity:      newEntity(sequence),
		remoteID:    job.ID,
		kind:        job.Kind,
		outcome:     JobRunning,
		submittedAt: job.SubmittedAt,
	}
}

func (j *JobRecord) RemoteID() string       { return j.remoteID }
func (j *JobRecord) Kind() JobKind          { return j.kind }
func (j *JobRecord) Outcome() JobOutcome    { return j.outcome }
func (j *JobRecord) CompletedCount() int    { return j.completedCount }
func (j *JobRecord) TotalCount() int        { return j.totalCount }
func (j *JobRecord) ErrorMessage() string   { return j.errorMessage }
func (j *JobRecord) SubmittedAt() time.Time { return j.submittedAt }
func (j *JobRecord) FinishedAt() *time.Time { return j.finishedAt }

// Job returns the backend handle for the record.
func (j *JobRecord) Job() Job {
	return Job{ID: j.remoteID, Kind: j.kind, SubmittedAt: j.submittedAt}
}

// SetProgress records the latest counts reported by the backend.
func (j *JobRecord) SetProgress(completed, total int) {
	j.completedCount = completed
	j.totalCount = total
}

// Finish marks the record terminal.
func (j *JobRecord) Finish(outcome JobOutcome, errMsg string, at time.Time) {
	j.outcome = outcome
	j.errorMessage = errMsg
	j.finishedAt = &at
}

// Restore sets the columns a repository reads back from storage.
func (j *JobRecord) Restore(outcome JobOutcome, errMsg string, finishedAt *time.Time) {
	j.outcome = outcome
	j.errorMessage = errMsg
	j.finishedAt = finishedAt
}

// Validate checks required fields and count consistency.
func (j *JobRecord) Validate() error {
	if j.remoteID == "" {
		return fmt.Errorf("%w: remote id is required", shared.ErrInvalidInput)
	}
	if !j.kind.Valid() {
		return fmt.Errorf("%w: invalid job kind %q", shared.ErrInvalidInput, j.kind)
	}
	if j.completedCount < 0 || j.totalCount < 0 {
		return fmt.Errorf("%w: counts cannot be negative", shared.ErrInvalidInput)
	}
	if j.submittedAt.IsZero() {
		return fmt.Errorf("%w: submitted time is required", shared.ErrInvalidInput)
	}
	return nil
}
