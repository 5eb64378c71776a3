package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/collectx/internal/models"
	"github.com/desertthunder/collectx/internal/shared"
)

// ErrJobRecordNotFound is returned when no live job row matches.
var ErrJobRecordNotFound = errors.New("job record not found")

const jobColumns = `
	id, sequence, remote_id, kind, outcome, completed_count, total_count,
	error_message, submitted_at, finished_at, created_at, updated_at, deleted_at
`

// JobRepository implements models.Repository[*models.JobRecord] for job history.
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository creates a new JobRepository with the given database connection
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job record with a generated ID and sequence
func (r *JobRepository) Create(job *models.JobRecord) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(r.db, "jobs")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}
	job.SetID(shared.GenerateID())
	job.SetSequence(sequence)

	query := `
		INSERT INTO jobs (
			id, sequence, remote_id, kind, outcome, completed_count, total_count,
			error_message, submitted_at, finished_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(query,
		job.ID(),
		job.Sequence(),
		job.RemoteID(),
		job.Kind(),
		job.Outcome(),
		job.CompletedCount(),
		job.TotalCount(),
		nullString(job.ErrorMessage()),
		job.SubmittedAt(),
		job.FinishedAt(),
		job.CreatedAt(),
		job.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	return nil
}

// Get retrieves a job record by ID, excluding soft-deleted jobs
func (r *JobRepository) Get(id string) (*models.JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ? AND deleted_at IS NULL`
	return r.scan(r.db.QueryRow(query, id))
}

// GetBySequence retrieves a job by the number shown in job listings
func (r *JobRepository) GetBySequence(sequence int) (*models.JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE sequence = ? AND deleted_at IS NULL`
	return r.scan(r.db.QueryRow(query, sequence))
}

// GetByRemoteID retrieves the most recent job submitted under the backend's task id
func (r *JobRepository) GetByRemoteID(remoteID string) (*models.JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE remote_id = ? AND deleted_at IS NULL ORDER BY sequence DESC LIMIT 1`
	return r.scan(r.db.QueryRow(query, remoteID))
}

// Update writes the mutable columns: outcome, counts, error message and finish time
func (r *JobRepository) Update(job *models.JobRecord) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	job.SetUpdatedAt(now)

	query := `
		UPDATE jobs
		SET outcome = ?, completed_count = ?, total_count = ?, error_message = ?,
			finished_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query,
		job.Outcome(),
		job.CompletedCount(),
		job.TotalCount(),
		nullString(job.ErrorMessage()),
		job.FinishedAt(),
		now,
		job.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrJobRecordNotFound, job.ID())
	}

	return nil
}

// Delete soft-deletes a job record by ID
func (r *JobRepository) Delete(id string) error {
	result, err := r.db.Exec(`UPDATE jobs SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrJobRecordNotFound, id)
	}

	return nil
}

// List retrieves job records matching criteria, newest first.
//
// Supported criteria: "kind" and "outcome" (strings), "remote_id" (string) and "limit" (int).
func (r *JobRepository) List(criteria map[string]any) ([]*models.JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE deleted_at IS NULL`
	args := []any{}

	if kind, ok := criteria["kind"].(string); ok && kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}

	if outcome, ok := criteria["outcome"].(string); ok && outcome != "" {
		query += " AND outcome = ?"
		args = append(args, outcome)
	}

	if remoteID, ok := criteria["remote_id"].(string); ok && remoteID != "" {
		query += " AND remote_id = ?"
		args = append(args, remoteID)
	}

	query += " ORDER BY sequence DESC"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.JobRecord
	for rows.Next() {
		job, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return jobs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scan reads one row selected with jobColumns into a [models.JobRecord]
func (r *JobRepository) scan(row scanner) (*models.JobRecord, error) {
	var (
		id             string
		sequence       int
		remoteID       string
		kind           string
		outcome        string
		completedCount int
		totalCount     int
		errorMessage   sql.NullString
		submittedAt    time.Time
		finishedAt     sql.NullTime
		createdAt      time.Time
		updatedAt      time.Time
		deletedAt      sql.NullTime
	)

	err := row.Scan(
		&id, &sequence, &remoteID, &kind, &outcome, &completedCount, &totalCount,
		&errorMessage, &submittedAt, &finishedAt, &createdAt, &updatedAt, &deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job := models.NewJobRecord(sequence, models.Job{ID: remoteID, Kind: models.JobKind(kind), SubmittedAt: submittedAt})
	job.SetID(id)
	job.SetCreatedAt(createdAt)
	job.SetUpdatedAt(updatedAt)
	job.SetProgress(completedCount, totalCount)

	var finished *time.Time
	if finishedAt.Valid {
		finished = &finishedAt.Time
	}
	job.Restore(models.JobOutcome(outcome), errorMessage.String, finished)

	if deletedAt.Valid {
		job.SetDeletedAt(&deletedAt.Time)
	}

	return job, nil
}
