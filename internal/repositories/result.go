package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/desertthunder/collectx/internal/models"
)

// ResultRepository stores reconciled result items per job.
type ResultRepository struct {
	db *sql.DB
}

func NewResultRepository(db *sql.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// SaveItems appends items to the job's results after any already stored.
//
// A record id already stored for the job is left untouched, so saving the same batch twice is a no-op.
// It returns how many rows were inserted.
func (r *ResultRepository) SaveItems(ctx context.Context, jobID string, items []models.ResultItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next int
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), -1) + 1 FROM job_results WHERE job_id = ?`, jobID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to read result position: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO job_results (job_id, record_id, position, outcome, batch_seq, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, it := range items {
		payload, err := json.Marshal(it.Payload)
		if err != nil {
			return 0, fmt.Errorf("failed to encode payload for %s: %w", it.RecordID, err)
		}

		_, err = stmt.ExecContext(ctx, jobID, it.RecordID, next, it.Outcome, it.BatchSeq, string(payload))
		if isUniqueViolation(err) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to insert result %s: %w", it.RecordID, err)
		}
		next++
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit results: %w", err)
	}
	return inserted, nil
}

// ListByJob returns the job's items in the order they were accepted.
func (r *ResultRepository) ListByJob(ctx context.Context, jobID string) ([]models.ResultItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT record_id, outcome, batch_seq, payload
		FROM job_results
		WHERE job_id = ?
		ORDER BY position
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var items []models.ResultItem
	for rows.Next() {
		var (
			it      models.ResultItem
			outcome string
			payload string
		)
		if err := rows.Scan(&it.RecordID, &outcome, &it.BatchSeq, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		it.Outcome = models.Outcome(outcome)
		if err := json.Unmarshal([]byte(payload), &it.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload for %s: %w", it.RecordID, err)
		}
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

// Count returns how many results are stored for the job.
func (r *ResultRepository) Count(ctx context.Context, jobID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_results WHERE job_id = ?`, jobID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count results: %w", err)
	}
	return n, nil
}
