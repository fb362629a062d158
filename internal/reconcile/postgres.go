package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, enrollment_id, participant_id, hash, attempts, next_attempt, last_error, created_at`

// PostgresQueue stores jobs in the reconcile_jobs table.
type PostgresQueue struct {
	db *pgxpool.Pool
}

// NewPostgresQueue creates a PostgresQueue.
func NewPostgresQueue(db *pgxpool.Pool) *PostgresQueue {
	return &PostgresQueue{db: db}
}

// Enqueue implements Queue.
func (q *PostgresQueue) Enqueue(ctx context.Context, j *Job) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO reconcile_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (enrollment_id, hash) DO NOTHING`,
		j.ID, j.EnrollmentID, j.ParticipantID, j.Hash, j.Attempts, j.NextAttempt, j.LastError, j.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue reconcile job: %w", err)
	}
	return nil
}

// Due implements Queue. Rows are claimed with FOR UPDATE SKIP LOCKED only
// for the duration of the select; concurrent workers may still pick the same
// job, which is harmless because reconciliation is idempotent.
func (q *PostgresQueue) Due(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.Query(ctx, `
		SELECT `+jobColumns+` FROM reconcile_jobs
		WHERE next_attempt <= $1
		ORDER BY next_attempt
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// Update implements Queue.
func (q *PostgresQueue) Update(ctx context.Context, j *Job) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE reconcile_jobs SET attempts = $2, next_attempt = $3, last_error = $4
		WHERE id = $1`, j.ID, j.Attempts, j.NextAttempt, j.LastError)
	if err != nil {
		return fmt.Errorf("update reconcile job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Remove implements Queue.
func (q *PostgresQueue) Remove(ctx context.Context, id uuid.UUID) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM reconcile_jobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("remove reconcile job: %w", err)
	}
	return nil
}

// List implements Queue.
func (q *PostgresQueue) List(ctx context.Context) ([]*Job, error) {
	rows, err := q.db.Query(ctx, `SELECT `+jobColumns+` FROM reconcile_jobs ORDER BY next_attempt`)
	if err != nil {
		return nil, fmt.Errorf("list reconcile jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func scanJobs(rows pgx.Rows) ([]*Job, error) {
	var out []*Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(
			&j.ID, &j.EnrollmentID, &j.ParticipantID, &j.Hash,
			&j.Attempts, &j.NextAttempt, &j.LastError, &j.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}
