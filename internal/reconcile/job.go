// Package reconcile is the retry queue behind the issuance saga's
// best-effort reconciliation step.
//
// A reconciliation that fails after a durable anchor is recorded as a Job;
// a Worker retries due jobs with backoff until the backend accepts them or
// the attempt budget is spent. The ledger stays the source of truth either
// way: a job only brings the backend's status in line with it.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrJobNotFound is returned when a job id is not queued.
var ErrJobNotFound = errors.New("reconcile job not found")

// Job is one pending reconciliation.
type Job struct {
	ID            uuid.UUID `json:"id"             yaml:"id"`
	EnrollmentID  uuid.UUID `json:"enrollment_id"  yaml:"enrollment_id"`
	ParticipantID uuid.UUID `json:"participant_id" yaml:"participant_id"`
	Hash          string    `json:"hash"           yaml:"hash"`
	Attempts      int       `json:"attempts"       yaml:"attempts"`
	NextAttempt   time.Time `json:"next_attempt"   yaml:"next_attempt"`
	LastError     string    `json:"last_error"     yaml:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"     yaml:"created_at"`
}

// NewJob creates a job for (enrollment, participant, hash). attempts is the
// number of reconciliations already tried; the first retry is scheduled
// according to Backoff.
func NewJob(enrollmentID, participantID uuid.UUID, hash string, attempts int, lastErr error, now time.Time) *Job {
	j := &Job{
		ID:            uuid.New(),
		EnrollmentID:  enrollmentID,
		ParticipantID: participantID,
		Hash:          hash,
		Attempts:      attempts,
		NextAttempt:   now.Add(Backoff(attempts)),
		CreatedAt:     now.UTC(),
	}
	if lastErr != nil {
		j.LastError = lastErr.Error()
	}
	return j
}

// Backoff returns the delay before the next try after failures failed
// attempts: 1m, 5m, 25m, then hourly.
func Backoff(failures int) time.Duration {
	switch {
	case failures <= 1:
		return time.Minute
	case failures == 2:
		return 5 * time.Minute
	case failures == 3:
		return 25 * time.Minute
	default:
		return time.Hour
	}
}

// Queue stores pending jobs. Enqueue is idempotent per (EnrollmentID, Hash).
type Queue interface {
	Enqueue(ctx context.Context, j *Job) error
	Due(ctx context.Context, now time.Time, limit int) ([]*Job, error)
	Update(ctx context.Context, j *Job) error
	Remove(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*Job, error)
}

// Reconciler reports a confirmed anchor to the backend.
// *scoring.Client and scoring.Direct satisfy this interface.
type Reconciler interface {
	Reconcile(ctx context.Context, enrollmentID, participantID uuid.UUID, hash string) error
}
