// Package scoring is the backend collaborator of the issuance saga: it owns
// enrollments, turns submitted scores into a published certificate record,
// and records the certified status once the anchor is confirmed.
//
// Client is the saga-side HTTP client for the same contract.
package scoring

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/examcert/internal/certificate"
)

var (
	// ErrNotFound is returned when an enrollment does not exist.
	ErrNotFound = errors.New("enrollment not found")
	// ErrNotApproved is returned when scores are submitted for an enrollment
	// that has not been approved.
	ErrNotApproved = errors.New("enrollment is not approved")
	// ErrAlreadyCertified is returned when scores are submitted for an
	// enrollment whose certificate has already been anchored.
	ErrAlreadyCertified = errors.New("enrollment is already certified")
	// ErrParticipantMismatch is returned when the participant does not own the enrollment.
	ErrParticipantMismatch = errors.New("participant does not match enrollment")
	// ErrHashMismatch is returned by Reconcile for a hash the backend never issued.
	ErrHashMismatch = errors.New("hash was not issued for this enrollment")
	// ErrAnchorUnconfirmed is returned by Reconcile when the ledger does not
	// hold the hash yet.
	ErrAnchorUnconfirmed = errors.New("anchor not found on ledger")
)

// Status is the lifecycle state of an enrollment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusScored    Status = "scored"
	StatusCertified Status = "certified"
)

// Enrollment is one participant's registration for one exam sitting.
type Enrollment struct {
	ID            uuid.UUID               `json:"id"`
	ParticipantID uuid.UUID               `json:"participant_id"`
	FullName      string                  `json:"full_name"`
	StudentID     string                  `json:"student_id"`
	Faculty       string                  `json:"faculty"`
	Program       string                  `json:"program"`
	Email         string                  `json:"email,omitempty"`
	ServiceName   string                  `json:"service_name"`
	ExamDate      string                  `json:"exam_date"`
	Status        Status                  `json:"status"`
	Scores        *certificate.ScoreSheet `json:"scores,omitempty"`
	AnchorHash    string                  `json:"hash,omitempty"`
	Locator       string                  `json:"locator,omitempty"`
	CertifiedAt   *time.Time              `json:"certified_at,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

func (e *Enrollment) participant() certificate.Participant {
	return certificate.Participant{
		FullName:  e.FullName,
		StudentID: e.StudentID,
		Faculty:   e.Faculty,
		Program:   e.Program,
	}
}

func (e *Enrollment) exam() certificate.Exam {
	return certificate.Exam{ServiceName: e.ServiceName, Date: e.ExamDate}
}

// CreateEnrollmentRequest is the payload for POST /api/v1/enrollments.
type CreateEnrollmentRequest struct {
	ParticipantID uuid.UUID `json:"participant_id" binding:"required"`
	FullName      string    `json:"full_name"      binding:"required"`
	StudentID     string    `json:"student_id"     binding:"required"`
	Faculty       string    `json:"faculty"`
	Program       string    `json:"program"`
	Email         string    `json:"email"`
	ServiceName   string    `json:"service_name"   binding:"required"`
	ExamDate      string    `json:"exam_date"      binding:"required"`
}

// SubmitScoreRequest is the payload for POST /api/v1/enrollments/:id/scores.
type SubmitScoreRequest struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	certificate.ExamScore
}

// Issued is the result of a successful score submission: the anchor pair
// and the scores as the backend computed them.
type Issued struct {
	Hash    string                 `json:"hash"    yaml:"hash"`
	Locator string                 `json:"locator" yaml:"locator"`
	Scores  certificate.ScoreSheet `json:"scores"  yaml:"scores"`
}

// ReconcileRequest is the payload for POST /api/v1/enrollments/:id/reconcile.
type ReconcileRequest struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	Hash          string    `json:"hash"`
}
