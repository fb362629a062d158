package scoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/examcert/internal/certificate"
	"github.com/jmerrifield20/examcert/internal/contentstore"
	"github.com/jmerrifield20/examcert/internal/email"
	"github.com/jmerrifield20/examcert/internal/ledger"
	"github.com/jmerrifield20/examcert/internal/reconcile"
	"go.uber.org/zap"
)

// AnchorResolver looks up the locator anchored under a hash.
// ledger.Ledger and *ledger.Client satisfy this interface.
type AnchorResolver interface {
	Resolve(ctx context.Context, hash string) (string, error)
}

// Service contains the backend logic behind the scoring API.
type Service struct {
	repo      Repository
	store     contentstore.Store
	anchors   AnchorResolver  // nil = trust the caller's reconcile request
	mailer    email.Sender    // nil = no notifications
	jobs      reconcile.Queue // nil = rely on the saga to reconcile
	verifyURL string          // base for links in notifications
	now       func() time.Time
	logger    *zap.Logger
}

// NewService creates a Service.
func NewService(repo Repository, store contentstore.Store, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		store:  store,
		now:    time.Now,
		logger: logger,
	}
}

// SetAnchorResolver makes Reconcile confirm the anchor on the ledger before
// marking an enrollment certified.
func (s *Service) SetAnchorResolver(r AnchorResolver) { s.anchors = r }

// SetReconcileQueue makes SubmitScore schedule a backend-side reconcile job
// for every issued hash, so an anchor whose client never reconciles is still
// picked up once it appears on the ledger. Requires SetAnchorResolver.
func (s *Service) SetReconcileQueue(q reconcile.Queue) { s.jobs = q }

// SetMailer enables certification notices. verifyURL is the public base URL
// of the verification endpoint, e.g. "https://verify.example.edu/api/v1/verify".
func (s *Service) SetMailer(m email.Sender, verifyURL string) {
	s.mailer = m
	s.verifyURL = strings.TrimRight(verifyURL, "/")
}

// CreateEnrollment registers a participant for an exam sitting.
func (s *Service) CreateEnrollment(ctx context.Context, req CreateEnrollmentRequest) (*Enrollment, error) {
	verr := &certificate.ValidationError{Fields: map[string]string{}}
	if req.ParticipantID == uuid.Nil {
		verr.Fields["participant_id"] = "is required"
	}
	if strings.TrimSpace(req.FullName) == "" {
		verr.Fields["full_name"] = "is required"
	}
	if strings.TrimSpace(req.StudentID) == "" {
		verr.Fields["student_id"] = "is required"
	}
	if strings.TrimSpace(req.ServiceName) == "" {
		verr.Fields["service_name"] = "is required"
	}
	if _, err := time.Parse(certificate.ExamDateLayout, req.ExamDate); err != nil {
		verr.Fields["exam_date"] = "must be YYYY-MM-DD"
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	now := s.now().UTC()
	e := &Enrollment{
		ID:            uuid.New(),
		ParticipantID: req.ParticipantID,
		FullName:      strings.TrimSpace(req.FullName),
		StudentID:     strings.TrimSpace(req.StudentID),
		Faculty:       req.Faculty,
		Program:       req.Program,
		Email:         req.Email,
		ServiceName:   strings.TrimSpace(req.ServiceName),
		ExamDate:      req.ExamDate,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("create enrollment: %w", err)
	}
	return e, nil
}

// Approve moves a pending enrollment to approved. Approving an enrollment
// that is already past pending is a no-op.
func (s *Service) Approve(ctx context.Context, id uuid.UUID) (*Enrollment, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusPending {
		return e, nil
	}
	e.Status = StatusApproved
	e.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("approve enrollment: %w", err)
	}
	return e, nil
}

// Get returns an enrollment.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Enrollment, error) {
	return s.repo.Get(ctx, id)
}

// SubmitScore validates the scores, builds and publishes the certificate
// record, and returns the (hash, locator) pair to anchor. Each successful
// call creates a new record; the caller must not retry it blindly.
func (s *Service) SubmitScore(ctx context.Context, id uuid.UUID, req SubmitScoreRequest) (*Issued, error) {
	if err := req.ExamScore.Validate(); err != nil {
		return nil, err
	}

	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.ParticipantID != req.ParticipantID {
		return nil, ErrParticipantMismatch
	}
	switch e.Status {
	case StatusPending:
		return nil, ErrNotApproved
	case StatusCertified:
		return nil, ErrAlreadyCertified
	case StatusScored:
		s.logger.Warn("rescoring enrollment; previous record is superseded",
			zap.String("enrollment_id", e.ID.String()),
			zap.String("previous_hash", e.AnchorHash),
		)
	}

	record, err := certificate.NewRecord(e.ID, e.participant(), e.exam(), req.ExamScore, s.now())
	if err != nil {
		return nil, err
	}
	data, err := record.Encode()
	if err != nil {
		return nil, err
	}
	locator, err := s.store.Publish(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("publish record: %w", err)
	}
	hash := certificate.AnchorHash(data)

	e.Status = StatusScored
	e.Scores = &record.Scores
	e.AnchorHash = hash
	e.Locator = locator
	e.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("save scored enrollment: %w", err)
	}

	if s.jobs != nil && s.anchors != nil {
		job := reconcile.NewJob(e.ID, e.ParticipantID, hash, 0, nil, s.now())
		if err := s.jobs.Enqueue(ctx, job); err != nil {
			s.logger.Warn("could not schedule reconcile job", zap.String("hash", hash), zap.Error(err))
		}
	}

	s.logger.Info("certificate record published",
		zap.String("enrollment_id", e.ID.String()),
		zap.String("hash", hash),
		zap.String("locator", locator),
		zap.Int("total", record.Scores.Total),
	)
	return &Issued{Hash: hash, Locator: locator, Scores: record.Scores}, nil
}

// Reconcile records that the certificate behind hash has been anchored.
// It is idempotent: reconciling a certified enrollment with its own hash
// succeeds without side effects.
func (s *Service) Reconcile(ctx context.Context, id uuid.UUID, req ReconcileRequest) (*Enrollment, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.ParticipantID != req.ParticipantID {
		return nil, ErrParticipantMismatch
	}
	if e.AnchorHash == "" || certificate.NormalizeHash(req.Hash) != certificate.NormalizeHash(e.AnchorHash) {
		return nil, ErrHashMismatch
	}
	if e.Status == StatusCertified {
		return e, nil
	}

	if s.anchors != nil {
		loc, err := s.anchors.Resolve(ctx, e.AnchorHash)
		if errors.Is(err, ledger.ErrNotAnchored) {
			return nil, ErrAnchorUnconfirmed
		}
		if err != nil {
			return nil, fmt.Errorf("confirm anchor: %w", err)
		}
		if loc != e.Locator {
			return nil, fmt.Errorf("%w: ledger holds locator %s", ErrHashMismatch, loc)
		}
	}

	now := s.now().UTC()
	e.Status = StatusCertified
	e.CertifiedAt = &now
	e.UpdatedAt = now
	if err := s.repo.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("save certified enrollment: %w", err)
	}
	s.logger.Info("enrollment certified",
		zap.String("enrollment_id", e.ID.String()),
		zap.String("hash", e.AnchorHash),
	)

	s.notify(ctx, e)
	return e, nil
}

func (s *Service) notify(ctx context.Context, e *Enrollment) {
	if s.mailer == nil || e.Email == "" {
		return
	}
	n := email.CertifiedNotice{
		FullName:    e.FullName,
		ServiceName: e.ServiceName,
		ExamDate:    e.ExamDate,
		Hash:        e.AnchorHash,
	}
	if e.Scores != nil {
		n.Total = e.Scores.Total
	}
	if s.verifyURL != "" {
		n.VerifyURL = s.verifyURL + "/" + e.AnchorHash
	}
	if err := email.SendCertified(ctx, s.mailer, e.Email, n); err != nil {
		s.logger.Warn("certified notice not sent",
			zap.String("enrollment_id", e.ID.String()),
			zap.Error(err),
		)
	}
}

// IsPermanent reports reconcile errors that no retry can fix. It accepts
// both service errors and *APIError responses from the HTTP client.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrHashMismatch) || errors.Is(err, ErrParticipantMismatch) || errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case 400, 403, 404, 409, 422:
			return true
		}
	}
	return false
}
