// Package issuance drives a certificate from entered scores to a durable,
// reconciled ledger anchor.
//
// The saga is an explicit state machine:
//
//	idle -> submitting -> anchoring -> reconciling -> success
//	              \            \
//	               error <------+
//
// Submission is never retried: each successful submission creates a record.
// The issued (hash, locator) pair is saved before anchoring starts, and every
// retry anchors that same pair. Anchoring ignores caller cancellation, since
// a signature presented to the signer may still land on the ledger.
// Reconciliation is best effort; its failure is a warning plus a queued job.
package issuance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/examcert/internal/certificate"
	"github.com/jmerrifield20/examcert/internal/ledger"
	"github.com/jmerrifield20/examcert/internal/reconcile"
	"github.com/jmerrifield20/examcert/internal/scoring"
	"github.com/jmerrifield20/examcert/internal/signer"
	"go.uber.org/zap"
)

// Backend is the scoring API as seen by the saga.
// *scoring.Client and scoring.Direct satisfy this interface.
type Backend interface {
	SubmitScore(ctx context.Context, enrollmentID, participantID uuid.UUID, s certificate.ExamScore) (*scoring.Issued, error)
	Reconcile(ctx context.Context, enrollmentID, participantID uuid.UUID, hash string) error
}

// Anchorer writes anchors. ledger.Ledger and *ledger.Client satisfy it.
type Anchorer interface {
	Anchor(ctx context.Context, a ledger.Anchor) (*ledger.Entry, error)
}

// Enqueuer schedules reconcile retries. reconcile.Queue satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, j *reconcile.Job) error
}

// Observer is told about every phase transition.
type Observer func(sessionID uuid.UUID, from, to Phase)

// Config tunes the saga.
type Config struct {
	SubmitTimeout    time.Duration   // default 15s
	ReconcileTimeout time.Duration   // default 10s
	AnchorAttempts   int             // ledger submissions per anchoring phase, default 3
	AnchorBackoff    []time.Duration // waits between attempts, default 1s, 5s
}

func (c *Config) defaults() {
	if c.SubmitTimeout == 0 {
		c.SubmitTimeout = 15 * time.Second
	}
	if c.ReconcileTimeout == 0 {
		c.ReconcileTimeout = 10 * time.Second
	}
	if c.AnchorAttempts <= 0 {
		c.AnchorAttempts = 3
	}
	if len(c.AnchorBackoff) == 0 {
		c.AnchorBackoff = []time.Duration{time.Second, 5 * time.Second}
	}
}

// Request starts an issuance.
type Request struct {
	EnrollmentID  uuid.UUID
	ParticipantID uuid.UUID
	Scores        certificate.ExamScore
}

// Saga runs issuance sessions. It is safe for concurrent use; independent
// sessions share only the session store.
type Saga struct {
	backend Backend
	signer  signer.Signer
	ledger  Anchorer
	store   SessionStore
	queue   Enqueuer // nil = reconciliation failures are only reported
	cfg     Config
	logger  *zap.Logger

	now   func() time.Time
	sleep func(time.Duration)

	mu       sync.Mutex
	active   map[uuid.UUID]struct{}
	observer Observer
}

// New creates a Saga.
func New(backend Backend, sign signer.Signer, l Anchorer, store SessionStore, cfg Config, logger *zap.Logger) *Saga {
	cfg.defaults()
	return &Saga{
		backend: backend,
		signer:  sign,
		ledger:  l,
		store:   store,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		sleep:   time.Sleep,
		active:  make(map[uuid.UUID]struct{}),
	}
}

// SetQueue enables reconcile retry jobs.
func (s *Saga) SetQueue(q Enqueuer) { s.queue = q }

// SetObserver registers fn for phase transitions. It is called synchronously.
func (s *Saga) SetObserver(fn Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = fn
}

// Start validates the scores and runs a new session to completion or
// failure. A *certificate.ValidationError is returned without creating a
// session. Otherwise the returned session reflects the final phase, and err
// is a *Error when that phase is Failed.
func (s *Saga) Start(ctx context.Context, req Request) (*Session, error) {
	if err := req.Scores.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sess := &Session{
		ID:            uuid.New(),
		EnrollmentID:  req.EnrollmentID,
		ParticipantID: req.ParticipantID,
		Scores:        req.Scores,
		Phase:         Idle{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if !s.acquire(sess.ID) {
		return nil, ErrSessionBusy
	}
	defer s.release(sess.ID)

	s.transition(sess, Submitting{})
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	issued, err := s.submit(ctx, sess)
	if err != nil {
		s.transition(sess, Failed{Kind: KindSubmissionFailure, Err: err})
		if delErr := s.store.Delete(context.WithoutCancel(ctx), sess.ID); delErr != nil {
			s.logger.Warn("could not discard failed session", zap.String("session_id", sess.ID.String()), zap.Error(delErr))
		}
		return sess, &Error{Kind: KindSubmissionFailure, SessionID: sess.ID, Err: err}
	}

	// The pair is durable before anchoring starts.
	sess.Issued = issued
	if err := s.store.Save(context.WithoutCancel(ctx), sess); err != nil {
		// The backend has issued; the pair exists only in memory now.
		s.logger.Error("could not persist issued pair",
			zap.String("session_id", sess.ID.String()),
			zap.String("hash", issued.Hash),
			zap.String("locator", issued.Locator),
			zap.Error(err),
		)
		err = fmt.Errorf("save issued pair: %w", err)
		s.transition(sess, Failed{Kind: KindTransactionFailed, Err: err, Issued: issued})
		return sess, &Error{Kind: KindTransactionFailed, SessionID: sess.ID, Err: err}
	}
	s.transition(sess, Anchoring{Issued: *issued})

	return s.anchorAndReconcile(ctx, sess)
}

// Retry resumes a session from anchoring with its retained (hash, locator).
// It never calls SubmitScore. Sessions left in anchoring or reconciling by
// an interrupted process are resumable too.
func (s *Saga) Retry(ctx context.Context, id uuid.UUID) (*Session, error) {
	if !s.acquire(id) {
		return nil, ErrSessionBusy
	}
	defer s.release(id)

	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch p := sess.Phase.(type) {
	case Failed:
		if !p.Retryable() {
			return sess, ErrNotRetryable
		}
	case Anchoring, Reconciling:
		s.logger.Info("resuming interrupted session",
			zap.String("session_id", id.String()),
			zap.String("phase", p.Name()),
		)
	default:
		return sess, ErrNotRetryable
	}
	if sess.Issued == nil {
		return sess, ErrNotRetryable
	}

	s.transition(sess, Anchoring{Issued: *sess.Issued})
	return s.anchorAndReconcile(ctx, sess)
}

// Cancel discards a session that is not currently running.
func (s *Saga) Cancel(ctx context.Context, id uuid.UUID) error {
	if !s.acquire(id) {
		return ErrSessionBusy
	}
	defer s.release(id)

	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("issuance session cancelled", zap.String("session_id", id.String()))
	return nil
}

// Get returns a snapshot of a stored session.
func (s *Saga) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	return s.store.Get(ctx, id)
}

// List returns all stored sessions, oldest first.
func (s *Saga) List(ctx context.Context) ([]*Session, error) {
	return s.store.List(ctx)
}

func (s *Saga) submit(ctx context.Context, sess *Session) (*scoring.Issued, error) {
	subCtx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	defer cancel()
	issued, err := s.backend.SubmitScore(subCtx, sess.EnrollmentID, sess.ParticipantID, sess.Scores)
	if err != nil {
		s.logger.Warn("score submission failed",
			zap.String("session_id", sess.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}
	return issued, nil
}

func (s *Saga) anchorAndReconcile(ctx context.Context, sess *Session) (*Session, error) {
	actx := context.WithoutCancel(ctx)
	issued := *sess.Issued

	if kind, err := s.anchor(actx, sess); err != nil {
		s.transition(sess, Failed{Kind: kind, Err: err, Issued: sess.Issued})
		if saveErr := s.store.Save(actx, sess); saveErr != nil {
			s.logger.Error("could not persist failed session; retained pair may be lost",
				zap.String("session_id", sess.ID.String()),
				zap.String("hash", issued.Hash),
				zap.String("locator", issued.Locator),
				zap.Error(saveErr),
			)
		}
		return sess, &Error{Kind: kind, SessionID: sess.ID, Err: err}
	}

	s.transition(sess, Reconciling{Issued: issued})
	if err := s.store.Save(actx, sess); err != nil {
		s.logger.Warn("could not persist session", zap.String("session_id", sess.ID.String()), zap.Error(err))
	}

	warning := s.reconcile(ctx, sess)

	s.transition(sess, Succeeded{Issued: issued, Warning: warning})
	if err := s.store.Delete(actx, sess.ID); err != nil {
		s.logger.Warn("could not discard finished session", zap.String("session_id", sess.ID.String()), zap.Error(err))
	}
	return sess, nil
}

// anchor obtains an authorization and writes the anchor, retrying ledger
// failures with the same authorization.
func (s *Saga) anchor(ctx context.Context, sess *Session) (Kind, error) {
	req := signer.Request{Hash: sess.Issued.Hash, Locator: sess.Issued.Locator}
	log := s.logger.With(
		zap.String("session_id", sess.ID.String()),
		zap.String("hash", req.Hash),
	)

	if !sess.Authorization.Usable(req, s.now()) {
		res := s.signer.Sign(ctx, req)
		switch res.Status {
		case signer.Signed:
			if res.Authorization == nil {
				return KindTransactionFailed, errors.New("signer returned no authorization")
			}
			sess.Authorization = res.Authorization
			if err := s.store.Save(ctx, sess); err != nil {
				log.Warn("could not persist authorization", zap.Error(err))
			}
		case signer.Declined:
			sess.Authorization = nil
			log.Info("anchor authorization declined")
			return KindUserDeclined, signer.ErrDeclined
		default:
			log.Warn("signer failed", zap.String("reason", res.Reason))
			return KindTransactionFailed, fmt.Errorf("signer failed: %s", res.Reason)
		}
	}

	a := ledger.Anchor{
		Hash:          req.Hash,
		Locator:       req.Locator,
		Signer:        sess.Authorization.Signer,
		Authorization: sess.Authorization.Token,
	}
	for attempt := 1; ; attempt++ {
		entry, err := s.ledger.Anchor(ctx, a)
		if err == nil {
			log.Info("anchored", zap.Int("ledger_index", entry.Index), zap.Int("attempt", attempt))
			return 0, nil
		}

		var already *ledger.AlreadyAnchoredError
		if errors.As(err, &already) {
			if already.Entry.Locator == req.Locator {
				log.Info("hash already anchored with the same locator")
				return 0, nil
			}
			return KindTransactionFailed, fmt.Errorf("%w: ledger holds %s", ledger.ErrLocatorConflict, already.Entry.Locator)
		}
		if errors.Is(err, ledger.ErrUnauthorized) {
			// Resubmitting a refused authorization cannot succeed.
			sess.Authorization = nil
			return KindTransactionFailed, err
		}
		if attempt >= s.cfg.AnchorAttempts {
			return KindTransactionFailed, err
		}

		wait := s.cfg.AnchorBackoff[min(attempt-1, len(s.cfg.AnchorBackoff)-1)]
		log.Warn("anchor attempt failed; retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		s.sleep(wait)
	}
}

func (s *Saga) reconcile(ctx context.Context, sess *Session) *ReconciliationFailure {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.ReconcileTimeout)
	err := s.backend.Reconcile(rctx, sess.EnrollmentID, sess.ParticipantID, sess.Issued.Hash)
	cancel()
	if err == nil {
		return nil
	}

	warning := &ReconciliationFailure{Err: err}
	log := s.logger.With(
		zap.String("session_id", sess.ID.String()),
		zap.String("hash", sess.Issued.Hash),
	)
	if s.queue != nil {
		job := reconcile.NewJob(sess.EnrollmentID, sess.ParticipantID, sess.Issued.Hash, 1, err, s.now())
		if qErr := s.queue.Enqueue(context.WithoutCancel(ctx), job); qErr != nil {
			log.Error("reconciliation failed and could not be queued", zap.Error(err), zap.NamedError("queue_error", qErr))
			return warning
		}
		warning.Queued = true
	}
	log.Warn("reconciliation failed; anchor stands", zap.Bool("queued", warning.Queued), zap.Error(err))
	return warning
}

func (s *Saga) transition(sess *Session, to Phase) {
	from := sess.Phase
	sess.Phase = to
	sess.UpdatedAt = s.now().UTC()

	s.logger.Debug("issuance phase",
		zap.String("session_id", sess.ID.String()),
		zap.String("from", from.Name()),
		zap.String("to", to.Name()),
	)

	s.mu.Lock()
	obs := s.observer
	s.mu.Unlock()
	if obs != nil {
		obs(sess.ID, from, to)
	}
}

func (s *Saga) acquire(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[id]; busy {
		return false
	}
	s.active[id] = struct{}{}
	return true
}

func (s *Saga) release(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}
