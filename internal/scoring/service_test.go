package scoring_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/examcert/internal/certificate"
	"github.com/jmerrifield20/examcert/internal/contentstore"
	"github.com/jmerrifield20/examcert/internal/ledger"
	"github.com/jmerrifield20/examcert/internal/reconcile"
	"github.com/jmerrifield20/examcert/internal/scoring"
	"go.uber.org/zap"
)

var ctx = context.Background()

type fixture struct {
	svc     *scoring.Service
	store   *contentstore.MemoryStore
	ledger  *ledger.MemoryLedger
	enrolID uuid.UUID
	partID  uuid.UUID
}

func newFixture(t *testing.T, approve bool) *fixture {
	t.Helper()
	f := &fixture{
		store:  contentstore.NewMemoryStore(),
		ledger: ledger.New(),
		partID: uuid.New(),
	}
	f.svc = scoring.NewService(scoring.NewMemoryRepository(), f.store, zap.NewNop())
	f.svc.SetAnchorResolver(f.ledger)

	e, err := f.svc.CreateEnrollment(ctx, scoring.CreateEnrollmentRequest{
		ParticipantID: f.partID,
		FullName:      "Ana Putri",
		StudentID:     "2201001",
		Faculty:       "Engineering",
		Program:       "Informatics",
		Email:         "ana@example.edu",
		ServiceName:   "EPT",
		ExamDate:      "2026-03-14",
	})
	if err != nil {
		t.Fatal(err)
	}
	f.enrolID = e.ID
	if approve {
		if _, err := f.svc.Approve(ctx, e.ID); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

func (f *fixture) submit(s certificate.ExamScore) (*scoring.Issued, error) {
	return f.svc.SubmitScore(ctx, f.enrolID, scoring.SubmitScoreRequest{ParticipantID: f.partID, ExamScore: s})
}

func TestSubmitScore_publishesRecord(t *testing.T) {
	f := newFixture(t, true)

	issued, err := f.submit(certificate.ExamScore{Listening: 45, Structure: 35, Reading: 40})
	if err != nil {
		t.Fatal(err)
	}
	if issued.Scores.Total != 400 {
		t.Errorf("total: got %d, want 400", issued.Scores.Total)
	}
	if !certificate.ValidAnchorHash(issued.Hash) {
		t.Errorf("malformed hash %q", issued.Hash)
	}

	data, err := f.store.Fetch(ctx, issued.Locator)
	if err != nil {
		t.Fatalf("record not published: %v", err)
	}
	if certificate.AnchorHash(data) != issued.Hash {
		t.Error("hash does not commit to the published bytes")
	}
	rec, err := certificate.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Participant.FullName != "Ana Putri" || rec.EnrollmentID != f.enrolID {
		t.Errorf("unexpected record %+v", rec)
	}

	e, _ := f.svc.Get(ctx, f.enrolID)
	if e.Status != scoring.StatusScored || e.AnchorHash != issued.Hash {
		t.Errorf("enrollment not updated: %+v", e)
	}
}

func TestSubmitScore_rejections(t *testing.T) {
	valid := certificate.ExamScore{Listening: 45, Structure: 35, Reading: 40}

	t.Run("validation", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := f.submit(certificate.ExamScore{Listening: 51})
		var verr *certificate.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("expected ValidationError, got %v", err)
		}
		if f.store.Len() != 0 {
			t.Error("nothing should be published for invalid scores")
		}
	})
	t.Run("not approved", func(t *testing.T) {
		f := newFixture(t, false)
		if _, err := f.submit(valid); !errors.Is(err, scoring.ErrNotApproved) {
			t.Errorf("expected ErrNotApproved, got %v", err)
		}
	})
	t.Run("participant mismatch", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := f.svc.SubmitScore(ctx, f.enrolID, scoring.SubmitScoreRequest{ParticipantID: uuid.New(), ExamScore: valid})
		if !errors.Is(err, scoring.ErrParticipantMismatch) {
			t.Errorf("expected ErrParticipantMismatch, got %v", err)
		}
	})
	t.Run("unknown enrollment", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := f.svc.SubmitScore(ctx, uuid.New(), scoring.SubmitScoreRequest{ParticipantID: f.partID, ExamScore: valid})
		if !errors.Is(err, scoring.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestReconcile(t *testing.T) {
	f := newFixture(t, true)
	issued, err := f.submit(certificate.ExamScore{Listening: 45, Structure: 35, Reading: 40})
	if err != nil {
		t.Fatal(err)
	}
	req := scoring.ReconcileRequest{ParticipantID: f.partID, Hash: issued.Hash}

	if _, err := f.svc.Reconcile(ctx, f.enrolID, req); !errors.Is(err, scoring.ErrAnchorUnconfirmed) {
		t.Fatalf("expected ErrAnchorUnconfirmed before anchoring, got %v", err)
	}

	if _, err := f.ledger.Anchor(ctx, ledger.Anchor{Hash: issued.Hash, Locator: issued.Locator}); err != nil {
		t.Fatal(err)
	}
	e, err := f.svc.Reconcile(ctx, f.enrolID, req)
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != scoring.StatusCertified || e.CertifiedAt == nil {
		t.Errorf("expected certified enrollment, got %+v", e)
	}

	// idempotent
	if _, err := f.svc.Reconcile(ctx, f.enrolID, req); err != nil {
		t.Errorf("second reconcile: %v", err)
	}

	_, err = f.submit(certificate.ExamScore{Listening: 1})
	if !errors.Is(err, scoring.ErrAlreadyCertified) {
		t.Errorf("expected ErrAlreadyCertified, got %v", err)
	}
}

func TestReconcile_wrongHash(t *testing.T) {
	f := newFixture(t, true)
	if _, err := f.submit(certificate.ExamScore{Listening: 10, Structure: 10, Reading: 10}); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.Reconcile(ctx, f.enrolID, scoring.ReconcileRequest{ParticipantID: f.partID, Hash: "0xother"})
	if !errors.Is(err, scoring.ErrHashMismatch) {
		t.Errorf("expected ErrHashMismatch, got %v", err)
	}
}

func TestCreateEnrollment_validation(t *testing.T) {
	svc := scoring.NewService(scoring.NewMemoryRepository(), contentstore.NewMemoryStore(), zap.NewNop())
	_, err := svc.CreateEnrollment(ctx, scoring.CreateEnrollmentRequest{ExamDate: "14/03/2026"})
	var verr *certificate.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, field := range []string{"participant_id", "full_name", "student_id", "service_name", "exam_date"} {
		if _, ok := verr.Fields[field]; !ok {
			t.Errorf("missing field error for %s", field)
		}
	}
}

func TestSubmitScore_schedulesReconcileJob(t *testing.T) {
	f := newFixture(t, true)
	q := reconcile.NewMemoryQueue()
	f.svc.SetReconcileQueue(q)

	issued, err := f.submit(certificate.ExamScore{Listening: 45, Structure: 35, Reading: 40})
	if err != nil {
		t.Fatal(err)
	}
	jobs, _ := q.List(ctx)
	if len(jobs) != 1 || jobs[0].Hash != issued.Hash || jobs[0].EnrollmentID != f.enrolID {
		t.Fatalf("unexpected jobs %+v", jobs)
	}

	// The backend-side worker certifies once the anchor lands.
	w := reconcile.NewWorker(q, scoring.Direct{Service: f.svc}, reconcile.Config{IsPermanent: scoring.IsPermanent}, zap.NewNop())
	_, _ = f.ledger.Anchor(ctx, ledger.Anchor{Hash: issued.Hash, Locator: issued.Locator})
	jobs[0].NextAttempt = time.Now().Add(-time.Second)
	_ = q.Update(ctx, jobs[0])

	if n, err := w.RunOnce(ctx); err != nil || n != 1 {
		t.Fatalf("RunOnce: %d, %v", n, err)
	}
	e, _ := f.svc.Get(ctx, f.enrolID)
	if e.Status != scoring.StatusCertified {
		t.Errorf("expected certified, got %s", e.Status)
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{scoring.ErrHashMismatch, true},
		{scoring.ErrAnchorUnconfirmed, false},
		{&scoring.APIError{Status: 404}, true},
		{&scoring.APIError{Status: 424}, false},
		{&scoring.APIError{Status: 503}, false},
		{errors.New("connection refused"), false},
	}
	for _, tc := range tests {
		if got := scoring.IsPermanent(tc.err); got != tc.want {
			t.Errorf("IsPermanent(%v): got %v, want %v", tc.err, got, tc.want)
		}
	}
}
