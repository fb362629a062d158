package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/examcert/internal/certificate"
	"github.com/jmerrifield20/examcert/internal/issuance"
	"github.com/jmerrifield20/examcert/internal/ledger"
	"github.com/jmerrifield20/examcert/internal/scoring"
	"go.uber.org/zap"
)

func TestVerify_statusPerOutcome(t *testing.T) {
	p := newPortal(t)
	ctx := context.Background()

	// A record whose embedded total was altered before publication.
	rec, err := certificate.NewRecord(uuid.New(),
		certificate.Participant{FullName: "Ana Putri", StudentID: "1901234"},
		certificate.Exam{ServiceName: "EPT", Date: "2026-03-12"},
		certificate.ExamScore{Listening: 45, Structure: 35, Reading: 40}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	good, _ := rec.Encode()
	bad := []byte(strings.Replace(string(good), `"total":400`, `"total":401`, 1))
	badLoc, _ := p.store.Publish(ctx, bad)
	badHash := certificate.AnchorHash(bad)
	if _, err := p.ledger.Anchor(ctx, ledger.Anchor{Hash: badHash, Locator: badLoc}); err != nil {
		t.Fatal(err)
	}

	goodLoc, _ := p.store.Publish(ctx, good)
	goodHash := certificate.AnchorHash(good)
	if _, err := p.ledger.Anchor(ctx, ledger.Anchor{Hash: goodHash, Locator: goodLoc}); err != nil {
		t.Fatal(err)
	}

	missingHash := certificate.AnchorHash([]byte("missing content"))
	if _, err := p.ledger.Anchor(ctx, ledger.Anchor{Hash: missingHash, Locator: "bafkreimissing"}); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name    string
		hash    string
		status  int
		outcome string
	}{
		{"verified", goodHash, http.StatusOK, "verified"},
		{"invalid", "0xH1", http.StatusBadRequest, "invalid_hash"},
		{"not anchored", hashB, http.StatusNotFound, "not_anchored"},
		{"tampered", badHash, http.StatusUnprocessableEntity, "integrity_mismatch"},
		{"content gone", missingHash, http.StatusBadGateway, "content_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := p.do(t, http.MethodGet, "/api/v1/verify/"+tc.hash, nil, false)
			expectStatus(t, w, tc.status)
			body := decode(t, w)
			if body["outcome"] != tc.outcome {
				t.Errorf("outcome: got %v, want %s", body["outcome"], tc.outcome)
			}
			_, hasCert := body["certificate"]
			if hasCert != (tc.outcome == "verified") {
				t.Errorf("certificate present=%v for outcome %s", hasCert, tc.outcome)
			}
		})
	}
}

// TestIssueAndVerify drives the whole pipeline over HTTP: the saga submits
// scores to the portal, anchors through the ledger endpoint and reconciles,
// then the public verification endpoint re-derives the certificate.
func TestIssueAndVerify(t *testing.T) {
	p := newPortal(t)
	srv := httptest.NewServer(p.router)
	defer srv.Close()

	id, participant := createApproved(t, p)
	enrollmentID, participantID := uuid.MustParse(id), uuid.MustParse(participant)

	saga := issuance.New(
		scoring.NewClient(srv.URL, p.opToken, 5*time.Second),
		p.signer,
		ledger.NewClient(srv.URL, 0, zap.NewNop()),
		issuance.NewMemoryStore(),
		issuance.Config{},
		zap.NewNop(),
	)
	sess, err := saga.Start(context.Background(), issuance.Request{
		EnrollmentID:  enrollmentID,
		ParticipantID: participantID,
		Scores:        certificate.ExamScore{Listening: 45, Structure: 35, Reading: 40},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	done, ok := sess.Phase.(issuance.Succeeded)
	if !ok {
		t.Fatalf("phase: got %s", sess.Phase.Name())
	}
	if done.Warning != nil {
		t.Fatalf("unexpected reconciliation warning: %v", done.Warning)
	}

	w := p.do(t, http.MethodGet, "/api/v1/enrollments/"+id, nil, true)
	if got := decode(t, w)["status"]; got != "certified" {
		t.Errorf("enrollment status: got %v", got)
	}

	w = p.do(t, http.MethodGet, "/api/v1/verify/"+done.Issued.Hash, nil, false)
	expectStatus(t, w, http.StatusOK)
	cert := decode(t, w)["certificate"].(map[string]any)
	for field, want := range map[string]float64{"listening": 45, "structure": 35, "reading": 40, "total": 400} {
		if cert[field].(float64) != want {
			t.Errorf("%s: got %v, want %v", field, cert[field], want)
		}
	}
	if cert["full_name"] != "Ana Putri" {
		t.Errorf("full_name: got %v", cert["full_name"])
	}
}
