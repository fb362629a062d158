package scoring_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/examcert/internal/certificate"
	"github.com/jmerrifield20/examcert/internal/scoring"
)

func TestClient_SubmitScore(t *testing.T) {
	enrol, part := uuid.New(), uuid.New()
	var gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/api/v1/enrollments/"+enrol.String()+"/scores" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(scoring.Issued{ //nolint:errcheck
			Hash:    "0xH1",
			Locator: "cid1",
			Scores:  certificate.ExamScore{Listening: 45, Structure: 35, Reading: 40}.Scored(),
		})
	}))
	defer srv.Close()

	c := scoring.NewClient(srv.URL, "op-token", time.Second)
	issued, err := c.SubmitScore(ctx, enrol, part, certificate.ExamScore{Listening: 45, Structure: 35, Reading: 40})
	if err != nil {
		t.Fatal(err)
	}
	if issued.Hash != "0xH1" || issued.Locator != "cid1" || issued.Scores.Total != 400 {
		t.Errorf("unexpected result %+v", issued)
	}
	if gotAuth != "Bearer op-token" {
		t.Errorf("Authorization header: got %q", gotAuth)
	}
	if gotBody["participant_id"] != part.String() || gotBody["listening"] != float64(45) {
		t.Errorf("unexpected request body %v", gotBody)
	}
}

func TestClient_surfacesBackendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"enrollment is not approved"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := scoring.NewClient(srv.URL, "", time.Second)
	_, err := c.SubmitScore(ctx, uuid.New(), uuid.New(), certificate.ExamScore{})
	var apiErr *scoring.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Message != "enrollment is not approved" {
		t.Errorf("unexpected APIError %+v", apiErr)
	}
}

func TestClient_Reconcile(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		var req scoring.ReconcileRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Hash != "0xH1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"status":"certified"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := scoring.NewClient(srv.URL, "tok", time.Second)
	if err := c.Reconcile(ctx, uuid.New(), uuid.New(), "0xH1"); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("server not called")
	}
}
