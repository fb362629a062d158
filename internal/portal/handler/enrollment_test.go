package handler_test

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
)

func createApproved(t *testing.T, p *portal) (enrollmentID, participantID string) {
	t.Helper()
	participantID = uuid.NewString()
	w := p.do(t, http.MethodPost, "/api/v1/enrollments", map[string]any{
		"participant_id": participantID,
		"full_name":      "Ana Putri",
		"student_id":     "1901234",
		"faculty":        "Engineering",
		"program":        "Informatics",
		"service_name":   "EPT March 2026",
		"exam_date":      "2026-03-12",
	}, true)
	expectStatus(t, w, http.StatusCreated)
	body := decode(t, w)
	if body["status"] != "pending" {
		t.Fatalf("new enrollment status: %v", body["status"])
	}
	enrollmentID = body["id"].(string)

	w = p.do(t, http.MethodPost, "/api/v1/enrollments/"+enrollmentID+"/approve", nil, true)
	expectStatus(t, w, http.StatusOK)
	return enrollmentID, participantID
}

func TestEnrollments_requireOperator(t *testing.T) {
	p := newPortal(t)
	w := p.do(t, http.MethodPost, "/api/v1/enrollments", map[string]any{}, false)
	expectStatus(t, w, http.StatusUnauthorized)
}

func TestEnrollmentCreate_validation(t *testing.T) {
	p := newPortal(t)
	w := p.do(t, http.MethodPost, "/api/v1/enrollments", map[string]any{
		"participant_id": uuid.NewString(),
		"full_name":      "Ana Putri",
		"student_id":     "1901234",
		"service_name":   "EPT",
		"exam_date":      "12/03/2026",
	}, true)
	expectStatus(t, w, http.StatusBadRequest)
	fields, _ := decode(t, w)["fields"].(map[string]any)
	if _, ok := fields["exam_date"]; !ok {
		t.Errorf("expected exam_date field error, got %s", w.Body.String())
	}
}

func TestSubmitScore_issuesRecord(t *testing.T) {
	p := newPortal(t)
	id, participant := createApproved(t, p)

	w := p.do(t, http.MethodPost, "/api/v1/enrollments/"+id+"/scores",
		`{"participant_id":"`+participant+`","listening":45,"structure":35,"reading":40}`, true)
	expectStatus(t, w, http.StatusOK)

	body := decode(t, w)
	scores := body["scores"].(map[string]any)
	if scores["total"].(float64) != 400 {
		t.Errorf("total: got %v", scores["total"])
	}
	locator := body["locator"].(string)
	if _, err := p.store.Fetch(t.Context(), locator); err != nil {
		t.Errorf("record not published under %s: %v", locator, err)
	}

	w = p.do(t, http.MethodGet, "/api/v1/enrollments/"+id, nil, true)
	if got := decode(t, w)["status"]; got != "scored" {
		t.Errorf("status after scoring: %v", got)
	}
}

func TestSubmitScore_errors(t *testing.T) {
	p := newPortal(t)
	id, participant := createApproved(t, p)

	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{"fractional", id, `{"participant_id":"` + participant + `","listening":12.5,"structure":35,"reading":40}`, http.StatusBadRequest},
		{"string score", id, `{"participant_id":"` + participant + `","listening":"45","structure":35,"reading":40}`, http.StatusBadRequest},
		{"out of range", id, `{"participant_id":"` + participant + `","listening":45,"structure":41,"reading":40}`, http.StatusBadRequest},
		{"no participant", id, `{"listening":45,"structure":35,"reading":40}`, http.StatusBadRequest},
		{"bad id", "not-a-uuid", `{"participant_id":"` + participant + `","listening":45,"structure":35,"reading":40}`, http.StatusBadRequest},
		{"unknown enrollment", uuid.NewString(), `{"participant_id":"` + participant + `","listening":45,"structure":35,"reading":40}`, http.StatusNotFound},
		{"participant mismatch", id, `{"participant_id":"` + uuid.NewString() + `","listening":45,"structure":35,"reading":40}`, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := p.do(t, http.MethodPost, "/api/v1/enrollments/"+tc.path+"/scores", tc.body, true)
			expectStatus(t, w, tc.want)
		})
	}
	if p.store.Len() != 0 {
		t.Errorf("rejected submissions must not publish records, store has %d", p.store.Len())
	}
}

func TestSubmitScore_notApproved(t *testing.T) {
	p := newPortal(t)
	participant := uuid.NewString()
	w := p.do(t, http.MethodPost, "/api/v1/enrollments", map[string]any{
		"participant_id": participant,
		"full_name":      "Budi Santoso",
		"student_id":     "1905678",
		"service_name":   "EPT",
		"exam_date":      "2026-03-12",
	}, true)
	expectStatus(t, w, http.StatusCreated)
	id := decode(t, w)["id"].(string)

	w = p.do(t, http.MethodPost, "/api/v1/enrollments/"+id+"/scores",
		`{"participant_id":"`+participant+`","listening":45,"structure":35,"reading":40}`, true)
	expectStatus(t, w, http.StatusConflict)
}

func TestReconcile_statuses(t *testing.T) {
	p := newPortal(t)
	id, participant := createApproved(t, p)

	w := p.do(t, http.MethodPost, "/api/v1/enrollments/"+id+"/scores",
		`{"participant_id":"`+participant+`","listening":45,"structure":35,"reading":40}`, true)
	expectStatus(t, w, http.StatusOK)
	issued := decode(t, w)
	hash, locator := issued["hash"].(string), issued["locator"].(string)

	reconcile := func(h string) int {
		return p.do(t, http.MethodPost, "/api/v1/enrollments/"+id+"/reconcile",
			map[string]string{"participant_id": participant, "hash": h}, true).Code
	}

	if got := reconcile(hashB); got != http.StatusUnprocessableEntity {
		t.Errorf("foreign hash: expected 422, got %d", got)
	}
	if got := reconcile(hash); got != http.StatusFailedDependency {
		t.Errorf("unanchored hash: expected 424, got %d", got)
	}

	w = p.do(t, http.MethodPost, "/api/v1/ledger/anchors", map[string]string{
		"hash": hash, "locator": locator, "authorization": p.authorize(t, hash, locator),
	}, false)
	expectStatus(t, w, http.StatusCreated)

	if got := reconcile(hash); got != http.StatusOK {
		t.Errorf("anchored hash: expected 200, got %d", got)
	}
	if got := reconcile(hash); got != http.StatusOK {
		t.Errorf("reconcile must be idempotent, got %d", got)
	}

	w = p.do(t, http.MethodGet, "/api/v1/enrollments/"+id, nil, true)
	if got := decode(t, w)["status"]; got != "certified" {
		t.Errorf("status: got %v", got)
	}

	w = p.do(t, http.MethodPost, "/api/v1/enrollments/"+id+"/scores",
		`{"participant_id":"`+participant+`","listening":50,"structure":40,"reading":50}`, true)
	expectStatus(t, w, http.StatusConflict)
}
