package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jmerrifield20/examcert/internal/certificate"
	"github.com/jmerrifield20/examcert/internal/ledger"
	"go.uber.org/zap"
)

var (
	hashA = certificate.AnchorHash([]byte("record a"))
	hashB = certificate.AnchorHash([]byte("record b"))
)

func TestLedgerOverview_200(t *testing.T) {
	p := newPortal(t)
	w := p.do(t, http.MethodGet, "/api/v1/ledger", nil, false)
	expectStatus(t, w, http.StatusOK)

	if entries := int(decode(t, w)["entries"].(float64)); entries != 1 { // genesis
		t.Errorf("expected 1 entry (genesis), got %d", entries)
	}
}

func TestLedgerVerify_200(t *testing.T) {
	p := newPortal(t)
	w := p.do(t, http.MethodGet, "/api/v1/ledger/verify", nil, false)
	expectStatus(t, w, http.StatusOK)
	if decode(t, w)["valid"] != true {
		t.Errorf("expected valid=true, got %s", w.Body.String())
	}
}

func TestLedgerGetEntry(t *testing.T) {
	p := newPortal(t)
	cases := []struct {
		path string
		want int
	}{
		{"/api/v1/ledger/entries/0", http.StatusOK},
		{"/api/v1/ledger/entries/999", http.StatusNotFound},
		{"/api/v1/ledger/entries/abc", http.StatusBadRequest},
		{"/api/v1/ledger/entries/-1", http.StatusBadRequest},
	}
	for _, tc := range cases {
		w := p.do(t, http.MethodGet, tc.path, nil, false)
		if w.Code != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.path, tc.want, w.Code)
		}
	}
}

func TestLedgerAnchor_created(t *testing.T) {
	p := newPortal(t)
	w := p.do(t, http.MethodPost, "/api/v1/ledger/anchors", map[string]string{
		"hash":          hashA,
		"locator":       "cid-a",
		"authorization": p.authorize(t, hashA, "cid-a"),
	}, false)
	expectStatus(t, w, http.StatusCreated)

	body := decode(t, w)
	if body["anchor_hash"] != hashA || body["locator"] != "cid-a" {
		t.Errorf("unexpected entry: %v", body)
	}
	if body["signer"] != p.signer.KeyID() {
		t.Errorf("signer: got %v, want %s", body["signer"], p.signer.KeyID())
	}

	w = p.do(t, http.MethodGet, "/api/v1/ledger/anchors/"+hashA, nil, false)
	expectStatus(t, w, http.StatusOK)
	if got := decode(t, w)["locator"]; got != "cid-a" {
		t.Errorf("resolved locator: got %v", got)
	}

	w = p.do(t, http.MethodGet, "/api/v1/ledger/verify", nil, false)
	if decode(t, w)["valid"] != true {
		t.Errorf("chain invalid after anchor: %s", w.Body.String())
	}
}

func TestLedgerAnchor_conflictReturnsExistingEntry(t *testing.T) {
	p := newPortal(t)
	first := p.do(t, http.MethodPost, "/api/v1/ledger/anchors", map[string]string{
		"hash": hashA, "locator": "cid-a", "authorization": p.authorize(t, hashA, "cid-a"),
	}, false)
	expectStatus(t, first, http.StatusCreated)

	w := p.do(t, http.MethodPost, "/api/v1/ledger/anchors", map[string]string{
		"hash": hashA, "locator": "cid-other", "authorization": p.authorize(t, hashA, "cid-other"),
	}, false)
	expectStatus(t, w, http.StatusConflict)
	if got := decode(t, w)["locator"]; got != "cid-a" {
		t.Errorf("conflict body should carry the existing locator, got %v", got)
	}
	if n, _ := p.ledger.Len(context.Background()); n != 2 {
		t.Errorf("expected 2 entries, got %d", n)
	}
}

func TestLedgerAnchor_rejects(t *testing.T) {
	p := newPortal(t)
	other := newPortal(t) // signs with a key this portal does not trust

	cases := []struct {
		name string
		body any
		want int
	}{
		{"malformed json", `{"hash":`, http.StatusBadRequest},
		{"missing authorization", map[string]string{"hash": hashA, "locator": "cid-a"}, http.StatusBadRequest},
		{"bad hash", map[string]string{"hash": "0xH1", "locator": "cid-a", "authorization": "x"}, http.StatusBadRequest},
		{"garbage token", map[string]string{"hash": hashA, "locator": "cid-a", "authorization": "x.y.z"}, http.StatusUnauthorized},
		{"foreign key", map[string]string{"hash": hashA, "locator": "cid-a", "authorization": other.authorize(t, hashA, "cid-a")}, http.StatusUnauthorized},
		{"wrong anchor", map[string]string{"hash": hashA, "locator": "cid-a", "authorization": p.authorize(t, hashB, "cid-a")}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := p.do(t, http.MethodPost, "/api/v1/ledger/anchors", tc.body, false)
			expectStatus(t, w, tc.want)
		})
	}
	if n, _ := p.ledger.Len(context.Background()); n != 1 {
		t.Errorf("rejected anchors must not be written, ledger has %d entries", n)
	}
}

func TestLedgerResolve_404(t *testing.T) {
	p := newPortal(t)
	w := p.do(t, http.MethodGet, "/api/v1/ledger/anchors/"+hashB, nil, false)
	expectStatus(t, w, http.StatusNotFound)
	if got := decode(t, w)["code"]; got != ledger.NotAnchoredCode {
		t.Errorf("code: got %v, want %s", got, ledger.NotAnchoredCode)
	}
}

func TestLedgerAnchor_normalizesHashBeforeVerifying(t *testing.T) {
	p := newPortal(t)
	upper := "0x" + strings.ToUpper(hashA[2:])

	// Signed over the canonical form, submitted in upper case.
	w := p.do(t, http.MethodPost, "/api/v1/ledger/anchors", map[string]string{
		"hash": upper, "locator": "cid-a", "authorization": p.authorize(t, hashA, "cid-a"),
	}, false)
	expectStatus(t, w, http.StatusCreated)
	if got := decode(t, w)["anchor_hash"]; got != hashA {
		t.Errorf("stored hash: got %v, want %s", got, hashA)
	}

	// Signed over the upper-case form, submitted canonical.
	w = p.do(t, http.MethodPost, "/api/v1/ledger/anchors", map[string]string{
		"hash": hashB, "locator": "cid-b", "authorization": p.authorize(t, "0x"+strings.ToUpper(hashB[2:]), "cid-b"),
	}, false)
	expectStatus(t, w, http.StatusCreated)
}

// The HTTP client and the handler must agree on every anchor outcome.
func TestLedgerClient_againstHandler(t *testing.T) {
	p := newPortal(t)
	srv := httptest.NewServer(p.router)
	defer srv.Close()

	client := ledger.NewClient(srv.URL, 5*time.Second, zap.NewNop())
	ctx := context.Background()

	entry, err := client.Anchor(ctx, ledger.Anchor{
		Hash: hashA, Locator: "cid-a", Authorization: p.authorize(t, hashA, "cid-a"),
	})
	if err != nil {
		t.Fatalf("Anchor: %v", err)
	}
	if entry.Index != 1 {
		t.Errorf("index: got %d", entry.Index)
	}

	_, err = client.Anchor(ctx, ledger.Anchor{
		Hash: hashA, Locator: "cid-a", Authorization: p.authorize(t, hashA, "cid-a"),
	})
	var existing *ledger.AlreadyAnchoredError
	if !errors.As(err, &existing) || existing.Entry.Locator != "cid-a" {
		t.Fatalf("expected AlreadyAnchoredError with locator cid-a, got %v", err)
	}

	_, err = client.Anchor(ctx, ledger.Anchor{Hash: hashB, Locator: "cid-b", Authorization: "x.y.z"})
	if !errors.Is(err, ledger.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	loc, err := client.Resolve(ctx, strings.ToUpper(hashA))
	if err != nil || loc != "cid-a" {
		t.Fatalf("Resolve upper-case: got %q, %v", loc, err)
	}
	loc, err = client.Resolve(ctx, hashA)
	if err != nil || loc != "cid-a" {
		t.Fatalf("Resolve: got %q, %v", loc, err)
	}
	if _, err := client.Resolve(ctx, hashB); !errors.Is(err, ledger.ErrNotAnchored) {
		t.Fatalf("expected ErrNotAnchored, got %v", err)
	}

	// A wrong base URL hits gin's NoRoute 404, which is not an answer.
	misrouted := ledger.NewClient(srv.URL+"/wrong", 5*time.Second, zap.NewNop())
	if _, err := misrouted.Resolve(ctx, hashB); err == nil || errors.Is(err, ledger.ErrNotAnchored) {
		t.Fatalf("expected transport error for misrouted client, got %v", err)
	}
}
