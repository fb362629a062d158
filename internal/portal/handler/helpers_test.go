package handler_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/examcert/internal/contentstore"
	"github.com/jmerrifield20/examcert/internal/identity"
	"github.com/jmerrifield20/examcert/internal/ledger"
	"github.com/jmerrifield20/examcert/internal/portal/handler"
	"github.com/jmerrifield20/examcert/internal/scoring"
	"github.com/jmerrifield20/examcert/internal/signer"
	"github.com/jmerrifield20/examcert/internal/verify"
	"go.uber.org/zap"
)

// portal is a fully wired in-memory portal for handler tests.
type portal struct {
	router   *gin.Engine
	ledger   *ledger.MemoryLedger
	store    *contentstore.MemoryStore
	scoring  *scoring.Service
	signer   *signer.KeySigner
	opToken  string
	resolver *verify.Resolver
}

func newPortal(t *testing.T) *portal {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	tokens := identity.NewTokenIssuer(rsaKey, "http://portal.test", time.Hour)
	opToken, err := tokens.Issue("registrar")
	if err != nil {
		t.Fatal(err)
	}

	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	keySigner := signer.NewKeySigner(edKey, signer.AutoApprove, time.Minute)
	verifier := signer.NewVerifier(edKey.Public().(ed25519.PublicKey))

	l := ledger.New()
	store := contentstore.NewMemoryStore()
	svc := scoring.NewService(scoring.NewMemoryRepository(), store, logger)
	svc.SetAnchorResolver(l)
	resolver := verify.New(l, store, verify.Config{StrictHash: true, BindHash: true}, logger)

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewEnrollmentHandler(svc, logger).Register(v1, identity.RequireOperator(tokens))
	handler.NewLedgerHandler(l, verifier, logger).Register(v1)
	handler.NewVerifyHandler(resolver).Register(v1)
	handler.NewContentHandler(store, logger).Register(r, identity.RequireOperator(tokens))

	return &portal{
		router:   r,
		ledger:   l,
		store:    store,
		scoring:  svc,
		signer:   keySigner,
		opToken:  opToken,
		resolver: resolver,
	}
}

func (p *portal) do(t *testing.T, method, path string, body any, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	case []byte:
		buf.Write(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+p.opToken)
	}
	w := httptest.NewRecorder()
	p.router.ServeHTTP(w, req)
	return w
}

// authorize signs an anchor authorization with the portal's trusted key.
func (p *portal) authorize(t *testing.T, hash, locator string) string {
	t.Helper()
	res := p.signer.Sign(context.Background(), signer.Request{Hash: hash, Locator: locator})
	if res.Status != signer.Signed {
		t.Fatalf("sign: %v %s", res.Status, res.Reason)
	}
	return res.Authorization.Token
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}
