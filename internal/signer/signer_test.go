package signer_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmerrifield20/examcert/internal/signer"
)

var ctx = context.Background()

func newKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return priv
}

func TestKeySigner_signsAndVerifies(t *testing.T) {
	priv := newKey(t)
	s := signer.NewKeySigner(priv, signer.AutoApprove, 0)

	req := signer.Request{Hash: "0xH1", Locator: "cid1"}
	res := s.Sign(ctx, req)
	if res.Status != signer.Signed {
		t.Fatalf("expected Signed, got %s (%s)", res.Status, res.Reason)
	}
	if !res.Authorization.Usable(req, time.Now()) {
		t.Error("fresh authorization should be usable")
	}

	v := signer.NewVerifier(priv.Public().(ed25519.PublicKey))
	kid, err := v.Verify(res.Authorization.Token, "0xH1", "cid1")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if kid != s.KeyID() {
		t.Errorf("key id: got %s, want %s", kid, s.KeyID())
	}
}

func TestVerifier_rejectsOtherAnchor(t *testing.T) {
	priv := newKey(t)
	res := signer.NewKeySigner(priv, signer.AutoApprove, 0).Sign(ctx, signer.Request{Hash: "0xH1", Locator: "cid1"})
	v := signer.NewVerifier(priv.Public().(ed25519.PublicKey))

	if _, err := v.Verify(res.Authorization.Token, "0xH1", "cid2"); !errors.Is(err, signer.ErrClaimsMismatch) {
		t.Errorf("expected ErrClaimsMismatch, got %v", err)
	}
}

func TestVerifier_hashCaseInsensitive(t *testing.T) {
	priv := newKey(t)
	res := signer.NewKeySigner(priv, signer.AutoApprove, 0).Sign(ctx, signer.Request{Hash: "0xAB12", Locator: "cid1"})
	v := signer.NewVerifier(priv.Public().(ed25519.PublicKey))

	if _, err := v.Verify(res.Authorization.Token, "0xab12", "cid1"); err != nil {
		t.Errorf("Verify with normalized hash: %v", err)
	}
	if _, err := v.Verify(res.Authorization.Token, "0xab13", "cid1"); !errors.Is(err, signer.ErrClaimsMismatch) {
		t.Errorf("expected ErrClaimsMismatch, got %v", err)
	}
}

func TestVerifier_rejectsUnknownKey(t *testing.T) {
	res := signer.NewKeySigner(newKey(t), signer.AutoApprove, 0).Sign(ctx, signer.Request{Hash: "0xH1", Locator: "cid1"})
	v := signer.NewVerifier(newKey(t).Public().(ed25519.PublicKey))

	if _, err := v.Verify(res.Authorization.Token, "0xH1", "cid1"); !errors.Is(err, signer.ErrUnknownKey) {
		t.Errorf("expected ErrUnknownKey, got %v", err)
	}
}

func TestVerifier_rejectsGarbage(t *testing.T) {
	v := signer.NewVerifier(newKey(t).Public().(ed25519.PublicKey))
	if _, err := v.Verify("not-a-jwt", "0xH1", "cid1"); err == nil {
		t.Error("expected error for malformed token")
	}
}

func TestKeySigner_declined(t *testing.T) {
	deny := signer.ApproveFunc(func(context.Context, signer.Request) (bool, error) { return false, nil })
	res := signer.NewKeySigner(newKey(t), deny, 0).Sign(ctx, signer.Request{Hash: "0xH1", Locator: "cid1"})
	if res.Status != signer.Declined || res.Authorization != nil {
		t.Errorf("expected Declined without authorization, got %+v", res)
	}
}

func TestKeySigner_approverFailure(t *testing.T) {
	broken := signer.ApproveFunc(func(context.Context, signer.Request) (bool, error) {
		return false, errors.New("wallet locked")
	})
	res := signer.NewKeySigner(newKey(t), broken, 0).Sign(ctx, signer.Request{Hash: "0xH1", Locator: "cid1"})
	if res.Status != signer.Failed || res.Reason != "wallet locked" {
		t.Errorf("expected Failed(wallet locked), got %+v", res)
	}
}

func TestAuthorization_Usable(t *testing.T) {
	now := time.Now()
	a := &signer.Authorization{Token: "t", Hash: "0xH1", Locator: "cid1", ExpiresAt: now.Add(time.Minute)}
	req := signer.Request{Hash: "0xH1", Locator: "cid1"}

	tests := []struct {
		name string
		auth *signer.Authorization
		req  signer.Request
		at   time.Time
		want bool
	}{
		{"valid", a, req, now, true},
		{"expired", a, req, now.Add(2 * time.Minute), false},
		{"other hash", a, signer.Request{Hash: "0xH2", Locator: "cid1"}, now, false},
		{"nil", nil, req, now, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.auth.Usable(tc.req, tc.at); got != tc.want {
				t.Errorf("Usable: got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPromptApprover(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tc := range tests {
		var out bytes.Buffer
		p := &signer.PromptApprover{In: strings.NewReader(tc.input), Out: &out}
		got, err := p.Approve(ctx, signer.Request{Hash: "0xH1", Locator: "cid1"})
		if err != nil {
			t.Fatalf("input %q: %v", tc.input, err)
		}
		if got != tc.want {
			t.Errorf("input %q: got %v, want %v", tc.input, got, tc.want)
		}
		if !strings.Contains(out.String(), "0xH1") {
			t.Errorf("prompt should show the hash, got %q", out.String())
		}
	}
}

func TestGenerateAndLoadKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "signing.pem")
	priv, err := signer.GenerateKey(path)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := signer.LoadKey(path)
	if err != nil {
		t.Fatal(err)
	}
	if !priv.Equal(loaded) {
		t.Error("loaded key differs from generated key")
	}
	if _, err := signer.GenerateKey(path); err == nil {
		t.Error("GenerateKey should refuse to overwrite")
	}
}

func TestParsePublicKeys(t *testing.T) {
	pub := newKey(t).Public().(ed25519.PublicKey)
	keys, err := signer.ParsePublicKeys([]string{signer.EncodePublicKey(pub), " "})
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || !keys[0].Equal(pub) {
		t.Errorf("unexpected keys %v", keys)
	}
	if _, err := signer.ParsePublicKeys([]string{"c2hvcnQ="}); err == nil {
		t.Error("expected error for short key")
	}
}
