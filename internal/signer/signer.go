// Package signer models the user-held signing capability that authorizes an
// anchor transaction.
//
// The capability is opaque to callers: Sign returns a typed Result whose
// Status is Signed, Declined or Failed. A declined request is a normal
// outcome, not an error. Authorizations are short-lived EdDSA JWTs binding an
// anchor hash to a locator; the ledger service checks them with a Verifier.
package signer

import (
	"context"
	"errors"
	"time"
)

// ErrDeclined is the error recorded when the user refuses to sign.
var ErrDeclined = errors.New("user declined to sign the anchor transaction")

// Status is the outcome of a signing request.
type Status int

const (
	Signed Status = iota + 1
	Declined
	Failed
)

func (s Status) String() string {
	switch s {
	case Signed:
		return "signed"
	case Declined:
		return "declined"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Request identifies the anchor a signature is asked for.
type Request struct {
	Hash    string
	Locator string
}

// Authorization is a signed anchor authorization. It is valid only for the
// (hash, locator) pair it was issued for and only until ExpiresAt.
type Authorization struct {
	Token     string    `json:"token" yaml:"token"`
	Signer    string    `json:"signer" yaml:"signer"` // key id
	Hash      string    `json:"hash" yaml:"hash"`
	Locator   string    `json:"locator" yaml:"locator"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires_at"`
}

// Usable reports whether a is unexpired at now and covers req.
func (a *Authorization) Usable(req Request, now time.Time) bool {
	if a == nil || a.Token == "" {
		return false
	}
	return a.Hash == req.Hash && a.Locator == req.Locator && now.Before(a.ExpiresAt)
}

// Result is the typed outcome of Signer.Sign.
type Result struct {
	Status        Status
	Authorization *Authorization // set when Status == Signed
	Reason        string         // set when Status == Failed
}

// Signer is the signing capability.
type Signer interface {
	Sign(ctx context.Context, req Request) Result
}

// Func adapts a plain function to the Signer interface.
type Func func(ctx context.Context, req Request) Result

// Sign implements Signer.
func (f Func) Sign(ctx context.Context, req Request) Result { return f(ctx, req) }
