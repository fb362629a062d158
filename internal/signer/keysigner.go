package signer

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL is the lifetime of an anchor authorization.
const DefaultTTL = 10 * time.Minute

const issuer = "examcert-signer"

// AnchorClaims are the JWT claims of an anchor authorization.
type AnchorClaims struct {
	jwt.RegisteredClaims
	Hash    string `json:"hash"`
	Locator string `json:"locator"`
}

// KeyID derives the stable identifier of an Ed25519 public key: the first 8
// bytes of its SHA-256, hex encoded.
func KeyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:8])
}

// KeySigner signs anchor authorizations with a local Ed25519 key after
// consulting its Approver.
type KeySigner struct {
	key      ed25519.PrivateKey
	keyID    string
	approver Approver
	ttl      time.Duration
	now      func() time.Time
}

// NewKeySigner creates a KeySigner. ttl defaults to DefaultTTL.
func NewKeySigner(key ed25519.PrivateKey, approver Approver, ttl time.Duration) *KeySigner {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &KeySigner{
		key:      key,
		keyID:    KeyID(key.Public().(ed25519.PublicKey)),
		approver: approver,
		ttl:      ttl,
		now:      time.Now,
	}
}

// KeyID returns the id of the signing key.
func (s *KeySigner) KeyID() string { return s.keyID }

// Sign implements Signer.
func (s *KeySigner) Sign(ctx context.Context, req Request) Result {
	ok, err := s.approver.Approve(ctx, req)
	if err != nil {
		return Result{Status: Failed, Reason: err.Error()}
	}
	if !ok {
		return Result{Status: Declined}
	}

	now := s.now().UTC()
	exp := now.Add(s.ttl)
	claims := AnchorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   req.Hash,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		Hash:    req.Hash,
		Locator: req.Locator,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = s.keyID
	signed, err := token.SignedString(s.key)
	if err != nil {
		return Result{Status: Failed, Reason: fmt.Sprintf("sign anchor authorization: %v", err)}
	}
	return Result{
		Status: Signed,
		Authorization: &Authorization{
			Token:     signed,
			Signer:    s.keyID,
			Hash:      req.Hash,
			Locator:   req.Locator,
			ExpiresAt: exp,
		},
	}
}
