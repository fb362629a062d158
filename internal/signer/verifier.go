package signer

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jmerrifield20/examcert/internal/certificate"
)

var (
	// ErrUnknownKey is returned when the authorization's key id is not allowed.
	ErrUnknownKey = errors.New("authorization signed by an unknown key")
	// ErrClaimsMismatch is returned when the authorization covers a different
	// hash or locator than the anchor it accompanies.
	ErrClaimsMismatch = errors.New("authorization does not cover this anchor")
)

// Verifier checks anchor authorizations against a set of allowed keys.
type Verifier struct {
	keys map[string]ed25519.PublicKey
}

// NewVerifier creates a Verifier that accepts authorizations from keys.
func NewVerifier(keys ...ed25519.PublicKey) *Verifier {
	v := &Verifier{keys: make(map[string]ed25519.PublicKey, len(keys))}
	for _, k := range keys {
		v.keys[KeyID(k)] = k
	}
	return v
}

// Len returns the number of allowed keys.
func (v *Verifier) Len() int { return len(v.keys) }

// Verify parses token and checks that it is an unexpired authorization for
// (hash, locator) signed by an allowed key. It returns the signer's key id.
func (v *Verifier) Verify(token, hash, locator string) (string, error) {
	var keyID string
	parsed, err := jwt.ParseWithClaims(
		token,
		&AnchorClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			kid, _ := tok.Header["kid"].(string)
			pub, ok := v.keys[kid]
			if !ok {
				return nil, ErrUnknownKey
			}
			keyID = kid
			return pub, nil
		},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, ErrUnknownKey) {
			return "", ErrUnknownKey
		}
		return "", fmt.Errorf("verify authorization: %w", err)
	}
	claims, ok := parsed.Claims.(*AnchorClaims)
	if !ok || !parsed.Valid {
		return "", fmt.Errorf("invalid authorization claims")
	}
	if certificate.NormalizeHash(claims.Hash) != certificate.NormalizeHash(hash) || claims.Locator != locator {
		return "", ErrClaimsMismatch
	}
	return keyID, nil
}

// EncodePublicKey returns the base64 form used in configuration.
func EncodePublicKey(pub ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub)
}

// ParsePublicKeys decodes base64 Ed25519 public keys from configuration.
func ParsePublicKeys(encoded []string) ([]ed25519.PublicKey, error) {
	out := make([]ed25519.PublicKey, 0, len(encoded))
	for _, s := range encoded {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("decode public key %q: %w", s, err)
		}
		if len(b) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("public key %q: want %d bytes, got %d", s, ed25519.PublicKeySize, len(b))
		}
		out = append(out, ed25519.PublicKey(b))
	}
	return out, nil
}
