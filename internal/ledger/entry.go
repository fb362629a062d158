package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// GenesisHash is the canonical well-known hash of the genesis entry.
// All subsequent entry hashes chain from this constant.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ErrNotAnchored is returned by Resolve and Lookup for a hash that has never
// been anchored. It is a defined outcome, not a transport failure.
var ErrNotAnchored = errors.New("hash not anchored")

// NotAnchoredCode is the "code" of a ledger service 404 for an absent hash.
// Any other 404 (wrong base URL, proxy, unknown route) is a transport error.
const NotAnchoredCode = "not_anchored"

// ErrAlreadyAnchored matches any *AlreadyAnchoredError via errors.Is.
var ErrAlreadyAnchored = errors.New("hash already anchored")

// ErrLocatorConflict is returned when an anchor hash is already bound to a
// different locator than the one being anchored.
var ErrLocatorConflict = errors.New("hash already anchored to a different locator")

// ErrUnauthorized is returned when the ledger refuses an anchor authorization.
var ErrUnauthorized = errors.New("anchor authorization rejected")

// AlreadyAnchoredError is returned by Anchor when the hash has an entry.
// Entry is the existing, authoritative entry.
type AlreadyAnchoredError struct {
	Entry *Entry
}

func (e *AlreadyAnchoredError) Error() string {
	return fmt.Sprintf("hash %s already anchored at index %d", e.Entry.AnchorHash, e.Entry.Index)
}

// Is makes errors.Is(err, ErrAlreadyAnchored) true.
func (e *AlreadyAnchoredError) Is(target error) bool { return target == ErrAlreadyAnchored }

// Anchor is a request to bind an anchor hash to a content locator.
type Anchor struct {
	Hash          string `json:"hash"`
	Locator       string `json:"locator"`
	Signer        string `json:"signer,omitempty"`
	Authorization string `json:"authorization,omitempty"`
}

// Entry is a single anchor record in the ledger.
type Entry struct {
	Index      int       `json:"index"`
	Timestamp  time.Time `json:"timestamp"`
	AnchorHash string    `json:"anchor_hash"`
	Locator    string    `json:"locator"`
	Signer     string    `json:"signer"`      // key id of the authorizing signer
	AuthDigest string    `json:"auth_digest"` // SHA-256 of the authorization token
	PrevHash   string    `json:"prev_hash"`
	Hash       string    `json:"hash"`
}

// hashEntry computes a deterministic SHA-256 hash over an entry's fields.
// This function must never be called on the genesis entry (index 0).
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s",
		e.Index, e.Timestamp.Format(time.RFC3339Nano),
		e.AnchorHash, e.Locator, e.Signer, e.AuthDigest, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

func sha256Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func validateAnchor(a Anchor) error {
	if a.Hash == "" {
		return fmt.Errorf("anchor hash is required")
	}
	if a.Locator == "" {
		return fmt.Errorf("locator is required")
	}
	return nil
}
