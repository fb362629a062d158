// Package contentstore publishes and fetches opaque blobs by content identifier.
//
// Locators are CIDv1 strings (raw codec, sha2-256 multihash), so identical
// bytes always produce the identical locator and any byte change produces a
// different one. Three implementations of Store are provided:
//   - MemoryStore: in-process, for tests and single-process development.
//   - PostgresStore: durable blob table behind the portal's gateway endpoints.
//   - GatewayClient: HTTP client for an IPFS-style gateway.
package contentstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// ErrNotFound is returned when no blob exists for a locator.
var ErrNotFound = errors.New("content not found")

// ErrLocatorMismatch is returned when fetched bytes do not hash to the
// locator they were requested by.
var ErrLocatorMismatch = errors.New("content does not match locator")

// MaxBlobSize bounds a single published blob.
const MaxBlobSize = 1 << 20

// Store publishes and fetches blobs.
type Store interface {
	Publish(ctx context.Context, data []byte) (string, error)
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

var locatorPrefix = cid.Prefix{
	Version:  1,
	Codec:    cid.Raw,
	MhType:   mh.SHA2_256,
	MhLength: -1,
}

// Locator derives the content identifier of data.
func Locator(data []byte) (string, error) {
	c, err := locatorPrefix.Sum(data)
	if err != nil {
		return "", fmt.Errorf("derive locator: %w", err)
	}
	return c.String(), nil
}

// IsCID reports whether locator parses as a content identifier.
func IsCID(locator string) bool {
	_, err := cid.Decode(locator)
	return err == nil
}

// VerifyLocator checks that data hashes to locator using the locator's own
// prefix (version, codec, hash function). Locators that are not CIDs cannot
// be checked and return an error.
func VerifyLocator(locator string, data []byte) error {
	want, err := cid.Decode(locator)
	if err != nil {
		return fmt.Errorf("parse locator %q: %w", locator, err)
	}
	got, err := want.Prefix().Sum(data)
	if err != nil {
		return fmt.Errorf("hash content: %w", err)
	}
	if !got.Equals(want) {
		return fmt.Errorf("%w: want %s, got %s", ErrLocatorMismatch, want, got)
	}
	return nil
}
