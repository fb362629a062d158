// Package ledger implements the append-only anchor ledger that maps an anchor
// hash to the content locator of a certificate record.
//
// Each hash is written at most once; there is no update operation. Entries
// form a SHA-256 hash chain from a well-known genesis entry (GenesisHash), so
// tampering with any stored entry is detectable via Verify.
//
// Implementations of Ledger:
//   - MemoryLedger: in-process, for testing and development.
//   - PostgresLedger: durable, for production use.
//
// Client speaks the ledger's HTTP API and serves the issuance saga and the
// verification resolver in remote deployments.
package ledger

import "context"

// Ledger is the interface for the append-only anchor ledger.
type Ledger interface {
	// Anchor binds a.Hash to a.Locator. When the hash already has an entry it
	// returns an *AlreadyAnchoredError carrying that entry and writes nothing.
	Anchor(ctx context.Context, a Anchor) (*Entry, error)

	// Resolve returns the locator anchored under hash, or ErrNotAnchored.
	Resolve(ctx context.Context, hash string) (string, error)

	// Lookup returns the full entry anchored under hash, or ErrNotAnchored.
	Lookup(ctx context.Context, hash string) (*Entry, error)

	// Get returns the entry at the given zero-based index.
	Get(ctx context.Context, index int) (*Entry, error)

	// Len returns the total number of entries (including the genesis entry).
	Len(ctx context.Context) (int, error)

	// Verify walks the entire chain and checks hash consistency.
	Verify(ctx context.Context) error

	// Root returns the hash of the most recent entry (the chain tip).
	Root(ctx context.Context) (string, error)
}
