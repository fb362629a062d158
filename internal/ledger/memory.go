package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLedger is an in-memory, thread-safe Ledger implementation.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []*Entry
	byHash  map[string]*Entry
}

// New creates a MemoryLedger initialised with the canonical genesis entry.
func New() *MemoryLedger {
	l := &MemoryLedger{byHash: make(map[string]*Entry)}
	genesis := &Entry{
		Index:     0,
		Timestamp: time.Now().UTC(),
		Signer:    "genesis",
		PrevHash:  GenesisHash,
		Hash:      GenesisHash, // well-known constant, not computed
	}
	l.entries = append(l.entries, genesis)
	return l
}

// Anchor implements Ledger.
func (l *MemoryLedger) Anchor(_ context.Context, a Anchor) (*Entry, error) {
	if err := validateAnchor(a); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.byHash[a.Hash]; ok {
		return nil, &AlreadyAnchoredError{Entry: copyEntry(existing)}
	}

	prev := l.entries[len(l.entries)-1]
	entry := &Entry{
		Index:      len(l.entries),
		Timestamp:  time.Now().UTC(),
		AnchorHash: a.Hash,
		Locator:    a.Locator,
		Signer:     a.Signer,
		AuthDigest: sha256Sum([]byte(a.Authorization)),
		PrevHash:   prev.Hash,
	}
	entry.Hash = hashEntry(entry)
	l.entries = append(l.entries, entry)
	l.byHash[a.Hash] = entry
	return copyEntry(entry), nil
}

// Resolve implements Ledger.
func (l *MemoryLedger) Resolve(ctx context.Context, hash string) (string, error) {
	e, err := l.Lookup(ctx, hash)
	if err != nil {
		return "", err
	}
	return e.Locator, nil
}

// Lookup implements Ledger.
func (l *MemoryLedger) Lookup(_ context.Context, hash string) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.byHash[hash]
	if !ok {
		return nil, ErrNotAnchored
	}
	return copyEntry(e), nil
}

// Get implements Ledger.
func (l *MemoryLedger) Get(_ context.Context, index int) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.entries) {
		return nil, fmt.Errorf("index %d out of range", index)
	}
	return copyEntry(l.entries[index]), nil
}

// Len implements Ledger.
func (l *MemoryLedger) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries), nil
}

// Verify implements Ledger.
func (l *MemoryLedger) Verify(_ context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verifyChain(l.entries)
}

// Root implements Ledger.
func (l *MemoryLedger) Root(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries[len(l.entries)-1].Hash, nil
}

// tamper overwrites the locator of an entry in place. Test hook only.
func (l *MemoryLedger) tamper(index int, locator string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[index].Locator = locator
}

func verifyChain(entries []*Entry) error {
	for i, curr := range entries {
		if i == 0 {
			if curr.Hash != GenesisHash {
				return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
			}
			continue
		}
		prev := entries[i-1]
		if curr.PrevHash != prev.Hash {
			return fmt.Errorf("hash chain broken at index %d", curr.Index)
		}
		if curr.Hash != hashEntry(curr) {
			return fmt.Errorf("entry %d has invalid hash", curr.Index)
		}
	}
	return nil
}

func copyEntry(e *Entry) *Entry {
	c := *e
	return &c
}
