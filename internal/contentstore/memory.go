package contentstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory, thread-safe Store.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Publish implements Store. Publishing the same bytes twice is a no-op that
// returns the same locator.
func (s *MemoryStore) Publish(_ context.Context, data []byte) (string, error) {
	if len(data) > MaxBlobSize {
		return "", fmt.Errorf("blob of %d bytes exceeds limit of %d", len(data), MaxBlobSize)
	}
	loc, err := Locator(data)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[loc]; !ok {
		s.blobs[loc] = append([]byte(nil), data...)
	}
	return loc, nil
}

// Put stores data under an arbitrary locator without deriving it. It lets
// tests model gateways that serve content under opaque keys.
func (s *MemoryStore) Put(locator string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[locator] = append([]byte(nil), data...)
}

// Fetch implements Store.
func (s *MemoryStore) Fetch(_ context.Context, locator string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[locator]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
