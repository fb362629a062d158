package scoring

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Repository persists enrollments.
// *MemoryRepository and *PostgresRepository satisfy this interface.
type Repository interface {
	Create(ctx context.Context, e *Enrollment) error
	Get(ctx context.Context, id uuid.UUID) (*Enrollment, error)
	Update(ctx context.Context, e *Enrollment) error
}

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]Enrollment
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[uuid.UUID]Enrollment)}
}

// Create implements Repository.
func (r *MemoryRepository) Create(_ context.Context, e *Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[e.ID] = *e
	return nil
}

// Get implements Repository.
func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

// Update implements Repository.
func (r *MemoryRepository) Update(_ context.Context, e *Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[e.ID]; !ok {
		return ErrNotFound
	}
	r.rows[e.ID] = *e
	return nil
}
