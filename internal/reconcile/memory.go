package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Queue.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
}

// NewMemoryQueue creates an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{jobs: make(map[uuid.UUID]*Job)}
}

// Enqueue implements Queue.
func (q *MemoryQueue) Enqueue(_ context.Context, j *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, existing := range q.jobs {
		if existing.EnrollmentID == j.EnrollmentID && existing.Hash == j.Hash {
			return nil
		}
	}
	c := *j
	q.jobs[j.ID] = &c
	return nil
}

// Due implements Queue.
func (q *MemoryQueue) Due(_ context.Context, now time.Time, limit int) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return dueJobs(q.jobs, now, limit), nil
}

// Update implements Queue.
func (q *MemoryQueue) Update(_ context.Context, j *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.jobs[j.ID]; !ok {
		return ErrJobNotFound
	}
	c := *j
	q.jobs[j.ID] = &c
	return nil
}

// Remove implements Queue.
func (q *MemoryQueue) Remove(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.jobs, id)
	return nil
}

// List implements Queue.
func (q *MemoryQueue) List(_ context.Context) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return sortedJobs(q.jobs), nil
}

func dueJobs(jobs map[uuid.UUID]*Job, now time.Time, limit int) []*Job {
	var out []*Job
	for _, j := range sortedJobs(jobs) {
		if j.NextAttempt.After(now) {
			continue
		}
		out = append(out, j)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func sortedJobs(jobs map[uuid.UUID]*Job) []*Job {
	out := make([]*Job, 0, len(jobs))
	for _, j := range jobs {
		c := *j
		out = append(out, &c)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].NextAttempt.Before(out[b].NextAttempt) })
	return out
}
