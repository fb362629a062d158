package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// FileQueue persists jobs in a single YAML file. It serves the operator CLI,
// where the queue must outlive the process but no database is available.
type FileQueue struct {
	mu   sync.Mutex
	path string
}

// NewFileQueue creates a FileQueue backed by path. The file is created on
// first write.
func NewFileQueue(path string) *FileQueue {
	return &FileQueue{path: path}
}

type queueFile struct {
	Jobs []*Job `yaml:"jobs"`
}

func (q *FileQueue) load() (map[uuid.UUID]*Job, error) {
	jobs := make(map[uuid.UUID]*Job)
	data, err := os.ReadFile(q.path)
	if errors.Is(err, os.ErrNotExist) {
		return jobs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue file: %w", err)
	}
	var f queueFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse queue file %s: %w", q.path, err)
	}
	for _, j := range f.Jobs {
		jobs[j.ID] = j
	}
	return jobs, nil
}

func (q *FileQueue) save(jobs map[uuid.UUID]*Job) error {
	data, err := yaml.Marshal(queueFile{Jobs: sortedJobs(jobs)})
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(q.path), 0o700); err != nil {
		return fmt.Errorf("create queue dir: %w", err)
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write queue file: %w", err)
	}
	return os.Rename(tmp, q.path)
}

// Enqueue implements Queue.
func (q *FileQueue) Enqueue(_ context.Context, j *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs, err := q.load()
	if err != nil {
		return err
	}
	for _, existing := range jobs {
		if existing.EnrollmentID == j.EnrollmentID && existing.Hash == j.Hash {
			return nil
		}
	}
	c := *j
	jobs[j.ID] = &c
	return q.save(jobs)
}

// Due implements Queue.
func (q *FileQueue) Due(_ context.Context, now time.Time, limit int) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs, err := q.load()
	if err != nil {
		return nil, err
	}
	return dueJobs(jobs, now, limit), nil
}

// Update implements Queue.
func (q *FileQueue) Update(_ context.Context, j *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs, err := q.load()
	if err != nil {
		return err
	}
	if _, ok := jobs[j.ID]; !ok {
		return ErrJobNotFound
	}
	c := *j
	jobs[j.ID] = &c
	return q.save(jobs)
}

// Remove implements Queue.
func (q *FileQueue) Remove(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs, err := q.load()
	if err != nil {
		return err
	}
	if _, ok := jobs[id]; !ok {
		return nil
	}
	delete(jobs, id)
	return q.save(jobs)
}

// List implements Queue.
func (q *FileQueue) List(_ context.Context) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs, err := q.load()
	if err != nil {
		return nil, err
	}
	return sortedJobs(jobs), nil
}
