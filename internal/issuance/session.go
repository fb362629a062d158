package issuance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/examcert/internal/certificate"
	"github.com/jmerrifield20/examcert/internal/scoring"
	"github.com/jmerrifield20/examcert/internal/signer"
	"gopkg.in/yaml.v3"
)

// Session is the client-side state of one issuance attempt.
type Session struct {
	ID            uuid.UUID
	EnrollmentID  uuid.UUID
	ParticipantID uuid.UUID
	Scores        certificate.ExamScore
	Phase         Phase

	// Issued is the (hash, locator) pair returned by the backend. Once set it
	// is never replaced; retries anchor exactly this pair.
	Issued *scoring.Issued

	// Authorization is the last signed anchor authorization, reused by
	// automatic ledger retries until it expires.
	Authorization *signer.Authorization

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Session) clone() *Session {
	c := *s
	if s.Issued != nil {
		i := *s.Issued
		c.Issued = &i
	}
	if s.Authorization != nil {
		a := *s.Authorization
		c.Authorization = &a
	}
	return &c
}

// LastError returns the failure of a session in the error phase.
func (s *Session) LastError() error {
	if f, ok := s.Phase.(Failed); ok {
		return f.Err
	}
	return nil
}

// Cancellable reports whether a stored session may be discarded by a user.
// A session persisted in submitting never received an issued pair: its
// process died inside SubmitScore, so nothing can resume it.
func (s *Session) Cancellable() bool {
	switch s.Phase.(type) {
	case Failed, Submitting:
		return true
	}
	return false
}

// SessionStore persists sessions between saga calls and CLI runs.
type SessionStore interface {
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*Session, error)
}

// MemoryStore is an in-process SessionStore.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[uuid.UUID]*Session)}
}

// Save implements SessionStore.
func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.clone()
	return nil
}

// Get implements SessionStore.
func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.clone(), nil
}

// Delete implements SessionStore.
func (m *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// List implements SessionStore.
func (m *MemoryStore) List(_ context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.clone())
	}
	sortSessions(out)
	return out, nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func sortSessions(ss []*Session) {
	sort.Slice(ss, func(a, b int) bool { return ss[a].CreatedAt.Before(ss[b].CreatedAt) })
}

// FileStore keeps one YAML file per session in a directory, so an operator
// can resume an interrupted issuance from a later CLI run.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// sessionFile is the on-disk form of a Session.
type sessionFile struct {
	ID            uuid.UUID             `yaml:"id"`
	EnrollmentID  uuid.UUID             `yaml:"enrollment_id"`
	ParticipantID uuid.UUID             `yaml:"participant_id"`
	Scores        certificate.ExamScore `yaml:"scores"`
	Phase         string                `yaml:"phase"`
	FailureKind   string                `yaml:"failure_kind,omitempty"`
	LastError     string                `yaml:"last_error,omitempty"`
	Issued        *scoring.Issued       `yaml:"issued,omitempty"`
	Authorization *signer.Authorization `yaml:"authorization,omitempty"`
	CreatedAt     time.Time             `yaml:"created_at"`
	UpdatedAt     time.Time             `yaml:"updated_at"`
}

func toFile(s *Session) sessionFile {
	f := sessionFile{
		ID:            s.ID,
		EnrollmentID:  s.EnrollmentID,
		ParticipantID: s.ParticipantID,
		Scores:        s.Scores,
		Phase:         s.Phase.Name(),
		Issued:        s.Issued,
		Authorization: s.Authorization,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
	if fp, ok := s.Phase.(Failed); ok {
		f.FailureKind = fp.Kind.String()
		if fp.Err != nil {
			f.LastError = fp.Err.Error()
		}
	}
	return f
}

func fromFile(f sessionFile) (*Session, error) {
	s := &Session{
		ID:            f.ID,
		EnrollmentID:  f.EnrollmentID,
		ParticipantID: f.ParticipantID,
		Scores:        f.Scores,
		Issued:        f.Issued,
		Authorization: f.Authorization,
		CreatedAt:     f.CreatedAt,
		UpdatedAt:     f.UpdatedAt,
	}
	var issued scoring.Issued
	if f.Issued != nil {
		issued = *f.Issued
	}
	switch f.Phase {
	case "idle":
		s.Phase = Idle{}
	case "submitting":
		s.Phase = Submitting{}
	case "anchoring":
		s.Phase = Anchoring{Issued: issued}
	case "reconciling":
		s.Phase = Reconciling{Issued: issued}
	case "success":
		s.Phase = Succeeded{Issued: issued}
	case "error":
		s.Phase = Failed{Kind: ParseKind(f.FailureKind), Err: errors.New(f.LastError), Issued: f.Issued}
	default:
		return nil, fmt.Errorf("session %s: unknown phase %q", f.ID, f.Phase)
	}
	return s, nil
}

// Dir returns the directory holding the session files.
func (fs *FileStore) Dir() string { return fs.dir }

func (fs *FileStore) path(id uuid.UUID) string {
	return filepath.Join(fs.dir, id.String()+".yaml")
}

// Save implements SessionStore. Writes are atomic via rename.
func (fs *FileStore) Save(_ context.Context, s *Session) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	data, err := yaml.Marshal(toFile(s))
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(fs.dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := fs.path(s.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return os.Rename(tmp, fs.path(s.ID))
}

// Get implements SessionStore.
func (fs *FileStore) Get(_ context.Context, id uuid.UUID) (*Session, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.read(fs.path(id))
}

func (fs *FileStore) read(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var f sessionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", path, err)
	}
	return fromFile(f)
}

// Delete implements SessionStore.
func (fs *FileStore) Delete(_ context.Context, id uuid.UUID) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := os.Remove(fs.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// List implements SessionStore.
func (fs *FileStore) List(_ context.Context) ([]*Session, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	entries, err := os.ReadDir(fs.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var out []*Session
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		s, err := fs.read(filepath.Join(fs.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sortSessions(out)
	return out, nil
}
