package scoring

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/examcert/internal/certificate"
)

const enrollmentColumns = `id, participant_id, full_name, student_id, faculty, program, email,
	service_name, exam_date, status, scores, anchor_hash, locator, certified_at,
	created_at, updated_at`

// PostgresRepository stores enrollments in the enrollments table.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create implements Repository.
func (r *PostgresRepository) Create(ctx context.Context, e *Enrollment) error {
	scores, err := marshalScores(e.Scores)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO enrollments (`+enrollmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		e.ID, e.ParticipantID, e.FullName, e.StudentID, e.Faculty, e.Program, e.Email,
		e.ServiceName, e.ExamDate, e.Status, scores, e.AnchorHash, e.Locator, e.CertifiedAt,
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert enrollment: %w", err)
	}
	return nil
}

// Get implements Repository.
func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Enrollment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scan(rows)
}

// Update implements Repository.
func (r *PostgresRepository) Update(ctx context.Context, e *Enrollment) error {
	scores, err := marshalScores(e.Scores)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE enrollments
		SET status = $2, scores = $3, anchor_hash = $4, locator = $5,
		    certified_at = $6, updated_at = $7
		WHERE id = $1`,
		e.ID, e.Status, scores, e.AnchorHash, e.Locator, e.CertifiedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scan(rows pgx.Rows) (*Enrollment, error) {
	var e Enrollment
	var scoresRaw []byte
	err := rows.Scan(
		&e.ID, &e.ParticipantID, &e.FullName, &e.StudentID, &e.Faculty, &e.Program, &e.Email,
		&e.ServiceName, &e.ExamDate, &e.Status, &scoresRaw, &e.AnchorHash, &e.Locator, &e.CertifiedAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(scoresRaw) > 0 {
		var s certificate.ScoreSheet
		if err := json.Unmarshal(scoresRaw, &s); err != nil {
			return nil, fmt.Errorf("unmarshal scores: %w", err)
		}
		e.Scores = &s
	}
	return &e, nil
}

func marshalScores(s *certificate.ScoreSheet) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal scores: %w", err)
	}
	return b, nil
}
