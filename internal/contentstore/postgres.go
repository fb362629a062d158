package contentstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore persists blobs in the content_blobs table keyed by locator.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Publish implements Store. Rows are never updated: a conflicting insert of
// the same locator means the same bytes are already stored.
func (s *PostgresStore) Publish(ctx context.Context, data []byte) (string, error) {
	if len(data) > MaxBlobSize {
		return "", fmt.Errorf("blob of %d bytes exceeds limit of %d", len(data), MaxBlobSize)
	}
	loc, err := Locator(data)
	if err != nil {
		return "", err
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO content_blobs (locator, data, size, created_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (locator) DO NOTHING`,
		loc, data, len(data),
	)
	if err != nil {
		return "", fmt.Errorf("insert blob: %w", err)
	}
	if tag.RowsAffected() > 0 {
		s.logger.Debug("blob published", zap.String("locator", loc), zap.Int("size", len(data)))
	}
	return loc, nil
}

// Fetch implements Store.
func (s *PostgresStore) Fetch(ctx context.Context, locator string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM content_blobs WHERE locator = $1`, locator,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch blob %s: %w", locator, err)
	}
	return data, nil
}
