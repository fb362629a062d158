package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Anchor calls across portal instances.
const advisoryLockKey = int64(2_718_281_828)

const entryColumns = `idx, timestamp, anchor_hash, locator, signer, auth_digest, prev_hash, hash`

// PostgresLedger persists the anchor ledger to the ledger_entries table.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLedger creates a PostgresLedger backed by the given connection pool.
func NewPostgresLedger(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, logger: logger}
}

// Anchor implements Ledger.
// It takes a transaction-scoped advisory lock, checks for an existing entry,
// reads the chain tail and inserts the new entry in one transaction.
func (l *PostgresLedger) Anchor(ctx context.Context, a Anchor) (*Entry, error) {
	if err := validateAnchor(a); err != nil {
		return nil, err
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	existing, err := scanEntry(tx.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE anchor_hash = $1`, a.Hash,
	))
	if err == nil {
		return nil, &AlreadyAnchoredError{Entry: existing}
	}
	if !errors.Is(err, ErrNotAnchored) {
		return nil, fmt.Errorf("check existing anchor: %w", err)
	}

	var prevIdx int
	var prevHash string
	if err := tx.QueryRow(ctx,
		"SELECT idx, hash FROM ledger_entries ORDER BY idx DESC LIMIT 1",
	).Scan(&prevIdx, &prevHash); err != nil {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}

	entry := &Entry{
		Index:      prevIdx + 1,
		Timestamp:  time.Now().UTC(),
		AnchorHash: a.Hash,
		Locator:    a.Locator,
		Signer:     a.Signer,
		AuthDigest: sha256Sum([]byte(a.Authorization)),
		PrevHash:   prevHash,
	}
	entry.Hash = hashEntry(entry)

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (`+entryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.Index, entry.Timestamp, entry.AnchorHash, entry.Locator,
		entry.Signer, entry.AuthDigest, entry.PrevHash, entry.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	l.logger.Debug("anchor appended",
		zap.Int("idx", entry.Index),
		zap.String("anchor_hash", entry.AnchorHash),
		zap.String("locator", entry.Locator),
	)
	return entry, nil
}

// Resolve implements Ledger.
func (l *PostgresLedger) Resolve(ctx context.Context, hash string) (string, error) {
	var locator string
	err := l.pool.QueryRow(ctx,
		`SELECT locator FROM ledger_entries WHERE anchor_hash = $1`, hash,
	).Scan(&locator)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotAnchored
	}
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", hash, err)
	}
	return locator, nil
}

// Lookup implements Ledger.
func (l *PostgresLedger) Lookup(ctx context.Context, hash string) (*Entry, error) {
	e, err := scanEntry(l.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE anchor_hash = $1`, hash,
	))
	if err != nil && !errors.Is(err, ErrNotAnchored) {
		return nil, fmt.Errorf("lookup %s: %w", hash, err)
	}
	return e, err
}

// Get implements Ledger.
func (l *PostgresLedger) Get(ctx context.Context, index int) (*Entry, error) {
	e, err := scanEntry(l.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE idx = $1`, index,
	))
	if err != nil {
		return nil, fmt.Errorf("get ledger entry %d: %w", index, err)
	}
	return e, nil
}

// Len implements Ledger.
func (l *PostgresLedger) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

// Verify implements Ledger. It streams all rows ordered by idx and validates
// the hash chain. O(n) in ledger length.
func (l *PostgresLedger) Verify(ctx context.Context) error {
	rows, err := l.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries ORDER BY idx ASC`,
	)
	if err != nil {
		return fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var prev *Entry
	for rows.Next() {
		curr, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("scan ledger row: %w", err)
		}
		if prev == nil {
			if curr.Hash != GenesisHash {
				return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
			}
			prev = curr
			continue
		}
		if curr.PrevHash != prev.Hash {
			return fmt.Errorf("hash chain broken at index %d", curr.Index)
		}
		if curr.Hash != hashEntry(curr) {
			return fmt.Errorf("entry %d has invalid hash", curr.Index)
		}
		prev = curr
	}
	return rows.Err()
}

// Root implements Ledger.
func (l *PostgresLedger) Root(ctx context.Context) (string, error) {
	var hash string
	if err := l.pool.QueryRow(ctx,
		"SELECT hash FROM ledger_entries ORDER BY idx DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get ledger root: %w", err)
	}
	return hash, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	e := &Entry{}
	var anchorHash *string
	if err := row.Scan(
		&e.Index, &e.Timestamp, &anchorHash, &e.Locator,
		&e.Signer, &e.AuthDigest, &e.PrevHash, &e.Hash,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotAnchored
		}
		return nil, err
	}
	if anchorHash != nil {
		e.AnchorHash = *anchorHash
	}
	return e, nil
}
