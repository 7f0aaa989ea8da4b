package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresLedger persists per-subject hash chains to PostgreSQL.
// It implements the Ledger interface.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres creates a PostgresLedger backed by the given connection pool.
func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, logger: logger}
}

const entryColumns = "id, subject_id, kind, timestamp, self_hash, prev_hash, supersedes_id, created_at"

// Append implements Ledger.
// It takes a per-subject advisory lock, reads the subject's chain tail,
// computes the new entry hash, and inserts it — all within one transaction.
// Appends to different subjects use different lock keys and do not contend.
// A unique index on (subject_id, prev_hash) backstops the lock: a second
// writer racing on the same tail gets ErrConflict, never a forked chain.
func (l *PostgresLedger) Append(ctx context.Context, subjectID string, kind Kind, ts time.Time, supersedes *uuid.UUID) (*Entry, error) {
	if err := checkAppendArgs(subjectID, kind, supersedes); err != nil {
		return nil, err
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Transaction-scoped advisory lock keyed by subject; released on
	// commit or rollback.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", subjectID); err != nil {
		return nil, fmt.Errorf("acquire subject lock: %w", err)
	}

	prevHash := ""
	err = tx.QueryRow(ctx,
		"SELECT self_hash FROM ledger_entries WHERE subject_id = $1 ORDER BY seq DESC LIMIT 1",
		subjectID,
	).Scan(&prevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("read chain tail: %w", err)
	}

	ts = ts.UTC().Truncate(time.Millisecond)
	entry := &Entry{
		ID:         uuid.New(),
		SubjectID:  subjectID,
		Kind:       kind,
		Timestamp:  ts,
		PrevHash:   prevHash,
		Supersedes: supersedes,
		CreatedAt:  time.Now().UTC(),
	}
	entry.SelfHash = ComputeSelfHash(subjectID, kind, ts, prevHash)

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, subject_id, kind, timestamp, self_hash, prev_hash, supersedes_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.SubjectID, entry.Kind, entry.Timestamp,
		entry.SelfHash, entry.PrevHash, entry.Supersedes, entry.CreatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	l.logger.Debug("ledger entry appended",
		zap.String("subject_id", entry.SubjectID),
		zap.String("kind", string(entry.Kind)),
		zap.String("self_hash", entry.SelfHash),
	)
	return entry, nil
}

// Tail implements Ledger.
func (l *PostgresLedger) Tail(ctx context.Context, subjectID string) (*Entry, error) {
	row := l.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM ledger_entries WHERE subject_id = $1 ORDER BY seq DESC LIMIT 1", entryColumns),
		subjectID,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chain tail for %s: %w", subjectID, err)
	}
	return entry, nil
}

// Entries implements Ledger. Rows come back in append order (seq), which is
// the order ValidateChainDetailed expects.
func (l *PostgresLedger) Entries(ctx context.Context, subjectID string) ([]*Entry, error) {
	rows, err := l.pool.Query(ctx,
		fmt.Sprintf("SELECT %s FROM ledger_entries WHERE subject_id = $1 ORDER BY seq ASC", entryColumns),
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query chain for %s: %w", subjectID, err)
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Subjects implements Ledger.
func (l *PostgresLedger) Subjects(ctx context.Context, limit int) ([]string, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT subject_id FROM ledger_entries
		 GROUP BY subject_id ORDER BY MAX(seq) DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent subjects: %w", err)
	}
	defer rows.Close()

	subjects := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subject id: %w", err)
		}
		subjects = append(subjects, id)
	}
	return subjects, rows.Err()
}

func scanEntry(row pgx.Row) (*Entry, error) {
	entry := &Entry{}
	err := row.Scan(
		&entry.ID, &entry.SubjectID, &entry.Kind, &entry.Timestamp,
		&entry.SelfHash, &entry.PrevHash, &entry.Supersedes, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.Timestamp = entry.Timestamp.UTC()
	entry.CreatedAt = entry.CreatedAt.UTC()
	return entry, nil
}
