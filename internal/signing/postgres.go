package signing

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresKeyStore persists signing keys to PostgreSQL.
// It implements the KeyStore interface.
//
// The one-active-key-per-tenant invariant is enforced by the database: a
// partial unique index on (tenant_id) WHERE active, plus rotation running
// deactivate+insert in one transaction under a per-tenant advisory lock.
// ActiveKey reads in a single statement, so it sees either the old key or
// the new one, never a half-rotated state.
type PostgresKeyStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresKeyStore creates a PostgresKeyStore backed by the given pool.
func NewPostgresKeyStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresKeyStore {
	return &PostgresKeyStore{pool: pool, logger: logger}
}

const keyColumns = "id, tenant_id, version, algorithm, public_key_pem, fingerprint, active, created_at"

// CreateActive implements KeyStore.
func (s *PostgresKeyStore) CreateActive(ctx context.Context, key *Key, seed []byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialise rotations per tenant; the key space is shared with the
	// ledger's subject locks, so tenant ids are prefixed.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext('signing:' || $1))", key.TenantID); err != nil {
		return fmt.Errorf("acquire tenant lock: %w", err)
	}

	var last int
	err = tx.QueryRow(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM signing_keys WHERE tenant_id = $1",
		key.TenantID,
	).Scan(&last)
	if err != nil {
		return fmt.Errorf("read last key version: %w", err)
	}
	key.Version = last + 1
	key.Active = true

	if _, err := tx.Exec(ctx,
		"UPDATE signing_keys SET active = false WHERE tenant_id = $1 AND active",
		key.TenantID,
	); err != nil {
		return fmt.Errorf("retire active key: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO signing_keys (id, tenant_id, version, algorithm, public_key_pem, fingerprint, private_seed, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		key.ID, key.TenantID, key.Version, key.Algorithm,
		key.PublicKeyPEM, key.Fingerprint, seed, key.Active, key.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert signing key: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit key tx: %w", err)
	}

	s.logger.Debug("signing key stored",
		zap.String("tenant_id", key.TenantID),
		zap.Int("version", key.Version),
	)
	return nil
}

// ActiveKey implements KeyStore.
func (s *PostgresKeyStore) ActiveKey(ctx context.Context, tenantID string) (*Key, ed25519.PrivateKey, error) {
	key := &Key{}
	var seed []byte
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT %s, private_seed FROM signing_keys WHERE tenant_id = $1 AND active", keyColumns),
		tenantID,
	).Scan(
		&key.ID, &key.TenantID, &key.Version, &key.Algorithm,
		&key.PublicKeyPEM, &key.Fingerprint, &key.Active, &key.CreatedAt, &seed,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNoActiveKey
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read active key for %s: %w", tenantID, err)
	}
	key.CreatedAt = key.CreatedAt.UTC()
	return key, ed25519.NewKeyFromSeed(seed), nil
}

// ByVersion implements KeyStore. Private material is never selected.
func (s *PostgresKeyStore) ByVersion(ctx context.Context, tenantID string, version int) (*Key, error) {
	key, err := scanKey(s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM signing_keys WHERE tenant_id = $1 AND version = $2", keyColumns),
		tenantID, version,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read key %s v%d: %w", tenantID, version, err)
	}
	return key, nil
}

// History implements KeyStore.
func (s *PostgresKeyStore) History(ctx context.Context, tenantID string) ([]*Key, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf("SELECT %s FROM signing_keys WHERE tenant_id = $1 ORDER BY version DESC", keyColumns),
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("query key history for %s: %w", tenantID, err)
	}
	defer rows.Close()

	keys := []*Key{}
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan key row: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func scanKey(row pgx.Row) (*Key, error) {
	key := &Key{}
	err := row.Scan(
		&key.ID, &key.TenantID, &key.Version, &key.Algorithm,
		&key.PublicKeyPEM, &key.Fingerprint, &key.Active, &key.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	key.CreatedAt = key.CreatedAt.UTC()
	return key, nil
}
