package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shiftward/shiftward/pkg/manifest"
	"go.uber.org/zap"
)

var (
	// ErrManifestExists is returned when saving over an existing job id.
	// Manifests are immutable; a re-run must use a fresh job.
	ErrManifestExists = errors.New("audit: manifest already exists for job")

	// ErrManifestNotFound is returned for an unknown job id.
	ErrManifestNotFound = errors.New("audit: manifest not found")
)

// ManifestStore persists sealed manifests, keyed by export job id.
// SupportsComplianceLock declares whether the underlying storage can
// actually enforce a WORM lock for compliance-grade retention; the builder
// refuses compliance mode when it cannot.
type ManifestStore interface {
	Save(ctx context.Context, m *manifest.Manifest) error
	Get(ctx context.Context, jobID string) (*manifest.Manifest, error)
	SupportsComplianceLock() bool
}

// MemoryManifestStore is an in-memory ManifestStore for testing and
// development. It cannot enforce WORM retention.
type MemoryManifestStore struct {
	mu        sync.RWMutex
	manifests map[string]*manifest.Manifest
}

// NewMemoryManifestStore creates an empty MemoryManifestStore.
func NewMemoryManifestStore() *MemoryManifestStore {
	return &MemoryManifestStore{manifests: make(map[string]*manifest.Manifest)}
}

// Save implements ManifestStore.
func (s *MemoryManifestStore) Save(_ context.Context, m *manifest.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.manifests[m.JobID]; exists {
		return ErrManifestExists
	}
	s.manifests[m.JobID] = m
	return nil
}

// Get implements ManifestStore.
func (s *MemoryManifestStore) Get(_ context.Context, jobID string) (*manifest.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.manifests[jobID]
	if !ok {
		return nil, ErrManifestNotFound
	}
	return m, nil
}

// SupportsComplianceLock implements ManifestStore.
func (s *MemoryManifestStore) SupportsComplianceLock() bool { return false }

// PostgresManifestStore persists manifests to PostgreSQL, one immutable row
// per export job. Whether the deployment's storage tier enforces a real
// WORM lock (object-lock on the bucket holding the export, protected
// tablespaces, ...) is declared at construction time by the operator; the
// store itself only records intent.
type PostgresManifestStore struct {
	pool           *pgxpool.Pool
	complianceLock bool
	logger         *zap.Logger
}

// NewPostgresManifestStore creates a PostgresManifestStore. complianceLock
// declares that the deployment enforces WORM retention for manifest rows.
func NewPostgresManifestStore(pool *pgxpool.Pool, complianceLock bool, logger *zap.Logger) *PostgresManifestStore {
	return &PostgresManifestStore{pool: pool, complianceLock: complianceLock, logger: logger}
}

// Save implements ManifestStore. The primary key on job_id makes a second
// save for the same job fail rather than overwrite.
func (s *PostgresManifestStore) Save(ctx context.Context, m *manifest.Manifest) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_manifests (job_id, tenant_id, merkle_root, key_version, retention_mode, retention_years, timestamp_status, document, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.JobID, m.TenantID, m.MerkleRoot, m.KeyVersion,
		m.Retention.Mode, m.Retention.Years, m.TimestampStatus, doc, m.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrManifestExists
		}
		return fmt.Errorf("insert manifest: %w", err)
	}

	s.logger.Debug("manifest persisted",
		zap.String("job_id", m.JobID),
		zap.String("tenant_id", m.TenantID),
	)
	return nil
}

// Get implements ManifestStore.
func (s *PostgresManifestStore) Get(ctx context.Context, jobID string) (*manifest.Manifest, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		"SELECT document FROM audit_manifests WHERE job_id = $1", jobID,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrManifestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get manifest %s: %w", jobID, err)
	}

	m := &manifest.Manifest{}
	if err := json.Unmarshal(doc, m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", jobID, err)
	}
	return m, nil
}

// SupportsComplianceLock implements ManifestStore.
func (s *PostgresManifestStore) SupportsComplianceLock() bool { return s.complianceLock }
