package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager is the signing-key lifecycle service: provisioning, rotation,
// signing, public-key export, and the key-provenance audit trail.
type Manager struct {
	store  KeyStore
	logger *zap.Logger
}

// NewManager creates a Manager over the given store.
func NewManager(store KeyStore, logger *zap.Logger) *Manager {
	return &Manager{store: store, logger: logger}
}

// Generate provisions a new active Ed25519 key for the tenant. Any
// previously active key is retired in the same atomic step.
func (m *Manager) Generate(ctx context.Context, tenantID string) (*Key, error) {
	key, err := m.createKey(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	m.logger.Info("signing key provisioned",
		zap.String("tenant_id", tenantID),
		zap.Int("version", key.Version),
		zap.String("fingerprint", key.Fingerprint),
	)
	return key, nil
}

// Rotate retires the tenant's current active key and activates a fresh
// version. The effect equals Generate; the distinction is operational
// intent, so Rotate refuses tenants that were never provisioned.
// Retired key material is kept indefinitely and is never re-derived.
func (m *Manager) Rotate(ctx context.Context, tenantID string) (*Key, error) {
	old, _, err := m.store.ActiveKey(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	key, err := m.createKey(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	m.logger.Info("signing key rotated",
		zap.String("tenant_id", tenantID),
		zap.Int("retired_version", old.Version),
		zap.Int("active_version", key.Version),
	)
	return key, nil
}

func (m *Manager) createKey(ctx context.Context, tenantID string) (*Key, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("signing: empty tenant id")
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	pubPEM, err := EncodePublicKeyPEM(pub)
	if err != nil {
		return nil, err
	}
	fp, err := Fingerprint(pub)
	if err != nil {
		return nil, err
	}

	key := &Key{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Algorithm:    AlgorithmEd25519,
		PublicKeyPEM: pubPEM,
		Fingerprint:  fp,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.store.CreateActive(ctx, key, priv.Seed()); err != nil {
		return nil, fmt.Errorf("store signing key: %w", err)
	}
	return key, nil
}

// Sign signs the manifest Merkle root (its ASCII hex form) with the
// tenant's active key and reports which key version produced the
// signature. Returns ErrNoActiveKey for unprovisioned tenants.
func (m *Manager) Sign(ctx context.Context, tenantID, rootHash string) (signature string, keyVersion int, err error) {
	key, priv, err := m.store.ActiveKey(ctx, tenantID)
	if err != nil {
		return "", 0, err
	}
	sig := ed25519.Sign(priv, []byte(rootHash))
	return hex.EncodeToString(sig), key.Version, nil
}

// Verify checks a hex signature over rootHash against an Ed25519 public key.
// It is a pure function usable offline with only exported key material.
func Verify(pub ed25519.PublicKey, rootHash, signature string) bool {
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, []byte(rootHash), sig)
}

// ExportPublicKey returns the public half of the requested key version, or
// of the active key when version is 0. Retired versions remain exportable
// forever so historical manifests stay verifiable.
func (m *Manager) ExportPublicKey(ctx context.Context, tenantID string, version int) (*PublicKeyExport, error) {
	var key *Key
	var err error
	if version == 0 {
		key, _, err = m.store.ActiveKey(ctx, tenantID)
	} else {
		key, err = m.store.ByVersion(ctx, tenantID, version)
	}
	if err != nil {
		return nil, err
	}
	return key.Export(), nil
}

// History returns the tenant's full key provenance trail, newest first.
func (m *Manager) History(ctx context.Context, tenantID string) ([]*Key, error) {
	return m.store.History(ctx, tenantID)
}
