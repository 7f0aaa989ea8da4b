// Package signing manages versioned per-tenant Ed25519 signing keys and
// produces signatures over audit-manifest Merkle roots.
//
// Exactly one key per tenant is active at a time. Rotation creates version
// v+1 and retires the previous key in one atomic step; retired keys are
// kept forever so historical manifests stay verifiable, and can never sign
// again because Sign only ever reads the active key. Private key material
// stays inside the KeyStore — callers only ever see public halves.
package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shiftward/shiftward/internal/digest"
)

// AlgorithmEd25519 is the only signature algorithm the subsystem produces.
const AlgorithmEd25519 = "ed25519"

var (
	// ErrNoActiveKey is returned when a tenant has never been provisioned
	// with a signing key, or on Rotate for an unknown tenant.
	ErrNoActiveKey = errors.New("signing: tenant has no active key")

	// ErrVersionNotFound is returned when a specific key version does not exist.
	ErrVersionNotFound = errors.New("signing: key version not found")
)

// Key is the public description of one signing key version.
// The private half never appears here; it lives only in the KeyStore.
type Key struct {
	ID           uuid.UUID `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Version      int       `json:"version"`
	Algorithm    string    `json:"algorithm"`
	PublicKeyPEM string    `json:"public_key_pem"`
	Fingerprint  string    `json:"fingerprint"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// PublicKeyExport is the shape handed to external verifiers.
type PublicKeyExport struct {
	PublicKeyPEM string `json:"public_key_pem"`
	Fingerprint  string `json:"fingerprint"`
	Algorithm    string `json:"algorithm"`
	Version      int    `json:"version"`
}

// Export returns the externally consumable view of the key.
func (k *Key) Export() *PublicKeyExport {
	return &PublicKeyExport{
		PublicKeyPEM: k.PublicKeyPEM,
		Fingerprint:  k.Fingerprint,
		Algorithm:    k.Algorithm,
		Version:      k.Version,
	}
}

// KeyStore persists signing keys. Implementations must guarantee the
// one-active-key-per-tenant invariant across processes: CreateActive
// retires the current active key and inserts the new one in a single
// atomic step, and ActiveKey never observes a half-rotated state.
type KeyStore interface {
	// CreateActive assigns the next version number to key, marks it
	// active, deactivates the tenant's previous active key, and stores
	// the private seed — atomically.
	CreateActive(ctx context.Context, key *Key, seed []byte) error

	// ActiveKey returns the tenant's active key and its private key,
	// or ErrNoActiveKey.
	ActiveKey(ctx context.Context, tenantID string) (*Key, ed25519.PrivateKey, error)

	// ByVersion returns a specific key version (public fields only),
	// or ErrVersionNotFound.
	ByVersion(ctx context.Context, tenantID string, version int) (*Key, error)

	// History returns all of a tenant's key versions, newest first.
	History(ctx context.Context, tenantID string) ([]*Key, error)
}

// EncodePublicKeyPEM renders an Ed25519 public key as a PKIX PEM block.
func EncodePublicKeyPEM(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// ParsePublicKeyPEM parses a PKIX PEM public key and requires Ed25519.
func ParsePublicKeyPEM(pemStr string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("signing: invalid public key pem")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key pem: %w", err)
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("signing: public key is not ed25519")
	}
	return pub, nil
}

// Fingerprint returns the stable identifier of a public key: the
// lowercase-hex SHA-256 of its PKIX DER encoding.
func Fingerprint(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return digest.Sum(der), nil
}
