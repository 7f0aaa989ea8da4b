package signing

import (
	"context"
	"crypto/ed25519"
	"sync"
)

// MemoryKeyStore is an in-memory, thread-safe KeyStore for testing and
// development. A single mutex stands in for the transaction boundary the
// Postgres implementation gets from the database, so rotation and signing
// can never interleave.
type MemoryKeyStore struct {
	mu      sync.Mutex
	tenants map[string][]*memoryKey // append order = version order
}

type memoryKey struct {
	key  Key
	seed []byte
}

// NewMemoryKeyStore creates an empty MemoryKeyStore.
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{tenants: make(map[string][]*memoryKey)}
}

// CreateActive implements KeyStore.
func (s *MemoryKeyStore) CreateActive(_ context.Context, key *Key, seed []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.tenants[key.TenantID]
	for _, k := range keys {
		k.key.Active = false
	}
	key.Version = len(keys) + 1
	key.Active = true

	seedCopy := append([]byte(nil), seed...)
	s.tenants[key.TenantID] = append(keys, &memoryKey{key: *key, seed: seedCopy})
	return nil
}

// ActiveKey implements KeyStore.
func (s *MemoryKeyStore) ActiveKey(_ context.Context, tenantID string) (*Key, ed25519.PrivateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.tenants[tenantID] {
		if k.key.Active {
			key := k.key
			return &key, ed25519.NewKeyFromSeed(k.seed), nil
		}
	}
	return nil, nil, ErrNoActiveKey
}

// ByVersion implements KeyStore.
func (s *MemoryKeyStore) ByVersion(_ context.Context, tenantID string, version int) (*Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.tenants[tenantID] {
		if k.key.Version == version {
			key := k.key
			return &key, nil
		}
	}
	return nil, ErrVersionNotFound
}

// History implements KeyStore.
func (s *MemoryKeyStore) History(_ context.Context, tenantID string) ([]*Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.tenants[tenantID]
	out := make([]*Key, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		key := keys[i].key
		out = append(out, &key)
	}
	return out, nil
}
