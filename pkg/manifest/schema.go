// Package manifest defines the portable audit-manifest JSON schema.
//
// A manifest is the sealed, self-contained proof object produced for an
// export bundle: the Merkle root over every exported file, a signature by
// the tenant's signing key, the key version and fingerprint needed to pick
// the right public key later, and the full ordered leaf list so a third
// party can rebuild the tree from the raw files alone. Together with the
// files and an exported public key it is sufficient for fully offline
// verification — no access to the live system is required.
//
// A manifest is immutable once sealed.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// SchemaVersion is the current manifest schema version.
const SchemaVersion = "1.0"

// Retention modes. Compliance mode asserts the manifest's storage object
// cannot be deleted or altered by any principal until the retention period
// elapses; the storage layer must actually enforce that lock.
const (
	RetentionGovernance = "governance"
	RetentionCompliance = "compliance"
)

// Timestamp acquisition outcomes recorded on the manifest. Timestamping is
// best-effort: a failed acquisition never blocks sealing, but its absence
// is recorded rather than silently omitted.
const (
	TimestampAttached = "attached"
	TimestampDisabled = "disabled"
	TimestampFailed   = "failed"
)

// Leaf is one exported file's fingerprint.
type Leaf struct {
	FileName    string `json:"file_name"`
	ContentHash string `json:"content_hash"` // lowercase-hex SHA-256 of the raw file bytes
	SizeBytes   int64  `json:"size_bytes"`
}

// RetentionPolicy declares how long and how strictly the manifest and its
// export must be retained.
type RetentionPolicy struct {
	Mode  string `json:"mode"` // governance | compliance
	Years int    `json:"years"`
}

// TimestampToken is an externally issued proof that the signature existed
// at a point in time.
type TimestampToken struct {
	Authority string    `json:"authority"`
	Token     string    `json:"token"` // opaque, authority-defined encoding
	IssuedAt  time.Time `json:"issued_at"`
}

// Manifest is the sealed audit proof for one export job.
type Manifest struct {
	SchemaVersion string    `json:"schema_version"`
	JobID         string    `json:"job_id"`
	TenantID      string    `json:"tenant_id"`
	CreatedAt     time.Time `json:"created_at"`

	// MerkleRoot is the root over Leaves in their recorded order.
	MerkleRoot string `json:"merkle_root"`

	// Signature is the hex Ed25519 signature over the ASCII form of
	// MerkleRoot, made with the key version recorded below.
	Signature      string `json:"signature"`
	KeyVersion     int    `json:"key_version"`
	KeyFingerprint string `json:"key_fingerprint"`
	Algorithm      string `json:"algorithm"`

	TimestampStatus string          `json:"timestamp_status"`
	TimestampToken  *TimestampToken `json:"timestamp_token,omitempty"`

	Retention RetentionPolicy `json:"retention"`

	// Leaves, in the exact order the tree was built over.
	Leaves []Leaf `json:"leaves"`
}

// Validate checks the structural fields an offline consumer relies on.
// It does NOT verify hashes or signatures — that is the verifier's job.
func (m *Manifest) Validate() error {
	switch {
	case m.SchemaVersion == "":
		return fmt.Errorf("manifest: missing schema_version")
	case m.TenantID == "":
		return fmt.Errorf("manifest: missing tenant_id")
	case m.MerkleRoot == "":
		return fmt.Errorf("manifest: missing merkle_root")
	case m.Signature == "":
		return fmt.Errorf("manifest: missing signature")
	case m.KeyVersion < 1:
		return fmt.Errorf("manifest: key_version %d out of range", m.KeyVersion)
	case len(m.Leaves) == 0:
		return fmt.Errorf("manifest: no leaves")
	}
	if m.Retention.Mode != RetentionGovernance && m.Retention.Mode != RetentionCompliance {
		return fmt.Errorf("manifest: unknown retention mode %q", m.Retention.Mode)
	}
	return nil
}

// Load reads and validates a manifest JSON file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m := &Manifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Save writes the manifest as indented JSON.
func (m *Manifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
