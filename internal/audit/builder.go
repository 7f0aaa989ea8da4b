// Package audit builds signed, verifiable manifests for export bundles.
//
// The pipeline per export job: hash every file, aggregate the hashes into
// a Merkle tree, sign the root with the tenant's active key, optionally
// attach a trusted-timestamp token, and seal the manifest. Sealing is all
// or nothing — a failed build leaves no half-signed manifest behind; the
// caller restarts with a fresh Build, never resumes.
package audit

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shiftward/shiftward/internal/digest"
	"github.com/shiftward/shiftward/internal/merkle"
	"github.com/shiftward/shiftward/internal/signing"
	"github.com/shiftward/shiftward/pkg/manifest"
	"go.uber.org/zap"
)

// Stage is a phase of the build pipeline. A job moves strictly forward;
// the terminal stages are StageSealed and StageFailed.
type Stage string

const (
	StageNotStarted       Stage = "not_started"
	StageHashing          Stage = "hashing"
	StageAggregating      Stage = "aggregating"
	StageSigning          Stage = "signing"
	StageTimestampPending Stage = "timestamp_pending"
	StageSealed           Stage = "sealed"
	StageFailed           Stage = "failed"
)

var (
	// ErrComplianceUnsupported is returned when compliance-grade retention
	// is requested but the manifest store cannot enforce a WORM lock.
	// Recording an intent the storage layer cannot honor would be worse
	// than refusing.
	ErrComplianceUnsupported = errors.New("audit: store cannot enforce compliance retention")

	// ErrNoFiles is returned for an empty export: a zero-leaf tree has no
	// defined root and must never be signed.
	ErrNoFiles = errors.New("audit: export bundle has no files")
)

// BuildError reports which pipeline stage failed and why.
type BuildError struct {
	Stage Stage
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("audit build failed at stage %s: %v", e.Stage, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// File is one already-produced export file, supplied by the export feature.
type File struct {
	Name string
	Data []byte
}

// Signer is the signing capability the builder needs.
// *signing.Manager satisfies this interface.
type Signer interface {
	Sign(ctx context.Context, tenantID, rootHash string) (signature string, keyVersion int, err error)
	ExportPublicKey(ctx context.Context, tenantID string, version int) (*signing.PublicKeyExport, error)
}

// Builder orchestrates the export hardening pipeline.
type Builder struct {
	store  ManifestStore
	signer Signer
	tsa    TimestampAuthority // nil = timestamping disabled
	logger *zap.Logger
}

// NewBuilder creates a Builder. tsa may be nil to disable timestamping.
func NewBuilder(store ManifestStore, signer Signer, tsa TimestampAuthority, logger *zap.Logger) *Builder {
	return &Builder{store: store, signer: signer, tsa: tsa, logger: logger}
}

// Build runs the full pipeline for one export job and returns the sealed
// manifest. jobID may be empty, in which case one is generated.
//
// Re-running Build over the same file set and key version is deterministic
// up to the signature: the Merkle root is byte-identical.
func (b *Builder) Build(ctx context.Context, jobID, tenantID string, files []File, policy manifest.RetentionPolicy) (*manifest.Manifest, error) {
	if jobID == "" {
		jobID = uuid.NewString()
	}
	if policy.Mode == manifest.RetentionCompliance && !b.store.SupportsComplianceLock() {
		return nil, &BuildError{Stage: StageNotStarted, Err: ErrComplianceUnsupported}
	}
	if policy.Mode != manifest.RetentionGovernance && policy.Mode != manifest.RetentionCompliance {
		return nil, &BuildError{Stage: StageNotStarted, Err: fmt.Errorf("unknown retention mode %q", policy.Mode)}
	}
	if len(files) == 0 {
		return nil, &BuildError{Stage: StageHashing, Err: ErrNoFiles}
	}

	leaves := hashFiles(files)

	leafHashes := make([]string, len(leaves))
	for i, l := range leaves {
		leafHashes[i] = l.ContentHash
	}
	tree, err := merkle.Build(leafHashes)
	if err != nil {
		return nil, &BuildError{Stage: StageAggregating, Err: err}
	}

	sig, keyVersion, err := b.signer.Sign(ctx, tenantID, tree.Root)
	if err != nil {
		return nil, &BuildError{Stage: StageSigning, Err: err}
	}
	export, err := b.signer.ExportPublicKey(ctx, tenantID, keyVersion)
	if err != nil {
		return nil, &BuildError{Stage: StageSigning, Err: err}
	}

	m := &manifest.Manifest{
		SchemaVersion:   manifest.SchemaVersion,
		JobID:           jobID,
		TenantID:        tenantID,
		CreatedAt:       time.Now().UTC(),
		MerkleRoot:      tree.Root,
		Signature:       sig,
		KeyVersion:      keyVersion,
		KeyFingerprint:  export.Fingerprint,
		Algorithm:       export.Algorithm,
		TimestampStatus: manifest.TimestampDisabled,
		Retention:       policy,
		Leaves:          leaves,
	}

	// Best effort: a missing timestamp proof degrades the manifest, it
	// never blocks the export.
	if b.tsa != nil {
		token, err := b.tsa.Stamp(ctx, []byte(sig))
		switch {
		case err == nil:
			m.TimestampStatus = manifest.TimestampAttached
			m.TimestampToken = token
		case errors.Is(err, ErrTimestampDisabled):
			m.TimestampStatus = manifest.TimestampDisabled
		default:
			m.TimestampStatus = manifest.TimestampFailed
			b.logger.Warn("trusted timestamp acquisition failed, sealing without proof",
				zap.String("job_id", jobID),
				zap.Error(err),
			)
		}
	}

	if err := b.store.Save(ctx, m); err != nil {
		return nil, &BuildError{Stage: StageSealed, Err: err}
	}

	b.logger.Info("audit manifest sealed",
		zap.String("job_id", jobID),
		zap.String("tenant_id", tenantID),
		zap.String("merkle_root", m.MerkleRoot),
		zap.Int("files", len(files)),
		zap.Int("key_version", keyVersion),
		zap.String("timestamp_status", m.TimestampStatus),
	)
	return m, nil
}

// hashFiles hashes every file concurrently while preserving the supplied
// order, which is part of the Merkle root's definition.
func hashFiles(files []File) []manifest.Leaf {
	leaves := make([]manifest.Leaf, len(files))

	workers := runtime.GOMAXPROCS(0)
	if workers > len(files) {
		workers = len(files)
	}
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				leaves[i] = manifest.Leaf{
					FileName:    files[i].Name,
					ContentHash: digest.Sum(files[i].Data),
					SizeBytes:   int64(len(files[i].Data)),
				}
			}
		}()
	}
	for i := range files {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return leaves
}
