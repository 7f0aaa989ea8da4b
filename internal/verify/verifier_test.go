package verify_test

import (
	"context"
	"testing"
	"time"

	"github.com/shiftward/shiftward/internal/audit"
	"github.com/shiftward/shiftward/internal/ledger"
	"github.com/shiftward/shiftward/internal/signing"
	"github.com/shiftward/shiftward/internal/verify"
	"github.com/shiftward/shiftward/pkg/manifest"
	"go.uber.org/zap"
)

var ctx = context.Background()

var files = []audit.File{
	{Name: "a.csv", Data: []byte("alpha")},
	{Name: "b.csv", Data: []byte("bravo")},
	{Name: "c.csv", Data: []byte("charlie")},
}

// seal builds a manifest for the test files and returns it with the
// exported public key of the signing key version used.
func seal(t *testing.T) (*manifest.Manifest, string, *signing.Manager) {
	t.Helper()
	signer := signing.NewManager(signing.NewMemoryKeyStore(), zap.NewNop())
	if _, err := signer.Generate(ctx, "tenant-1"); err != nil {
		t.Fatal(err)
	}
	builder := audit.NewBuilder(audit.NewMemoryManifestStore(), signer, nil, zap.NewNop())
	m, err := builder.Build(ctx, "job-1", "tenant-1", files, manifest.RetentionPolicy{
		Mode:  manifest.RetentionGovernance,
		Years: 6,
	})
	if err != nil {
		t.Fatal(err)
	}
	export, err := signer.ExportPublicKey(ctx, "tenant-1", m.KeyVersion)
	if err != nil {
		t.Fatal(err)
	}
	return m, export.PublicKeyPEM, signer
}

func hasIssue(res *verify.Result, kind verify.IssueKind) bool {
	for _, issue := range res.Issues {
		if issue.Kind == kind {
			return true
		}
	}
	return false
}

func TestManifest_validBundle(t *testing.T) {
	m, pubPEM, _ := seal(t)

	res := verify.Manifest(m, files, pubPEM)
	if !res.Valid {
		t.Fatalf("valid bundle reported invalid: %+v", res.Issues)
	}
}

func TestManifest_survivesKeyRotation(t *testing.T) {
	m, pubPEM, signer := seal(t)

	for i := 0; i < 2; i++ {
		if _, err := signer.Rotate(ctx, "tenant-1"); err != nil {
			t.Fatal(err)
		}
	}

	res := verify.Manifest(m, files, pubPEM)
	if !res.Valid {
		t.Fatalf("manifest must verify against its historical key after rotation: %+v", res.Issues)
	}
}

func TestManifest_tamperedFile(t *testing.T) {
	m, pubPEM, _ := seal(t)

	tampered := []audit.File{files[0], {Name: "b.csv", Data: []byte("bravo!")}, files[2]}
	res := verify.Manifest(m, tampered, pubPEM)
	if res.Valid {
		t.Fatal("tampered file reported valid")
	}
	if !hasIssue(res, verify.IssueLeafHashMismatch) {
		t.Errorf("expected leaf_hash_mismatch, got %+v", res.Issues)
	}
	if !hasIssue(res, verify.IssueRootMismatch) {
		t.Errorf("expected root_mismatch, got %+v", res.Issues)
	}
}

func TestManifest_missingAndExtraFiles(t *testing.T) {
	m, pubPEM, _ := seal(t)

	supplied := []audit.File{files[0], files[2], {Name: "d.csv", Data: []byte("delta")}}
	res := verify.Manifest(m, supplied, pubPEM)
	if res.Valid {
		t.Fatal("incomplete bundle reported valid")
	}
	if !hasIssue(res, verify.IssueLeafMissing) {
		t.Errorf("expected leaf_missing, got %+v", res.Issues)
	}
	if !hasIssue(res, verify.IssueLeafExtra) {
		t.Errorf("expected leaf_extra, got %+v", res.Issues)
	}
}

func TestManifest_tamperedRoot(t *testing.T) {
	m, pubPEM, _ := seal(t)

	forged := *m
	forged.MerkleRoot = "0000000000000000000000000000000000000000000000000000000000000000"
	res := verify.Manifest(&forged, files, pubPEM)
	if res.Valid {
		t.Fatal("forged root reported valid")
	}
	if !hasIssue(res, verify.IssueRootMismatch) {
		t.Errorf("expected root_mismatch, got %+v", res.Issues)
	}
	// The signature was made over the true root, so it fails too.
	if !hasIssue(res, verify.IssueSignatureInvalid) {
		t.Errorf("expected signature_invalid, got %+v", res.Issues)
	}
}

func TestManifest_wrongKey(t *testing.T) {
	m, _, _ := seal(t)

	other := signing.NewManager(signing.NewMemoryKeyStore(), zap.NewNop())
	if _, err := other.Generate(ctx, "tenant-2"); err != nil {
		t.Fatal(err)
	}
	export, err := other.ExportPublicKey(ctx, "tenant-2", 0)
	if err != nil {
		t.Fatal(err)
	}

	res := verify.Manifest(m, files, export.PublicKeyPEM)
	if res.Valid {
		t.Fatal("wrong key reported valid")
	}
	if !hasIssue(res, verify.IssueKeyFingerprintMismatch) {
		t.Errorf("expected key_fingerprint_mismatch, got %+v", res.Issues)
	}
	if !hasIssue(res, verify.IssueSignatureInvalid) {
		t.Errorf("expected signature_invalid, got %+v", res.Issues)
	}
}

func TestManifest_garbagePublicKey(t *testing.T) {
	m, _, _ := seal(t)

	res := verify.Manifest(m, files, "not a pem block")
	if res.Valid {
		t.Fatal("garbage key reported valid")
	}
	if !hasIssue(res, verify.IssueBadPublicKey) {
		t.Errorf("expected bad_public_key, got %+v", res.Issues)
	}
}

func TestLedgerChain_delegatesAndChecksSubject(t *testing.T) {
	l := ledger.NewMemory()
	base := time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)
	if _, err := l.Append(ctx, "emp-1", ledger.KindClockIn, base, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Append(ctx, "emp-1", ledger.KindClockOut, base.Add(8*time.Hour), nil); err != nil {
		t.Fatal(err)
	}
	entries, err := l.Entries(ctx, "emp-1")
	if err != nil {
		t.Fatal(err)
	}

	report := verify.LedgerChain(entries, "emp-1")
	if !report.IsValid || report.ChainHash == "" {
		t.Fatalf("valid chain reported invalid: %+v", report)
	}

	report = verify.LedgerChain(entries, "emp-2")
	if report.IsValid {
		t.Fatal("foreign subject reported valid")
	}
	if report.ChainHash != "" {
		t.Error("invalid chain must not expose a chain hash")
	}
	found := 0
	for _, issue := range report.Issues {
		if issue.Kind == verify.IssueSubjectMismatch {
			found++
		}
	}
	if found != len(entries) {
		t.Errorf("subject_mismatch issues: got %d, want %d", found, len(entries))
	}
}
