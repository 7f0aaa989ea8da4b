// Package verify re-derives every hash and signature in a manifest or
// ledger chain from raw inputs and reports pass/fail with structured
// diagnostics.
//
// Verification is designed to run fully offline: a manifest, the original
// files, and an exported public key are sufficient — no live system,
// secret store, or network. Integrity findings are never errors; the
// result always comes back, even when it says "invalid".
package verify

import (
	"fmt"

	"github.com/shiftward/shiftward/internal/audit"
	"github.com/shiftward/shiftward/internal/digest"
	"github.com/shiftward/shiftward/internal/ledger"
	"github.com/shiftward/shiftward/internal/merkle"
	"github.com/shiftward/shiftward/internal/signing"
	"github.com/shiftward/shiftward/pkg/manifest"
)

// IssueKind classifies a manifest verification finding.
type IssueKind string

const (
	// IssueBadPublicKey: the supplied public key could not be parsed or
	// is not the algorithm the manifest names.
	IssueBadPublicKey IssueKind = "bad_public_key"

	// IssueKeyFingerprintMismatch: the supplied public key is well-formed
	// but is not the key the manifest was signed with.
	IssueKeyFingerprintMismatch IssueKind = "key_fingerprint_mismatch"

	// IssueLeafMissing: the manifest names a file that was not supplied.
	IssueLeafMissing IssueKind = "leaf_missing"

	// IssueLeafHashMismatch: a supplied file's bytes no longer hash to
	// the manifest's recorded content hash.
	IssueLeafHashMismatch IssueKind = "leaf_hash_mismatch"

	// IssueLeafExtra: a supplied file does not appear in the manifest.
	IssueLeafExtra IssueKind = "leaf_extra"

	// IssueRootMismatch: the Merkle root rebuilt from the recomputed
	// leaf hashes differs from the manifest's recorded root.
	IssueRootMismatch IssueKind = "root_mismatch"

	// IssueSignatureInvalid: the signature over the recorded root does
	// not verify against the supplied public key.
	IssueSignatureInvalid IssueKind = "signature_invalid"
)

// IssueSubjectMismatch marks a ledger entry that belongs to a different
// subject than the chain under verification.
const IssueSubjectMismatch ledger.IssueKind = "subject_mismatch"

// Issue is one manifest verification finding.
type Issue struct {
	Kind     IssueKind `json:"kind"`
	FileName string    `json:"file_name,omitempty"`
	Expected string    `json:"expected,omitempty"`
	Actual   string    `json:"actual,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// Result is the outcome of a manifest verification.
type Result struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`
}

// Manifest re-derives a manifest's proof chain from the supplied files:
// every leaf hash, the Merkle root, and finally the signature against the
// given public key PEM. The key may be any historical version — rotation
// never invalidates old manifests — but it must be the version the
// manifest records, which is what the fingerprint check pins down.
func Manifest(m *manifest.Manifest, files []audit.File, publicKeyPEM string) *Result {
	res := &Result{Issues: []Issue{}}

	byName := make(map[string][]byte, len(files))
	for _, f := range files {
		byName[f.Name] = f.Data
	}

	// Recompute every leaf from raw bytes.
	recomputed := make([]string, 0, len(m.Leaves))
	complete := true
	for _, leaf := range m.Leaves {
		data, ok := byName[leaf.FileName]
		if !ok {
			res.Issues = append(res.Issues, Issue{
				Kind:     IssueLeafMissing,
				FileName: leaf.FileName,
				Expected: leaf.ContentHash,
			})
			complete = false
			continue
		}
		delete(byName, leaf.FileName)

		got := digest.Sum(data)
		if got != leaf.ContentHash {
			res.Issues = append(res.Issues, Issue{
				Kind:     IssueLeafHashMismatch,
				FileName: leaf.FileName,
				Expected: leaf.ContentHash,
				Actual:   got,
			})
		}
		recomputed = append(recomputed, got)
	}
	for name := range byName {
		res.Issues = append(res.Issues, Issue{
			Kind:     IssueLeafExtra,
			FileName: name,
			Detail:   "file supplied but not covered by the manifest",
		})
	}

	// Rebuild the root from the recomputed hashes, preserving manifest
	// leaf order. Skipped when files are missing — the root cannot be
	// rebuilt from an incomplete set.
	if complete {
		tree, err := merkle.Build(recomputed)
		if err != nil {
			res.Issues = append(res.Issues, Issue{
				Kind:   IssueRootMismatch,
				Detail: fmt.Sprintf("cannot rebuild tree: %v", err),
			})
		} else if tree.Root != m.MerkleRoot {
			res.Issues = append(res.Issues, Issue{
				Kind:     IssueRootMismatch,
				Expected: m.MerkleRoot,
				Actual:   tree.Root,
			})
		}
	}

	// Signature over the recorded root, against the supplied key.
	pub, err := signing.ParsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		res.Issues = append(res.Issues, Issue{
			Kind:   IssueBadPublicKey,
			Detail: err.Error(),
		})
	} else {
		if fp, err := signing.Fingerprint(pub); err == nil && m.KeyFingerprint != "" && fp != m.KeyFingerprint {
			res.Issues = append(res.Issues, Issue{
				Kind:     IssueKeyFingerprintMismatch,
				Expected: m.KeyFingerprint,
				Actual:   fp,
			})
		}
		if !signing.Verify(pub, m.MerkleRoot, m.Signature) {
			res.Issues = append(res.Issues, Issue{
				Kind:   IssueSignatureInvalid,
				Detail: fmt.Sprintf("signature does not verify over root %s with key version %d", m.MerkleRoot, m.KeyVersion),
			})
		}
	}

	res.Valid = len(res.Issues) == 0
	return res
}

// LedgerChain verifies a subject's chain. It delegates the hash and link
// checks to the ledger package and additionally flags entries that belong
// to a different subject.
func LedgerChain(entries []*ledger.Entry, subjectID string) *ledger.ChainReport {
	report := ledger.ValidateChainDetailed(entries)
	for i, e := range entries {
		if e.SubjectID != subjectID {
			report.Issues = append(report.Issues, ledger.Issue{
				Kind:       IssueSubjectMismatch,
				EntryID:    e.ID.String(),
				EntryIndex: i,
				Expected:   subjectID,
				Actual:     e.SubjectID,
			})
		}
	}
	if len(report.Issues) > 0 {
		report.IsValid = false
		report.ChainHash = ""
	}
	return report
}
