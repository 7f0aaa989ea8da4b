package ledger

import "github.com/shiftward/shiftward/internal/digest"

// IssueKind classifies a chain validation finding.
type IssueKind string

const (
	// IssueHashMismatch: the entry's own fields no longer produce its
	// stored SelfHash — the entry's data was altered after hashing.
	IssueHashMismatch IssueKind = "hash_mismatch"

	// IssueChainBreak: the entry's PrevHash does not equal its
	// predecessor's SelfHash — the link, not the entry body, is implicated.
	IssueChainBreak IssueKind = "chain_break"

	// IssueInvalidGenesis: the first entry of a chain carries a previous
	// hash, which a genesis entry must not.
	IssueInvalidGenesis IssueKind = "invalid_genesis"
)

// Issue is one validation finding, precise enough for an investigator:
// which entry, what kind of tampering, and the expected vs. actual value.
type Issue struct {
	Kind       IssueKind `json:"kind"`
	EntryID    string    `json:"entry_id"`
	EntryIndex int       `json:"entry_index"`
	Expected   string    `json:"expected,omitempty"`
	Actual     string    `json:"actual,omitempty"`
}

// EntryCheck is the result of verifying a single entry's own hash.
type EntryCheck struct {
	Valid          bool   `json:"valid"`
	CalculatedHash string `json:"calculated_hash"`
	StoredHash     string `json:"stored_hash"`
}

// ChainReport is the structured result of ValidateChainDetailed.
// ChainHash is set only when the chain is fully valid, so a broken chain
// never yields a usable fingerprint.
type ChainReport struct {
	IsValid      bool    `json:"is_valid"`
	TotalEntries int     `json:"total_entries"`
	ValidEntries int     `json:"valid_entries"`
	Issues       []Issue `json:"issues"`
	ChainHash    string  `json:"chain_hash,omitempty"`
}

// VerifyEntry recomputes an entry's hash from its own fields and compares
// it to the stored SelfHash. A mismatch means the entry's data was altered
// after it was hashed.
func VerifyEntry(e *Entry) EntryCheck {
	calc := ComputeSelfHash(e.SubjectID, e.Kind, e.Timestamp, e.PrevHash)
	return EntryCheck{
		Valid:          calc == e.SelfHash,
		CalculatedHash: calc,
		StoredHash:     e.SelfHash,
	}
}

// ValidateChain reports whether the ordered entries form an intact chain.
// Empty and single-entry chains are trivially valid.
func ValidateChain(entries []*Entry) bool {
	return ValidateChainDetailed(entries).IsValid
}

// ValidateChainDetailed walks the ordered entries and reports every finding.
//
// Per entry, the link to the predecessor is checked before the entry's own
// hash: a wrong PrevHash makes the recomputed SelfHash wrong too, and
// reporting both would blame the entry body for what is a link tampering.
// Each entry therefore contributes at most one issue.
func ValidateChainDetailed(entries []*Entry) *ChainReport {
	report := &ChainReport{
		TotalEntries: len(entries),
		Issues:       []Issue{},
	}

	for i, e := range entries {
		if issue, ok := checkEntry(entries, i, e); ok {
			report.Issues = append(report.Issues, issue)
			continue
		}
		report.ValidEntries++
	}

	report.IsValid = len(report.Issues) == 0
	if report.IsValid {
		report.ChainHash = chainHash(entries)
	}
	return report
}

// chainHash is a fingerprint of the whole chain: the hash of every entry's
// SelfHash joined in order. Two chains differing in any entry, or only in
// length, produce different chain hashes.
func chainHash(entries []*Entry) string {
	hashes := make([]string, len(entries))
	for i, e := range entries {
		hashes[i] = e.SelfHash
	}
	return digest.SumFields(hashes...)
}

func checkEntry(entries []*Entry, i int, e *Entry) (Issue, bool) {
	if i == 0 {
		if e.PrevHash != "" {
			return Issue{
				Kind:       IssueInvalidGenesis,
				EntryID:    e.ID.String(),
				EntryIndex: i,
				Expected:   "",
				Actual:     e.PrevHash,
			}, true
		}
	} else if prev := entries[i-1]; e.PrevHash != prev.SelfHash {
		return Issue{
			Kind:       IssueChainBreak,
			EntryID:    e.ID.String(),
			EntryIndex: i,
			Expected:   prev.SelfHash,
			Actual:     e.PrevHash,
		}, true
	}

	if check := VerifyEntry(e); !check.Valid {
		return Issue{
			Kind:       IssueHashMismatch,
			EntryID:    e.ID.String(),
			EntryIndex: i,
			Expected:   check.CalculatedHash,
			Actual:     check.StoredHash,
		}, true
	}
	return Issue{}, false
}
