package ledger_test

import (
	"strings"
	"testing"
	"time"

	"github.com/shiftward/shiftward/internal/ledger"
)

func buildChain(t *testing.T, subject string, n int) (*ledger.MemoryLedger, []*ledger.Entry) {
	t.Helper()
	l := ledger.NewMemory()
	base := time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		kind := ledger.KindClockIn
		if i%2 == 1 {
			kind = ledger.KindClockOut
		}
		mustAppend(t, l, subject, kind, base.Add(time.Duration(i)*time.Hour))
	}
	entries, err := l.Entries(ctx, subject)
	if err != nil {
		t.Fatal(err)
	}
	return l, entries
}

func TestValidateChain_validLengths(t *testing.T) {
	for _, n := range []int{0, 1, 2, 7} {
		_, entries := buildChain(t, "emp-1", n)
		if !ledger.ValidateChain(entries) {
			t.Errorf("valid chain of length %d reported invalid", n)
		}
	}
}

func TestValidateChainDetailed_validChain(t *testing.T) {
	_, entries := buildChain(t, "emp-1", 2)

	report := ledger.ValidateChainDetailed(entries)
	if !report.IsValid {
		t.Fatalf("valid chain reported invalid: %+v", report.Issues)
	}
	if report.TotalEntries != 2 || report.ValidEntries != 2 {
		t.Errorf("counts: total=%d valid=%d, want 2/2", report.TotalEntries, report.ValidEntries)
	}
	if len(report.Issues) != 0 {
		t.Errorf("expected no issues, got %+v", report.Issues)
	}
	if len(report.ChainHash) != 64 {
		t.Errorf("ChainHash: got %q, want 64-hex-char digest", report.ChainHash)
	}
}

func TestVerifyEntry_detectsFieldTampering(t *testing.T) {
	tamper := []struct {
		name   string
		mutate func(*ledger.Entry)
	}{
		{"timestamp", func(e *ledger.Entry) { e.Timestamp = e.Timestamp.Add(time.Minute) }},
		{"kind", func(e *ledger.Entry) { e.Kind = ledger.KindCorrection }},
		{"subject", func(e *ledger.Entry) { e.SubjectID = "emp-2" }},
	}

	for _, tc := range tamper {
		t.Run(tc.name, func(t *testing.T) {
			_, entries := buildChain(t, "emp-1", 3)
			tc.mutate(entries[1])

			if check := ledger.VerifyEntry(entries[1]); check.Valid {
				t.Error("tampered entry verified as valid")
			}
			// Unrelated entries stay valid.
			for _, i := range []int{0, 2} {
				if check := ledger.VerifyEntry(entries[i]); !check.Valid {
					t.Errorf("untouched entry %d reported invalid", i)
				}
			}
		})
	}
}

func TestValidateChainDetailed_tamperedEntryBody(t *testing.T) {
	_, entries := buildChain(t, "emp-1", 3)
	entries[1].Timestamp = entries[1].Timestamp.Add(time.Second)

	report := ledger.ValidateChainDetailed(entries)
	if report.IsValid {
		t.Fatal("tampered chain reported valid")
	}
	if report.ChainHash != "" {
		t.Errorf("broken chain must not expose a chain hash, got %q", report.ChainHash)
	}
	if len(report.Issues) != 1 {
		t.Fatalf("expected exactly 1 issue, got %+v", report.Issues)
	}
	issue := report.Issues[0]
	if issue.Kind != ledger.IssueHashMismatch {
		t.Errorf("issue kind: got %q, want hash_mismatch", issue.Kind)
	}
	if issue.EntryIndex != 1 {
		t.Errorf("issue index: got %d, want 1", issue.EntryIndex)
	}
	if report.ValidEntries != 2 {
		t.Errorf("ValidEntries: got %d, want 2", report.ValidEntries)
	}
}

func TestValidateChainDetailed_brokenLink(t *testing.T) {
	_, entries := buildChain(t, "emp-1", 2)
	trueHash := entries[0].SelfHash
	entries[1].PrevHash = strings.Repeat("ab", 32)

	report := ledger.ValidateChainDetailed(entries)
	if report.IsValid {
		t.Fatal("broken link reported valid")
	}
	if len(report.Issues) != 1 {
		t.Fatalf("expected exactly 1 issue, got %+v", report.Issues)
	}
	issue := report.Issues[0]
	if issue.Kind != ledger.IssueChainBreak {
		t.Errorf("issue kind: got %q, want chain_break", issue.Kind)
	}
	if issue.EntryIndex != 1 {
		t.Errorf("issue index: got %d, want 1", issue.EntryIndex)
	}
	if issue.Expected != trueHash {
		t.Errorf("expected value: got %q, want entry 0's true hash %q", issue.Expected, trueHash)
	}
	if issue.Actual != entries[1].PrevHash {
		t.Errorf("actual value: got %q, want the overwritten hash", issue.Actual)
	}
}

func TestValidateChainDetailed_invalidGenesis(t *testing.T) {
	_, entries := buildChain(t, "emp-1", 2)
	entries[0].PrevHash = strings.Repeat("cd", 32)

	report := ledger.ValidateChainDetailed(entries)
	if report.IsValid {
		t.Fatal("forged genesis reported valid")
	}
	found := false
	for _, issue := range report.Issues {
		if issue.Kind == ledger.IssueInvalidGenesis && issue.EntryIndex == 0 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an invalid_genesis issue at index 0, got %+v", report.Issues)
	}
}

func TestChainHash_pureFunctionOfEntries(t *testing.T) {
	_, a := buildChain(t, "emp-1", 3)

	first := ledger.ValidateChainDetailed(a).ChainHash
	second := ledger.ValidateChainDetailed(a).ChainHash
	if first != second {
		t.Error("identical chains must produce identical chain hashes")
	}

	shorter := ledger.ValidateChainDetailed(a[:2]).ChainHash
	if shorter == first {
		t.Error("chains differing only in length must produce different chain hashes")
	}
}
