// Package digest provides the canonical content hashing used by the ledger
// and the audit export pipeline.
//
// All digests are SHA-256, rendered as lowercase hex. Field hashing joins
// the fields with "|" in caller order; the join, the field order, and the
// exact string forms are part of the wire contract — an offline verifier
// must reproduce them byte for byte or every chain and manifest fails to
// validate. Field values fed to SumFields are identifiers, enum tokens,
// canonical timestamps, and hex digests, none of which can contain "|".
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// FieldSeparator joins fields before hashing. Fixed forever.
const FieldSeparator = "|"

// TimeLayout is the canonical timestamp form: UTC ISO-8601 with
// millisecond precision. Fixed forever.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Sum returns the lowercase-hex SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SumFields hashes the fields joined with FieldSeparator, in the order given.
func SumFields(fields ...string) string {
	return Sum([]byte(strings.Join(fields, FieldSeparator)))
}

// CanonicalTime renders t in the canonical hash-input form (TimeLayout, UTC).
// Sub-millisecond precision is truncated, not rounded.
func CanonicalTime(t time.Time) string {
	return t.UTC().Truncate(time.Millisecond).Format(TimeLayout)
}

// IsHex reports whether s is a well-formed lowercase-hex SHA-256 digest.
func IsHex(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Decode decodes a lowercase-hex digest to raw bytes.
func Decode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
