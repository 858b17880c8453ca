package corpus

import (
	"crypto/sha256"
	"encoding/hex"
)

// fingerprintLen is the number of hex characters kept from the digest.
// 48 bits keeps collisions negligible at corpus scale while the
// processed-hash set stays compact on disk.
const fingerprintLen = 12

// Fingerprint returns the stable dedup key for a record: a truncated
// SHA-256 of the first 50 bytes of the subject, the sender, and the
// first 100 bytes of the body. It is computed on the raw record, before
// any scrubbing, so reprocessed emails hash identically across runs.
func (r *Record) Fingerprint() string {
	key := head(r.Subject, 50) + "|" + r.From + "|" + head(r.Body, 100)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
