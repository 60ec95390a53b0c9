// Package fingerprint derives short idempotency keys from note line text.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Length is the number of hex characters kept from the digest.
const Length = 12

// Sum returns the first 12 hex characters of the SHA-256 digest of the
// whitespace-trimmed text. Identical trimmed text always yields the same
// fingerprint; it is an idempotency key, not a security property.
func Sum(text string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(h[:])[:Length]
}
