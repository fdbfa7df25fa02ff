package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashString returns the full lowercase hex-encoded SHA-256 digest of s.
func HashString(s string) string {
	h := sha256.New()
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}
