package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ShortSum returns the first n hex characters of the SHA-256 digest of
// data. It is used for compact deterministic identifiers; n must be at
// most 64.
func ShortSum(data []byte, n int) string {
	return Sum(data)[:n]
}
