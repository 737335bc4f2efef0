package util

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/cespare/xxhash"
)

// HashKeyStrings hashes an ordered set of strings into a single `xxhash` key,
// separating parts so that ("ab", "c") and ("a", "bc") never collide
// NOTE: https://github.com/cespare/xxhash for more details
func HashKeyStrings(parts ...string) uint64 {
	d := xxhash.New()

	for _, p := range parts {
		// writes to an xxhash digest never fail
		_, _ = d.Write([]byte(p))
		_, _ = d.Write([]byte{0})
	}

	return d.Sum64()
}

// HexSHA256 returns the hex encoded SHA-256 digest of a payload
func HexSHA256(payload []byte) string {
	h := sha256.Sum256(payload)
	return hex.EncodeToString(h[:])
}
