package hash

import (
	"crypto/sha256"
	"encoding/hex"
)

// ipHashIterations is the work factor for stored IP hashes.
const ipHashIterations = 5000

// SHA256Hex returns the hex-encoded SHA256 hash of the input string.
func SHA256Hex(input string) string {
	h := sha256.Sum256([]byte(input))
	return hex.EncodeToString(h[:])
}

// IteratedSHA256 applies SHA256 iteratively n times to produce a derived hash.
func IteratedSHA256(input string, iterations int) string {
	data := []byte(input)
	for i := 0; i < iterations; i++ {
		h := sha256.Sum256(data)
		data = h[:]
	}
	return hex.EncodeToString(data)
}

// HashIP hashes an IP address with a salt using 5000 iterations of SHA256.
// The vote ledger stores only this value, never the raw address.
func HashIP(ip, salt string) string {
	return IteratedSHA256(salt+ip, ipHashIterations)
}
