package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain-separation tags prepended before hashing so a transaction hash can
// never collide with a group or block hash over the same bytes.
const (
	TagTransaction = "TX"
	TagGroup       = "TG"
	TagBlock       = "BH"
)

// Hash returns the SHA-256 hash of data as a lowercase hex string.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashBytes returns the raw SHA-256 bytes of data.
func HashBytes(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// TaggedHash returns the hex SHA-256 of tag || data.
func TaggedHash(tag string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(tag))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
