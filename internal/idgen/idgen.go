// Package idgen generates identifiers and short content-derived
// references used across EttleX: UUIDv7 for entity/snapshot/approval
// IDs, and SHA-256-derived base36 short refs in the style beads uses for
// its hash-based issue IDs (internal/idgen/hash.go in the teacher repo).
package idgen

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// base36Alphabet is the character set for base36 encoding (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewUUIDv7 returns a new time-ordered UUIDv7 string, used for snapshot
// IDs, approval tokens, and any entity ID the caller does not supply
// explicitly.
func NewUUIDv7() string {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the system entropy source is broken;
		// fall back to a random v4 rather than panic on a user path.
		return uuid.NewString()
	}
	return id.String()
}

// EncodeBase36 converts a byte slice to a base36 string of the given
// length, left-padding with zeros or truncating to the least-significant
// digits as needed.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)

	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}

	var result strings.Builder
	for i := len(chars) - 1; i >= 0; i-- {
		result.WriteByte(chars[i])
	}

	str := result.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

// ShortRef derives a short, stable display reference for a constraint or
// decision from its full ID: a base36 digest prefixed by kind, e.g.
// "cst-7k2p9q".
func ShortRef(kind, fullID string) string {
	hash := sha256.Sum256([]byte(fullID))
	return fmt.Sprintf("%s-%s", kind, EncodeBase36(hash[:4], 6))
}

// Sha256Hex hashes arbitrary bytes and returns the lowercase hex digest,
// the canonical digest format used throughout EttleX for ep_digest,
// manifest_digest, semantic_manifest_digest, payload_digest, and
// profile_digest.
func Sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}
