// Package contenthash computes the digest used to decide whether a post's
// embedding is stale.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Separator is inserted literally between hashed parts. It is part of the
// stored hash format: changing it invalidates every stored content hash.
const Separator = "\n"

// Hash returns the hex-encoded SHA-256 of parts joined with Separator
func Hash(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, Separator)))
	return hex.EncodeToString(sum[:])
}

// PostText is the text sent to the embedding provider for a post
func PostText(itemName, description string) string {
	return itemName + Separator + description
}

// PostContent hashes the embeddable fields of a post
func PostContent(itemName, description string) string {
	return Hash(itemName, description)
}
