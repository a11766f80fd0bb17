package render

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash fingerprints rendered view content. The publisher compares
// hashes against the last published value to skip no-op edits.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
