package model

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint returns the blake2b-256 hex digest of a model file's
// raw bytes. The processor uses it to recognize a reload of the file
// already active and skip the rebuild.
func Fingerprint(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
