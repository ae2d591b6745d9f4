package redact

import (
	"crypto/sha256"
	"encoding/base64"
)

// Hasher computes salted SHA-256 digests of field values.
type Hasher struct {
	salt string
}

// NewHasher builds a Hasher. An empty salt is permitted.
func NewHasher(salt string) *Hasher { return &Hasher{salt: salt} }

// Hash returns Base64(SHA-256(salt || value)). Deterministic for a given
// salt, so consumers can join on hashed fields.
func (h *Hasher) Hash(value string) string {
	sum := sha256.Sum256([]byte(h.salt + value))
	return base64.StdEncoding.EncodeToString(sum[:])
}
