// Package keys generates and hashes tenant secrets. The raw secret is
// shown exactly once at creation, only the sha256 digest is persisted.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
)

const secretPrefix = "kuvert_live_"

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewSecret returns a fresh raw tenant secret.
func NewSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("keys: failed to read random bytes: " + err.Error())
	}
	return secretPrefix + b32.EncodeToString(b)
}

// NewWebhookSecret returns a signing secret for outbound event forwards.
func NewWebhookSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("keys: failed to read random bytes: " + err.Error())
	}
	return "whsec_" + hex.EncodeToString(b)
}

// Hash is the deterministic digest under which a secret is stored and
// looked up.
func Hash(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Prefix returns the non-secret display prefix of a raw secret.
func Prefix(secret string) string {
	if len(secret) <= 16 {
		return secret
	}
	return secret[:16] + "..."
}
