// Package idgen provides cryptographically random ID generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// Prefixes for the identifiers this service hands out.
const (
	EventPrefix  = "evt_"
	APIKeyPrefix = "ak_"
)

// WithPrefix generates a random ID with a prefix (e.g. "evt_", "ak_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// Event returns a new escrow event ID.
func Event() string {
	return WithPrefix(EventPrefix)
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
