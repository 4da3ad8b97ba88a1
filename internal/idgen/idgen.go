// Package idgen generates random identifiers from crypto/rand.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// Hex returns numBytes random bytes hex-encoded (2*numBytes characters).
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("idgen: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// WithPrefix returns prefix followed by 24 random hex characters,
// e.g. WithPrefix("usr_") -> "usr_3f9a...".
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// New returns a dashed 32-hex-character identifier in the
// 8-4-4-4-12 layout.
func New() string {
	s := Hex(16)
	return s[0:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:]
}
