// Package secret provides random identifiers and constant-time comparison
// of shared secrets.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// DefaultLength is the number of random bytes used by Generate.
const DefaultLength = 32

// Generate returns DefaultLength random bytes, Base64 RawURL encoded.
func Generate() (string, error) {
	return GenerateWithLength(DefaultLength)
}

// GenerateWithLength returns n random bytes, Base64 RawURL encoded.
func GenerateWithLength(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Digest returns the hex SHA-256 digest of s.
func Digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Equal reports whether presented matches expected without leaking timing
// information about either value. Both sides are hashed first so the
// comparison length is fixed.
func Equal(presented, expected string) bool {
	if expected == "" {
		return false
	}
	a := sha256.Sum256([]byte(presented))
	b := sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// EqualDigest reports whether presented hashes to the hex digest expected.
func EqualDigest(presented, expectedDigest string) bool {
	return subtle.ConstantTimeCompare([]byte(Digest(presented)), []byte(expectedDigest)) == 1
}
