package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/scrypt"
)

// scrypt cost parameters per spec.md §4.A: N=32, r=8, p=1, 32-byte output,
// memory cap >= 2^26 bytes (N*r*p*128 = 32*8*1*128 = 32768, well under the
// cap; the cap bounds the parameters, it is not itself a knob here).
const (
	scryptN      = 32
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

// MakeKeyhash derives a 64-hex-char key-hash from (password, salt) via
// scrypt followed by SHA-256, per spec.md §4.A. Deterministic.
func MakeKeyhash(password, salt string) (string, error) {
	derived, err := scrypt.Key([]byte(password), []byte(salt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(derived)
	return hex.EncodeToString(sum[:]), nil
}

// KeyhashEqual compares two key-hashes in constant time.
func KeyhashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GenerateRandomSecret returns a hex-encoded string from n random bytes, for
// server-side password/salt generation when a client omits them (see
// vault/create handling in pkg/api).
func GenerateRandomSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
