package security

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// SecretSize is the length of the process-wide token-signing secret.
const SecretSize = 64

// secretFile is <DATA_DIR>/secret.bin: a 4-byte big-endian length prefix
// (always SecretSize) followed by the raw bytes. Replaces a gob/pickle-style
// blob per the redesign note in spec.md §9 — see DESIGN.md.
func secretFile(dataDir string) string {
	return filepath.Join(dataDir, "secret.bin")
}

// LoadOrCreateSecret reads the signing secret from <dataDir>/secret.bin,
// generating and persisting a fresh one via crypto/rand on first boot.
func LoadOrCreateSecret(dataDir string) ([]byte, error) {
	path := secretFile(dataDir)
	raw, err := os.ReadFile(path)
	if err == nil {
		return decodeSecret(raw)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read secret file: %w", err)
	}

	secret := make([]byte, SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	if err := os.WriteFile(path, encodeSecret(secret), 0o600); err != nil {
		return nil, fmt.Errorf("persist secret file: %w", err)
	}
	return secret, nil
}

func encodeSecret(secret []byte) []byte {
	buf := make([]byte, 4+len(secret))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(secret)))
	copy(buf[4:], secret)
	return buf
}

func decodeSecret(raw []byte) ([]byte, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("secret file truncated: %d bytes", len(raw))
	}
	n := binary.BigEndian.Uint32(raw[:4])
	if int(n) != len(raw)-4 {
		return nil, fmt.Errorf("secret file length prefix %d does not match body %d", n, len(raw)-4)
	}
	return raw[4:], nil
}
