package security

import "testing"

func TestLoadOrCreateSecretGeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreateSecret(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateSecret() error = %v", err)
	}
	if len(first) != SecretSize {
		t.Fatalf("len(secret) = %d, want %d", len(first), SecretSize)
	}

	second, err := LoadOrCreateSecret(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateSecret() second call error = %v", err)
	}
	if string(first) != string(second) {
		t.Error("LoadOrCreateSecret did not persist the same secret across calls")
	}
}

func TestDecodeSecretRejectsTruncated(t *testing.T) {
	if _, err := decodeSecret([]byte{0, 0}); err == nil {
		t.Error("decodeSecret(truncated) should error")
	}
}

func TestDecodeSecretRejectsLengthMismatch(t *testing.T) {
	bad := encodeSecret(make([]byte, SecretSize))
	bad = bad[:len(bad)-1]
	if _, err := decodeSecret(bad); err == nil {
		t.Error("decodeSecret(mismatched length) should error")
	}
}
