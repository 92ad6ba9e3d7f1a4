package crypto

import (
	"bytes"
	"testing"
)

func TestSecretHashing(t *testing.T) {
	hash, err := HashSecret("A1B2C3D4")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}

	if !VerifySecret(hash, "A1B2C3D4") {
		t.Fatal("expected secret verification to succeed")
	}

	if VerifySecret(hash, "Z9Y8X7W6") {
		t.Fatal("expected secret verification to fail")
	}
}

func TestEncryptDecrypt(t *testing.T) {
	key := bytes.Repeat([]byte{0x1}, 32)
	plaintext := []byte("JBSWY3DPEHPK3PXP")

	encoded, err := Encrypt(plaintext, key)
	if err != nil {
		t.Fatalf("encrypt error: %v", err)
	}

	decrypted, err := Decrypt(encoded, key)
	if err != nil {
		t.Fatalf("decrypt error: %v", err)
	}

	if !bytes.Equal(plaintext, decrypted) {
		t.Fatalf("expected decrypted plaintext to match original, got %s", decrypted)
	}
}

func TestDecryptRejectsTruncatedPayload(t *testing.T) {
	key := bytes.Repeat([]byte{0x2}, 32)
	if _, err := Decrypt("AAAA", key); err == nil {
		t.Fatal("expected error for truncated ciphertext")
	}
}

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken(32)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	if len(token) == 0 {
		t.Fatal("expected token to be non-empty")
	}

	other, err := GenerateToken(32)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if token == other {
		t.Fatal("expected tokens to be unique")
	}
}
