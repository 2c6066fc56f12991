package vault

import (
	"strings"
	"testing"
)

func testKey() []byte {
	return []byte("01234567890123456789012345678901")
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := New(testKey())
	blob, err := v.Encrypt("super-secret-token")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !strings.HasPrefix(blob, currentVersion+":") {
		t.Errorf("blob = %q, want v2 prefix", blob)
	}
	got, err := v.Decrypt(blob)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != "super-secret-token" {
		t.Errorf("Decrypt = %q, want super-secret-token", got)
	}
}

func TestEncryptProducesDistinctNoncesPerCall(t *testing.T) {
	v := New(testKey())
	b1, _ := v.Encrypt("same-plaintext")
	b2, _ := v.Encrypt("same-plaintext")
	if b1 == b2 {
		t.Error("expected distinct ciphertexts due to random nonces")
	}
}

func TestLegacyFormatDecryptsAndReencrypts(t *testing.T) {
	v := New(testKey())
	gcm, err := v.gcm()
	if err != nil {
		t.Fatal(err)
	}
	fixedNonce := make([]byte, gcm.NonceSize())
	ciphertext := gcm.Seal(nil, fixedNonce, []byte("legacy-secret"), nil)
	legacyBlob := encodeBlob(legacyVersion, fixedNonce, ciphertext)

	if !IsLegacyFormat(legacyBlob) {
		t.Error("expected legacy blob to be detected as legacy")
	}

	plaintext, err := v.Decrypt(legacyBlob)
	if err != nil {
		t.Fatalf("Decrypt(legacy): %v", err)
	}
	if plaintext != "legacy-secret" {
		t.Errorf("Decrypt(legacy) = %q, want legacy-secret", plaintext)
	}

	migrated, err := v.Reencrypt(legacyBlob)
	if err != nil {
		t.Fatalf("Reencrypt: %v", err)
	}
	if IsLegacyFormat(migrated) {
		t.Error("Reencrypt should produce a current-format blob")
	}
	roundTrip, err := v.Decrypt(migrated)
	if err != nil || roundTrip != "legacy-secret" {
		t.Errorf("Decrypt(migrated) = (%q, %v), want legacy-secret, nil", roundTrip, err)
	}
}

func TestDecryptMalformedBlob(t *testing.T) {
	v := New(testKey())
	if _, err := v.Decrypt("not-a-valid-blob"); err == nil {
		t.Error("expected error for malformed blob")
	}
}

func TestSplitCredential(t *testing.T) {
	u, p := SplitCredential("alice:hunter2")
	if u != "alice" || p != "hunter2" {
		t.Errorf("SplitCredential = (%q, %q)", u, p)
	}
	u, p = SplitCredential("ghp_sometoken")
	if u != "ghp_sometoken" || p != "x-oauth-basic" {
		t.Errorf("SplitCredential(token) = (%q, %q)", u, p)
	}
}
