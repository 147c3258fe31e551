package crypto

import (
	"bytes"
	"testing"
)

func FuzzVaultRoundTrip(f *testing.F) {
	// Add seed corpus
	f.Add([]byte{}, "agent")
	f.Add([]byte("hello"), "agent-1")
	f.Add([]byte("ключ"), "")
	f.Add(make([]byte, 1000), "agent-with-a-long-identifier")

	v := NewVault(VaultConfig{})

	f.Fuzz(func(t *testing.T, plaintext []byte, identity string) {
		blob, err := v.Encrypt(plaintext, identity)
		if err != nil {
			t.Fatalf("encryption failed: %v", err)
		}

		// Invariant 1: Blob fields have fixed lengths
		if err := blob.Validate(); err != nil {
			t.Fatalf("invalid blob: %v", err)
		}
		if len(blob.Ciphertext) != len(plaintext) {
			t.Errorf("ciphertext length: got %d, want %d", len(blob.Ciphertext), len(plaintext))
		}

		// Invariant 2: Round-trip preserves plaintext
		out, err := v.Decrypt(blob, identity)
		if err != nil {
			t.Fatalf("decryption failed: %v", err)
		}
		if !bytes.Equal(out, plaintext) {
			t.Errorf("round trip failed: got %v, want %v", out, plaintext)
		}

		// Invariant 3: A different identity fails closed
		if _, err := v.Decrypt(blob, identity+"x"); err != ErrDecryptionFailed {
			t.Errorf("wrong identity: got %v, want ErrDecryptionFailed", err)
		}
	})
}

func FuzzDecryptMalformedBlob(f *testing.F) {
	// Add seed corpus with various field lengths
	f.Add([]byte{}, []byte{}, []byte{}, []byte{})
	f.Add(make([]byte, 16), make([]byte, 12), make([]byte, 16), make([]byte, 32))
	f.Add(make([]byte, 4), make([]byte, 11), make([]byte, 16), make([]byte, 32))
	f.Add(make([]byte, 4), make([]byte, 12), make([]byte, 15), make([]byte, 32))

	v := NewVault(VaultConfig{})

	f.Fuzz(func(t *testing.T, ciphertext, iv, tag, salt []byte) {
		blob := &EncryptedBlob{Ciphertext: ciphertext, IV: iv, AuthTag: tag, Salt: salt}

		// Invariant: arbitrary blobs never decrypt and never panic
		out, err := v.Decrypt(blob, "agent")
		if err != ErrDecryptionFailed {
			t.Fatalf("expected ErrDecryptionFailed, got %v", err)
		}
		if out != nil {
			t.Fatalf("expected nil plaintext, got %d bytes", len(out))
		}
	})
}
