package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// SealedBox format: nonce (12 bytes) || ciphertext || tag (16 bytes)
const minSealedLen = VaultNonceSize + VaultTagSize

// ErrInvalidSealedBox is returned when sealed data cannot be opened.
var ErrInvalidSealedBox = errors.New("invalid sealed box")

// DeriveKey expands secret into a 256-bit key bound to info using HKDF-SHA256.
func DeriveKey(secret, salt, info []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty secret")
	}
	r := hkdf.New(sha256.New, secret, salt, info)
	key := make([]byte, VaultKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext with AES-256-GCM under key, binding aad.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, aad), nil
}

// Open decrypts data produced by Seal.
func Open(key, data, aad []byte) ([]byte, error) {
	if len(data) < minSealedLen {
		return nil, ErrInvalidSealedBox
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, ErrInvalidSealedBox
	}

	plaintext, err := gcm.Open(nil, data[:VaultNonceSize], data[VaultNonceSize:], aad)
	if err != nil {
		return nil, ErrInvalidSealedBox
	}
	return plaintext, nil
}

// KeyHash returns the SHA3-256 digest of key material, used as a public
// reference to a key without revealing it.
func KeyHash(key []byte) []byte {
	h := sha3.New256()
	h.Write(key)
	return h.Sum(nil)
}
