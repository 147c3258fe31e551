package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// MinKDFIterations is the lowest PBKDF2 iteration count the vault accepts.
	MinKDFIterations = 100_000

	VaultKeySize   = 32
	VaultSaltSize  = 32
	VaultNonceSize = 12
	VaultTagSize   = 16
)

var vaultAAD = []byte("ars-vault-v1")

// ErrDecryptionFailed is returned for every vault decryption failure:
// wrong identity, tampered ciphertext or tag, or a malformed blob.
// Callers cannot distinguish the cause.
var ErrDecryptionFailed = errors.New("decryption failed")

// EncryptedBlob is the persisted form of a vault-encrypted secret.
// All four fields are required for decryption.
type EncryptedBlob struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	AuthTag    []byte `json:"authTag"`
	Salt       []byte `json:"salt"`
}

// Validate checks that every field is present with the expected length.
func (b *EncryptedBlob) Validate() error {
	if b == nil {
		return errors.New("nil blob")
	}
	if len(b.IV) != VaultNonceSize {
		return fmt.Errorf("iv: want %d bytes, got %d", VaultNonceSize, len(b.IV))
	}
	if len(b.AuthTag) != VaultTagSize {
		return fmt.Errorf("auth tag: want %d bytes, got %d", VaultTagSize, len(b.AuthTag))
	}
	if len(b.Salt) != VaultSaltSize {
		return fmt.Errorf("salt: want %d bytes, got %d", VaultSaltSize, len(b.Salt))
	}
	return nil
}

// VaultConfig configures key derivation for the vault.
type VaultConfig struct {
	// Iterations is the PBKDF2 work factor. Values below MinKDFIterations
	// are raised to the minimum.
	Iterations int

	// Pepper is an optional server-side secret mixed into every derivation.
	Pepper []byte

	Log *slog.Logger
}

// Vault encrypts secrets under a key derived from a caller identity.
// Derived keys exist only for the duration of a single call.
type Vault struct {
	iterations int
	pepper     []byte
	log        *slog.Logger
}

// NewVault creates a vault from the given configuration.
func NewVault(cfg VaultConfig) *Vault {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	iterations := cfg.Iterations
	if iterations == 0 {
		iterations = MinKDFIterations
	} else if iterations < MinKDFIterations {
		log.Warn("KDF iteration count below minimum, using minimum",
			"configured", iterations, "minimum", MinKDFIterations)
		iterations = MinKDFIterations
	}

	pepper := make([]byte, len(cfg.Pepper))
	copy(pepper, cfg.Pepper)

	return &Vault{
		iterations: iterations,
		pepper:     pepper,
		log:        log,
	}
}

// Iterations returns the effective PBKDF2 iteration count.
func (v *Vault) Iterations() int {
	return v.iterations
}

// Encrypt seals plaintext under a key derived from identity with a fresh
// salt and nonce.
func (v *Vault) Encrypt(plaintext []byte, identity string) (*EncryptedBlob, error) {
	salt := make([]byte, VaultSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, VaultNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	key := v.deriveKey(identity, salt)
	defer Zero(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, nonce, plaintext, vaultAAD)
	tagStart := len(sealed) - VaultTagSize

	return &EncryptedBlob{
		Ciphertext: sealed[:tagStart:tagStart],
		IV:         nonce,
		AuthTag:    sealed[tagStart:],
		Salt:       salt,
	}, nil
}

// Decrypt opens a blob produced by Encrypt. Any failure yields
// ErrDecryptionFailed.
func (v *Vault) Decrypt(blob *EncryptedBlob, identity string) ([]byte, error) {
	if err := blob.Validate(); err != nil {
		return nil, ErrDecryptionFailed
	}

	key := v.deriveKey(identity, blob.Salt)
	defer Zero(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	sealed := make([]byte, 0, len(blob.Ciphertext)+VaultTagSize)
	sealed = append(sealed, blob.Ciphertext...)
	sealed = append(sealed, blob.AuthTag...)

	plaintext, err := gcm.Open(nil, blob.IV, sealed, vaultAAD)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

func (v *Vault) deriveKey(identity string, salt []byte) []byte {
	password := make([]byte, 0, len(v.pepper)+len(identity))
	password = append(password, v.pepper...)
	password = append(password, identity...)
	defer Zero(password)

	return pbkdf2.Key(password, salt, v.iterations, VaultKeySize, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}
