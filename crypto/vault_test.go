package crypto

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	return NewVault(VaultConfig{Iterations: MinKDFIterations})
}

func TestVaultRoundTrip(t *testing.T) {
	v := newTestVault(t)

	for _, tc := range []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"ascii", []byte("spend key material")},
		{"unicode", []byte("clé privée 🔑 鍵")},
		{"binary", bytes.Repeat([]byte{0x00, 0xff}, 64)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			blob, err := v.Encrypt(tc.plaintext, "agent-1")
			require.NoError(t, err)
			require.NoError(t, blob.Validate())

			out, err := v.Decrypt(blob, "agent-1")
			require.NoError(t, err)
			require.Equal(t, tc.plaintext, out)
		})
	}
}

func TestVaultWrongIdentity(t *testing.T) {
	v := newTestVault(t)

	blob, err := v.Encrypt([]byte("secret"), "agent-1")
	require.NoError(t, err)

	_, err = v.Decrypt(blob, "agent-2")
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestVaultFreshSaltAndNonce(t *testing.T) {
	v := newTestVault(t)

	a, err := v.Encrypt([]byte("same"), "agent-1")
	require.NoError(t, err)
	b, err := v.Encrypt([]byte("same"), "agent-1")
	require.NoError(t, err)

	require.NotEqual(t, a.Salt, b.Salt)
	require.NotEqual(t, a.IV, b.IV)
	require.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestVaultTampering(t *testing.T) {
	v := newTestVault(t)

	blob, err := v.Encrypt([]byte("view key material"), "agent-1")
	require.NoError(t, err)

	mutations := map[string]func(b *EncryptedBlob){
		"ciphertext": func(b *EncryptedBlob) { b.Ciphertext[0] ^= 0x01 },
		"tag":        func(b *EncryptedBlob) { b.AuthTag[15] ^= 0x80 },
		"iv":         func(b *EncryptedBlob) { b.IV[0] ^= 0x01 },
		"salt":       func(b *EncryptedBlob) { b.Salt[31] ^= 0x01 },
		"missing tag": func(b *EncryptedBlob) {
			b.AuthTag = nil
		},
		"short salt": func(b *EncryptedBlob) { b.Salt = b.Salt[:8] },
		"missing iv": func(b *EncryptedBlob) { b.IV = nil },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			c := cloneBlob(blob)
			mutate(c)
			out, err := v.Decrypt(c, "agent-1")
			require.ErrorIs(t, err, ErrDecryptionFailed)
			require.Nil(t, out)
		})
	}

	_, err = v.Decrypt(nil, "agent-1")
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestVaultPepper(t *testing.T) {
	a := NewVault(VaultConfig{Pepper: []byte("pepper-a")})
	b := NewVault(VaultConfig{Pepper: []byte("pepper-b")})

	blob, err := a.Encrypt([]byte("secret"), "agent-1")
	require.NoError(t, err)

	_, err = b.Decrypt(blob, "agent-1")
	require.ErrorIs(t, err, ErrDecryptionFailed)

	out, err := a.Decrypt(blob, "agent-1")
	require.NoError(t, err)
	require.Equal(t, []byte("secret"), out)
}

func TestVaultEnforcesMinimumIterations(t *testing.T) {
	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, nil))

	v := NewVault(VaultConfig{Iterations: 1000, Log: log})
	require.Equal(t, MinKDFIterations, v.Iterations())
	require.Contains(t, logs.String(), "below minimum")

	v = NewVault(VaultConfig{Iterations: 250_000})
	require.Equal(t, 250_000, v.Iterations())

	v = NewVault(VaultConfig{})
	require.Equal(t, MinKDFIterations, v.Iterations())
}

func TestSealOpen(t *testing.T) {
	key, err := DeriveKey([]byte("viewing key"), []byte("salt"), []byte("disclosure"))
	require.NoError(t, err)
	require.Len(t, key, 32)

	sealed, err := Seal(key, []byte("payload"), []byte("disclosure-1"))
	require.NoError(t, err)

	out, err := Open(key, sealed, []byte("disclosure-1"))
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), out)

	_, err = Open(key, sealed, []byte("disclosure-2"))
	require.ErrorIs(t, err, ErrInvalidSealedBox)

	other, err := DeriveKey([]byte("other key"), []byte("salt"), []byte("disclosure"))
	require.NoError(t, err)
	_, err = Open(other, sealed, []byte("disclosure-1"))
	require.ErrorIs(t, err, ErrInvalidSealedBox)

	_, err = Open(key, sealed[:10], nil)
	require.ErrorIs(t, err, ErrInvalidSealedBox)

	_, err = DeriveKey(nil, nil, nil)
	require.Error(t, err)
}

func TestZero(t *testing.T) {
	b := []byte{1, 2, 3}
	Zero(b)
	require.Equal(t, []byte{0, 0, 0}, b)
}

func cloneBlob(b *EncryptedBlob) *EncryptedBlob {
	return &EncryptedBlob{
		Ciphertext: bytes.Clone(b.Ciphertext),
		IV:         bytes.Clone(b.IV),
		AuthTag:    bytes.Clone(b.AuthTag),
		Salt:       bytes.Clone(b.Salt),
	}
}
