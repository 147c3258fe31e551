package provider

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Stealth addresses follow the secp256k1 scheme of EIP-5564:
//
//	S   = r * V            (sender: ephemeral r, recipient view key V)
//	h   = keccak256(S)
//	P   = K + h*G          (recipient spend key K)
//	tag = h[0]
//
// The recipient recomputes S = v * R and can spend with k + h.

type stealthKeys struct {
	spend *ecdsa.PrivateKey
	view  *ecdsa.PrivateKey
}

func generateStealthKeys() (*stealthKeys, error) {
	spend, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate spend key: %w", err)
	}
	view, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate view key: %w", err)
	}
	return &stealthKeys{spend: spend, view: view}, nil
}

func (k *stealthKeys) metaAddress() MetaAddress {
	return MetaAddress{
		SpendPublicKey: encodePubkey(&k.spend.PublicKey),
		ViewPublicKey:  encodePubkey(&k.view.PublicKey),
	}
}

// deriveStealth derives a one-time address for meta with a fresh ephemeral key.
func deriveStealth(meta MetaAddress) (*StealthAddress, []byte, error) {
	spendPub, err := decodePubkey(meta.SpendPublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: spend key: %v", ErrInvalidMetaAddress, err)
	}
	viewPub, err := decodePubkey(meta.ViewPublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: view key: %v", ErrInvalidMetaAddress, err)
	}

	ephemeral, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("generate ephemeral key: %w", err)
	}

	secret := sharedSecret(ephemeral, viewPub)
	stealthPub := offsetPubkey(spendPub, secret)

	return &StealthAddress{
		Address:            ethcrypto.PubkeyToAddress(*stealthPub).Hex(),
		EphemeralPublicKey: encodePubkey(&ephemeral.PublicKey),
		ViewTag:            secret[0],
	}, secret, nil
}

// matchStealth reports whether an announcement (address, ephemeral key,
// view tag) belongs to the recipient with view key view and spend public
// key spendPub.
func matchStealth(view *ecdsa.PrivateKey, spendPub *ecdsa.PublicKey, address, ephemeralHex string, viewTag uint8) bool {
	ephemeralPub, err := decodePubkey(ephemeralHex)
	if err != nil {
		return false
	}
	secret := sharedSecret(view, ephemeralPub)
	if secret[0] != viewTag {
		return false
	}
	expected := ethcrypto.PubkeyToAddress(*offsetPubkey(spendPub, secret))
	return common.IsHexAddress(address) && expected == common.HexToAddress(address)
}

// stealthPrivateKey returns k + h mod N for the announcement's ephemeral key.
func stealthPrivateKey(spend, view *ecdsa.PrivateKey, ephemeralHex string) (*ecdsa.PrivateKey, error) {
	ephemeralPub, err := decodePubkey(ephemeralHex)
	if err != nil {
		return nil, err
	}
	secret := sharedSecret(view, ephemeralPub)

	n := ethcrypto.S256().Params().N
	d := new(big.Int).Add(spend.D, new(big.Int).SetBytes(secret))
	d.Mod(d, n)
	return ethcrypto.ToECDSA(math.PaddedBigBytes(d, 32))
}

func sharedSecret(priv *ecdsa.PrivateKey, pub *ecdsa.PublicKey) []byte {
	curve := ethcrypto.S256()
	x, y := curve.ScalarMult(pub.X, pub.Y, math.PaddedBigBytes(priv.D, 32))
	point := &ecdsa.PublicKey{Curve: curve, X: x, Y: y}
	return ethcrypto.Keccak256(ethcrypto.CompressPubkey(point))
}

func offsetPubkey(base *ecdsa.PublicKey, secret []byte) *ecdsa.PublicKey {
	curve := ethcrypto.S256()
	h := new(big.Int).SetBytes(secret)
	h.Mod(h, curve.Params().N)
	hx, hy := curve.ScalarBaseMult(math.PaddedBigBytes(h, 32))
	x, y := curve.Add(base.X, base.Y, hx, hy)
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}
}

func encodePubkey(pub *ecdsa.PublicKey) string {
	return hex.EncodeToString(ethcrypto.CompressPubkey(pub))
}

func decodePubkey(s string) (*ecdsa.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, err
	}
	return ethcrypto.DecompressPubkey(raw)
}

func decodePrivkey(b []byte) (*ecdsa.PrivateKey, error) {
	if len(b) != 32 {
		return nil, ErrInvalidKey
	}
	key, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

func privBytes(k *ecdsa.PrivateKey) []byte {
	return ethcrypto.FromECDSA(k)
}

func pubkeyAddress(k *ecdsa.PrivateKey) string {
	return ethcrypto.PubkeyToAddress(k.PublicKey).Hex()
}
