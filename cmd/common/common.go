// Package common provides configuration, logging and wiring helpers shared
// by the veild, cryptod and veilctl commands.
//
//   - YAML configuration with defaults, validation and hot reload
//   - slog logger construction with optional file rotation
//   - Approver key loading and generation
//   - Store and cryptography provider factories
package common

import (
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/fikriaf/ars-sub001/crypto"
	"github.com/fikriaf/ars-sub001/ledger"
	"github.com/fikriaf/ars-sub001/provider"
	"github.com/fikriaf/ars-sub001/store"
)

// LoadOrGenerateSigningKey loads an Ed25519 private key from a hex string,
// or generates a new key pair if hexKey is empty.
func LoadOrGenerateSigningKey(hexKey string) (crypto.PrivateKey, error) {
	if hexKey != "" {
		keyBytes, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("invalid hex: %w", err)
		}
		sk := crypto.NewPrivateKeyFromBytes(keyBytes)
		if _, err := sk.PublicKey(); err != nil {
			return nil, err
		}
		return sk, nil
	}
	_, privKey, err := crypto.GenerateKeyPair()
	return privKey, err
}

// LoadApproverKey decodes a hex Ed25519 public key.
func LoadApproverKey(hexKey string) (crypto.PublicKey, error) {
	pk, err := crypto.NewPublicKeyFromString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("approver key %q: %w", hexKey, err)
	}
	if len(pk) != 32 {
		return nil, fmt.Errorf("approver key %q: want 32 bytes, got %d", hexKey, len(pk))
	}
	return pk, nil
}

// NewStore opens the configured store.
func NewStore(cfg StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "postgres":
		return store.NewPostgresStore(&cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// NewProvider returns a client for the remote provider at cfg.URL, or an
// in-process provider over l when no URL is configured.
func NewProvider(cfg ProviderConfig, l *ledger.MemoryLedger, log *slog.Logger) provider.CryptoProvider {
	if cfg.URL != "" {
		return provider.NewHTTPProvider(cfg.URL, cfg.Timeout)
	}
	return provider.NewLocalProvider(provider.LocalConfig{
		Announcements: l,
		History:       l,
		Log:           log,
	})
}
