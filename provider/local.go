package provider

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/fikriaf/ars-sub001/crypto"
	"github.com/fikriaf/ars-sub001/ledger"
	"golang.org/x/crypto/hkdf"
)

const viewingKeySize = 32

// LocalConfig wires the in-process provider to ledger data.
type LocalConfig struct {
	// Announcements is scanned by ScanPayments.
	Announcements ledger.AnnouncementSource

	// History feeds AnalyzePrivacy.
	History ledger.HistorySource

	Log *slog.Logger
}

// LocalProvider implements CryptoProvider in process: secp256k1 stealth
// addresses, BN254 Pedersen commitments and HKDF viewing keys.
type LocalProvider struct {
	announcements ledger.AnnouncementSource
	history       ledger.HistorySource
	log           *slog.Logger
}

// NewLocalProvider creates an in-process provider.
func NewLocalProvider(cfg LocalConfig) *LocalProvider {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &LocalProvider{
		announcements: cfg.Announcements,
		history:       cfg.History,
		log:           log,
	}
}

var _ CryptoProvider = (*LocalProvider)(nil)

// GenerateMetaAddress implements CryptoProvider.
func (p *LocalProvider) GenerateMetaAddress(ctx context.Context, label string) (*GeneratedMetaAddress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys, err := generateStealthKeys()
	if err != nil {
		return nil, err
	}
	return &GeneratedMetaAddress{
		MetaAddress:     keys.metaAddress(),
		SpendPrivateKey: privBytes(keys.spend),
		ViewPrivateKey:  privBytes(keys.view),
	}, nil
}

// DeriveStealthAddress implements CryptoProvider.
func (p *LocalProvider) DeriveStealthAddress(ctx context.Context, meta MetaAddress) (*StealthAddress, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return deriveStealth(meta)
}

// CheckOwnership implements CryptoProvider. The spend key is used to
// reconstruct the one-time private key, so a matching view key alone is
// not sufficient.
func (p *LocalProvider) CheckOwnership(ctx context.Context, addr StealthAddress, spendPrivateKey, viewPrivateKey []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	spend, err := decodePrivkey(spendPrivateKey)
	if err != nil {
		return false, err
	}
	view, err := decodePrivkey(viewPrivateKey)
	if err != nil {
		return false, err
	}

	if !matchStealth(view, &spend.PublicKey, addr.Address, addr.EphemeralPublicKey, addr.ViewTag) {
		return false, nil
	}

	oneTime, err := stealthPrivateKey(spend, view, addr.EphemeralPublicKey)
	if err != nil {
		return false, nil
	}
	return strings.EqualFold(pubkeyAddress(oneTime), addr.Address), nil
}

// ScanPayments implements CryptoProvider.
func (p *LocalProvider) ScanPayments(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	if p.announcements == nil {
		return nil, ErrNoAnnouncements
	}
	view, err := decodePrivkey(req.ViewPrivateKey)
	if err != nil {
		return nil, err
	}
	spendPub, err := decodePubkey(req.SpendPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: spend public key: %v", ErrInvalidKey, err)
	}

	anns, err := p.announcements.Announcements(ctx, req.FromSlot, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("list announcements: %w", err)
	}

	res := &ScanResult{ScannedThrough: req.FromSlot}
	for _, a := range anns {
		if a.Slot > res.ScannedThrough {
			res.ScannedThrough = a.Slot
		}
		if !matchStealth(view, spendPub, a.StealthAddress, a.EphemeralPublicKey, a.ViewTag) {
			continue
		}
		res.Payments = append(res.Payments, Payment{
			StealthAddress:     a.StealthAddress,
			EphemeralPublicKey: a.EphemeralPublicKey,
			Amount:             a.Amount,
			Commitment:         a.Commitment,
			Slot:               a.Slot,
			Timestamp:          a.Timestamp,
			TxRef:              a.TxRef,
		})
	}
	return res, nil
}

// CreateCommitment implements CryptoProvider.
func (p *LocalProvider) CreateCommitment(ctx context.Context, value uint64) (*Commitment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := randomBlinding()
	if err != nil {
		return nil, err
	}
	c := commit(value, r)
	return &Commitment{
		Commitment:     encodeCommitment(&c),
		BlindingFactor: encodeBlinding(r),
	}, nil
}

// VerifyCommitment implements CryptoProvider.
func (p *LocalProvider) VerifyCommitment(ctx context.Context, commitment string, value uint64, blindingFactor []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c, err := decodeCommitment(commitment)
	if err != nil {
		return false, err
	}
	r, err := decodeBlinding(blindingFactor)
	if err != nil {
		return false, err
	}
	expected := commit(value, r)
	return c.Equal(&expected), nil
}

// CombineCommitments implements CryptoProvider.
func (p *LocalProvider) CombineCommitments(ctx context.Context, req CombineRequest) (*Commitment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Commitments) != 2 || len(req.BlindingFactors) != 2 {
		return nil, fmt.Errorf("%w: need exactly two commitments and blinding factors", ErrInvalidCombine)
	}

	a, err := decodeCommitment(req.Commitments[0])
	if err != nil {
		return nil, err
	}
	b, err := decodeCommitment(req.Commitments[1])
	if err != nil {
		return nil, err
	}
	ra, err := decodeBlinding(req.BlindingFactors[0])
	if err != nil {
		return nil, err
	}
	rb, err := decodeBlinding(req.BlindingFactors[1])
	if err != nil {
		return nil, err
	}

	c, r, err := combine(req.Op, a, b, ra, rb)
	if err != nil {
		return nil, err
	}
	return &Commitment{
		Commitment:     encodeCommitment(&c),
		BlindingFactor: encodeBlinding(&r),
	}, nil
}

// AnalyzePrivacy implements CryptoProvider.
func (p *LocalProvider) AnalyzePrivacy(ctx context.Context, address string, limit int) (*PrivacyAnalysis, error) {
	if p.history == nil {
		return nil, ErrNoHistory
	}
	txs, err := p.history.History(ctx, address, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return analyzeHistory(address, txs), nil
}

// GenerateViewingKey implements CryptoProvider.
func (p *LocalProvider) GenerateViewingKey(ctx context.Context, path string) (*ViewingKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := make([]byte, viewingKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate viewing key: %w", err)
	}
	return &ViewingKey{Key: key, Path: path}, nil
}

// DeriveViewingKey implements CryptoProvider. Derivation is deterministic
// in (parent key, segment).
func (p *LocalProvider) DeriveViewingKey(ctx context.Context, parent ViewingKey, segment string) (*ViewingKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(parent.Key) != viewingKeySize {
		return nil, ErrInvalidViewingKey
	}
	if segment == "" || strings.Contains(segment, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPathSegment, segment)
	}

	r := hkdf.New(sha256.New, parent.Key, []byte(parent.Path), []byte("viewing-key/"+segment))
	key := make([]byte, viewingKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		crypto.Zero(key)
		return nil, fmt.Errorf("derive viewing key: %w", err)
	}
	return &ViewingKey{Key: key, Path: parent.Path + "/" + segment}, nil
}
