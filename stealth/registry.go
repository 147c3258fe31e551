package stealth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/fikriaf/ars-sub001/crypto"
	"github.com/fikriaf/ars-sub001/provider"
	"github.com/fikriaf/ars-sub001/store"
	lru "github.com/hashicorp/golang-lru"
	"github.com/lightningnetwork/lnd/clock"
)

var (
	// ErrNoMetaAddress is returned when an agent has no active meta-address.
	ErrNoMetaAddress = errors.New("no active meta-address")

	// ErrInvalidAgent is returned for an empty agent id.
	ErrInvalidAgent = errors.New("invalid agent id")
)

const defaultCacheSize = 1024

// Config wires a Registry.
type Config struct {
	Provider provider.CryptoProvider
	Store    store.StealthStore
	Vault    *crypto.Vault

	// CacheSize bounds the public meta-address cache.
	CacheSize int

	Clock clock.Clock
	Log   *slog.Logger
}

// Registry issues and stores stealth meta-addresses per agent. Private keys
// are sealed by the vault under the agent id before they reach the store.
type Registry struct {
	provider provider.CryptoProvider
	store    store.StealthStore
	vault    *crypto.Vault
	cache    *lru.Cache
	clock    clock.Clock
	log      *slog.Logger
}

// NewRegistry creates a registry.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Provider == nil || cfg.Store == nil || cfg.Vault == nil {
		return nil, errors.New("stealth: provider, store and vault are required")
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("meta-address cache: %w", err)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		provider: cfg.Provider,
		store:    cfg.Store,
		vault:    cfg.Vault,
		cache:    cache,
		clock:    clk,
		log:      log.With("component", "stealth"),
	}, nil
}

// GenerateForAgent creates and stores a new meta-address for agentID and
// returns its public half. Existing records are left untouched.
func (r *Registry) GenerateForAgent(ctx context.Context, agentID, label string) (*provider.MetaAddress, error) {
	rec, err := r.newRecord(ctx, agentID, label)
	if err != nil {
		return nil, err
	}
	if err := r.store.InsertStealthRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("store meta-address: %w", err)
	}
	r.cache.Add(agentID, rec.MetaAddress)

	r.log.Info("meta-address generated", "agent", agentID, "record", rec.ID)
	meta := rec.MetaAddress
	return &meta, nil
}

// GetByAgentID returns the most recent active meta-address of agentID.
func (r *Registry) GetByAgentID(ctx context.Context, agentID string) (*provider.MetaAddress, error) {
	if v, ok := r.cache.Get(agentID); ok {
		meta := v.(provider.MetaAddress)
		return &meta, nil
	}
	rec, err := r.activeRecord(ctx, agentID)
	if err != nil {
		return nil, err
	}
	r.cache.Add(agentID, rec.MetaAddress)
	meta := rec.MetaAddress
	return &meta, nil
}

// DeriveStealthAddress derives a one-time address for a recipient.
func (r *Registry) DeriveStealthAddress(ctx context.Context, meta provider.MetaAddress) (*provider.StealthAddress, []byte, error) {
	return r.provider.DeriveStealthAddress(ctx, meta)
}

// CheckOwnership reports whether any of agentID's key sets, active or
// retired, controls addr. Every failure reads as not owned.
func (r *Registry) CheckOwnership(ctx context.Context, agentID string, addr provider.StealthAddress) bool {
	recs, err := r.store.StealthRecordsByAgent(ctx, agentID)
	if err != nil {
		r.log.Debug("ownership check failed", "agent", agentID)
		return false
	}
	for _, rec := range recs {
		if r.ownedBy(ctx, rec, addr) {
			return true
		}
	}
	return false
}

func (r *Registry) ownedBy(ctx context.Context, rec *store.StealthAddressRecord, addr provider.StealthAddress) bool {
	spend, err := r.vault.Decrypt(rec.EncryptedSpendKey, rec.AgentID)
	if err != nil {
		return false
	}
	defer crypto.Zero(spend)

	view, err := r.vault.Decrypt(rec.EncryptedViewKey, rec.AgentID)
	if err != nil {
		return false
	}
	defer crypto.Zero(view)

	owned, err := r.provider.CheckOwnership(ctx, addr, spend, view)
	return err == nil && owned
}

// RotateKeys replaces the active meta-address of agentID. The new keys are
// generated before any record changes; retiring the old records and storing
// the new one happen in a single store transaction.
func (r *Registry) RotateKeys(ctx context.Context, agentID, label string) (*provider.MetaAddress, error) {
	rec, err := r.newRecord(ctx, agentID, label)
	if err != nil {
		return nil, err
	}
	if err := r.store.RotateStealthRecords(ctx, agentID, rec); err != nil {
		return nil, fmt.Errorf("rotate meta-address: %w", err)
	}
	r.cache.Add(agentID, rec.MetaAddress)

	r.log.Info("meta-address rotated", "agent", agentID, "record", rec.ID)
	meta := rec.MetaAddress
	return &meta, nil
}

// DeleteForAgent deactivates every record of agentID. Records are kept so
// payments to retired addresses remain claimable.
func (r *Registry) DeleteForAgent(ctx context.Context, agentID string) (int, error) {
	n, err := r.store.DeactivateStealthRecords(ctx, agentID)
	if err != nil {
		return 0, fmt.Errorf("deactivate meta-address: %w", err)
	}
	r.cache.Remove(agentID)
	r.log.Info("meta-addresses deactivated", "agent", agentID, "count", n)
	return n, nil
}

// ScanKey is the material needed to detect payments to one meta-address.
type ScanKey struct {
	ViewPrivateKey []byte
	SpendPublicKey string
}

// ScanKeys returns the scanning keys of every record of agentID, active
// record first, so payments to rotated meta-addresses are still detected.
// Agents without an active record are not scanned. The caller must zero
// the view keys when done.
func (r *Registry) ScanKeys(ctx context.Context, agentID string) ([]ScanKey, error) {
	if _, err := r.activeRecord(ctx, agentID); err != nil {
		return nil, err
	}
	recs, err := r.store.StealthRecordsByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Active && !recs[j].Active })

	keys := make([]ScanKey, 0, len(recs))
	for _, rec := range recs {
		view, err := r.vault.Decrypt(rec.EncryptedViewKey, agentID)
		if err != nil {
			for _, k := range keys {
				crypto.Zero(k.ViewPrivateKey)
			}
			return nil, err
		}
		keys = append(keys, ScanKey{ViewPrivateKey: view, SpendPublicKey: rec.MetaAddress.SpendPublicKey})
	}
	return keys, nil
}

// Agents lists agents holding an active meta-address.
func (r *Registry) Agents(ctx context.Context) ([]string, error) {
	return r.store.ActiveAgents(ctx)
}

func (r *Registry) activeRecord(ctx context.Context, agentID string) (*store.StealthAddressRecord, error) {
	if agentID == "" {
		return nil, ErrInvalidAgent
	}
	rec, err := r.store.ActiveStealthRecord(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoMetaAddress, agentID)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *Registry) newRecord(ctx context.Context, agentID, label string) (*store.StealthAddressRecord, error) {
	if agentID == "" {
		return nil, ErrInvalidAgent
	}
	gen, err := r.provider.GenerateMetaAddress(ctx, label)
	if err != nil {
		return nil, fmt.Errorf("generate meta-address: %w", err)
	}
	defer crypto.Zero(gen.SpendPrivateKey)
	defer crypto.Zero(gen.ViewPrivateKey)

	spend, err := r.vault.Encrypt(gen.SpendPrivateKey, agentID)
	if err != nil {
		return nil, fmt.Errorf("encrypt spend key: %w", err)
	}
	view, err := r.vault.Encrypt(gen.ViewPrivateKey, agentID)
	if err != nil {
		return nil, fmt.Errorf("encrypt view key: %w", err)
	}

	return &store.StealthAddressRecord{
		ID:                store.NewID(),
		AgentID:           agentID,
		MetaAddress:       gen.MetaAddress,
		EncryptedSpendKey: spend,
		EncryptedViewKey:  view,
		Label:             label,
		CreatedAt:         r.clock.Now().UTC().Truncate(time.Millisecond),
		Active:            true,
	}, nil
}
