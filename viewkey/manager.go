package viewkey

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/fikriaf/ars-sub001/crypto"
	"github.com/fikriaf/ars-sub001/provider"
	"github.com/fikriaf/ars-sub001/store"
	"github.com/lightningnetwork/lnd/clock"
)

var (
	// ErrInvalidPath is returned for a malformed master path or segment.
	ErrInvalidPath = errors.New("invalid viewing key path")

	// ErrRevokedParent is returned when deriving from a revoked key.
	ErrRevokedParent = errors.New("parent viewing key revoked")

	// ErrExpiredParent is returned when deriving from an expired key.
	ErrExpiredParent = errors.New("parent viewing key expired")

	// ErrInvalidRole is returned for an unknown role or a derived master.
	ErrInvalidRole = errors.New("invalid viewing key role")

	// ErrKeyRevoked is returned when rotating a revoked key.
	ErrKeyRevoked = errors.New("viewing key revoked")

	// ErrKeyInactive is returned when exporting a revoked or expired key.
	ErrKeyInactive = errors.New("viewing key revoked or expired")
)

const (
	DefaultMasterPath = "m/0"
	DefaultIdentity   = "viewing-keys"
	DefaultExpiry     = 30 * 24 * time.Hour
)

var masterPathRE = regexp.MustCompile(`^m(/[^/]+)+$`)

// Config wires a Manager.
type Config struct {
	Provider provider.CryptoProvider
	Store    store.ViewingKeyStore
	Vault    *crypto.Vault

	// Identity keys the vault encryption of viewing keys.
	Identity string

	// DefaultExpiry applies to derived keys without WithExpiry. A negative
	// value disables it.
	DefaultExpiry time.Duration

	Clock clock.Clock
	Log   *slog.Logger
}

// Manager maintains the viewing-key tree. Every node stores its key
// encrypted, the hash of its key and the hash of its parent's key, so a
// parent-child link can be checked from stored data alone.
type Manager struct {
	provider      provider.CryptoProvider
	store         store.ViewingKeyStore
	vault         *crypto.Vault
	identity      string
	defaultExpiry time.Duration
	clock         clock.Clock
	log           *slog.Logger
}

// NewManager creates a viewing-key manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Provider == nil || cfg.Store == nil || cfg.Vault == nil {
		return nil, errors.New("viewkey: provider, store and vault are required")
	}
	m := &Manager{
		provider:      cfg.Provider,
		store:         cfg.Store,
		vault:         cfg.Vault,
		identity:      cfg.Identity,
		defaultExpiry: cfg.DefaultExpiry,
		clock:         cfg.Clock,
		log:           cfg.Log,
	}
	if m.identity == "" {
		m.identity = DefaultIdentity
	}
	if m.defaultExpiry == 0 {
		m.defaultExpiry = DefaultExpiry
	}
	if m.clock == nil {
		m.clock = clock.NewDefaultClock()
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	m.log = m.log.With("component", "viewkey")
	return m, nil
}

// DeriveOption customizes Derive.
type DeriveOption func(*deriveOptions)

type deriveOptions struct {
	role      store.Role
	expiresAt *time.Time
	ttl       time.Duration
}

// WithRole sets the role of the derived key.
func WithRole(role store.Role) DeriveOption {
	return func(o *deriveOptions) { o.role = role }
}

// WithExpiry sets an absolute expiry on the derived key.
func WithExpiry(at time.Time) DeriveOption {
	return func(o *deriveOptions) { o.expiresAt = &at }
}

// WithTTL expires the derived key d after creation.
func WithTTL(d time.Duration) DeriveOption {
	return func(o *deriveOptions) { o.ttl = d }
}

// GenerateMaster creates a root key of role master at path, which must
// start with "m/". An empty path uses DefaultMasterPath.
func (m *Manager) GenerateMaster(ctx context.Context, path string) (*store.ViewingKeyRecord, error) {
	if path == "" {
		path = DefaultMasterPath
	}
	if !masterPathRE.MatchString(path) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	vk, err := m.provider.GenerateViewingKey(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("generate viewing key: %w", err)
	}
	defer crypto.Zero(vk.Key)

	rec, err := m.newRecord(vk.Key, path, "", store.RoleMaster, nil)
	if err != nil {
		return nil, err
	}
	if err := m.store.InsertViewingKey(ctx, rec); err != nil {
		return nil, fmt.Errorf("store master key: %w", err)
	}
	m.log.Info("master viewing key generated", "id", rec.ID, "path", path)
	return rec, nil
}

// Derive creates a child of parentID at parent.path/segment. The child is
// linked to its parent through the parent's key hash. Its expiry never
// exceeds the parent's.
func (m *Manager) Derive(ctx context.Context, parentID, segment string, opts ...DeriveOption) (*store.ViewingKeyRecord, error) {
	if segment == "" || strings.Contains(segment, "/") {
		return nil, fmt.Errorf("%w: segment %q", ErrInvalidPath, segment)
	}
	parent, err := m.store.ViewingKey(ctx, parentID)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	if parent.RevokedAt != nil {
		return nil, fmt.Errorf("%w: %s", ErrRevokedParent, parentID)
	}
	if parent.ExpiresAt != nil && !now.Before(*parent.ExpiresAt) {
		return nil, fmt.Errorf("%w: %s", ErrExpiredParent, parentID)
	}

	o := deriveOptions{role: parent.Role}
	if parent.Role == store.RoleMaster {
		o.role = store.RoleInternal
	}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.role.Valid() || o.role == store.RoleMaster {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, o.role)
	}
	expiresAt := m.expiry(now, o, parent.ExpiresAt)

	parentKey, err := m.decrypt(parent)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(parentKey)

	vk, err := m.provider.DeriveViewingKey(ctx, provider.ViewingKey{Key: parentKey, Path: parent.Path}, segment)
	if err != nil {
		return nil, fmt.Errorf("derive viewing key: %w", err)
	}
	defer crypto.Zero(vk.Key)

	rec, err := m.newRecord(vk.Key, parent.Path+"/"+segment, parent.KeyHash, o.role, expiresAt)
	if err != nil {
		return nil, err
	}
	if err := m.store.InsertViewingKey(ctx, rec); err != nil {
		return nil, fmt.Errorf("store viewing key: %w", err)
	}
	m.log.Info("viewing key derived", "id", rec.ID, "path", rec.Path, "role", rec.Role)
	return rec, nil
}

// VerifyHierarchy reports whether childID is a well-formed child of
// parentID. It recomputes both key hashes from the decrypted keys and
// checks the parent hash and path of the child. Any failure reads as false.
func (m *Manager) VerifyHierarchy(ctx context.Context, parentID, childID string) bool {
	parent, err := m.store.ViewingKey(ctx, parentID)
	if err != nil {
		return false
	}
	child, err := m.store.ViewingKey(ctx, childID)
	if err != nil {
		return false
	}
	if !m.hashMatches(parent) || !m.hashMatches(child) {
		return false
	}
	if child.ParentHash == "" || child.ParentHash != parent.KeyHash {
		return false
	}
	segment, ok := strings.CutPrefix(child.Path, parent.Path+"/")
	return ok && segment != "" && !strings.Contains(segment, "/")
}

// Revoke permanently revokes id. Revoking twice returns store.ErrAlreadyRevoked.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	if err := m.store.RevokeViewingKey(ctx, id, m.now()); err != nil {
		return err
	}
	m.log.Info("viewing key revoked", "id", id)
	return nil
}

// Rotate replaces id with a fresh key at the same path, parent and role,
// and revokes id in the same store transaction.
func (m *Manager) Rotate(ctx context.Context, id string) (*store.ViewingKeyRecord, error) {
	old, err := m.store.ViewingKey(ctx, id)
	if err != nil {
		return nil, err
	}
	if old.RevokedAt != nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyRevoked, id)
	}

	vk, err := m.provider.GenerateViewingKey(ctx, old.Path)
	if err != nil {
		return nil, fmt.Errorf("generate viewing key: %w", err)
	}
	defer crypto.Zero(vk.Key)

	next, err := m.newRecord(vk.Key, old.Path, old.ParentHash, old.Role, old.ExpiresAt)
	if err != nil {
		return nil, err
	}
	err = m.store.RotateViewingKey(ctx, id, next, m.now())
	if errors.Is(err, store.ErrAlreadyRevoked) {
		return nil, fmt.Errorf("%w: %s", ErrKeyRevoked, id)
	}
	if err != nil {
		return nil, fmt.Errorf("rotate viewing key: %w", err)
	}
	m.log.Info("viewing key rotated", "id", id, "next", next.ID, "path", next.Path)
	return next, nil
}

// ActiveByRole returns live keys with role, newest first.
func (m *Manager) ActiveByRole(ctx context.Context, role store.Role) ([]*store.ViewingKeyRecord, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	recs, err := m.store.ViewingKeysByRole(ctx, role)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	live := recs[:0]
	for _, r := range recs {
		if r.Live(now) {
			live = append(live, r)
		}
	}
	return live, nil
}

// Record returns the stored record of id without key material.
func (m *Manager) Record(ctx context.Context, id string) (*store.ViewingKeyRecord, error) {
	return m.store.ViewingKey(ctx, id)
}

// RecordByHash returns the record whose key hashes to keyHash.
func (m *Manager) RecordByHash(ctx context.Context, keyHash string) (*store.ViewingKeyRecord, error) {
	return m.store.ViewingKeyByHash(ctx, keyHash)
}

// Key decrypts the key of id. It is not exposed to callers outside the
// subsystem; the caller must zero the result.
func (m *Manager) Key(ctx context.Context, id string) ([]byte, *store.ViewingKeyRecord, error) {
	rec, err := m.store.ViewingKey(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	key, err := m.decrypt(rec)
	if err != nil {
		return nil, nil, err
	}
	return key, rec, nil
}

// KeyHash returns the hex encoded hash identifying key.
func KeyHash(key []byte) string {
	return hex.EncodeToString(crypto.KeyHash(key))
}

func (m *Manager) newRecord(key []byte, path, parentHash string, role store.Role, expiresAt *time.Time) (*store.ViewingKeyRecord, error) {
	blob, err := m.vault.Encrypt(key, m.identity)
	if err != nil {
		return nil, fmt.Errorf("encrypt viewing key: %w", err)
	}
	return &store.ViewingKeyRecord{
		ID:           store.NewID(),
		KeyHash:      KeyHash(key),
		EncryptedKey: blob,
		Path:         path,
		ParentHash:   parentHash,
		Role:         role,
		ExpiresAt:    expiresAt,
		CreatedAt:    m.now(),
	}, nil
}

func (m *Manager) expiry(now time.Time, o deriveOptions, parent *time.Time) *time.Time {
	var at *time.Time
	switch {
	case o.expiresAt != nil:
		at = o.expiresAt
	case o.ttl > 0:
		t := now.Add(o.ttl)
		at = &t
	case m.defaultExpiry > 0:
		t := now.Add(m.defaultExpiry)
		at = &t
	}
	if parent != nil && (at == nil || at.After(*parent)) {
		at = parent
	}
	if at == nil {
		return nil
	}
	t := at.UTC().Truncate(time.Millisecond)
	return &t
}

func (m *Manager) decrypt(rec *store.ViewingKeyRecord) ([]byte, error) {
	return m.vault.Decrypt(rec.EncryptedKey, m.identity)
}

func (m *Manager) hashMatches(rec *store.ViewingKeyRecord) bool {
	key, err := m.decrypt(rec)
	if err != nil {
		return false
	}
	defer crypto.Zero(key)
	want, err := hex.DecodeString(rec.KeyHash)
	return err == nil && bytes.Equal(crypto.KeyHash(key), want)
}

func (m *Manager) now() time.Time {
	return m.clock.Now().UTC().Truncate(time.Millisecond)
}
