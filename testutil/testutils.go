package testutil

import (
	"crypto/rand"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fikriaf/ars-sub001/crypto"
	"github.com/fikriaf/ars-sub001/ledger"
	"github.com/fikriaf/ars-sub001/provider"
	"github.com/fikriaf/ars-sub001/store"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

// DefaultStartTime is the initial time of an Arena's test clock.
var DefaultStartTime = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Arena groups the in-process collaborators used across component tests.
type Arena struct {
	Clock    *clock.TestClock
	Vault    *crypto.Vault
	Ledger   *ledger.MemoryLedger
	Provider *provider.LocalProvider
	Store    *store.MemoryStore
	Log      *slog.Logger
}

type arenaOptions struct {
	start  time.Time
	log    *slog.Logger
	pepper []byte
}

// ArenaOption customizes NewArena.
type ArenaOption func(*arenaOptions)

// WithStartTime sets the test clock's initial time.
func WithStartTime(start time.Time) ArenaOption {
	return func(o *arenaOptions) { o.start = start }
}

// WithLogger routes component logs to log.
func WithLogger(log *slog.Logger) ArenaOption {
	return func(o *arenaOptions) { o.log = log }
}

// WithPepper sets the vault pepper.
func WithPepper(pepper []byte) ArenaOption {
	return func(o *arenaOptions) { o.pepper = pepper }
}

// NewArena wires a fresh set of in-process collaborators.
func NewArena(t testing.TB, opts ...ArenaOption) *Arena {
	t.Helper()

	o := arenaOptions{start: DefaultStartTime}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = DiscardLogger()
	}

	clk := clock.NewTestClock(o.start)
	l := ledger.NewMemoryLedger(clk)
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	return &Arena{
		Clock: clk,
		Vault: crypto.NewVault(crypto.VaultConfig{
			Iterations: crypto.MinKDFIterations,
			Pepper:     o.pepper,
			Log:        o.log,
		}),
		Ledger: l,
		Provider: provider.NewLocalProvider(provider.LocalConfig{
			Announcements: l,
			History:       l,
			Log:           o.log,
		}),
		Store: st,
		Log:   o.log,
	}
}

// Advance moves the arena clock forward by d.
func (a *Arena) Advance(d time.Duration) time.Time {
	now := a.Clock.Now().Add(d)
	a.Clock.SetTime(now)
	return now
}

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// RandomBytes returns n random bytes.
func RandomBytes(t testing.TB, n int) []byte {
	t.Helper()

	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// GenerateTestKeyPair generates an Ed25519 key pair.
func GenerateTestKeyPair(t testing.TB) (crypto.PublicKey, crypto.PrivateKey) {
	t.Helper()

	pub, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return pub, priv
}

// GenerateTestKeyPairs generates n Ed25519 key pairs.
func GenerateTestKeyPairs(t testing.TB, n int) ([]crypto.PublicKey, []crypto.PrivateKey) {
	t.Helper()

	pubs := make([]crypto.PublicKey, n)
	privs := make([]crypto.PrivateKey, n)
	for i := range pubs {
		pubs[i], privs[i] = GenerateTestKeyPair(t)
	}
	return pubs, privs
}
