package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fikriaf/ars-sub001/ledger"
	"github.com/fikriaf/ars-sub001/provider"
	"github.com/fikriaf/ars-sub001/stealth"
	"github.com/fikriaf/ars-sub001/store"
	"github.com/fikriaf/ars-sub001/testutil"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

var errUnavailable = errors.New("provider unavailable")

// flakyProvider fails ScanPayments a fixed number of times, and always for
// the spend key in failFor.
type flakyProvider struct {
	provider.CryptoProvider

	mu       sync.Mutex
	failures int
	failFor  string
	calls    int
}

func (p *flakyProvider) ScanPayments(ctx context.Context, req provider.ScanRequest) (*provider.ScanResult, error) {
	p.mu.Lock()
	p.calls++
	fail := p.failures > 0 || (p.failFor != "" && req.SpendPublicKey == p.failFor)
	if p.failures > 0 {
		p.failures--
	}
	p.mu.Unlock()

	if fail {
		return nil, errUnavailable
	}
	return p.CryptoProvider.ScanPayments(ctx, req)
}

// failingInserts rejects every InsertPayments call.
type failingInserts struct {
	store.PaymentStore
}

func (failingInserts) InsertPayments(context.Context, []*store.DetectedPayment) (int, error) {
	return 0, errors.New("database unavailable")
}

type testEnv struct {
	arena    *testutil.Arena
	registry *stealth.Registry
	provider *flakyProvider
	recorder *Recorder
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	arena := testutil.NewArena(t)
	registry, err := stealth.NewRegistry(stealth.Config{
		Provider: arena.Provider,
		Store:    arena.Store,
		Vault:    arena.Vault,
		Clock:    arena.Clock,
		Log:      arena.Log,
	})
	require.NoError(t, err)

	return &testEnv{
		arena:    arena,
		registry: registry,
		provider: &flakyProvider{CryptoProvider: arena.Provider},
		recorder: &Recorder{},
	}
}

func (e *testEnv) newScanner(t *testing.T, cfg Config, clk clock.Clock, payments store.PaymentStore) *Scanner {
	t.Helper()

	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	if payments == nil {
		payments = e.arena.Store
	}
	s, err := New(cfg, Deps{
		Provider: e.provider,
		Keys:     e.registry,
		Store:    payments,
		Notifier: e.recorder,
		Clock:    clk,
		Log:      e.arena.Log,
	})
	require.NoError(t, err)
	return s
}

// pay sends amount from a funded sender to a fresh stealth address of the
// agent at slot.
func (e *testEnv) pay(t *testing.T, agentID string, slot, amount uint64) *ledger.Announcement {
	t.Helper()
	ctx := context.Background()

	meta, err := e.registry.GetByAgentID(ctx, agentID)
	require.NoError(t, err)
	addr, _, err := e.registry.DeriveStealthAddress(ctx, *meta)
	require.NoError(t, err)

	e.arena.Ledger.Fund("sender-b", amount)
	e.arena.Ledger.SetSlot(slot)
	ann, err := e.arena.Ledger.SendStealth(ctx, "sender-b", ledger.Announcement{
		StealthAddress:     addr.Address,
		EphemeralPublicKey: addr.EphemeralPublicKey,
		ViewTag:            addr.ViewTag,
		Amount:             amount,
	})
	require.NoError(t, err)
	return ann
}

func TestEndToEndDetection(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t)

	_, err := env.registry.GenerateForAgent(ctx, "agent-a", "")
	require.NoError(t, err)
	ann := env.pay(t, "agent-a", 500, 1000)

	s := env.newScanner(t, Config{}, nil, nil)

	wm, err := env.arena.Store.Watermark(ctx, "agent-a")
	require.NoError(t, err)
	require.Zero(t, wm.LastScannedSlot)

	res, err := s.ScanAllAgents(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Agents)
	require.Equal(t, 1, res.Payments)
	require.Empty(t, res.Failed)

	wm, err = env.arena.Store.Watermark(ctx, "agent-a")
	require.NoError(t, err)
	require.Equal(t, uint64(500), wm.LastScannedSlot)

	payments, err := env.arena.Store.PaymentsByAgent(ctx, "agent-a")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.Equal(t, uint64(1000), payments[0].Amount)
	require.Equal(t, ann.StealthAddress, payments[0].StealthAddress)
	require.Equal(t, 1, env.recorder.Count(EventPaymentDetected))

	// A second cycle without new activity changes nothing.
	res, err = s.ScanAllAgents(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Payments)

	wm, err = env.arena.Store.Watermark(ctx, "agent-a")
	require.NoError(t, err)
	require.Equal(t, uint64(500), wm.LastScannedSlot)
	require.Equal(t, 1, env.recorder.Count(EventPaymentDetected))
}

func TestDetectsPaymentsWithoutSlotProgress(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t)

	_, err := env.registry.GenerateForAgent(ctx, "agent-a", "")
	require.NoError(t, err)
	first := env.pay(t, "agent-a", 0, 1000)
	require.Equal(t, uint64(1), first.Slot)

	s := env.newScanner(t, Config{}, nil, nil)
	res, err := s.ScanAgent(ctx, "agent-a")
	require.NoError(t, err)
	require.Equal(t, 1, res.Found)
	require.Equal(t, first.Slot, res.Watermark)

	// Nothing moves the ledger between payments.
	second := env.pay(t, "agent-a", 0, 250)
	require.Greater(t, second.Slot, first.Slot)

	res, err = s.ScanAgent(ctx, "agent-a")
	require.NoError(t, err)
	require.Equal(t, 1, res.Found)
	require.Equal(t, second.Slot, res.Watermark)

	payments, err := env.arena.Store.PaymentsByAgent(ctx, "agent-a")
	require.NoError(t, err)
	require.Len(t, payments, 2)
	require.Equal(t, uint64(250), payments[1].Amount)
}

func TestDetectsPaymentsToRotatedMetaAddress(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t)

	old, err := env.registry.GenerateForAgent(ctx, "agent-a", "")
	require.NoError(t, err)
	_, err = env.registry.RotateKeys(ctx, "agent-a", "")
	require.NoError(t, err)

	// A payer still holding the old meta-address.
	addr, _, err := env.registry.DeriveStealthAddress(ctx, *old)
	require.NoError(t, err)
	env.arena.Ledger.Fund("sender-b", 300)
	env.arena.Ledger.SetSlot(30)
	_, err = env.arena.Ledger.SendStealth(ctx, "sender-b", ledger.Announcement{
		StealthAddress:     addr.Address,
		EphemeralPublicKey: addr.EphemeralPublicKey,
		ViewTag:            addr.ViewTag,
		Amount:             300,
	})
	require.NoError(t, err)
	env.pay(t, "agent-a", 40, 20)

	s := env.newScanner(t, Config{}, nil, nil)
	res, err := s.ScanAgent(ctx, "agent-a")
	require.NoError(t, err)
	require.Equal(t, 2, res.Found)
	require.Equal(t, uint64(40), res.Watermark)

	payments, err := env.arena.Store.PaymentsByAgent(ctx, "agent-a")
	require.NoError(t, err)
	require.Len(t, payments, 2)
	require.Equal(t, addr.Address, payments[0].StealthAddress)
	require.Equal(t, uint64(300), payments[0].Amount)
}

func TestScanIgnoresOtherAgentsPayments(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t)

	for _, agent := range []string{"agent-a", "agent-b"} {
		_, err := env.registry.GenerateForAgent(ctx, agent, "")
		require.NoError(t, err)
	}
	env.pay(t, "agent-b", 10, 5)
	env.pay(t, "agent-a", 20, 7)

	s := env.newScanner(t, Config{}, nil, nil)
	res, err := s.ScanAgent(ctx, "agent-a")
	require.NoError(t, err)
	require.Equal(t, 1, res.Found)
	require.Equal(t, uint64(20), res.Watermark)

	payments, err := env.arena.Store.PaymentsByAgent(ctx, "agent-a")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.Equal(t, uint64(7), payments[0].Amount)
}

func TestWatermarkAdvancesPastEmptySlots(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t)

	_, err := env.registry.GenerateForAgent(ctx, "agent-a", "")
	require.NoError(t, err)
	_, err = env.registry.GenerateForAgent(ctx, "agent-b", "")
	require.NoError(t, err)
	env.pay(t, "agent-b", 40, 1)

	s := env.newScanner(t, Config{}, nil, nil)
	res, err := s.ScanAgent(ctx, "agent-a")
	require.NoError(t, err)
	require.Zero(t, res.Found)
	require.Equal(t, uint64(40), res.Watermark)
}

func TestRetryWithExponentialBackoff(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t)

	_, err := env.registry.GenerateForAgent(ctx, "agent-a", "")
	require.NoError(t, err)
	env.pay(t, "agent-a", 7, 1)
	env.provider.failures = 2

	ticks := make(chan time.Duration)
	clk := clock.NewTestClockWithTickSignal(testutil.DefaultStartTime, ticks)
	s := env.newScanner(t, Config{RetryAttempts: 5, BaseDelay: time.Second}, clk, nil)

	type result struct {
		res *AgentResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := s.ScanAgent(ctx, "agent-a")
		done <- result{res, err}
	}()

	var delays []time.Duration
	for len(delays) < 2 {
		d := <-ticks
		delays = append(delays, d)
		clk.SetTime(clk.Now().Add(d))
	}

	r := <-done
	require.NoError(t, r.err)
	require.Equal(t, 3, r.res.Attempts)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestRetryExhaustion(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t)

	_, err := env.registry.GenerateForAgent(ctx, "agent-a", "")
	require.NoError(t, err)
	env.pay(t, "agent-a", 7, 1)
	env.provider.failures = 100

	ticks := make(chan time.Duration)
	clk := clock.NewTestClockWithTickSignal(testutil.DefaultStartTime, ticks)
	s := env.newScanner(t, Config{RetryAttempts: 3, BaseDelay: time.Second}, clk, nil)

	done := make(chan error, 1)
	go func() {
		_, err := s.ScanAgent(ctx, "agent-a")
		done <- err
	}()

	for i := 0; i < 2; i++ {
		d := <-ticks
		clk.SetTime(clk.Now().Add(d))
	}

	err = <-done
	require.ErrorIs(t, err, ErrScanFailure)
	require.ErrorIs(t, err, errUnavailable)
	require.Equal(t, 3, env.provider.calls)
	require.Equal(t, 1, env.recorder.Count(EventScanFailure))

	wm, err := env.arena.Store.Watermark(ctx, "agent-a")
	require.NoError(t, err)
	require.Zero(t, wm.LastScannedSlot)
}

func TestBackoffAbortsOnCancel(t *testing.T) {
	env := setupEnv(t)
	_, err := env.registry.GenerateForAgent(context.Background(), "agent-a", "")
	require.NoError(t, err)
	env.provider.failures = 100

	ticks := make(chan time.Duration)
	clk := clock.NewTestClockWithTickSignal(testutil.DefaultStartTime, ticks)
	s := env.newScanner(t, Config{RetryAttempts: 5, BaseDelay: time.Hour}, clk, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.ScanAgent(ctx, "agent-a")
		done <- err
	}()

	<-ticks
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrScanFailure)
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("scan did not abort while backing off")
	}
}

func TestFailingAgentDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t)

	_, err := env.registry.GenerateForAgent(ctx, "agent-a", "")
	require.NoError(t, err)
	metaB, err := env.registry.GenerateForAgent(ctx, "agent-b", "")
	require.NoError(t, err)
	env.pay(t, "agent-a", 3, 10)
	env.provider.failFor = metaB.SpendPublicKey

	s := env.newScanner(t, Config{RetryAttempts: 2, BaseDelay: time.Millisecond, Workers: 2}, nil, nil)

	res, err := s.ScanAllAgents(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"agent-b"}, res.Failed)
	require.Equal(t, 1, res.Payments)
	require.Equal(t, 1, env.recorder.Count(EventScanFailure))
}

func TestWatermarkUnchangedWhenStorageFails(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t)

	_, err := env.registry.GenerateForAgent(ctx, "agent-a", "")
	require.NoError(t, err)
	env.pay(t, "agent-a", 9, 1)

	s := env.newScanner(t, Config{RetryAttempts: 1}, nil, failingInserts{env.arena.Store})
	_, err = s.ScanAgent(ctx, "agent-a")
	require.ErrorIs(t, err, ErrScanFailure)

	wm, err := env.arena.Store.Watermark(ctx, "agent-a")
	require.NoError(t, err)
	require.Zero(t, wm.LastScannedSlot)
	require.Zero(t, env.recorder.Count(EventPaymentDetected))
}

func TestPermanentErrorsAreNotRetried(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t)

	s := env.newScanner(t, Config{RetryAttempts: 5}, nil, nil)
	_, err := s.ScanAgent(ctx, "agent-unknown")
	require.ErrorIs(t, err, ErrScanFailure)
	require.ErrorIs(t, err, stealth.ErrNoMetaAddress)
	require.Zero(t, env.provider.calls)
}

func TestOverlapGuards(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t)
	s := env.newScanner(t, Config{}, nil, nil)

	s.cycleRunning.Store(true)
	_, err := s.ScanAllAgents(ctx)
	require.ErrorIs(t, err, ErrCycleInProgress)
	s.cycleRunning.Store(false)

	require.True(t, s.acquire("agent-a"))
	_, err = s.ScanAgent(ctx, "agent-a")
	require.ErrorIs(t, err, ErrAgentBusy)
	s.release("agent-a")
}

func TestRunStopsOnCancel(t *testing.T) {
	env := setupEnv(t)
	_, err := env.registry.GenerateForAgent(context.Background(), "agent-a", "")
	require.NoError(t, err)
	env.pay(t, "agent-a", 11, 1)

	ticks := make(chan time.Duration)
	clk := clock.NewTestClockWithTickSignal(testutil.DefaultStartTime, ticks)
	s := env.newScanner(t, Config{Interval: time.Minute}, clk, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Equal(t, time.Minute, <-ticks)
	require.Eventually(t, func() bool {
		wm, err := env.arena.Store.Watermark(context.Background(), "agent-a")
		return err == nil && wm.LastScannedSlot == 11
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	_, err = s.ScanAllAgents(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDefaultConfig(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.Equal(t, DefaultConfig(), cfg)
	require.Equal(t, 4*time.Second, cfg.backoff(3))
}
