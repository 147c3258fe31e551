package scanner

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/fikriaf/ars-sub001/crypto"
	"github.com/fikriaf/ars-sub001/metrics"
	"github.com/fikriaf/ars-sub001/provider"
	"github.com/fikriaf/ars-sub001/stealth"
	"github.com/fikriaf/ars-sub001/store"
	"github.com/lightningnetwork/lnd/clock"
	"go.uber.org/atomic"
)

var (
	// ErrCycleInProgress is returned when a cycle is triggered while one runs.
	ErrCycleInProgress = errors.New("scan cycle in progress")

	// ErrAgentBusy is returned when the agent is already being scanned.
	ErrAgentBusy = errors.New("agent scan in progress")

	// ErrScanFailure is returned when an agent scan exhausts its retries.
	ErrScanFailure = errors.New("scan failure")
)

// KeySource supplies the agents to scan and their scanning keys.
// stealth.Registry implements it.
type KeySource interface {
	Agents(ctx context.Context) ([]string, error)
	ScanKeys(ctx context.Context, agentID string) ([]stealth.ScanKey, error)
}

// Deps are the scanner's collaborators.
type Deps struct {
	Provider provider.CryptoProvider
	Keys     KeySource
	Store    store.PaymentStore

	// Notifier defaults to a LogNotifier.
	Notifier Notifier

	Clock clock.Clock
	Log   *slog.Logger
}

// AgentResult summarizes one agent scan.
type AgentResult struct {
	AgentID   string `json:"agentId"`
	FromSlot  uint64 `json:"fromSlot"`
	Watermark uint64 `json:"watermark"`
	Found     int    `json:"found"`
	Stored    int    `json:"stored"`
	Attempts  int    `json:"attempts"`
}

// CycleResult summarizes a scan cycle.
type CycleResult struct {
	Agents   int            `json:"agents"`
	Payments int            `json:"payments"`
	Failed   []string       `json:"failed"`
	Results  []*AgentResult `json:"results"`
}

// Scanner detects inbound stealth payments for every agent and keeps a
// per-agent watermark of the highest slot scanned.
type Scanner struct {
	cfg      Config
	provider provider.CryptoProvider
	keys     KeySource
	store    store.PaymentStore
	notifier Notifier
	clock    clock.Clock
	log      *slog.Logger

	cycleRunning atomic.Bool

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates a scanner.
func New(cfg Config, deps Deps) (*Scanner, error) {
	if deps.Provider == nil || deps.Keys == nil || deps.Store == nil {
		return nil, errors.New("scanner: provider, keys and store are required")
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "scanner")
	notifier := deps.Notifier
	if notifier == nil {
		notifier = LogNotifier{Log: log}
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &Scanner{
		cfg:      cfg.withDefaults(),
		provider: deps.Provider,
		keys:     deps.Keys,
		store:    deps.Store,
		notifier: notifier,
		clock:    clk,
		log:      log,
		inFlight: make(map[string]struct{}),
	}, nil
}

// Config returns the effective configuration.
func (s *Scanner) Config() Config {
	return s.cfg
}

// Run triggers a cycle immediately and then every Interval until ctx is
// done. A trigger that fires while a cycle is still running is skipped.
// On return no cycle is running.
func (s *Scanner) Run(ctx context.Context) error {
	s.log.Info("scanner started", "interval", s.cfg.Interval, "workers", s.cfg.Workers, "batchSize", s.cfg.BatchSize)

	var wg sync.WaitGroup
	trigger := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ScanAllAgents(ctx)
			switch {
			case errors.Is(err, ErrCycleInProgress):
				s.log.Warn("scan cycle skipped, previous cycle still running")
			case err != nil && ctx.Err() == nil:
				s.log.Error("scan cycle failed", "err", err)
			}
		}()
	}

	trigger()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.log.Info("scanner stopped")
			return nil
		case <-s.clock.TickAfter(s.cfg.Interval):
			trigger()
		}
	}
}

// ScanAllAgents scans every active agent with at most Workers concurrent
// scans. An agent that fails is reported in the result and does not stop
// the others. No agent scan starts once ctx is done; scans already started
// run their provider and store calls to completion.
func (s *Scanner) ScanAllAgents(ctx context.Context) (*CycleResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.cycleRunning.CompareAndSwap(false, true) {
		metrics.IncScanCycleSkipped()
		return nil, ErrCycleInProgress
	}
	defer s.cycleRunning.Store(false)
	metrics.IncScanCycle()

	callCtx, cancel := s.callContext(ctx)
	agents, err := s.keys.Agents(callCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	res := &CycleResult{Agents: len(agents)}
	var mu sync.Mutex

	jobs := make(chan string)
	var wg sync.WaitGroup
	workers := min(s.cfg.Workers, len(agents))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for agentID := range jobs {
				r, err := s.ScanAgent(ctx, agentID)
				mu.Lock()
				if err != nil {
					res.Failed = append(res.Failed, agentID)
				} else {
					res.Payments += r.Stored
					res.Results = append(res.Results, r)
				}
				mu.Unlock()
			}
		}()
	}

	for _, agentID := range agents {
		if ctx.Err() != nil {
			break
		}
		select {
		case jobs <- agentID:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()

	s.log.Info("scan cycle complete", "agents", res.Agents, "payments", res.Payments, "failed", len(res.Failed))
	return res, nil
}

// ScanAgent scans one agent, retrying transient failures with exponential
// backoff. Waiting between attempts aborts as soon as ctx is done.
func (s *Scanner) ScanAgent(ctx context.Context, agentID string) (*AgentResult, error) {
	if !s.acquire(agentID) {
		return nil, ErrAgentBusy
	}
	defer s.release(agentID)

	start := time.Now()
	defer metrics.ObserveScanDuration(start)

	var (
		lastErr  error
		attempts int
	)
	for attempt := 1; attempt <= s.cfg.RetryAttempts; attempt++ {
		attempts = attempt
		if attempt > 1 {
			metrics.IncScanRetry()
			delay := s.cfg.backoff(attempt - 1)
			s.log.Warn("retrying agent scan", "agent", agentID, "attempt", attempt, "delay", delay, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: agent %s: %w", ErrScanFailure, agentID, ctx.Err())
			case <-s.clock.TickAfter(delay):
			}
		}

		res, err := s.scanOnce(ctx, agentID)
		if err == nil {
			res.Attempts = attempt
			return res, nil
		}
		lastErr = err
		if permanent(err) {
			break
		}
	}

	metrics.IncScanFailure()
	s.log.Error("agent scan failed", "agent", agentID, "attempts", attempts, "err", lastErr)
	s.notifier.Notify(ctx, Event{
		Kind:    EventScanFailure,
		AgentID: agentID,
		Error:   lastErr.Error(),
		At:      s.clock.Now(),
	})
	return nil, fmt.Errorf("%w: agent %s: %w", ErrScanFailure, agentID, lastErr)
}

// scanOnce performs one scan attempt. The watermark moves only after the
// payments are stored, and events follow the watermark.
func (s *Scanner) scanOnce(ctx context.Context, agentID string) (*AgentResult, error) {
	callCtx, cancel := s.callContext(ctx)
	wm, err := s.store.Watermark(callCtx, agentID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("read watermark: %w", err)
	}

	callCtx, cancel = s.callContext(ctx)
	keys, err := s.keys.ScanKeys(callCtx, agentID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("load scan keys: %w", err)
	}
	defer func() {
		for _, k := range keys {
			crypto.Zero(k.ViewPrivateKey)
		}
	}()

	// Every key set reads the same slots. The watermark moves to the lowest
	// slot all of them have examined.
	now := s.clock.Now().UTC()
	var (
		payments []*store.DetectedPayment
		next     uint64
	)
	for i, k := range keys {
		callCtx, cancel = s.callContext(ctx)
		found, err := s.provider.ScanPayments(callCtx, provider.ScanRequest{
			ViewPrivateKey: k.ViewPrivateKey,
			SpendPublicKey: k.SpendPublicKey,
			FromSlot:       wm.LastScannedSlot,
			Limit:          s.cfg.BatchSize,
		})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("scan payments: %w", err)
		}

		through := found.ScannedThrough
		for _, p := range found.Payments {
			payments = append(payments, &store.DetectedPayment{
				ID:                 store.NewID(),
				AgentID:            agentID,
				StealthAddress:     p.StealthAddress,
				EphemeralPublicKey: p.EphemeralPublicKey,
				Amount:             p.Amount,
				Commitment:         p.Commitment,
				Slot:               p.Slot,
				Timestamp:          p.Timestamp,
				TxRef:              p.TxRef,
				DetectedAt:         now,
			})
			through = max(through, p.Slot)
		}
		if i == 0 || through < next {
			next = through
		}
	}
	next = max(next, wm.LastScannedSlot)

	// Payments past the watermark are picked up by the next scan.
	payments = slices.DeleteFunc(payments, func(p *store.DetectedPayment) bool { return p.Slot > next })
	slices.SortStableFunc(payments, func(a, b *store.DetectedPayment) int { return cmp.Compare(a.Slot, b.Slot) })

	stored := 0
	if len(payments) > 0 {
		callCtx, cancel = s.callContext(ctx)
		stored, err = s.store.InsertPayments(callCtx, payments)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("store payments: %w", err)
		}
	}

	if next > wm.LastScannedSlot {
		callCtx, cancel = s.callContext(ctx)
		_, err = s.store.AdvanceWatermark(callCtx, agentID, next, now)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("advance watermark: %w", err)
		}
	}

	metrics.AddPaymentsDetected(stored)
	for _, p := range payments {
		s.notifier.Notify(ctx, Event{Kind: EventPaymentDetected, AgentID: agentID, Payment: p, At: now})
	}

	return &AgentResult{
		AgentID:   agentID,
		FromSlot:  wm.LastScannedSlot,
		Watermark: next,
		Found:     len(payments),
		Stored:    stored,
	}, nil
}

// callContext bounds a single call by CallTimeout. It is detached from
// ctx's cancellation so a started scan completes during shutdown.
func (s *Scanner) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CallTimeout)
}

func (s *Scanner) acquire(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[agentID]; busy {
		return false
	}
	s.inFlight[agentID] = struct{}{}
	return true
}

func (s *Scanner) release(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, agentID)
}

// permanent reports errors that a retry cannot fix.
func permanent(err error) bool {
	return errors.Is(err, crypto.ErrDecryptionFailed) ||
		errors.Is(err, stealth.ErrNoMetaAddress) ||
		errors.Is(err, provider.ErrInvalidKey)
}
