package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fikriaf/ars-sub001/commitment"
	"github.com/fikriaf/ars-sub001/crypto"
	"github.com/fikriaf/ars-sub001/disclosure"
	"github.com/fikriaf/ars-sub001/ledger"
	"github.com/fikriaf/ars-sub001/privacyscore"
	"github.com/fikriaf/ars-sub001/provider"
	"github.com/fikriaf/ars-sub001/scanner"
	"github.com/fikriaf/ars-sub001/stealth"
	"github.com/fikriaf/ars-sub001/store"
	"github.com/fikriaf/ars-sub001/swap"
	"github.com/fikriaf/ars-sub001/viewkey"
	"github.com/lightningnetwork/lnd/clock"
)

// Config holds the tunables of every component. Zero values take each
// component's defaults.
type Config struct {
	Scanner scanner.Config

	// PrivacyThreshold is nil for the monitor's default.
	PrivacyThreshold *int
	StrictPrivacy    bool

	SlippageBps        int
	MEVReductionTarget float64
	CallTimeout        time.Duration

	ViewingKeyExpiry time.Duration
	Approvals        viewkey.ApprovalPolicy

	DisclosureExpiry time.Duration
	MaxRiskScore     int

	MetaAddressCacheSize int
}

// Deps are the external collaborators.
type Deps struct {
	Provider provider.CryptoProvider
	Store    store.Store
	Vault    *crypto.Vault

	Venue   ledger.Venue
	Claimer ledger.Claimer

	// Measurer defaults to ledger.SlippageMeasurer.
	Measurer ledger.MEVMeasurer

	// Scorer defaults to disclosure.ThresholdRiskScorer.
	Scorer disclosure.RiskScorer

	AlertSinks []privacyscore.AlertSink

	// Notifiers receive scanner events in addition to the log and Hub.
	Notifiers []scanner.Notifier

	// Hub streams scanner events to websocket subscribers. Optional.
	Hub *scanner.Hub

	Clock clock.Clock
	Log   *slog.Logger
}

// Subsystem is the wired set of privacy components sharing one store,
// provider and vault.
type Subsystem struct {
	Registry    *stealth.Registry
	Scanner     *scanner.Scanner
	Commitments *commitment.Engine
	Privacy     *privacyscore.Monitor
	Swaps       *swap.Orchestrator
	ViewingKeys *viewkey.Manager
	Approvals   *viewkey.ApprovalVerifier
	Disclosures *disclosure.Service
	Hub         *scanner.Hub

	Store store.Store
	log   *slog.Logger
}

// New wires every component.
func New(cfg Config, deps Deps) (*Subsystem, error) {
	if deps.Provider == nil || deps.Store == nil || deps.Vault == nil {
		return nil, errors.New("services: provider, store and vault are required")
	}
	if deps.Venue == nil || deps.Claimer == nil {
		return nil, errors.New("services: venue and claimer are required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewDefaultClock()
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	log := deps.Log

	s := &Subsystem{Store: deps.Store, Hub: deps.Hub, log: log}
	var err error

	s.Registry, err = stealth.NewRegistry(stealth.Config{
		Provider:  deps.Provider,
		Store:     deps.Store,
		Vault:     deps.Vault,
		CacheSize: cfg.MetaAddressCacheSize,
		Clock:     deps.Clock,
		Log:       log,
	})
	if err != nil {
		return nil, fmt.Errorf("stealth registry: %w", err)
	}

	notifiers := scanner.MultiNotifier{scanner.LogNotifier{Log: log.With("component", "scanner")}}
	if deps.Hub != nil {
		notifiers = append(notifiers, deps.Hub)
	}
	notifiers = append(notifiers, deps.Notifiers...)
	s.Scanner, err = scanner.New(cfg.Scanner, scanner.Deps{
		Provider: deps.Provider,
		Keys:     s.Registry,
		Store:    deps.Store,
		Notifier: notifiers,
		Clock:    deps.Clock,
		Log:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("scanner: %w", err)
	}

	s.Commitments, err = commitment.NewEngine(commitment.Config{
		Provider: deps.Provider,
		Store:    deps.Store,
		Vault:    deps.Vault,
		Clock:    deps.Clock,
		Log:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("commitment engine: %w", err)
	}

	s.Privacy, err = privacyscore.NewMonitor(privacyscore.Config{
		Provider:  deps.Provider,
		Store:     deps.Store,
		Threshold: cfg.PrivacyThreshold,
		Sinks:     deps.AlertSinks,
		Clock:     deps.Clock,
		Log:       log,
	})
	if err != nil {
		return nil, fmt.Errorf("privacy monitor: %w", err)
	}

	s.Swaps, err = swap.NewOrchestrator(swap.Config{
		Privacy:         s.Privacy,
		Destinations:    s.Registry,
		Commitments:     s.Commitments,
		Venue:           deps.Venue,
		Claimer:         deps.Claimer,
		Measurer:        deps.Measurer,
		Store:           deps.Store,
		Strict:          cfg.StrictPrivacy,
		SlippageBps:     cfg.SlippageBps,
		ReductionTarget: cfg.MEVReductionTarget,
		CallTimeout:     cfg.CallTimeout,
		Clock:           deps.Clock,
		Log:             log,
	})
	if err != nil {
		return nil, fmt.Errorf("swap orchestrator: %w", err)
	}

	s.ViewingKeys, err = viewkey.NewManager(viewkey.Config{
		Provider:      deps.Provider,
		Store:         deps.Store,
		Vault:         deps.Vault,
		DefaultExpiry: cfg.ViewingKeyExpiry,
		Clock:         deps.Clock,
		Log:           log,
	})
	if err != nil {
		return nil, fmt.Errorf("viewing key manager: %w", err)
	}

	s.Approvals, err = viewkey.NewApprovalVerifier(cfg.Approvals, deps.Clock)
	if err != nil {
		return nil, fmt.Errorf("approval policy: %w", err)
	}

	s.Disclosures, err = disclosure.NewService(disclosure.Config{
		Keys:         s.ViewingKeys,
		Transfers:    deps.Store,
		Store:        deps.Store,
		Scorer:       deps.Scorer,
		Expiry:       cfg.DisclosureExpiry,
		MaxRiskScore: cfg.MaxRiskScore,
		Clock:        deps.Clock,
		Log:          log,
	})
	if err != nil {
		return nil, fmt.Errorf("disclosure service: %w", err)
	}

	return s, nil
}

// Run drives the payment scanner until ctx is done.
func (s *Subsystem) Run(ctx context.Context) error {
	s.log.Info("privacy subsystem running", "threshold", s.Privacy.Threshold(), "strict", s.Swaps.Strict())
	return s.Scanner.Run(ctx)
}

// ApplyPolicy updates the settings that may change at runtime.
func (s *Subsystem) ApplyPolicy(threshold int, strict bool) error {
	if err := s.Privacy.SetThreshold(threshold); err != nil {
		return err
	}
	s.Swaps.SetStrict(strict)
	return nil
}
