package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fikriaf/ars-sub001/crypto"
	"github.com/fikriaf/ars-sub001/ledger"
	"github.com/fikriaf/ars-sub001/metrics"
	"github.com/fikriaf/ars-sub001/privacyscore"
	"github.com/fikriaf/ars-sub001/provider"
	"github.com/fikriaf/ars-sub001/stealth"
	"github.com/fikriaf/ars-sub001/store"
	"github.com/lightningnetwork/lnd/clock"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/atomic"
)

var (
	// ErrPaymentNotDetected is returned by RetryClaim while the scanner has
	// not yet seen the swap output at its stealth address.
	ErrPaymentNotDetected = errors.New("swap output not detected")

	// ErrNotClaimable is returned by RetryClaim for swaps that did not fail
	// at the claim step.
	ErrNotClaimable = errors.New("swap is not awaiting a claim")

	// ErrNotOwned is returned when the stealth destination does not belong
	// to the swap's agent.
	ErrNotOwned = errors.New("stealth address not owned by agent")

	ErrInvalidRequest = errors.New("invalid swap request")
)

// Step names a stage of the protected swap workflow.
type Step string

const (
	StepPrivacy    Step = "privacy"
	StepStealth    Step = "stealth"
	StepCommitment Step = "commitment"
	StepSubmit     Step = "submit"
	StepClaim      Step = "claim"
	StepMEV        Step = "mev"
)

// PrivacyAnalyzer scores the source vault. privacyscore.Monitor implements it.
type PrivacyAnalyzer interface {
	Analyze(ctx context.Context, address string, txLimit int) (*store.PrivacyScoreRecord, error)
	Threshold() int
}

// Destinations issues stealth destinations. stealth.Registry implements it.
type Destinations interface {
	GetByAgentID(ctx context.Context, agentID string) (*provider.MetaAddress, error)
	GenerateForAgent(ctx context.Context, agentID, label string) (*provider.MetaAddress, error)
	DeriveStealthAddress(ctx context.Context, meta provider.MetaAddress) (*provider.StealthAddress, []byte, error)
	CheckOwnership(ctx context.Context, agentID string, addr provider.StealthAddress) bool
}

// Committer commits to swap amounts. commitment.Engine implements it.
type Committer interface {
	Create(ctx context.Context, value uint64) (*store.CommitmentRecord, error)
}

// Store is the persistence the orchestrator needs.
type Store interface {
	store.SwapStore
	store.TransferStore
	store.PaymentStore
}

// Request is a protected swap out of a vault.
type Request struct {
	VaultID      string `json:"vaultId"`
	VaultAddress string `json:"vaultAddress"`

	// AgentID receives the output at a stealth address. Defaults to VaultID.
	AgentID string `json:"agentId,omitempty"`

	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	Amount     uint64 `json:"amount"`

	// SlippageBps defaults to Config.SlippageBps.
	SlippageBps int `json:"slippageBps,omitempty"`

	// IdempotencyKey makes Execute return the original swap on repeat.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

func (r *Request) validate() error {
	switch {
	case r.VaultID == "":
		return fmt.Errorf("%w: missing vault id", ErrInvalidRequest)
	case r.VaultAddress == "":
		return fmt.Errorf("%w: missing vault address", ErrInvalidRequest)
	case r.InputMint == "" || r.OutputMint == "":
		return fmt.Errorf("%w: missing mint", ErrInvalidRequest)
	case r.Amount == 0:
		return fmt.Errorf("%w: zero amount", ErrInvalidRequest)
	case r.SlippageBps < 0 || r.SlippageBps >= 10_000:
		return fmt.Errorf("%w: slippage %d bps", ErrInvalidRequest, r.SlippageBps)
	}
	return nil
}

// MEVMetrics compares early and recent extraction for a vault.
type MEVMetrics struct {
	VaultID             string  `json:"vaultId"`
	Swaps               int     `json:"swaps"`
	BaselineExtraction  float64 `json:"baselineExtraction"`
	CurrentExtraction   float64 `json:"currentExtraction"`
	ReductionPercentage float64 `json:"reductionPercentage"`
	Target              float64 `json:"target"`
	TargetMet           bool    `json:"targetMet"`
}

const (
	DefaultSlippageBps      = 100
	DefaultReductionTarget  = 80.0
	DefaultCallTimeout      = 15 * time.Second
	DefaultIdempotencyTTL   = 24 * time.Hour
	metricsWindow           = 10
	defaultPrivacyTxLimit   = 100
	stealthDestinationLabel = "swap"
)

// Config wires an Orchestrator.
type Config struct {
	Privacy      PrivacyAnalyzer
	Destinations Destinations
	Commitments  Committer
	Venue        ledger.Venue
	Claimer      ledger.Claimer

	// Measurer defaults to ledger.SlippageMeasurer.
	Measurer ledger.MEVMeasurer

	Store Store

	// Strict aborts swaps from vaults scoring below the privacy threshold.
	Strict bool

	SlippageBps     int
	ReductionTarget float64
	CallTimeout     time.Duration
	IdempotencyTTL  time.Duration

	Clock clock.Clock
	Log   *slog.Logger
}

// Orchestrator runs MEV-protected swaps: the output goes to a fresh stealth
// address, the amount is committed, and proceeds are claimed back to the
// vault afterwards.
type Orchestrator struct {
	privacy      PrivacyAnalyzer
	destinations Destinations
	commitments  Committer
	venue        ledger.Venue
	claimer      ledger.Claimer
	measurer     ledger.MEVMeasurer
	store        Store

	strict          *atomic.Bool
	slippageBps     int
	reductionTarget float64
	callTimeout     time.Duration

	idempotency *gocache.Cache
	clock       clock.Clock
	log         *slog.Logger
}

// NewOrchestrator creates a swap orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Privacy == nil || cfg.Destinations == nil || cfg.Commitments == nil ||
		cfg.Venue == nil || cfg.Claimer == nil || cfg.Store == nil {
		return nil, errors.New("swap: privacy, destinations, commitments, venue, claimer and store are required")
	}
	o := &Orchestrator{
		privacy:         cfg.Privacy,
		destinations:    cfg.Destinations,
		commitments:     cfg.Commitments,
		venue:           cfg.Venue,
		claimer:         cfg.Claimer,
		measurer:        cfg.Measurer,
		store:           cfg.Store,
		strict:          atomic.NewBool(cfg.Strict),
		slippageBps:     cfg.SlippageBps,
		reductionTarget: cfg.ReductionTarget,
		callTimeout:     cfg.CallTimeout,
		clock:           cfg.Clock,
		log:             cfg.Log,
	}
	if o.measurer == nil {
		o.measurer = ledger.SlippageMeasurer{}
	}
	if o.slippageBps == 0 {
		o.slippageBps = DefaultSlippageBps
	}
	if o.reductionTarget == 0 {
		o.reductionTarget = DefaultReductionTarget
	}
	if o.callTimeout == 0 {
		o.callTimeout = DefaultCallTimeout
	}
	ttl := cfg.IdempotencyTTL
	if ttl == 0 {
		ttl = DefaultIdempotencyTTL
	}
	o.idempotency = gocache.New(ttl, ttl/2)
	if o.clock == nil {
		o.clock = clock.NewDefaultClock()
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	o.log = o.log.With("component", "swap")
	return o, nil
}

// SetStrict toggles strict privacy mode.
func (o *Orchestrator) SetStrict(strict bool) {
	if o.strict.Swap(strict) != strict {
		o.log.Info("strict privacy mode changed", "strict", strict)
	}
}

// Strict reports whether strict privacy mode is on.
func (o *Orchestrator) Strict() bool {
	return o.strict.Load()
}

// Execute runs the swap workflow in order: privacy analysis, stealth
// destination, commitment, venue submission, claim and MEV measurement.
// A failing step stops the workflow; the returned record names it in
// FailedStep and is persisted along with the error.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*store.SwapRecord, error) {
	if req.AgentID == "" {
		req.AgentID = req.VaultID
	}
	if req.SlippageBps == 0 {
		req.SlippageBps = o.slippageBps
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	now := o.now()
	rec := &store.SwapRecord{
		ID:             store.NewID(),
		VaultID:        req.VaultID,
		VaultAddress:   req.VaultAddress,
		AgentID:        req.AgentID,
		InputMint:      req.InputMint,
		OutputMint:     req.OutputMint,
		Amount:         req.Amount,
		Status:         store.SwapPending,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if req.IdempotencyKey != "" {
		if err := o.idempotency.Add(req.IdempotencyKey, rec.ID, gocache.DefaultExpiration); err != nil {
			id, _ := o.idempotency.Get(req.IdempotencyKey)
			o.log.Debug("swap replayed", "key", req.IdempotencyKey, "swap", id)
			return o.replay(ctx, id.(string))
		}
	} else {
		rec.IdempotencyKey = rec.ID
	}

	if err := o.save(ctx, rec); err != nil {
		o.idempotency.Delete(req.IdempotencyKey)
		return nil, err
	}
	log := o.log.With("swap", rec.ID, "vault", rec.VaultID)

	// 1. Privacy of the source vault.
	score, err := o.checkPrivacy(ctx, req.VaultAddress, log)
	if err != nil {
		return o.fail(ctx, rec, StepPrivacy, err)
	}
	rec.PrivacyScore = score

	// 2. One stealth destination for the output.
	dest, err := o.destination(ctx, req.AgentID)
	if err != nil {
		return o.fail(ctx, rec, StepStealth, err)
	}
	rec.StealthAddress = dest.Address
	rec.EphemeralPublicKey = dest.EphemeralPublicKey
	rec.ViewTag = dest.ViewTag

	// 3. Commitment to the amount.
	cctx, cancel := o.callContext(ctx)
	c, err := o.commitments.Create(cctx, req.Amount)
	cancel()
	if err != nil {
		return o.fail(ctx, rec, StepCommitment, err)
	}
	rec.CommitmentID = c.ID
	if err := o.save(ctx, rec); err != nil {
		return o.fail(ctx, rec, StepCommitment, err)
	}

	// 4. Venue submission to the stealth address.
	quote, err := o.submit(ctx, rec, req.SlippageBps, c.Commitment)
	if err != nil {
		return o.fail(ctx, rec, StepSubmit, err)
	}
	log.Info("swap submitted", "txRef", rec.TxRef, "output", rec.OutputAmount)

	// 5. Claim back to the vault.
	if err := o.claim(ctx, rec, rec.OutputAmount); err != nil {
		return o.fail(ctx, rec, StepClaim, err)
	}

	// 6. Extraction measurement.
	if err := o.measure(ctx, rec, quote); err != nil {
		return o.fail(ctx, rec, StepMEV, err)
	}
	return o.complete(ctx, rec)
}

// RetryClaim resumes a swap that failed at the claim step. The claim amount
// is taken from the payment the scanner detected at the swap's stealth
// address.
func (o *Orchestrator) RetryClaim(ctx context.Context, swapID string) (*store.SwapRecord, error) {
	cctx, cancel := o.callContext(ctx)
	rec, err := o.store.Swap(cctx, swapID)
	cancel()
	if err != nil {
		return nil, err
	}
	if rec.Status != store.SwapFailed || rec.FailedStep != string(StepClaim) {
		return nil, fmt.Errorf("%w: status %s, failed step %q", ErrNotClaimable, rec.Status, rec.FailedStep)
	}

	cctx, cancel = o.callContext(ctx)
	payments, err := o.store.PaymentsByAgent(cctx, rec.AgentID)
	cancel()
	if err != nil {
		return nil, err
	}
	var found *store.DetectedPayment
	for _, p := range payments {
		if strings.EqualFold(p.StealthAddress, rec.StealthAddress) {
			found = p
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrPaymentNotDetected, rec.StealthAddress)
	}

	rec.Status = store.SwapPending
	rec.FailedStep = ""
	rec.Error = ""
	if err := o.claim(ctx, rec, found.Amount); err != nil {
		return o.fail(ctx, rec, StepClaim, err)
	}

	quote := &ledger.Quote{InputMint: rec.InputMint, OutputMint: rec.OutputMint, InAmount: rec.Amount, OutAmount: rec.QuotedOutput}
	if err := o.measure(ctx, rec, quote); err != nil {
		return o.fail(ctx, rec, StepMEV, err)
	}
	return o.complete(ctx, rec)
}

// Swap returns a stored swap.
func (o *Orchestrator) Swap(ctx context.Context, id string) (*store.SwapRecord, error) {
	cctx, cancel := o.callContext(ctx)
	defer cancel()
	return o.store.Swap(cctx, id)
}

// Metrics compares the mean extraction of a vault's first completed swaps
// against its most recent ones.
func (o *Orchestrator) Metrics(ctx context.Context, vaultID string) (*MEVMetrics, error) {
	cctx, cancel := o.callContext(ctx)
	swaps, err := o.store.SwapsByVault(cctx, vaultID)
	cancel()
	if err != nil {
		return nil, err
	}

	var extraction []float64
	for _, s := range swaps {
		if s.Status == store.SwapCompleted {
			extraction = append(extraction, s.MEVExtracted)
		}
	}

	m := &MEVMetrics{VaultID: vaultID, Swaps: len(extraction), Target: o.reductionTarget}
	if len(extraction) == 0 {
		return m, nil
	}
	n := min(metricsWindow, len(extraction))
	m.BaselineExtraction = mean(extraction[:n])
	m.CurrentExtraction = mean(extraction[len(extraction)-n:])
	if m.BaselineExtraction > 0 {
		m.ReductionPercentage = (m.BaselineExtraction - m.CurrentExtraction) / m.BaselineExtraction * 100
	}
	m.TargetMet = m.ReductionPercentage >= o.reductionTarget
	return m, nil
}

func (o *Orchestrator) checkPrivacy(ctx context.Context, address string, log *slog.Logger) (int, error) {
	cctx, cancel := o.callContext(ctx)
	rec, err := o.privacy.Analyze(cctx, address, defaultPrivacyTxLimit)
	cancel()
	if err != nil {
		return 0, err
	}
	if threshold := o.privacy.Threshold(); rec.Score < threshold {
		if o.Strict() {
			return rec.Score, fmt.Errorf("%w: score %d below %d", privacyscore.ErrInsufficientPrivacy, rec.Score, threshold)
		}
		log.Warn("swapping from low privacy vault", "score", rec.Score, "threshold", threshold)
	}
	return rec.Score, nil
}

// destination derives a stealth address for agentID, issuing a
// meta-address on first use.
func (o *Orchestrator) destination(ctx context.Context, agentID string) (*provider.StealthAddress, error) {
	cctx, cancel := o.callContext(ctx)
	defer cancel()

	meta, err := o.destinations.GetByAgentID(cctx, agentID)
	if errors.Is(err, stealth.ErrNoMetaAddress) {
		meta, err = o.destinations.GenerateForAgent(cctx, agentID, stealthDestinationLabel)
	}
	if err != nil {
		return nil, err
	}
	addr, shared, err := o.destinations.DeriveStealthAddress(cctx, *meta)
	if err != nil {
		return nil, err
	}
	crypto.Zero(shared)
	return addr, nil
}

func (o *Orchestrator) submit(ctx context.Context, rec *store.SwapRecord, slippageBps int, commitment string) (*ledger.Quote, error) {
	cctx, cancel := o.callContext(ctx)
	quote, err := o.venue.GetQuote(cctx, rec.InputMint, rec.OutputMint, rec.Amount)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}
	rec.QuotedOutput = quote.OutAmount

	cctx, cancel = o.callContext(ctx)
	receipt, err := o.venue.SubmitSwap(cctx, ledger.SwapRequest{
		From:               rec.VaultAddress,
		InputMint:          rec.InputMint,
		OutputMint:         rec.OutputMint,
		Amount:             rec.Amount,
		MinOutput:          quote.OutAmount - quote.OutAmount*uint64(slippageBps)/10_000,
		Destination:        rec.StealthAddress,
		EphemeralPublicKey: rec.EphemeralPublicKey,
		ViewTag:            rec.ViewTag,
		Commitment:         commitment,
		IdempotencyKey:     rec.IdempotencyKey + ":submit",
	})
	cancel()
	if err != nil {
		return nil, err
	}
	rec.TxRef = receipt.TxRef
	rec.OutputAmount = receipt.OutAmount
	if err := o.save(ctx, rec); err != nil {
		return nil, err
	}

	cctx, cancel = o.callContext(ctx)
	defer cancel()
	err = o.store.SaveTransfer(cctx, &store.TransferRecord{
		ID:           rec.ID,
		Sender:       rec.VaultAddress,
		Recipient:    rec.StealthAddress,
		Amount:       rec.Amount,
		Timestamp:    rec.UpdatedAt,
		TxSignature:  receipt.TxRef,
		CommitmentID: rec.CommitmentID,
		CreatedAt:    rec.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("store transfer: %w", err)
	}
	return quote, nil
}

func (o *Orchestrator) claim(ctx context.Context, rec *store.SwapRecord, amount uint64) error {
	cctx, cancel := o.callContext(ctx)
	owned := o.destinations.CheckOwnership(cctx, rec.AgentID, provider.StealthAddress{
		Address:            rec.StealthAddress,
		EphemeralPublicKey: rec.EphemeralPublicKey,
		ViewTag:            rec.ViewTag,
	})
	cancel()
	if !owned {
		return fmt.Errorf("%w: %s", ErrNotOwned, rec.AgentID)
	}

	cctx, cancel = o.callContext(ctx)
	ref, err := o.claimer.Claim(cctx, ledger.ClaimRequest{
		StealthAddress: rec.StealthAddress,
		Destination:    rec.VaultAddress,
		Amount:         amount,
		IdempotencyKey: rec.IdempotencyKey + ":claim",
	})
	cancel()
	if err != nil {
		return err
	}
	rec.ClaimTxRef = ref
	return o.save(ctx, rec)
}

func (o *Orchestrator) measure(ctx context.Context, rec *store.SwapRecord, quote *ledger.Quote) error {
	cctx, cancel := o.callContext(ctx)
	v, err := o.measurer.MeasureExtraction(cctx, quote, &ledger.SwapReceipt{TxRef: rec.TxRef, OutAmount: rec.OutputAmount})
	cancel()
	if err != nil {
		return err
	}
	rec.MEVExtracted = v
	metrics.ObserveMEV(v)
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, rec *store.SwapRecord) (*store.SwapRecord, error) {
	rec.Status = store.SwapCompleted
	if err := o.save(ctx, rec); err != nil {
		return nil, err
	}
	metrics.IncSwap(string(store.SwapCompleted))
	o.log.Info("swap completed", "swap", rec.ID, "vault", rec.VaultID, "mev", rec.MEVExtracted, "privacyScore", rec.PrivacyScore)
	return rec, nil
}

// fail records the failed step. The record is saved even when ctx is done.
func (o *Orchestrator) fail(ctx context.Context, rec *store.SwapRecord, step Step, cause error) (*store.SwapRecord, error) {
	rec.Status = store.SwapFailed
	rec.FailedStep = string(step)
	rec.Error = cause.Error()
	if err := o.save(context.WithoutCancel(ctx), rec); err != nil {
		o.log.Error("failed to persist swap failure", "swap", rec.ID, "err", err)
	}
	metrics.IncSwap(string(store.SwapFailed))
	metrics.IncSwapStepFailure(string(step))
	o.log.Error("swap failed", "swap", rec.ID, "vault", rec.VaultID, "step", step, "err", cause)
	return rec, fmt.Errorf("swap %s failed at %s: %w", rec.ID, step, cause)
}

func (o *Orchestrator) replay(ctx context.Context, id string) (*store.SwapRecord, error) {
	cctx, cancel := o.callContext(ctx)
	defer cancel()
	return o.store.Swap(cctx, id)
}

func (o *Orchestrator) save(ctx context.Context, rec *store.SwapRecord) error {
	rec.UpdatedAt = o.now()
	cctx, cancel := o.callContext(ctx)
	defer cancel()
	if err := o.store.SaveSwap(cctx, rec); err != nil {
		return fmt.Errorf("store swap: %w", err)
	}
	return nil
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.callTimeout)
}

func (o *Orchestrator) now() time.Time {
	return o.clock.Now().UTC().Truncate(time.Millisecond)
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
