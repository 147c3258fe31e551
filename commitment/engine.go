package commitment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/fikriaf/ars-sub001/crypto"
	"github.com/fikriaf/ars-sub001/metrics"
	"github.com/fikriaf/ars-sub001/provider"
	"github.com/fikriaf/ars-sub001/store"
	"github.com/lightningnetwork/lnd/clock"
)

var (
	// ErrCommitmentBatchFailure is returned when a batch could not be created
	// in full. Nothing from the batch is persisted.
	ErrCommitmentBatchFailure = errors.New("commitment batch failure")

	// ErrOverflow is returned when combined values exceed the value domain.
	ErrOverflow = errors.New("commitment value overflow")

	// ErrNegativeResult is returned when a subtraction would go below zero.
	ErrNegativeResult = errors.New("commitment value would be negative")
)

// DefaultIdentity is the vault identity sealing blinding factors.
const DefaultIdentity = "commitment-engine"

// Config wires an Engine.
type Config struct {
	Provider provider.CryptoProvider
	Store    store.CommitmentStore
	Vault    *crypto.Vault

	// Identity keys the vault encryption of blinding factors.
	Identity string

	Clock clock.Clock
	Log   *slog.Logger
}

// Engine creates, verifies and combines Pedersen commitments. Blinding
// factors leave the engine only in sealed form.
type Engine struct {
	provider provider.CryptoProvider
	store    store.CommitmentStore
	vault    *crypto.Vault
	identity string
	clock    clock.Clock
	log      *slog.Logger
}

// NewEngine creates a commitment engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Provider == nil || cfg.Store == nil || cfg.Vault == nil {
		return nil, errors.New("commitment: provider, store and vault are required")
	}
	identity := cfg.Identity
	if identity == "" {
		identity = DefaultIdentity
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		provider: cfg.Provider,
		store:    cfg.Store,
		vault:    cfg.Vault,
		identity: identity,
		clock:    clk,
		log:      log.With("component", "commitment"),
	}, nil
}

// Create commits to value and persists the record.
func (e *Engine) Create(ctx context.Context, value uint64) (*store.CommitmentRecord, error) {
	rec, err := e.newRecord(ctx, value)
	if err != nil {
		return nil, err
	}
	if err := e.store.SaveCommitments(ctx, []*store.CommitmentRecord{rec}); err != nil {
		return nil, fmt.Errorf("store commitment: %w", err)
	}
	metrics.AddCommitmentsCreated(1)
	return rec, nil
}

// Verify checks commitment against value and a plaintext blinding factor.
func (e *Engine) Verify(ctx context.Context, commitment string, value uint64, blindingFactor []byte) (bool, error) {
	return e.provider.VerifyCommitment(ctx, commitment, value, blindingFactor)
}

// VerifyRecord checks a stored commitment against value and stamps it as
// verified on success.
func (e *Engine) VerifyRecord(ctx context.Context, id string, value uint64) (bool, error) {
	rec, err := e.store.Commitment(ctx, id)
	if err != nil {
		return false, err
	}
	blinding, err := e.vault.Decrypt(rec.BlindingFactor, e.identity)
	if err != nil {
		return false, err
	}
	defer crypto.Zero(blinding)

	ok, err := e.provider.VerifyCommitment(ctx, rec.Commitment, value, blinding)
	if err != nil || !ok {
		return false, err
	}
	if err := e.store.MarkCommitmentVerified(ctx, id, e.now()); err != nil {
		return false, fmt.Errorf("mark verified: %w", err)
	}
	return true, nil
}

// Combine returns a new stored commitment to the sum of two stored ones.
func (e *Engine) Combine(ctx context.Context, idA, idB string) (*store.CommitmentRecord, error) {
	return e.combine(ctx, provider.CombineAdd, idA, idB)
}

// Subtract returns a new stored commitment to the difference of two stored
// ones. The result must not be negative.
func (e *Engine) Subtract(ctx context.Context, idA, idB string) (*store.CommitmentRecord, error) {
	return e.combine(ctx, provider.CombineSub, idA, idB)
}

func (e *Engine) combine(ctx context.Context, op provider.CombineOp, idA, idB string) (*store.CommitmentRecord, error) {
	a, err := e.store.Commitment(ctx, idA)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", idA, err)
	}
	b, err := e.store.Commitment(ctx, idB)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", idB, err)
	}

	var value uint64
	switch op {
	case provider.CombineAdd:
		if a.Value > math.MaxUint64-b.Value {
			return nil, ErrOverflow
		}
		value = a.Value + b.Value
	case provider.CombineSub:
		if a.Value < b.Value {
			return nil, ErrNegativeResult
		}
		value = a.Value - b.Value
	default:
		return nil, fmt.Errorf("%w: unknown op %q", provider.ErrInvalidCombine, op)
	}

	ra, err := e.vault.Decrypt(a.BlindingFactor, e.identity)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(ra)
	rb, err := e.vault.Decrypt(b.BlindingFactor, e.identity)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(rb)

	c, err := e.provider.CombineCommitments(ctx, provider.CombineRequest{
		Op:              op,
		Commitments:     []string{a.Commitment, b.Commitment},
		BlindingFactors: [][]byte{ra, rb},
	})
	if err != nil {
		return nil, fmt.Errorf("combine commitments: %w", err)
	}

	rec, err := e.seal(c, value)
	if err != nil {
		return nil, err
	}
	if err := e.store.SaveCommitments(ctx, []*store.CommitmentRecord{rec}); err != nil {
		return nil, fmt.Errorf("store commitment: %w", err)
	}
	return rec, nil
}

// BatchCreate commits to every value and persists all records in one
// transaction. On any failure nothing is persisted.
func (e *Engine) BatchCreate(ctx context.Context, values []uint64) ([]*store.CommitmentRecord, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrCommitmentBatchFailure)
	}
	recs := make([]*store.CommitmentRecord, 0, len(values))
	for i, v := range values {
		rec, err := e.newRecord(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("%w: item %d: %w", ErrCommitmentBatchFailure, i, err)
		}
		recs = append(recs, rec)
	}
	if err := e.store.SaveCommitments(ctx, recs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCommitmentBatchFailure, err)
	}
	metrics.AddCommitmentsCreated(len(recs))
	e.log.Debug("commitment batch created", "size", len(recs))
	return recs, nil
}

// BlindingFactor decrypts the blinding factor of a stored commitment. The
// caller must zero the result.
func (e *Engine) BlindingFactor(ctx context.Context, id string) ([]byte, error) {
	rec, err := e.store.Commitment(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.vault.Decrypt(rec.BlindingFactor, e.identity)
}

func (e *Engine) newRecord(ctx context.Context, value uint64) (*store.CommitmentRecord, error) {
	c, err := e.provider.CreateCommitment(ctx, value)
	if err != nil {
		return nil, fmt.Errorf("create commitment: %w", err)
	}
	return e.seal(c, value)
}

// seal encrypts and zeroes the blinding factor of c.
func (e *Engine) seal(c *provider.Commitment, value uint64) (*store.CommitmentRecord, error) {
	defer crypto.Zero(c.BlindingFactor)
	blob, err := e.vault.Encrypt(c.BlindingFactor, e.identity)
	if err != nil {
		return nil, fmt.Errorf("seal blinding factor: %w", err)
	}
	return &store.CommitmentRecord{
		ID:             store.NewID(),
		Commitment:     c.Commitment,
		BlindingFactor: blob,
		Value:          value,
		CreatedAt:      e.now(),
	}, nil
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC().Truncate(time.Millisecond)
}
