package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/lightningnetwork/lnd/clock"
)

// Pair identifies a venue market.
type Pair struct {
	InputMint  string
	OutputMint string
}

// MemoryLedger is an in-process slot ledger. It implements
// AnnouncementSource, HistorySource, Venue and Claimer, and is used by the
// reference provider, the demo daemon and tests.
type MemoryLedger struct {
	mu sync.Mutex

	clock clock.Clock
	slot  uint64

	balances      map[string]uint64
	transactions  []Transaction
	announcements []Announcement

	rates         map[Pair]float64
	extractionBps int

	swaps  map[string]*SwapReceipt
	claims map[string]string
}

// NewMemoryLedger creates an empty ledger at slot 1. No transaction lands
// in slot 0, so a zero scan watermark covers the whole ledger.
func NewMemoryLedger(clk clock.Clock) *MemoryLedger {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &MemoryLedger{
		clock:    clk,
		slot:     1,
		balances: make(map[string]uint64),
		rates:    make(map[Pair]float64),
		swaps:    make(map[string]*SwapReceipt),
		claims:   make(map[string]string),
	}
}

// Slot returns the current slot.
func (l *MemoryLedger) Slot() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.slot
}

// SetSlot moves the ledger to slot. Slots never move backwards.
func (l *MemoryLedger) SetSlot(slot uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if slot > l.slot {
		l.slot = slot
	}
}

// AdvanceSlot increments the current slot and returns it.
func (l *MemoryLedger) AdvanceSlot() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.slot++
	return l.slot
}

// Fund credits amount to address.
func (l *MemoryLedger) Fund(address string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[normalize(address)] += amount
}

// Balance returns the balance held at address.
func (l *MemoryLedger) Balance(address string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[normalize(address)]
}

// SetRate sets the venue price for a pair as output units per input unit.
func (l *MemoryLedger) SetRate(inputMint, outputMint string, rate float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rates[Pair{inputMint, outputMint}] = rate
}

// SetExtraction makes every subsequent swap execute bps basis points below
// its quote, simulating a sandwich on the venue.
func (l *MemoryLedger) SetExtraction(bps int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.extractionBps = bps
}

// Transfer moves amount between two public addresses at the current slot.
func (l *MemoryLedger) Transfer(_ context.Context, from, to string, amount uint64) (*Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.debit(from, amount); err != nil {
		return nil, err
	}
	l.balances[normalize(to)] += amount
	tx := l.record(from, to, amount, false)
	return &tx, nil
}

// SendStealth pays amount to a stealth address and publishes the matching
// announcement at the current slot.
func (l *MemoryLedger) SendStealth(_ context.Context, from string, a Announcement) (*Announcement, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.debit(from, a.Amount); err != nil {
		return nil, err
	}
	l.balances[normalize(a.StealthAddress)] += a.Amount
	tx := l.record(from, a.StealthAddress, a.Amount, true)

	a.Slot = tx.Slot
	a.Timestamp = tx.Timestamp
	a.TxRef = tx.TxRef
	l.announcements = append(l.announcements, a)
	return &a, nil
}

// Announcements implements AnnouncementSource. A batch reaching the current
// slot settles it: later transactions land in the next slot, so a scanner
// that has read slot n never misses a payment announced after the read.
func (l *MemoryLedger) Announcements(_ context.Context, afterSlot uint64, limit int) ([]Announcement, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 {
		return nil, fmt.Errorf("invalid limit %d", limit)
	}

	var out []Announcement
	for _, a := range l.announcements {
		if a.Slot <= afterSlot {
			continue
		}
		if len(out) >= limit && a.Slot != out[len(out)-1].Slot {
			break
		}
		out = append(out, a)
	}
	if len(out) > 0 && out[len(out)-1].Slot == l.slot {
		l.slot++
	}
	return out, nil
}

// History implements HistorySource.
func (l *MemoryLedger) History(_ context.Context, address string, limit int) ([]Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	addr := normalize(address)
	var out []Transaction
	for i := len(l.transactions) - 1; i >= 0; i-- {
		tx := l.transactions[i]
		if normalize(tx.From) != addr && normalize(tx.To) != addr {
			continue
		}
		out = append(out, tx)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// GetQuote implements Venue.
func (l *MemoryLedger) GetQuote(_ context.Context, inputMint, outputMint string, amount uint64) (*Quote, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.quote(inputMint, outputMint, amount)
}

// SubmitSwap implements Venue. Repeating a request with the same
// IdempotencyKey returns the original receipt.
func (l *MemoryLedger) SubmitSwap(_ context.Context, req SwapRequest) (*SwapReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if req.IdempotencyKey != "" {
		if r, ok := l.swaps[req.IdempotencyKey]; ok {
			cp := *r
			return &cp, nil
		}
	}

	q, err := l.quote(req.InputMint, req.OutputMint, req.Amount)
	if err != nil {
		return nil, err
	}
	out := q.OutAmount - q.OutAmount*uint64(l.extractionBps)/10_000
	if out < req.MinOutput {
		return nil, ErrSlippageExceeded
	}

	if err := l.debit(req.From, req.Amount); err != nil {
		return nil, err
	}
	l.balances[normalize(req.Destination)] += out
	tx := l.record(req.From, req.Destination, out, req.EphemeralPublicKey != "")

	if req.EphemeralPublicKey != "" {
		l.announcements = append(l.announcements, Announcement{
			StealthAddress:     req.Destination,
			EphemeralPublicKey: req.EphemeralPublicKey,
			ViewTag:            req.ViewTag,
			Amount:             out,
			Commitment:         req.Commitment,
			Slot:               tx.Slot,
			Timestamp:          tx.Timestamp,
			TxRef:              tx.TxRef,
		})
	}

	receipt := &SwapReceipt{TxRef: tx.TxRef, OutAmount: out, Slot: tx.Slot}
	if req.IdempotencyKey != "" {
		cp := *receipt
		l.swaps[req.IdempotencyKey] = &cp
	}
	return receipt, nil
}

// Claim implements Claimer. Repeating a request with the same
// IdempotencyKey returns the original transaction reference.
func (l *MemoryLedger) Claim(_ context.Context, req ClaimRequest) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if req.IdempotencyKey != "" {
		if ref, ok := l.claims[req.IdempotencyKey]; ok {
			return ref, nil
		}
	}

	if err := l.debit(req.StealthAddress, req.Amount); err != nil {
		return "", err
	}
	l.balances[normalize(req.Destination)] += req.Amount
	tx := l.record(req.StealthAddress, req.Destination, req.Amount, false)

	if req.IdempotencyKey != "" {
		l.claims[req.IdempotencyKey] = tx.TxRef
	}
	return tx.TxRef, nil
}

func (l *MemoryLedger) quote(inputMint, outputMint string, amount uint64) (*Quote, error) {
	rate, ok := l.rates[Pair{inputMint, outputMint}]
	if !ok {
		if inputMint != outputMint {
			return nil, fmt.Errorf("%w: %s/%s", ErrUnknownPair, inputMint, outputMint)
		}
		rate = 1
	}
	return &Quote{
		InputMint:  inputMint,
		OutputMint: outputMint,
		InAmount:   amount,
		OutAmount:  uint64(float64(amount) * rate),
	}, nil
}

func (l *MemoryLedger) debit(address string, amount uint64) error {
	addr := normalize(address)
	if l.balances[addr] < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, address, l.balances[addr], amount)
	}
	l.balances[addr] -= amount
	return nil
}

// record appends a transaction at the current slot. Callers hold l.mu.
func (l *MemoryLedger) record(from, to string, amount uint64, stealth bool) Transaction {
	tx := Transaction{
		TxRef:     newTxRef(),
		From:      from,
		To:        to,
		Amount:    amount,
		Slot:      l.slot,
		Timestamp: l.clock.Now(),
		Stealth:   stealth,
	}
	l.transactions = append(l.transactions, tx)
	return tx
}

func newTxRef() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func normalize(address string) string {
	return strings.ToLower(address)
}
