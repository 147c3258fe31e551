package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInsufficientBalance is returned when a transfer or claim exceeds
	// the balance held at the source address.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrUnknownPair is returned when the venue cannot quote a pair.
	ErrUnknownPair = errors.New("unknown trading pair")

	// ErrSlippageExceeded is returned when execution falls below MinOutput.
	ErrSlippageExceeded = errors.New("slippage exceeded")
)

// Announcement is a public record published with every stealth payment.
// It carries what a recipient needs to recognize the payment with its
// view key.
type Announcement struct {
	StealthAddress     string    `json:"stealthAddress"`
	EphemeralPublicKey string    `json:"ephemeralPublicKey"`
	ViewTag            uint8     `json:"viewTag"`
	Amount             uint64    `json:"amount"`
	Commitment         string    `json:"commitment,omitempty"`
	Slot               uint64    `json:"slot"`
	Timestamp          time.Time `json:"timestamp"`
	TxRef              string    `json:"txRef"`
}

// Transaction is a settled value transfer between two addresses.
type Transaction struct {
	TxRef     string    `json:"txRef"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Amount    uint64    `json:"amount"`
	Slot      uint64    `json:"slot"`
	Timestamp time.Time `json:"timestamp"`
	Stealth   bool      `json:"stealth"`
}

// AnnouncementSource lists stealth payment announcements in slot order.
type AnnouncementSource interface {
	// Announcements returns up to limit announcements with slot strictly
	// greater than afterSlot. Announcements sharing a slot are never split
	// across calls, so a batch may exceed limit by the size of its last slot.
	Announcements(ctx context.Context, afterSlot uint64, limit int) ([]Announcement, error)
}

// HistorySource returns recent transactions touching an address, newest first.
type HistorySource interface {
	History(ctx context.Context, address string, limit int) ([]Transaction, error)
}

// Quote is a venue price for swapping Amount of InputMint.
type Quote struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       uint64 `json:"inAmount"`
	OutAmount      uint64 `json:"outAmount"`
	PriceImpactBps int    `json:"priceImpactBps"`
}

// SwapRequest submits a swap whose output is sent to Destination.
// When Destination is a stealth address, EphemeralPublicKey and ViewTag are
// published as an Announcement so the recipient can detect the output.
type SwapRequest struct {
	From               string `json:"from"`
	InputMint          string `json:"inputMint"`
	OutputMint         string `json:"outputMint"`
	Amount             uint64 `json:"amount"`
	MinOutput          uint64 `json:"minOutput"`
	Destination        string `json:"destination"`
	EphemeralPublicKey string `json:"ephemeralPublicKey,omitempty"`
	ViewTag            uint8  `json:"viewTag"`
	Commitment         string `json:"commitment,omitempty"`
	IdempotencyKey     string `json:"idempotencyKey"`
}

// SwapReceipt is the venue's result for an executed swap.
type SwapReceipt struct {
	TxRef     string `json:"txRef"`
	OutAmount uint64 `json:"outAmount"`
	Slot      uint64 `json:"slot"`
}

// Venue executes swaps.
type Venue interface {
	GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64) (*Quote, error)
	SubmitSwap(ctx context.Context, req SwapRequest) (*SwapReceipt, error)
}

// ClaimRequest sweeps funds held at a stealth address to a destination.
type ClaimRequest struct {
	StealthAddress string `json:"stealthAddress"`
	Destination    string `json:"destination"`
	Amount         uint64 `json:"amount"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// Claimer moves funds out of stealth addresses.
type Claimer interface {
	Claim(ctx context.Context, req ClaimRequest) (txRef string, err error)
}

// MEVMeasurer measures value extracted from an executed swap by adversarial
// ordering, in output units.
type MEVMeasurer interface {
	MeasureExtraction(ctx context.Context, quote *Quote, receipt *SwapReceipt) (float64, error)
}

// SlippageMeasurer attributes the shortfall between the quoted and executed
// output to extraction.
type SlippageMeasurer struct{}

// MeasureExtraction returns max(0, quote.OutAmount - receipt.OutAmount).
func (SlippageMeasurer) MeasureExtraction(_ context.Context, quote *Quote, receipt *SwapReceipt) (float64, error) {
	if quote == nil || receipt == nil {
		return 0, errors.New("missing quote or receipt")
	}
	if receipt.OutAmount >= quote.OutAmount {
		return 0, nil
	}
	return float64(quote.OutAmount - receipt.OutAmount), nil
}
