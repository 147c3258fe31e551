package disclosure

import (
	"context"
	"strings"
)

// Risk flags raised by ThresholdRiskScorer.
const (
	FlagLargeAmount       = "large_amount"
	FlagStructuring       = "possible_structuring"
	FlagDenylistedParty   = "denylisted_party"
	FlagAmountUndisclosed = "amount_undisclosed"
)

// RiskAssessment is a 0-100 risk score with the reasons behind it.
type RiskAssessment struct {
	Score int      `json:"score"`
	Flags []string `json:"flags"`
}

// RiskScorer rates a disclosed transfer.
type RiskScorer interface {
	Score(ctx context.Context, t *DisclosedTransfer) (*RiskAssessment, error)
}

const (
	DefaultLargeAmount     = 1_000_000
	DefaultStructuringBand = 10
)

// ThresholdRiskScorer flags large transfers, transfers just under the
// large-amount threshold and transfers touching denylisted addresses.
type ThresholdRiskScorer struct {
	// LargeAmount defaults to DefaultLargeAmount.
	LargeAmount uint64

	// StructuringBand is the percentage below LargeAmount treated as
	// possible structuring. Defaults to DefaultStructuringBand.
	StructuringBand uint64

	Denylist []string
}

func (s ThresholdRiskScorer) Score(_ context.Context, t *DisclosedTransfer) (*RiskAssessment, error) {
	large := s.LargeAmount
	if large == 0 {
		large = DefaultLargeAmount
	}
	band := s.StructuringBand
	if band == 0 {
		band = DefaultStructuringBand
	}

	a := &RiskAssessment{Flags: []string{}}
	switch {
	case t.Amount == nil:
		a.Score += 10
		a.Flags = append(a.Flags, FlagAmountUndisclosed)
	case *t.Amount >= large:
		a.Score += 40
		a.Flags = append(a.Flags, FlagLargeAmount)
	case *t.Amount >= large-large*band/100:
		a.Score += 30
		a.Flags = append(a.Flags, FlagStructuring)
	}

	for _, addr := range s.Denylist {
		if addr == "" {
			continue
		}
		if strings.EqualFold(addr, t.Sender) || strings.EqualFold(addr, t.Recipient) {
			a.Score += 100
			a.Flags = append(a.Flags, FlagDenylistedParty)
			break
		}
	}
	a.Score = min(a.Score, 100)
	return a, nil
}
