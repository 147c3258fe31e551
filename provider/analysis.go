package provider

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fikriaf/ars-sub001/ledger"
)

// GradeForScore maps a 0-100 score to a letter grade.
func GradeForScore(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	case score >= 50:
		return "E"
	default:
		return "F"
	}
}

// analyzeHistory scores how much an address's transaction history reveals.
// Each heuristic subtracts from a perfect score of 100.
func analyzeHistory(address string, txs []ledger.Transaction) *PrivacyAnalysis {
	a := &PrivacyAnalysis{Address: address, Score: 100}

	if len(txs) == 0 {
		a.Factors = append(a.Factors, Factor{
			Name:        "no_history",
			Impact:      0,
			Description: "no transactions observed",
		})
		a.Grade = GradeForScore(a.Score)
		return a
	}

	addr := strings.ToLower(address)
	counterparties := make(map[string]int)
	stealth, round := 0, 0
	for _, tx := range txs {
		other := tx.To
		if strings.ToLower(tx.To) == addr {
			other = tx.From
		}
		counterparties[strings.ToLower(other)]++
		if tx.Stealth {
			stealth++
		}
		if tx.Amount >= 1000 && tx.Amount%1000 == 0 {
			round++
		}
	}

	apply := func(name string, impact int, desc, rec string) {
		if impact <= 0 {
			return
		}
		a.Score -= impact
		a.Factors = append(a.Factors, Factor{Name: name, Impact: -impact, Description: desc})
		if rec != "" {
			a.Recommendations = append(a.Recommendations, rec)
		}
	}

	n := len(txs)

	// Repeated interaction with the same counterparty links activity.
	maxRepeat := 0
	for _, c := range counterparties {
		if c > maxRepeat {
			maxRepeat = c
		}
	}
	if n >= 2 && maxRepeat > 1 {
		apply("address_reuse", min(30, 30*(maxRepeat-1)/(n-1)+5),
			fmt.Sprintf("%d of %d transactions share one counterparty", maxRepeat, n),
			"use a fresh stealth address for each counterparty")
	}

	// Public transfers are linkable on chain.
	if public := n - stealth; public > 0 {
		apply("public_transfers", 30*public/n,
			fmt.Sprintf("%d of %d transactions used public addresses", public, n),
			"route inbound payments through stealth addresses")
	}

	// Round amounts are easy to correlate across hops.
	if round > 0 {
		apply("round_amounts", 15*round/n,
			fmt.Sprintf("%d of %d transactions used round amounts", round, n),
			"hide amounts with commitments or split into irregular values")
	}

	// Regular timing fingerprints automated activity.
	if n >= 3 && regularIntervals(txs) {
		apply("timing_pattern", 15,
			"transactions occur at regular intervals",
			"randomize transaction timing")
	}

	if a.Score < 0 {
		a.Score = 0
	}
	a.Grade = GradeForScore(a.Score)
	return a
}

// regularIntervals reports whether consecutive gaps stay within 10% of the
// median gap.
func regularIntervals(txs []ledger.Transaction) bool {
	times := make([]time.Time, len(txs))
	for i, tx := range txs {
		times[i] = tx.Timestamp
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	gaps := make([]time.Duration, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		gaps = append(gaps, times[i].Sub(times[i-1]))
	}
	sorted := append([]time.Duration(nil), gaps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	median := sorted[len(sorted)/2]
	if median <= 0 {
		return false
	}

	tolerance := median / 10
	for _, g := range gaps {
		d := g - median
		if d < 0 {
			d = -d
		}
		if d > tolerance {
			return false
		}
	}
	return true
}
