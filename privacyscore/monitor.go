package privacyscore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fikriaf/ars-sub001/metrics"
	"github.com/fikriaf/ars-sub001/provider"
	"github.com/fikriaf/ars-sub001/store"
	"github.com/lightningnetwork/lnd/clock"
	"go.uber.org/atomic"
)

var (
	// ErrInsufficientPrivacy reports a score below the configured threshold.
	// It is advisory unless the caller runs in strict mode.
	ErrInsufficientPrivacy = errors.New("insufficient privacy")
	ErrInvalidThreshold    = errors.New("privacy threshold out of range")
)

const (
	DefaultThreshold = 70
	DefaultTxLimit   = 100
	DefaultTrendSize = 10

	// TrendMargin is the mean difference needed to leave stable.
	TrendMargin = 5.0
)

// Direction is the movement of a score series.
type Direction string

const (
	Improving Direction = "improving"
	Degrading Direction = "degrading"
	Stable    Direction = "stable"
)

// Trend summarizes the most recent scores of an address, newest first.
type Trend struct {
	Address      string    `json:"address"`
	Scores       []int     `json:"scores"`
	AverageScore float64   `json:"averageScore"`
	Direction    Direction `json:"direction"`
}

// Config wires a Monitor.
type Config struct {
	Provider provider.CryptoProvider
	Store    store.PrivacyScoreStore

	// Threshold defaults to DefaultThreshold when nil. Zero disables
	// alerts.
	Threshold *int

	// Sinks receive low-privacy alerts in addition to the log sink.
	Sinks []AlertSink

	Clock clock.Clock
	Log   *slog.Logger
}

// Monitor computes and tracks privacy scores per address.
type Monitor struct {
	provider  provider.CryptoProvider
	store     store.PrivacyScoreStore
	threshold *atomic.Int64
	sinks     []AlertSink
	clock     clock.Clock
	log       *slog.Logger
}

// NewMonitor creates a privacy score monitor.
func NewMonitor(cfg Config) (*Monitor, error) {
	if cfg.Provider == nil || cfg.Store == nil {
		return nil, errors.New("privacyscore: provider and store are required")
	}
	threshold := DefaultThreshold
	if cfg.Threshold != nil {
		threshold = *cfg.Threshold
	}
	if threshold < 0 || threshold > 100 {
		return nil, fmt.Errorf("privacyscore: %w: %d", ErrInvalidThreshold, threshold)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "privacyscore")
	return &Monitor{
		provider:  cfg.Provider,
		store:     cfg.Store,
		threshold: atomic.NewInt64(int64(threshold)),
		sinks:     append([]AlertSink{LogSink{Log: log}}, cfg.Sinks...),
		clock:     clk,
		log:       log,
	}, nil
}

// Threshold returns the current alert threshold.
func (m *Monitor) Threshold() int {
	return int(m.threshold.Load())
}

// SetThreshold changes the alert threshold. Safe to call while analyses run.
func (m *Monitor) SetThreshold(threshold int) error {
	if threshold < 0 || threshold > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidThreshold, threshold)
	}
	old := m.threshold.Swap(int64(threshold))
	if old != int64(threshold) {
		m.log.Info("privacy threshold changed", "from", old, "to", threshold)
	}
	return nil
}

// Analyze requests an analysis of address from the provider, persists it
// and raises an alert when the score is below the threshold.
func (m *Monitor) Analyze(ctx context.Context, address string, txLimit int) (*store.PrivacyScoreRecord, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errors.New("empty address")
	}
	if txLimit <= 0 {
		txLimit = DefaultTxLimit
	}

	a, err := m.provider.AnalyzePrivacy(ctx, address, txLimit)
	if err != nil {
		return nil, fmt.Errorf("analyze privacy: %w", err)
	}
	score := min(max(a.Score, 0), 100)
	rec := &store.PrivacyScoreRecord{
		ID:              store.NewID(),
		Address:         address,
		Score:           score,
		Grade:           provider.GradeForScore(score),
		Factors:         a.Factors,
		Recommendations: a.Recommendations,
		AnalyzedAt:      m.clock.Now().UTC().Truncate(time.Millisecond),
	}
	if err := m.store.InsertPrivacyScore(ctx, rec); err != nil {
		return nil, fmt.Errorf("store privacy score: %w", err)
	}
	metrics.IncPrivacyAnalysis()

	if threshold := m.Threshold(); score < threshold {
		m.alert(ctx, Alert{
			Address:         address,
			Score:           score,
			Grade:           rec.Grade,
			Threshold:       threshold,
			Recommendations: rec.Recommendations,
			At:              rec.AnalyzedAt,
		})
	}
	return rec, nil
}

// Trend compares the newer and older halves of the last n scores.
func (m *Monitor) Trend(ctx context.Context, address string, n int) (*Trend, error) {
	if n <= 0 {
		n = DefaultTrendSize
	}
	recs, err := m.store.LatestPrivacyScores(ctx, address, n)
	if err != nil {
		return nil, err
	}
	scores := make([]int, len(recs))
	for i, r := range recs {
		scores[i] = r.Score
	}
	return &Trend{
		Address:      address,
		Scores:       scores,
		AverageScore: mean(scores),
		Direction:    direction(scores),
	}, nil
}

// NeedsEnhancedProtection reports whether the latest score of address is
// below the threshold. An address without history is analyzed first.
func (m *Monitor) NeedsEnhancedProtection(ctx context.Context, address string) (bool, error) {
	score, err := m.latestScore(ctx, address)
	if err != nil {
		return false, err
	}
	return score < m.Threshold(), nil
}

// Check returns ErrInsufficientPrivacy when the latest score of address is
// below the threshold.
func (m *Monitor) Check(ctx context.Context, address string) (int, error) {
	score, err := m.latestScore(ctx, address)
	if err != nil {
		return 0, err
	}
	if threshold := m.Threshold(); score < threshold {
		return score, fmt.Errorf("%w: score %d below %d", ErrInsufficientPrivacy, score, threshold)
	}
	return score, nil
}

func (m *Monitor) latestScore(ctx context.Context, address string) (int, error) {
	recs, err := m.store.LatestPrivacyScores(ctx, address, 1)
	if err != nil {
		return 0, err
	}
	if len(recs) > 0 {
		return recs[0].Score, nil
	}
	rec, err := m.Analyze(ctx, address, DefaultTxLimit)
	if err != nil {
		return 0, err
	}
	return rec.Score, nil
}

func (m *Monitor) alert(ctx context.Context, a Alert) {
	metrics.IncPrivacyAlert()
	for _, s := range m.sinks {
		if err := s.Alert(ctx, a); err != nil {
			m.log.Error("privacy alert delivery failed", "address", a.Address, "err", err)
		}
	}
}

// direction splits scores (newest first) into halves. With an odd count
// the middle score belongs to the older half.
func direction(scores []int) Direction {
	if len(scores) < 2 {
		return Stable
	}
	half := len(scores) / 2
	diff := mean(scores[:half]) - mean(scores[half:])
	switch {
	case diff > TrendMargin:
		return Improving
	case diff < -TrendMargin:
		return Degrading
	}
	return Stable
}

func mean(xs []int) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}
