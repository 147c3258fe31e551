package disclosure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fikriaf/ars-sub001/crypto"
	"github.com/fikriaf/ars-sub001/metrics"
	"github.com/fikriaf/ars-sub001/store"
	"github.com/fikriaf/ars-sub001/viewkey"
	"github.com/lightningnetwork/lnd/clock"
)

var (
	// ErrDisclosureNotFound is returned for unknown disclosures. Revoked and
	// expired disclosures match it too.
	ErrDisclosureNotFound = errors.New("disclosure not found")

	ErrDisclosureRevoked = fmt.Errorf("%w: revoked", ErrDisclosureNotFound)
	ErrDisclosureExpired = fmt.Errorf("%w: expired", ErrDisclosureNotFound)

	// ErrNoViewingKey is returned when no live viewing key has the role.
	ErrNoViewingKey = errors.New("no live viewing key for role")

	// ErrViewingKeyMismatch is returned when the presented key is not the
	// one the disclosure was sealed under.
	ErrViewingKeyMismatch = errors.New("viewing key does not match disclosure")

	ErrInvalidRange = errors.New("invalid report range")
)

const (
	DefaultExpiry       = 30 * 24 * time.Hour
	DefaultMaxRiskScore = 50

	sealInfo = "veil/disclosure/v1"
)

// KeySource resolves viewing keys. viewkey.Manager implements it.
type KeySource interface {
	ActiveByRole(ctx context.Context, role store.Role) ([]*store.ViewingKeyRecord, error)
	Key(ctx context.Context, id string) ([]byte, *store.ViewingKeyRecord, error)
}

// Config wires a Service.
type Config struct {
	Keys      KeySource
	Transfers store.TransferStore
	Store     store.DisclosureStore

	// Scorer defaults to ThresholdRiskScorer{}.
	Scorer RiskScorer

	// Expiry defaults to DefaultExpiry.
	Expiry time.Duration

	// MaxRiskScore is the highest score still reported compliant.
	MaxRiskScore int

	Clock clock.Clock
	Log   *slog.Logger
}

// Service discloses transfers to auditors under role-scoped viewing keys
// and verifies those disclosures for compliance.
type Service struct {
	keys         KeySource
	transfers    store.TransferStore
	store        store.DisclosureStore
	scorer       RiskScorer
	expiry       time.Duration
	maxRiskScore int
	clock        clock.Clock
	log          *slog.Logger
}

// NewService creates a disclosure service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Keys == nil || cfg.Transfers == nil || cfg.Store == nil {
		return nil, errors.New("disclosure: keys, transfers and store are required")
	}
	s := &Service{
		keys:         cfg.Keys,
		transfers:    cfg.Transfers,
		store:        cfg.Store,
		scorer:       cfg.Scorer,
		expiry:       cfg.Expiry,
		maxRiskScore: cfg.MaxRiskScore,
		clock:        cfg.Clock,
		log:          cfg.Log,
	}
	if s.scorer == nil {
		s.scorer = ThresholdRiskScorer{}
	}
	if s.expiry == 0 {
		s.expiry = DefaultExpiry
	}
	if s.maxRiskScore == 0 {
		s.maxRiskScore = DefaultMaxRiskScore
	}
	if s.clock == nil {
		s.clock = clock.NewDefaultClock()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "disclosure")
	return s, nil
}

// DiscloseToAuditor encrypts the fields of transactionID visible to role
// under the newest live viewing key of that role.
func (s *Service) DiscloseToAuditor(ctx context.Context, transactionID, auditorID string, role store.Role) (*store.DisclosureRecord, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", viewkey.ErrInvalidRole, role)
	}
	if strings.TrimSpace(auditorID) == "" {
		return nil, errors.New("empty auditor id")
	}
	t, err := s.transfers.Transfer(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("load transfer %s: %w", transactionID, err)
	}

	keys, err := s.keys.ActiveByRole(ctx, role)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoViewingKey, role)
	}
	key, vk, err := s.keys.Key(ctx, keys[0].ID)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(key)

	fields := FieldsForRole(role)
	plaintext, err := json.Marshal(project(t, fields))
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec := &store.DisclosureRecord{
		ID:              store.NewID(),
		TransactionID:   t.ID,
		AuditorID:       auditorID,
		Role:            role,
		ViewingKeyHash:  vk.KeyHash,
		DisclosedFields: fields,
		ExpiresAt:       now.Add(s.expiry),
		CreatedAt:       now,
	}
	rec.EncryptedData, err = seal(key, rec, plaintext)
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertDisclosure(ctx, rec); err != nil {
		return nil, fmt.Errorf("store disclosure: %w", err)
	}

	metrics.IncDisclosure(string(role))
	s.log.Info("transfer disclosed", "disclosure", rec.ID, "transaction", t.ID, "auditor", auditorID, "role", role)
	return rec, nil
}

// ComplianceReport is the result of verifying one disclosure.
type ComplianceReport struct {
	DisclosureID    string             `json:"disclosureId"`
	TransactionID   string             `json:"transactionId"`
	Compliant       bool               `json:"compliant"`
	RiskScore       int                `json:"riskScore"`
	Flags           []string           `json:"flags"`
	DisclosedFields []string           `json:"disclosedFields"`
	HiddenFields    []string           `json:"hiddenFields"`
	Transfer        *DisclosedTransfer `json:"transfer"`
	CheckedAt       time.Time          `json:"checkedAt"`
}

// VerifyCompliance decrypts a disclosure with viewingKey and scores the
// disclosed transfer. Revoked and expired disclosures read as absent.
func (s *Service) VerifyCompliance(ctx context.Context, disclosureID string, viewingKey []byte) (*ComplianceReport, error) {
	rec, err := s.live(ctx, disclosureID)
	if err != nil {
		return nil, err
	}
	if viewkey.KeyHash(viewingKey) != rec.ViewingKeyHash {
		return nil, ErrViewingKeyMismatch
	}

	report, err := s.check(ctx, rec, viewingKey)
	if err != nil {
		return nil, err
	}
	metrics.IncComplianceCheck(report.Compliant)
	if !report.Compliant {
		s.log.Warn("non-compliant transfer", "disclosure", rec.ID, "transaction", rec.TransactionID, "risk", report.RiskScore, "flags", report.Flags)
	}
	return report, nil
}

// check opens rec with viewingKey and scores the transfer inside.
func (s *Service) check(ctx context.Context, rec *store.DisclosureRecord, viewingKey []byte) (*ComplianceReport, error) {
	plaintext, err := open(viewingKey, rec)
	if err != nil {
		return nil, err
	}
	var t DisclosedTransfer
	if err := json.Unmarshal(plaintext, &t); err != nil {
		return nil, fmt.Errorf("%w: malformed payload", crypto.ErrDecryptionFailed)
	}

	risk, err := s.scorer.Score(ctx, &t)
	if err != nil {
		return nil, fmt.Errorf("score risk: %w", err)
	}
	return &ComplianceReport{
		DisclosureID:    rec.ID,
		TransactionID:   rec.TransactionID,
		Compliant:       risk.Score <= s.maxRiskScore,
		RiskScore:       risk.Score,
		Flags:           risk.Flags,
		DisclosedFields: rec.DisclosedFields,
		HiddenFields:    hiddenFields(rec.DisclosedFields),
		Transfer:        &t,
		CheckedAt:       s.now(),
	}, nil
}

// RevokeDisclosure revokes id. Revoking twice returns ErrDisclosureRevoked.
func (s *Service) RevokeDisclosure(ctx context.Context, id string) error {
	err := s.store.RevokeDisclosure(ctx, id, s.now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrDisclosureNotFound, id)
	case errors.Is(err, store.ErrAlreadyRevoked):
		return fmt.Errorf("%w: %s", ErrDisclosureRevoked, id)
	case err != nil:
		return err
	}
	s.log.Info("disclosure revoked", "disclosure", id)
	return nil
}

// ReportEntry is the compliance result for one disclosure. Error is set
// when the disclosure could not be opened or scored.
type ReportEntry struct {
	DisclosureID  string    `json:"disclosureId"`
	TransactionID string    `json:"transactionId"`
	AuditorID     string    `json:"auditorId"`
	Compliant     bool      `json:"compliant"`
	RiskScore     int       `json:"riskScore"`
	Flags         []string  `json:"flags"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// Report aggregates compliance checks over the live disclosures made in
// [From, To) under the live viewing keys of Role.
type Report struct {
	Role        store.Role     `json:"role"`
	From        time.Time      `json:"from"`
	To          time.Time      `json:"to"`
	Total       int            `json:"total"`
	Compliant   int            `json:"compliant"`
	Flagged     int            `json:"flagged"`
	Errors      int            `json:"errors"`
	ByAuditor   map[string]int `json:"byAuditor"`
	Entries     []ReportEntry  `json:"entries"`
	GeneratedAt time.Time      `json:"generatedAt"`
}

// GenerateReport verifies every disclosure made to role in [from, to) that
// is neither revoked nor expired and was sealed under a live viewing key of
// that role, and counts compliant and flagged transfers.
func (s *Service) GenerateReport(ctx context.Context, from, to time.Time, role store.Role) (*Report, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", viewkey.ErrInvalidRole, role)
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: %s is not before %s", ErrInvalidRange, from, to)
	}

	live, err := s.keys.ActiveByRole(ctx, role)
	if err != nil {
		return nil, err
	}
	if len(live) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoViewingKey, role)
	}
	keys := make(map[string][]byte, len(live))
	defer func() {
		for _, k := range keys {
			crypto.Zero(k)
		}
	}()
	for _, vk := range live {
		key, rec, err := s.keys.Key(ctx, vk.ID)
		if err != nil {
			return nil, err
		}
		keys[rec.KeyHash] = key
	}

	recs, err := s.store.DisclosuresInRange(ctx, role, from, to)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	r := &Report{
		Role:        role,
		From:        from,
		To:          to,
		ByAuditor:   make(map[string]int),
		Entries:     make([]ReportEntry, 0, len(recs)),
		GeneratedAt: s.now(),
	}
	for _, d := range recs {
		if d.RevokedAt != nil || !now.Before(d.ExpiresAt) {
			continue
		}
		key, ok := keys[d.ViewingKeyHash]
		if !ok {
			continue
		}

		entry := ReportEntry{
			DisclosureID:  d.ID,
			TransactionID: d.TransactionID,
			AuditorID:     d.AuditorID,
			Flags:         []string{},
			CreatedAt:     d.CreatedAt,
			ExpiresAt:     d.ExpiresAt,
		}
		c, err := s.check(ctx, d, key)
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			r.Errors++
			entry.Error = err.Error()
			s.log.Warn("disclosure failed verification", "disclosure", d.ID, "err", err)
		case c.Compliant:
			r.Compliant++
		default:
			r.Flagged++
		}
		if c != nil {
			entry.Compliant = c.Compliant
			entry.RiskScore = c.RiskScore
			entry.Flags = c.Flags
		}

		r.Total++
		r.ByAuditor[d.AuditorID]++
		r.Entries = append(r.Entries, entry)
	}
	return r, nil
}

// live loads a disclosure that is neither revoked nor expired.
func (s *Service) live(ctx context.Context, id string) (*store.DisclosureRecord, error) {
	rec, err := s.store.Disclosure(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDisclosureNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if rec.RevokedAt != nil {
		return nil, fmt.Errorf("%w: %s", ErrDisclosureRevoked, id)
	}
	if !s.clock.Now().Before(rec.ExpiresAt) {
		return nil, fmt.Errorf("%w: %s", ErrDisclosureExpired, id)
	}
	return rec, nil
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Millisecond)
}

// seal encrypts plaintext under a key derived from the viewing key and the
// disclosure id, bound to the disclosure's identifying fields.
func seal(viewingKey []byte, rec *store.DisclosureRecord, plaintext []byte) ([]byte, error) {
	key, err := crypto.DeriveKey(viewingKey, []byte(rec.ID), []byte(sealInfo))
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(key)
	return crypto.Seal(key, plaintext, aad(rec))
}

func open(viewingKey []byte, rec *store.DisclosureRecord) ([]byte, error) {
	key, err := crypto.DeriveKey(viewingKey, []byte(rec.ID), []byte(sealInfo))
	if err != nil {
		return nil, crypto.ErrDecryptionFailed
	}
	defer crypto.Zero(key)
	plaintext, err := crypto.Open(key, rec.EncryptedData, aad(rec))
	if err != nil {
		return nil, crypto.ErrDecryptionFailed
	}
	return plaintext, nil
}

func aad(rec *store.DisclosureRecord) []byte {
	return []byte(strings.Join([]string{rec.ID, rec.TransactionID, rec.AuditorID, string(rec.Role)}, "\x00"))
}
