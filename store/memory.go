package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore implements Store in memory for tests and single-process demos.
// Records are copied on the way in and out.
type MemoryStore struct {
	mu sync.RWMutex

	stealth     []*StealthAddressRecord
	payments    map[paymentKey]*DetectedPayment
	watermarks  map[string]*ScanWatermark
	commitments map[string]*CommitmentRecord
	scores      map[string][]*PrivacyScoreRecord
	swaps       map[string]*SwapRecord
	swapSeq     map[string]uint64
	viewingKeys map[string]*ViewingKeyRecord
	disclosures map[string]*DisclosureRecord
	transfers   map[string]*TransferRecord
}

type paymentKey struct {
	address string
	slot    uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments:    make(map[paymentKey]*DetectedPayment),
		watermarks:  make(map[string]*ScanWatermark),
		commitments: make(map[string]*CommitmentRecord),
		scores:      make(map[string][]*PrivacyScoreRecord),
		swaps:       make(map[string]*SwapRecord),
		swapSeq:     make(map[string]uint64),
		viewingKeys: make(map[string]*ViewingKeyRecord),
		disclosures: make(map[string]*DisclosureRecord),
		transfers:   make(map[string]*TransferRecord),
	}
}

var _ Store = (*MemoryStore)(nil)

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) InsertStealthRecord(_ context.Context, rec *StealthAddressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.stealth {
		if r.ID == rec.ID {
			return ErrDuplicate
		}
	}
	cp := *rec
	s.stealth = append(s.stealth, &cp)
	return nil
}

func (s *MemoryStore) ActiveStealthRecord(_ context.Context, agentID string) (*StealthAddressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.stealth) - 1; i >= 0; i-- {
		r := s.stealth[i]
		if r.AgentID == agentID && r.Active {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) StealthRecordsByAgent(_ context.Context, agentID string) ([]*StealthAddressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*StealthAddressRecord
	for i := len(s.stealth) - 1; i >= 0; i-- {
		if r := s.stealth[i]; r.AgentID == agentID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) RotateStealthRecords(_ context.Context, agentID string, next *StealthAddressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.stealth {
		if r.ID == next.ID {
			return ErrDuplicate
		}
	}
	for _, r := range s.stealth {
		if r.AgentID == agentID {
			r.Active = false
		}
	}
	cp := *next
	s.stealth = append(s.stealth, &cp)
	return nil
}

func (s *MemoryStore) DeactivateStealthRecords(_ context.Context, agentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.stealth {
		if r.AgentID == agentID && r.Active {
			r.Active = false
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ActiveAgents(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, r := range s.stealth {
		if r.Active && !seen[r.AgentID] {
			seen[r.AgentID] = true
			out = append(out, r.AgentID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) InsertPayments(_ context.Context, payments []*DetectedPayment) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range payments {
		k := paymentKey{strings.ToLower(p.StealthAddress), p.Slot}
		if _, ok := s.payments[k]; ok {
			continue
		}
		cp := *p
		s.payments[k] = &cp
		n++
	}
	return n, nil
}

func (s *MemoryStore) PaymentsByAgent(_ context.Context, agentID string) ([]*DetectedPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*DetectedPayment
	for _, p := range s.payments {
		if p.AgentID == agentID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Slot != out[j].Slot {
			return out[i].Slot < out[j].Slot
		}
		return out[i].StealthAddress < out[j].StealthAddress
	})
	return out, nil
}

func (s *MemoryStore) Watermark(_ context.Context, agentID string) (*ScanWatermark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if w, ok := s.watermarks[agentID]; ok {
		cp := *w
		return &cp, nil
	}
	return &ScanWatermark{AgentID: agentID}, nil
}

func (s *MemoryStore) AdvanceWatermark(_ context.Context, agentID string, slot uint64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watermarks[agentID]
	if ok && slot <= w.LastScannedSlot {
		return false, nil
	}
	if !ok && slot == 0 {
		return false, nil
	}
	s.watermarks[agentID] = &ScanWatermark{AgentID: agentID, LastScannedSlot: slot, LastScanAt: at}
	return true, nil
}

func (s *MemoryStore) SaveCommitments(_ context.Context, recs []*CommitmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(recs))
	for _, r := range recs {
		if _, ok := s.commitments[r.ID]; ok || seen[r.ID] {
			return ErrDuplicate
		}
		seen[r.ID] = true
	}
	for _, r := range recs {
		cp := *r
		s.commitments[r.ID] = &cp
	}
	return nil
}

func (s *MemoryStore) Commitment(_ context.Context, id string) (*CommitmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.commitments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) MarkCommitmentVerified(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.commitments[id]
	if !ok {
		return ErrNotFound
	}
	r.VerifiedAt = &at
	return nil
}

func (s *MemoryStore) InsertPrivacyScore(_ context.Context, rec *PrivacyScoreRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	key := strings.ToLower(rec.Address)
	s.scores[key] = append(s.scores[key], &cp)
	return nil
}

func (s *MemoryStore) LatestPrivacyScores(_ context.Context, address string, n int) ([]*PrivacyScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.scores[strings.ToLower(address)]
	var out []*PrivacyScoreRecord
	for i := len(series) - 1; i >= 0 && (n <= 0 || len(out) < n); i-- {
		cp := *series[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) SaveSwap(_ context.Context, rec *SwapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.swaps[rec.ID] = &cp
	if _, ok := s.swapSeq[rec.ID]; !ok {
		s.swapSeq[rec.ID] = uint64(len(s.swapSeq)) + 1
	}
	return nil
}

func (s *MemoryStore) Swap(_ context.Context, id string) (*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.swaps[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) SwapsByVault(_ context.Context, vaultID string) ([]*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*SwapRecord
	for _, r := range s.swaps {
		if r.VaultID == vaultID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.swapSeq[out[i].ID] < s.swapSeq[out[j].ID]
	})
	return out, nil
}

func (s *MemoryStore) InsertViewingKey(_ context.Context, rec *ViewingKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertViewingKeyLocked(rec, "")
}

// insertViewingKeyLocked ignores a path collision with the key named by except.
func (s *MemoryStore) insertViewingKeyLocked(rec *ViewingKeyRecord, except string) error {
	for _, r := range s.viewingKeys {
		if r.ID == rec.ID || r.KeyHash == rec.KeyHash {
			return ErrDuplicate
		}
		if r.ID != except && r.Path == rec.Path && r.RevokedAt == nil {
			return ErrPathCollision
		}
	}
	cp := *rec
	s.viewingKeys[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) ViewingKey(_ context.Context, id string) (*ViewingKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.viewingKeys[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ViewingKeyByHash(_ context.Context, keyHash string) (*ViewingKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.viewingKeys {
		if r.KeyHash == keyHash {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ViewingKeysByRole(_ context.Context, role Role) ([]*ViewingKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ViewingKeyRecord
	for _, r := range s.viewingKeys {
		if r.Role == role {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) RevokeViewingKey(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.viewingKeys[id]
	if !ok {
		return ErrNotFound
	}
	if r.RevokedAt != nil {
		return ErrAlreadyRevoked
	}
	r.RevokedAt = &at
	return nil
}

func (s *MemoryStore) RotateViewingKey(_ context.Context, id string, next *ViewingKeyRecord, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.viewingKeys[id]
	if !ok {
		return ErrNotFound
	}
	if r.RevokedAt != nil {
		return ErrAlreadyRevoked
	}
	if err := s.insertViewingKeyLocked(next, id); err != nil {
		return err
	}
	r.RevokedAt = &at
	return nil
}

func (s *MemoryStore) InsertDisclosure(_ context.Context, rec *DisclosureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.disclosures[rec.ID]; ok {
		return ErrDuplicate
	}
	cp := *rec
	s.disclosures[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) Disclosure(_ context.Context, id string) (*DisclosureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.disclosures[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) RevokeDisclosure(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.disclosures[id]
	if !ok {
		return ErrNotFound
	}
	if r.RevokedAt != nil {
		return ErrAlreadyRevoked
	}
	r.RevokedAt = &at
	return nil
}

func (s *MemoryStore) DisclosuresInRange(_ context.Context, role Role, from, to time.Time) ([]*DisclosureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*DisclosureRecord
	for _, r := range s.disclosures {
		if r.Role != role || r.CreatedAt.Before(from) || !r.CreatedAt.Before(to) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) SaveTransfer(_ context.Context, rec *TransferRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.transfers[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) Transfer(_ context.Context, id string) (*TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.transfers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}
