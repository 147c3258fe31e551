package disclosure

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fikriaf/ars-sub001/crypto"
	"github.com/fikriaf/ars-sub001/store"
	"github.com/fikriaf/ars-sub001/testutil"
	"github.com/fikriaf/ars-sub001/viewkey"
	"github.com/stretchr/testify/require"
)

type env struct {
	*testutil.Arena
	keys    *viewkey.Manager
	service *Service
	root    *store.ViewingKeyRecord
	byRole  map[store.Role]*store.ViewingKeyRecord
}

func setupEnv(t *testing.T, mod func(*Config)) *env {
	t.Helper()

	a := testutil.NewArena(t)
	ctx := context.Background()
	keys, err := viewkey.NewManager(viewkey.Config{Provider: a.Provider, Store: a.Store, Vault: a.Vault, Clock: a.Clock, Log: a.Log})
	require.NoError(t, err)

	root, err := keys.GenerateMaster(ctx, "m/0")
	require.NoError(t, err)
	byRole := map[store.Role]*store.ViewingKeyRecord{store.RoleMaster: root}
	for _, role := range []store.Role{store.RoleInternal, store.RoleExternal, store.RoleRegulator} {
		rec, err := keys.Derive(ctx, root.ID, string(role), viewkey.WithRole(role))
		require.NoError(t, err)
		byRole[role] = rec
	}

	cfg := Config{Keys: keys, Transfers: a.Store, Store: a.Store, Clock: a.Clock, Log: a.Log}
	if mod != nil {
		mod(&cfg)
	}
	svc, err := NewService(cfg)
	require.NoError(t, err)

	require.NoError(t, a.Store.SaveTransfer(ctx, &store.TransferRecord{
		ID:           "tx-1",
		Sender:       "alice",
		Recipient:    "bob",
		Amount:       5000,
		Timestamp:    testutil.DefaultStartTime,
		TxSignature:  "sig-1",
		CommitmentID: "c-1",
		CreatedAt:    testutil.DefaultStartTime,
	}))
	return &env{Arena: a, keys: keys, service: svc, root: root, byRole: byRole}
}

func (e *env) key(t *testing.T, role store.Role) []byte {
	t.Helper()

	k, _, err := e.keys.Key(context.Background(), e.byRole[role].ID)
	require.NoError(t, err)
	t.Cleanup(func() { crypto.Zero(k) })
	return k
}

func TestDisclosureFieldScoping(t *testing.T) {
	tests := []struct {
		role      store.Role
		signature bool
	}{
		{store.RoleInternal, false},
		{store.RoleExternal, true},
		{store.RoleRegulator, true},
		{store.RoleMaster, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			e := setupEnv(t, nil)
			ctx := context.Background()

			rec, err := e.service.DiscloseToAuditor(ctx, "tx-1", "auditor-1", tt.role)
			require.NoError(t, err)
			require.Equal(t, e.byRole[tt.role].KeyHash, rec.ViewingKeyHash)
			require.Equal(t, FieldsForRole(tt.role), rec.DisclosedFields)
			require.Equal(t, e.Clock.Now().Add(DefaultExpiry).UTC(), rec.ExpiresAt)

			report, err := e.service.VerifyCompliance(ctx, rec.ID, e.key(t, tt.role))
			require.NoError(t, err)

			tr := report.Transfer
			require.Equal(t, "alice", tr.Sender)
			require.Equal(t, "bob", tr.Recipient)
			require.Equal(t, uint64(5000), *tr.Amount)
			require.True(t, testutil.DefaultStartTime.Equal(*tr.Timestamp))
			if tt.signature {
				require.Equal(t, "sig-1", tr.TxSignature)
				require.NotContains(t, report.HiddenFields, FieldTxSignature)
			} else {
				require.Empty(t, tr.TxSignature)
				require.Contains(t, report.HiddenFields, FieldTxSignature)
			}
			require.Contains(t, report.HiddenFields, FieldCommitmentID)
			for _, f := range keyMaterialFields {
				require.Contains(t, report.HiddenFields, f)
				require.NotContains(t, report.DisclosedFields, f)
			}
			require.True(t, report.Compliant)
			require.Zero(t, report.RiskScore)
		})
	}
}

func TestVerifyComplianceRejectsWrongKey(t *testing.T) {
	e := setupEnv(t, nil)
	ctx := context.Background()

	rec, err := e.service.DiscloseToAuditor(ctx, "tx-1", "auditor-1", store.RoleExternal)
	require.NoError(t, err)

	_, err = e.service.VerifyCompliance(ctx, rec.ID, e.key(t, store.RoleInternal))
	require.ErrorIs(t, err, ErrViewingKeyMismatch)
}

func TestVerifyComplianceTamperedPayload(t *testing.T) {
	e := setupEnv(t, nil)
	ctx := context.Background()

	rec, err := e.service.DiscloseToAuditor(ctx, "tx-1", "auditor-1", store.RoleExternal)
	require.NoError(t, err)

	tampered := &tamperStore{DisclosureStore: e.Store}
	svc, err := NewService(Config{Keys: e.keys, Transfers: e.Store, Store: tampered, Clock: e.Clock, Log: e.Log})
	require.NoError(t, err)

	_, err = svc.VerifyCompliance(ctx, rec.ID, e.key(t, store.RoleExternal))
	require.ErrorIs(t, err, crypto.ErrDecryptionFailed)
}

type tamperStore struct {
	store.DisclosureStore
}

func (s *tamperStore) Disclosure(ctx context.Context, id string) (*store.DisclosureRecord, error) {
	rec, err := s.DisclosureStore.Disclosure(ctx, id)
	if err == nil {
		rec.AuditorID = "someone-else"
	}
	return rec, err
}

func TestExpiredAndRevokedReadAsAbsent(t *testing.T) {
	e := setupEnv(t, func(c *Config) { c.Expiry = time.Hour })
	ctx := context.Background()
	key := e.key(t, store.RoleRegulator)

	expiring, err := e.service.DiscloseToAuditor(ctx, "tx-1", "auditor-1", store.RoleRegulator)
	require.NoError(t, err)
	revoked, err := e.service.DiscloseToAuditor(ctx, "tx-1", "auditor-2", store.RoleRegulator)
	require.NoError(t, err)

	require.NoError(t, e.service.RevokeDisclosure(ctx, revoked.ID))
	err = e.service.RevokeDisclosure(ctx, revoked.ID)
	require.ErrorIs(t, err, ErrDisclosureRevoked)

	_, err = e.service.VerifyCompliance(ctx, revoked.ID, key)
	require.ErrorIs(t, err, ErrDisclosureRevoked)
	require.ErrorIs(t, err, ErrDisclosureNotFound)

	_, err = e.service.VerifyCompliance(ctx, expiring.ID, key)
	require.NoError(t, err)

	e.Advance(time.Hour)
	_, err = e.service.VerifyCompliance(ctx, expiring.ID, key)
	require.ErrorIs(t, err, ErrDisclosureExpired)
	require.ErrorIs(t, err, ErrDisclosureNotFound)

	_, err = e.service.VerifyCompliance(ctx, "missing", key)
	require.ErrorIs(t, err, ErrDisclosureNotFound)
	require.False(t, errors.Is(err, ErrDisclosureExpired))

	require.ErrorIs(t, e.service.RevokeDisclosure(ctx, "missing"), ErrDisclosureNotFound)
}

func TestDiscloseRequiresLiveKey(t *testing.T) {
	e := setupEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, e.keys.Revoke(ctx, e.byRole[store.RoleExternal].ID))
	_, err := e.service.DiscloseToAuditor(ctx, "tx-1", "auditor-1", store.RoleExternal)
	require.ErrorIs(t, err, ErrNoViewingKey)

	_, err = e.service.DiscloseToAuditor(ctx, "tx-1", "auditor-1", "auditor")
	require.ErrorIs(t, err, viewkey.ErrInvalidRole)

	_, err = e.service.DiscloseToAuditor(ctx, "missing", "auditor-1", store.RoleInternal)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDiscloseUsesNewestKey(t *testing.T) {
	e := setupEnv(t, nil)
	ctx := context.Background()

	e.Advance(time.Minute)
	next, err := e.keys.Rotate(ctx, e.byRole[store.RoleInternal].ID)
	require.NoError(t, err)

	rec, err := e.service.DiscloseToAuditor(ctx, "tx-1", "auditor-1", store.RoleInternal)
	require.NoError(t, err)
	require.Equal(t, next.KeyHash, rec.ViewingKeyHash)
}

func TestVerifyComplianceFlagsRisk(t *testing.T) {
	e := setupEnv(t, func(c *Config) {
		c.Scorer = ThresholdRiskScorer{LargeAmount: 5000, Denylist: []string{"BOB"}}
	})
	ctx := context.Background()

	rec, err := e.service.DiscloseToAuditor(ctx, "tx-1", "auditor-1", store.RoleInternal)
	require.NoError(t, err)

	report, err := e.service.VerifyCompliance(ctx, rec.ID, e.key(t, store.RoleInternal))
	require.NoError(t, err)
	require.False(t, report.Compliant)
	require.Equal(t, 100, report.RiskScore)
	require.ElementsMatch(t, []string{FlagLargeAmount, FlagDenylistedParty}, report.Flags)
}

func TestThresholdRiskScorer(t *testing.T) {
	amount := func(v uint64) *uint64 { return &v }
	tests := []struct {
		name  string
		t     DisclosedTransfer
		score int
		flags []string
	}{
		{"small", DisclosedTransfer{Amount: amount(10)}, 0, []string{}},
		{"large", DisclosedTransfer{Amount: amount(DefaultLargeAmount)}, 40, []string{FlagLargeAmount}},
		{"just under", DisclosedTransfer{Amount: amount(DefaultLargeAmount - 1)}, 30, []string{FlagStructuring}},
		{"below band", DisclosedTransfer{Amount: amount(DefaultLargeAmount * 8 / 10)}, 0, []string{}},
		{"hidden amount", DisclosedTransfer{}, 10, []string{FlagAmountUndisclosed}},
		{"denylisted", DisclosedTransfer{Amount: amount(1), Sender: "mallory"}, 100, []string{FlagDenylistedParty}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ThresholdRiskScorer{Denylist: []string{"Mallory"}}
			a, err := s.Score(context.Background(), &tt.t)
			require.NoError(t, err)
			require.Equal(t, tt.score, a.Score)
			require.Equal(t, tt.flags, a.Flags)
		})
	}
}

type unavailableScorer struct {
	ThresholdRiskScorer
	recipient string
}

func (s unavailableScorer) Score(ctx context.Context, t *DisclosedTransfer) (*RiskAssessment, error) {
	if t.Recipient == s.recipient {
		return nil, errors.New("scoring backend unavailable")
	}
	return s.ThresholdRiskScorer.Score(ctx, t)
}

func (e *env) transfer(t *testing.T, id, sender, recipient string) {
	t.Helper()

	require.NoError(t, e.Store.SaveTransfer(context.Background(), &store.TransferRecord{
		ID:          id,
		Sender:      sender,
		Recipient:   recipient,
		Amount:      100,
		Timestamp:   e.Clock.Now(),
		TxSignature: "sig-" + id,
		CreatedAt:   e.Clock.Now(),
	}))
}

func TestGenerateReport(t *testing.T) {
	e := setupEnv(t, func(c *Config) {
		c.Expiry = 2 * time.Hour
		c.Scorer = unavailableScorer{ThresholdRiskScorer: ThresholdRiskScorer{Denylist: []string{"mallory"}}, recipient: "offline"}
	})
	ctx := context.Background()
	start := e.Clock.Now()
	e.transfer(t, "tx-denied", "mallory", "bob")
	e.transfer(t, "tx-offline", "alice", "offline")

	_, err := e.service.DiscloseToAuditor(ctx, "tx-1", "auditor-1", store.RoleRegulator)
	require.NoError(t, err)
	e.Advance(time.Hour)
	revoked, err := e.service.DiscloseToAuditor(ctx, "tx-1", "auditor-2", store.RoleRegulator)
	require.NoError(t, err)
	require.NoError(t, e.service.RevokeDisclosure(ctx, revoked.ID))
	e.Advance(time.Hour)

	compliant, err := e.service.DiscloseToAuditor(ctx, "tx-1", "auditor-2", store.RoleRegulator)
	require.NoError(t, err)
	flagged, err := e.service.DiscloseToAuditor(ctx, "tx-denied", "auditor-1", store.RoleRegulator)
	require.NoError(t, err)
	failed, err := e.service.DiscloseToAuditor(ctx, "tx-offline", "auditor-3", store.RoleRegulator)
	require.NoError(t, err)
	_, err = e.service.DiscloseToAuditor(ctx, "tx-1", "auditor-1", store.RoleInternal)
	require.NoError(t, err)

	// The first disclosure has expired and the second is revoked.
	report, err := e.service.GenerateReport(ctx, start, start.Add(2*time.Hour+time.Second), store.RoleRegulator)
	require.NoError(t, err)
	require.Equal(t, 3, report.Total)
	require.Equal(t, 1, report.Compliant)
	require.Equal(t, 1, report.Flagged)
	require.Equal(t, 1, report.Errors)
	require.Equal(t, map[string]int{"auditor-1": 1, "auditor-2": 1, "auditor-3": 1}, report.ByAuditor)

	entries := make(map[string]ReportEntry)
	for _, en := range report.Entries {
		entries[en.DisclosureID] = en
	}
	require.Len(t, entries, 3)
	require.True(t, entries[compliant.ID].Compliant)
	require.False(t, entries[flagged.ID].Compliant)
	require.Contains(t, entries[flagged.ID].Flags, FlagDenylistedParty)
	require.NotEmpty(t, entries[failed.ID].Error)
	require.NotContains(t, entries, revoked.ID)

	// The range end is exclusive, and the only disclosure before it expired.
	report, err = e.service.GenerateReport(ctx, start, start.Add(time.Hour), store.RoleRegulator)
	require.NoError(t, err)
	require.Zero(t, report.Total)
	require.Empty(t, report.Entries)

	_, err = e.service.GenerateReport(ctx, start, start, store.RoleRegulator)
	require.ErrorIs(t, err, ErrInvalidRange)
}

func TestGenerateReportFollowsLiveKey(t *testing.T) {
	e := setupEnv(t, nil)
	ctx := context.Background()
	start := e.Clock.Now()

	_, err := e.service.DiscloseToAuditor(ctx, "tx-1", "auditor-1", store.RoleRegulator)
	require.NoError(t, err)

	rotated, err := e.keys.Rotate(ctx, e.byRole[store.RoleRegulator].ID)
	require.NoError(t, err)
	e.byRole[store.RoleRegulator] = rotated

	report, err := e.service.GenerateReport(ctx, start, start.Add(time.Hour), store.RoleRegulator)
	require.NoError(t, err)
	require.Zero(t, report.Total)

	d, err := e.service.DiscloseToAuditor(ctx, "tx-1", "auditor-1", store.RoleRegulator)
	require.NoError(t, err)
	report, err = e.service.GenerateReport(ctx, start, start.Add(time.Hour), store.RoleRegulator)
	require.NoError(t, err)
	require.Equal(t, 1, report.Total)
	require.Equal(t, 1, report.Compliant)
	require.Equal(t, d.ID, report.Entries[0].DisclosureID)

	require.NoError(t, e.keys.Revoke(ctx, rotated.ID))
	_, err = e.service.GenerateReport(ctx, start, start.Add(time.Hour), store.RoleRegulator)
	require.ErrorIs(t, err, ErrNoViewingKey)
}
