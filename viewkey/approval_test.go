package viewkey

import (
	"context"
	"testing"
	"time"

	"github.com/fikriaf/ars-sub001/crypto"
	"github.com/fikriaf/ars-sub001/store"
	"github.com/fikriaf/ars-sub001/testutil"
	"github.com/stretchr/testify/require"
)

func approvals(t *testing.T, req AccessRequest, sks ...crypto.PrivateKey) []Approval {
	t.Helper()

	out := make([]Approval, 0, len(sks))
	for _, sk := range sks {
		a, err := SignAccess(sk, req)
		require.NoError(t, err)
		out = append(out, a)
	}
	return out
}

func TestApprovalThreshold(t *testing.T) {
	a := testutil.NewArena(t)
	pubs, privs := testutil.GenerateTestKeyPairs(t, 5)
	v, err := NewApprovalVerifier(ApprovalPolicy{Approvers: pubs}, a.Clock)
	require.NoError(t, err)

	req := AccessRequest{KeyID: "k1", Nonce: "n1", IssuedAt: a.Clock.Now()}

	err = v.Verify(req, approvals(t, req, privs[0], privs[1]))
	require.ErrorIs(t, err, ErrInsufficientApprovals)

	// Duplicate signatures from one approver count once.
	err = v.Verify(req, approvals(t, req, privs[0], privs[0], privs[1]))
	require.ErrorIs(t, err, ErrInsufficientApprovals)

	require.NoError(t, v.Verify(req, approvals(t, req, privs[0], privs[1], privs[2])))

	err = v.Verify(req, approvals(t, req, privs[2], privs[3], privs[4]))
	require.ErrorIs(t, err, ErrReplayedApproval)
}

func TestApprovalRejectsForeignAndForged(t *testing.T) {
	a := testutil.NewArena(t)
	pubs, privs := testutil.GenerateTestKeyPairs(t, 3)
	_, outsiders := testutil.GenerateTestKeyPairs(t, 2)
	v, err := NewApprovalVerifier(ApprovalPolicy{Threshold: 2, Approvers: pubs}, a.Clock)
	require.NoError(t, err)

	req := AccessRequest{KeyID: "k1", Nonce: "n1", IssuedAt: a.Clock.Now()}

	err = v.Verify(req, approvals(t, req, privs[0], outsiders[0], outsiders[1]))
	require.ErrorIs(t, err, ErrInsufficientApprovals)

	// A signature over a different request does not count.
	other := req
	other.KeyID = "k2"
	forged := approvals(t, other, privs[1])
	err = v.Verify(req, append(approvals(t, req, privs[0]), forged...))
	require.ErrorIs(t, err, ErrInsufficientApprovals)

	// Rejected requests do not burn the nonce.
	require.NoError(t, v.Verify(req, approvals(t, req, privs[0], privs[1])))
}

func TestApprovalValidityWindow(t *testing.T) {
	a := testutil.NewArena(t)
	pubs, privs := testutil.GenerateTestKeyPairs(t, 3)
	v, err := NewApprovalVerifier(ApprovalPolicy{Approvers: pubs, Validity: time.Minute}, a.Clock)
	require.NoError(t, err)

	stale := AccessRequest{KeyID: "k1", Nonce: "n1", IssuedAt: a.Clock.Now().Add(-2 * time.Minute)}
	require.ErrorIs(t, v.Verify(stale, approvals(t, stale, privs...)), ErrApprovalExpired)

	future := AccessRequest{KeyID: "k1", Nonce: "n2", IssuedAt: a.Clock.Now().Add(2 * time.Minute)}
	require.ErrorIs(t, v.Verify(future, approvals(t, future, privs...)), ErrApprovalExpired)
}

func TestApprovalPolicyValidation(t *testing.T) {
	pubs, _ := testutil.GenerateTestKeyPairs(t, 2)
	_, err := NewApprovalVerifier(ApprovalPolicy{Approvers: pubs}, nil)
	require.Error(t, err)
	_, err = NewApprovalVerifier(ApprovalPolicy{Threshold: -1, Approvers: pubs}, nil)
	require.Error(t, err)

	v, err := NewApprovalVerifier(ApprovalPolicy{}, nil)
	require.NoError(t, err)
	require.ErrorIs(t, v.Verify(AccessRequest{KeyID: "k", Nonce: "n", IssuedAt: time.Now()}, nil), ErrNoApprovers)
}

func TestExportKey(t *testing.T) {
	m, a := setupManager(t)
	ctx := context.Background()
	pubs, privs := testutil.GenerateTestKeyPairs(t, 3)
	v, err := NewApprovalVerifier(ApprovalPolicy{Approvers: pubs}, a.Clock)
	require.NoError(t, err)

	root, err := m.GenerateMaster(ctx, "m/0")
	require.NoError(t, err)
	org, err := m.Derive(ctx, root.ID, "org", WithRole(store.RoleExternal))
	require.NoError(t, err)

	req := AccessRequest{KeyID: root.ID, Nonce: "n1", IssuedAt: a.Clock.Now()}
	_, err = m.ExportKey(ctx, v, req, approvals(t, req, privs[0]))
	require.ErrorIs(t, err, ErrInsufficientApprovals)

	key, err := m.ExportKey(ctx, v, req, approvals(t, req, privs...))
	require.NoError(t, err)
	require.Equal(t, root.KeyHash, KeyHash(key))

	// Non-master keys need no approvals.
	key, err = m.ExportKey(ctx, v, AccessRequest{KeyID: org.ID}, nil)
	require.NoError(t, err)
	require.Equal(t, org.KeyHash, KeyHash(key))

	require.NoError(t, m.Revoke(ctx, org.ID))
	_, err = m.ExportKey(ctx, v, AccessRequest{KeyID: org.ID}, nil)
	require.ErrorIs(t, err, ErrKeyInactive)
}

func TestAccessDigestIsUnambiguous(t *testing.T) {
	at := testutil.DefaultStartTime
	a := AccessRequest{KeyID: "ab", Nonce: "c", IssuedAt: at}
	b := AccessRequest{KeyID: "a", Nonce: "bc", IssuedAt: at}
	require.NotEqual(t, a.Digest(), b.Digest())
}
