package commitment

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/fikriaf/ars-sub001/store"
	"github.com/fikriaf/ars-sub001/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEngine(t *testing.T) (*Engine, *testutil.Arena) {
	t.Helper()

	a := testutil.NewArena(t)
	e, err := NewEngine(Config{
		Provider: a.Provider,
		Store:    a.Store,
		Vault:    a.Vault,
		Clock:    a.Clock,
		Log:      a.Log,
	})
	require.NoError(t, err)
	return e, a
}

func TestCreateAndVerify(t *testing.T) {
	e, a := setupEngine(t)
	ctx := context.Background()

	rec, err := e.Create(ctx, 1000)
	require.NoError(t, err)
	require.NotEmpty(t, rec.Commitment)
	require.Equal(t, uint64(1000), rec.Value)

	stored, err := a.Store.Commitment(ctx, rec.ID)
	require.NoError(t, err)
	require.Nil(t, stored.VerifiedAt)
	require.NoError(t, stored.BlindingFactor.Validate())

	ok, err := e.VerifyRecord(ctx, rec.ID, 999)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = e.VerifyRecord(ctx, rec.ID, 1000)
	require.NoError(t, err)
	require.True(t, ok)

	stored, err = a.Store.Commitment(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.VerifiedAt)
}

func TestVerifyWithPlaintextBlinding(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	rec, err := e.Create(ctx, 42)
	require.NoError(t, err)

	r, err := e.BlindingFactor(ctx, rec.ID)
	require.NoError(t, err)

	ok, err := e.Verify(ctx, rec.Commitment, 42, r)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Verify(ctx, rec.Commitment, 43, r)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBlindingFactorSealedPerIdentity(t *testing.T) {
	a := testutil.NewArena(t)
	ctx := context.Background()

	e1, err := NewEngine(Config{Provider: a.Provider, Store: a.Store, Vault: a.Vault, Clock: a.Clock, Log: a.Log})
	require.NoError(t, err)
	e2, err := NewEngine(Config{Provider: a.Provider, Store: a.Store, Vault: a.Vault, Identity: "other", Clock: a.Clock, Log: a.Log})
	require.NoError(t, err)

	rec, err := e1.Create(ctx, 5)
	require.NoError(t, err)

	_, err = e2.VerifyRecord(ctx, rec.ID, 5)
	require.Error(t, err)
}

func TestCombineIsHomomorphic(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	c1, err := e.Create(ctx, 300)
	require.NoError(t, err)
	c2, err := e.Create(ctx, 700)
	require.NoError(t, err)

	sum, err := e.Combine(ctx, c1.ID, c2.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), sum.Value)

	ok, err := e.VerifyRecord(ctx, sum.ID, 1000)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.VerifyRecord(ctx, sum.ID, 999)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSubtract(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	c1, err := e.Create(ctx, 700)
	require.NoError(t, err)
	c2, err := e.Create(ctx, 300)
	require.NoError(t, err)

	diff, err := e.Subtract(ctx, c1.ID, c2.ID)
	require.NoError(t, err)
	ok, err := e.VerifyRecord(ctx, diff.ID, 400)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = e.Subtract(ctx, c2.ID, c1.ID)
	require.ErrorIs(t, err, ErrNegativeResult)
}

func TestCombineOverflow(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	c1, err := e.Create(ctx, math.MaxUint64)
	require.NoError(t, err)
	c2, err := e.Create(ctx, 1)
	require.NoError(t, err)

	_, err = e.Combine(ctx, c1.ID, c2.ID)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestCombineUnknownCommitment(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	c1, err := e.Create(ctx, 1)
	require.NoError(t, err)

	_, err = e.Combine(ctx, c1.ID, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestBatchCreate(t *testing.T) {
	e, a := setupEngine(t)
	ctx := context.Background()

	recs, err := e.BatchCreate(ctx, []uint64{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, recs, 3)

	for i, rec := range recs {
		ok, err := e.VerifyRecord(ctx, rec.ID, uint64(i+1))
		require.NoError(t, err)
		require.True(t, ok)
		_, err = a.Store.Commitment(ctx, rec.ID)
		require.NoError(t, err)
	}

	_, err = e.BatchCreate(ctx, nil)
	require.ErrorIs(t, err, ErrCommitmentBatchFailure)
}

type failingSave struct {
	store.CommitmentStore
}

func (f *failingSave) SaveCommitments(context.Context, []*store.CommitmentRecord) error {
	return errors.New("disk full")
}

func TestBatchCreateAllOrNothing(t *testing.T) {
	a := testutil.NewArena(t)
	ctx := context.Background()

	fs := &failingSave{CommitmentStore: a.Store}
	e, err := NewEngine(Config{Provider: a.Provider, Store: fs, Vault: a.Vault, Clock: a.Clock, Log: a.Log})
	require.NoError(t, err)

	recs, err := e.BatchCreate(ctx, []uint64{10, 20})
	require.ErrorIs(t, err, ErrCommitmentBatchFailure)
	require.Nil(t, recs)
}

func TestNewEngineRequiresDeps(t *testing.T) {
	_, err := NewEngine(Config{})
	require.Error(t, err)
}
