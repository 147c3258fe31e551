package provider

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/fikriaf/ars-sub001/ledger"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

func TestDeriveStealthAddressUnlinkable(t *testing.T) {
	ctx := context.Background()
	p := NewLocalProvider(LocalConfig{})

	recipient, err := p.GenerateMetaAddress(ctx, "recipient")
	require.NoError(t, err)
	other, err := p.GenerateMetaAddress(ctx, "other")
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		addr, secret, err := p.DeriveStealthAddress(ctx, recipient.MetaAddress)
		require.NoError(t, err)
		require.Len(t, secret, 32)
		require.Equal(t, secret[0], addr.ViewTag)
		require.False(t, seen[addr.Address], "duplicate stealth address at derivation %d", i)
		seen[addr.Address] = true

		owned, err := p.CheckOwnership(ctx, *addr, recipient.SpendPrivateKey, recipient.ViewPrivateKey)
		require.NoError(t, err)
		require.True(t, owned)

		owned, err = p.CheckOwnership(ctx, *addr, other.SpendPrivateKey, other.ViewPrivateKey)
		require.NoError(t, err)
		require.False(t, owned)
	}
}

func TestCheckOwnershipRequiresBothKeys(t *testing.T) {
	ctx := context.Background()
	p := NewLocalProvider(LocalConfig{})

	recipient, err := p.GenerateMetaAddress(ctx, "")
	require.NoError(t, err)
	other, err := p.GenerateMetaAddress(ctx, "")
	require.NoError(t, err)

	addr, _, err := p.DeriveStealthAddress(ctx, recipient.MetaAddress)
	require.NoError(t, err)

	owned, err := p.CheckOwnership(ctx, *addr, other.SpendPrivateKey, recipient.ViewPrivateKey)
	require.NoError(t, err)
	require.False(t, owned)

	tampered := *addr
	tampered.ViewTag++
	owned, err = p.CheckOwnership(ctx, tampered, recipient.SpendPrivateKey, recipient.ViewPrivateKey)
	require.NoError(t, err)
	require.False(t, owned)

	_, err = p.CheckOwnership(ctx, *addr, []byte{1, 2, 3}, recipient.ViewPrivateKey)
	require.ErrorIs(t, err, ErrInvalidKey)

	_, _, err = p.DeriveStealthAddress(ctx, MetaAddress{SpendPublicKey: "zz", ViewPublicKey: "00"})
	require.ErrorIs(t, err, ErrInvalidMetaAddress)
}

func TestScanPayments(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemoryLedger(clock.NewTestClock(time.Unix(1_700_000_000, 0)))
	p := NewLocalProvider(LocalConfig{Announcements: l, History: l})

	alice, err := p.GenerateMetaAddress(ctx, "alice")
	require.NoError(t, err)
	bob, err := p.GenerateMetaAddress(ctx, "bob")
	require.NoError(t, err)

	l.Fund("sender", 10_000)
	pay := func(slot uint64, meta MetaAddress, amount uint64) {
		l.SetSlot(slot)
		addr, _, err := p.DeriveStealthAddress(ctx, meta)
		require.NoError(t, err)
		_, err = l.SendStealth(ctx, "sender", ledger.Announcement{
			StealthAddress:     addr.Address,
			EphemeralPublicKey: addr.EphemeralPublicKey,
			ViewTag:            addr.ViewTag,
			Amount:             amount,
		})
		require.NoError(t, err)
	}
	pay(100, alice.MetaAddress, 1000)
	pay(200, bob.MetaAddress, 50)
	pay(300, alice.MetaAddress, 7)

	res, err := p.ScanPayments(ctx, ScanRequest{
		ViewPrivateKey: alice.ViewPrivateKey,
		SpendPublicKey: alice.MetaAddress.SpendPublicKey,
		FromSlot:       0,
		Limit:          100,
	})
	require.NoError(t, err)
	require.Len(t, res.Payments, 2)
	require.Equal(t, uint64(1000), res.Payments[0].Amount)
	require.Equal(t, uint64(100), res.Payments[0].Slot)
	require.Equal(t, uint64(300), res.ScannedThrough)

	res, err = p.ScanPayments(ctx, ScanRequest{
		ViewPrivateKey: alice.ViewPrivateKey,
		SpendPublicKey: alice.MetaAddress.SpendPublicKey,
		FromSlot:       100,
		Limit:          1,
	})
	require.NoError(t, err)
	require.Empty(t, res.Payments)
	require.Equal(t, uint64(200), res.ScannedThrough)

	res, err = p.ScanPayments(ctx, ScanRequest{
		ViewPrivateKey: alice.ViewPrivateKey,
		SpendPublicKey: alice.MetaAddress.SpendPublicKey,
		FromSlot:       300,
		Limit:          10,
	})
	require.NoError(t, err)
	require.Empty(t, res.Payments)
	require.Equal(t, uint64(300), res.ScannedThrough)

	_, err = NewLocalProvider(LocalConfig{}).ScanPayments(ctx, ScanRequest{})
	require.ErrorIs(t, err, ErrNoAnnouncements)
}

func TestCommitmentHomomorphism(t *testing.T) {
	ctx := context.Background()
	p := NewLocalProvider(LocalConfig{})

	for _, tc := range []struct{ a, b uint64 }{
		{0, 0},
		{300, 700},
		{1, math.MaxUint64 - 1},
		{123456789, 987654321},
	} {
		t.Run(fmt.Sprintf("%d+%d", tc.a, tc.b), func(t *testing.T) {
			ca, err := p.CreateCommitment(ctx, tc.a)
			require.NoError(t, err)
			cb, err := p.CreateCommitment(ctx, tc.b)
			require.NoError(t, err)

			sum, err := p.CombineCommitments(ctx, CombineRequest{
				Op:              CombineAdd,
				Commitments:     []string{ca.Commitment, cb.Commitment},
				BlindingFactors: [][]byte{ca.BlindingFactor, cb.BlindingFactor},
			})
			require.NoError(t, err)

			ok, err := p.VerifyCommitment(ctx, sum.Commitment, tc.a+tc.b, sum.BlindingFactor)
			require.NoError(t, err)
			require.True(t, ok)

			ok, err = p.VerifyCommitment(ctx, sum.Commitment, tc.a+tc.b+1, sum.BlindingFactor)
			require.NoError(t, err)
			require.False(t, ok)

			diff, err := p.CombineCommitments(ctx, CombineRequest{
				Op:              CombineSub,
				Commitments:     []string{sum.Commitment, cb.Commitment},
				BlindingFactors: [][]byte{sum.BlindingFactor, cb.BlindingFactor},
			})
			require.NoError(t, err)
			ok, err = p.VerifyCommitment(ctx, diff.Commitment, tc.a, diff.BlindingFactor)
			require.NoError(t, err)
			require.True(t, ok)
		})
	}
}

func TestCommitmentScenario(t *testing.T) {
	ctx := context.Background()
	p := NewLocalProvider(LocalConfig{})

	c300, err := p.CreateCommitment(ctx, 300)
	require.NoError(t, err)
	c700, err := p.CreateCommitment(ctx, 700)
	require.NoError(t, err)
	require.NotEqual(t, c300.Commitment, c700.Commitment)

	sum, err := p.CombineCommitments(ctx, CombineRequest{
		Op:              CombineAdd,
		Commitments:     []string{c300.Commitment, c700.Commitment},
		BlindingFactors: [][]byte{c300.BlindingFactor, c700.BlindingFactor},
	})
	require.NoError(t, err)

	ok, err := p.VerifyCommitment(ctx, sum.Commitment, 1000, sum.BlindingFactor)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = p.VerifyCommitment(ctx, sum.Commitment, 999, sum.BlindingFactor)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCommitmentInputValidation(t *testing.T) {
	ctx := context.Background()
	p := NewLocalProvider(LocalConfig{})

	c, err := p.CreateCommitment(ctx, 5)
	require.NoError(t, err)

	_, err = p.VerifyCommitment(ctx, "not-hex", 5, c.BlindingFactor)
	require.ErrorIs(t, err, ErrInvalidCommitment)

	_, err = p.VerifyCommitment(ctx, c.Commitment, 5, []byte{1})
	require.ErrorIs(t, err, ErrInvalidBlinding)

	_, err = p.CombineCommitments(ctx, CombineRequest{Op: CombineAdd, Commitments: []string{c.Commitment}})
	require.ErrorIs(t, err, ErrInvalidCombine)

	_, err = p.CombineCommitments(ctx, CombineRequest{
		Op:              "mul",
		Commitments:     []string{c.Commitment, c.Commitment},
		BlindingFactors: [][]byte{c.BlindingFactor, c.BlindingFactor},
	})
	require.ErrorIs(t, err, ErrInvalidCombine)
}

func TestViewingKeyDerivation(t *testing.T) {
	ctx := context.Background()
	p := NewLocalProvider(LocalConfig{})

	master, err := p.GenerateViewingKey(ctx, "m/0")
	require.NoError(t, err)
	require.Len(t, master.Key, 32)

	a, err := p.DeriveViewingKey(ctx, *master, "org")
	require.NoError(t, err)
	b, err := p.DeriveViewingKey(ctx, *master, "org")
	require.NoError(t, err)
	require.Equal(t, "m/0/org", a.Path)
	require.Equal(t, a.Key, b.Key)

	c, err := p.DeriveViewingKey(ctx, *master, "other")
	require.NoError(t, err)
	require.NotEqual(t, a.Key, c.Key)

	for _, seg := range []string{"", "a/b"} {
		_, err = p.DeriveViewingKey(ctx, *master, seg)
		require.ErrorIs(t, err, ErrInvalidPathSegment)
	}

	_, err = p.DeriveViewingKey(ctx, ViewingKey{Key: []byte{1}, Path: "m/0"}, "x")
	require.ErrorIs(t, err, ErrInvalidViewingKey)
}
