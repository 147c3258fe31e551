package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

func TestAnnouncementsAfterSlot(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(clock.NewTestClock(time.Unix(1_700_000_000, 0)))
	l.Fund("sender", 1000)

	for _, slot := range []uint64{10, 10, 20, 30} {
		l.SetSlot(slot)
		_, err := l.SendStealth(ctx, "sender", Announcement{StealthAddress: "0xabc", Amount: 1})
		require.NoError(t, err)
	}

	got, err := l.Announcements(ctx, 0, 1)
	require.NoError(t, err)
	require.Len(t, got, 2, "announcements in one slot are returned together")
	require.Equal(t, uint64(10), got[1].Slot)

	got, err = l.Announcements(ctx, 10, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, uint64(20), got[0].Slot)

	got, err = l.Announcements(ctx, 30, 10)
	require.NoError(t, err)
	require.Empty(t, got)

	_, err = l.Announcements(ctx, 0, 0)
	require.Error(t, err)
}

func TestAnnouncementsSettleCurrentSlot(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(nil)
	l.Fund("sender", 10)
	require.Equal(t, uint64(1), l.Slot())

	first, err := l.SendStealth(ctx, "sender", Announcement{StealthAddress: "0xabc", Amount: 1})
	require.NoError(t, err)
	require.Equal(t, uint64(1), first.Slot)

	got, err := l.Announcements(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, uint64(2), l.Slot())

	second, err := l.SendStealth(ctx, "sender", Announcement{StealthAddress: "0xdef", Amount: 1})
	require.NoError(t, err)
	require.Equal(t, uint64(2), second.Slot)

	got, err = l.Announcements(ctx, first.Slot, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "0xdef", got[0].StealthAddress)

	// An empty read leaves the slot open.
	_, err = l.Announcements(ctx, second.Slot, 10)
	require.NoError(t, err)
	require.Equal(t, uint64(3), l.Slot())
	_, err = l.Announcements(ctx, l.Slot(), 10)
	require.NoError(t, err)
	require.Equal(t, uint64(3), l.Slot())
}

func TestSubmitSwapIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(nil)
	l.Fund("vault", 1000)
	l.SetRate("SOL", "USDC", 2)
	l.SetExtraction(100)

	req := SwapRequest{
		From:           "vault",
		InputMint:      "SOL",
		OutputMint:     "USDC",
		Amount:         500,
		Destination:    "0xstealth",
		IdempotencyKey: "swap-1",
	}
	r1, err := l.SubmitSwap(ctx, req)
	require.NoError(t, err)
	require.Equal(t, uint64(990), r1.OutAmount)

	r2, err := l.SubmitSwap(ctx, req)
	require.NoError(t, err)
	require.Equal(t, r1.TxRef, r2.TxRef)
	require.Equal(t, uint64(500), l.Balance("vault"))
	require.Equal(t, uint64(990), l.Balance("0xSTEALTH"))

	_, err = l.GetQuote(ctx, "SOL", "BONK", 1)
	require.ErrorIs(t, err, ErrUnknownPair)

	req.IdempotencyKey = "swap-2"
	req.MinOutput = 1000
	_, err = l.SubmitSwap(ctx, req)
	require.ErrorIs(t, err, ErrSlippageExceeded)
}

func TestClaim(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(nil)
	l.Fund("0xstealth", 100)

	_, err := l.Claim(ctx, ClaimRequest{StealthAddress: "0xstealth", Destination: "vault", Amount: 200, IdempotencyKey: "c"})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	ref, err := l.Claim(ctx, ClaimRequest{StealthAddress: "0xstealth", Destination: "vault", Amount: 100, IdempotencyKey: "c"})
	require.NoError(t, err)
	again, err := l.Claim(ctx, ClaimRequest{StealthAddress: "0xstealth", Destination: "vault", Amount: 100, IdempotencyKey: "c"})
	require.NoError(t, err)
	require.Equal(t, ref, again)
	require.Equal(t, uint64(100), l.Balance("vault"))

	history, err := l.History(ctx, "vault", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestSlippageMeasurer(t *testing.T) {
	m := SlippageMeasurer{}
	v, err := m.MeasureExtraction(context.Background(), &Quote{OutAmount: 1000}, &SwapReceipt{OutAmount: 990})
	require.NoError(t, err)
	require.Equal(t, 10.0, v)

	v, err = m.MeasureExtraction(context.Background(), &Quote{OutAmount: 1000}, &SwapReceipt{OutAmount: 1010})
	require.NoError(t, err)
	require.Zero(t, v)

	_, err = m.MeasureExtraction(context.Background(), nil, nil)
	require.Error(t, err)
}
