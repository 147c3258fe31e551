/*
Package testutil provides shared wiring for tests of the privacy subsystem.

An Arena assembles the collaborators every component needs, backed by
in-process implementations: a Key Vault, a slot ledger, the local
cryptography provider reading that ledger, an in-memory store and a test
clock.

	arena := testutil.NewArena(t)
	arena.Ledger.SetSlot(500)

	// Use a specific start time or log sink.
	arena = testutil.NewArena(t,
	    testutil.WithStartTime(time.Unix(1_700_000_000, 0)),
	    testutil.WithLogger(logger),
	)

Key and byte generators cover the remaining fixtures:

	pub, priv := testutil.GenerateTestKeyPair(t)
	salt := testutil.RandomBytes(t, 32)
*/
package testutil
