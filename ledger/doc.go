// Package ledger defines the chain-facing collaborators of the privacy
// subsystem: the announcement feed scanned for stealth payments, the swap
// venue, the claimer that sweeps stealth balances, and MEV measurement.
//
// MemoryLedger implements all of them in process with explicit slot control.
package ledger
