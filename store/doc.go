// Package store persists the durable state of the privacy subsystem:
// stealth meta-address records, detected payments and scan watermarks,
// commitments, privacy scores, swaps, the viewing-key tree, disclosures and
// transfers.
//
// Two implementations are provided. MemoryStore keeps everything in process
// and backs tests and the single-binary demo. PostgresStore uses lib/pq with
// an idempotent schema applied on startup; unsigned 64-bit amounts and slots
// are stored as NUMERIC(20,0) and encrypted blobs as JSONB.
//
// Multi-row changes (key rotation, batch commitment saves) are atomic in both
// implementations. A viewing-key path can be held by at most one non-revoked
// key at a time.
package store
