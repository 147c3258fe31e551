package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.New("duplicate record")

	// ErrAlreadyRevoked is returned when revoking a revoked record.
	ErrAlreadyRevoked = errors.New("already revoked")

	// ErrPathCollision is returned when a live viewing key already holds a path.
	ErrPathCollision = errors.New("viewing key path in use")
)

// StealthStore persists stealth meta-address records.
type StealthStore interface {
	InsertStealthRecord(ctx context.Context, rec *StealthAddressRecord) error

	// ActiveStealthRecord returns the most recent active record of an agent.
	ActiveStealthRecord(ctx context.Context, agentID string) (*StealthAddressRecord, error)

	// StealthRecordsByAgent returns every record of an agent, newest first.
	StealthRecordsByAgent(ctx context.Context, agentID string) ([]*StealthAddressRecord, error)

	// RotateStealthRecords deactivates all records of an agent and inserts
	// next in one transaction.
	RotateStealthRecords(ctx context.Context, agentID string, next *StealthAddressRecord) error

	// DeactivateStealthRecords marks all records of an agent inactive and
	// returns how many changed.
	DeactivateStealthRecords(ctx context.Context, agentID string) (int, error)

	// ActiveAgents lists agents holding an active record.
	ActiveAgents(ctx context.Context) ([]string, error)
}

// PaymentStore persists detected payments and scan watermarks.
type PaymentStore interface {
	// InsertPayments stores payments, skipping any whose (stealth address,
	// slot) already exists, and returns the number inserted.
	InsertPayments(ctx context.Context, payments []*DetectedPayment) (int, error)

	// PaymentsByAgent returns an agent's payments in slot order.
	PaymentsByAgent(ctx context.Context, agentID string) ([]*DetectedPayment, error)

	// Watermark returns the agent's watermark, or a zero watermark.
	Watermark(ctx context.Context, agentID string) (*ScanWatermark, error)

	// AdvanceWatermark sets the watermark to slot only if slot is strictly
	// greater than the stored value. It reports whether it advanced.
	AdvanceWatermark(ctx context.Context, agentID string, slot uint64, at time.Time) (bool, error)
}

// CommitmentStore persists commitments.
type CommitmentStore interface {
	// SaveCommitments inserts all records or none.
	SaveCommitments(ctx context.Context, recs []*CommitmentRecord) error
	Commitment(ctx context.Context, id string) (*CommitmentRecord, error)
	MarkCommitmentVerified(ctx context.Context, id string, at time.Time) error
}

// PrivacyScoreStore persists the privacy score series.
type PrivacyScoreStore interface {
	InsertPrivacyScore(ctx context.Context, rec *PrivacyScoreRecord) error

	// LatestPrivacyScores returns up to n records for address, newest first.
	LatestPrivacyScores(ctx context.Context, address string, n int) ([]*PrivacyScoreRecord, error)
}

// SwapStore persists swap records.
type SwapStore interface {
	// SaveSwap inserts or replaces a swap record.
	SaveSwap(ctx context.Context, rec *SwapRecord) error
	Swap(ctx context.Context, id string) (*SwapRecord, error)

	// SwapsByVault returns a vault's swaps in the order they were first saved.
	SwapsByVault(ctx context.Context, vaultID string) ([]*SwapRecord, error)
}

// ViewingKeyStore persists the viewing-key tree, indexed by id, hash and role.
type ViewingKeyStore interface {
	// InsertViewingKey fails with ErrDuplicate on a known hash and with
	// ErrPathCollision when a non-revoked key holds the same path.
	InsertViewingKey(ctx context.Context, rec *ViewingKeyRecord) error
	ViewingKey(ctx context.Context, id string) (*ViewingKeyRecord, error)
	ViewingKeyByHash(ctx context.Context, keyHash string) (*ViewingKeyRecord, error)

	// ViewingKeysByRole returns keys with the role, newest first.
	ViewingKeysByRole(ctx context.Context, role Role) ([]*ViewingKeyRecord, error)

	// RevokeViewingKey sets RevokedAt once; a second call returns ErrAlreadyRevoked.
	RevokeViewingKey(ctx context.Context, id string, at time.Time) error

	// RotateViewingKey revokes id and inserts next in one transaction.
	RotateViewingKey(ctx context.Context, id string, next *ViewingKeyRecord, at time.Time) error
}

// DisclosureStore persists disclosures.
type DisclosureStore interface {
	InsertDisclosure(ctx context.Context, rec *DisclosureRecord) error
	Disclosure(ctx context.Context, id string) (*DisclosureRecord, error)
	RevokeDisclosure(ctx context.Context, id string, at time.Time) error

	// DisclosuresInRange returns disclosures for role created in [from, to).
	DisclosuresInRange(ctx context.Context, role Role, from, to time.Time) ([]*DisclosureRecord, error)
}

// TransferStore persists transfer records.
type TransferStore interface {
	SaveTransfer(ctx context.Context, rec *TransferRecord) error
	Transfer(ctx context.Context, id string) (*TransferRecord, error)
}

// Store is the full durable store of the subsystem.
type Store interface {
	StealthStore
	PaymentStore
	CommitmentStore
	PrivacyScoreStore
	SwapStore
	ViewingKeyStore
	DisclosureStore
	TransferStore

	Close() error
}

// NewID returns a new random record id.
func NewID() string {
	return uuid.NewString()
}
