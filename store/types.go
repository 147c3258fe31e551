package store

import (
	"time"

	"github.com/fikriaf/ars-sub001/crypto"
	"github.com/fikriaf/ars-sub001/provider"
)

// Role scopes a viewing key and the fields it may disclose.
type Role string

const (
	RoleInternal  Role = "internal"
	RoleExternal  Role = "external"
	RoleRegulator Role = "regulator"
	RoleMaster    Role = "master"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleInternal, RoleExternal, RoleRegulator, RoleMaster:
		return true
	}
	return false
}

// StealthAddressRecord holds an agent's meta-address and its encrypted
// private keys. Records are never removed, only deactivated.
type StealthAddressRecord struct {
	ID                string                `json:"id"`
	AgentID           string                `json:"agentId"`
	MetaAddress       provider.MetaAddress  `json:"metaAddress"`
	EncryptedSpendKey *crypto.EncryptedBlob `json:"encryptedSpendKey"`
	EncryptedViewKey  *crypto.EncryptedBlob `json:"encryptedViewKey"`
	Label             string                `json:"label"`
	CreatedAt         time.Time             `json:"createdAt"`
	Active            bool                  `json:"active"`
}

// DetectedPayment is an inbound stealth payment. Unique on
// (StealthAddress, Slot).
type DetectedPayment struct {
	ID                 string    `json:"id"`
	AgentID            string    `json:"agentId"`
	StealthAddress     string    `json:"stealthAddress"`
	EphemeralPublicKey string    `json:"ephemeralPublicKey"`
	Amount             uint64    `json:"amount"`
	Commitment         string    `json:"commitment,omitempty"`
	Slot               uint64    `json:"slot"`
	Timestamp          time.Time `json:"timestamp"`
	TxRef              string    `json:"txRef"`
	DetectedAt         time.Time `json:"detectedAt"`
}

// ScanWatermark is the highest slot scanned for an agent.
type ScanWatermark struct {
	AgentID         string    `json:"agentId"`
	LastScannedSlot uint64    `json:"lastScannedSlot"`
	LastScanAt      time.Time `json:"lastScanAt"`
}

// CommitmentRecord is a stored commitment with its encrypted blinding factor.
type CommitmentRecord struct {
	ID             string                `json:"id"`
	Commitment     string                `json:"commitment"`
	BlindingFactor *crypto.EncryptedBlob `json:"blindingFactor"`
	Value          uint64                `json:"value"`
	CreatedAt      time.Time             `json:"createdAt"`
	VerifiedAt     *time.Time            `json:"verifiedAt,omitempty"`
}

// PrivacyScoreRecord is one entry of an address's privacy score series.
type PrivacyScoreRecord struct {
	ID              string            `json:"id"`
	Address         string            `json:"address"`
	Score           int               `json:"score"`
	Grade           string            `json:"grade"`
	Factors         []provider.Factor `json:"factors"`
	Recommendations []string          `json:"recommendations"`
	AnalyzedAt      time.Time         `json:"analyzedAt"`
}

// SwapStatus is the lifecycle state of a protected swap.
type SwapStatus string

const (
	SwapPending   SwapStatus = "pending"
	SwapCompleted SwapStatus = "completed"
	SwapFailed    SwapStatus = "failed"
)

// SwapRecord tracks a protected swap through its steps.
type SwapRecord struct {
	ID                 string     `json:"id"`
	VaultID            string     `json:"vaultId"`
	VaultAddress       string     `json:"vaultAddress"`
	AgentID            string     `json:"agentId"`
	InputMint          string     `json:"inputMint"`
	OutputMint         string     `json:"outputMint"`
	Amount             uint64     `json:"amount"`
	CommitmentID       string     `json:"commitmentId,omitempty"`
	StealthAddress     string     `json:"stealthAddress,omitempty"`
	EphemeralPublicKey string     `json:"ephemeralPublicKey,omitempty"`
	ViewTag            uint8      `json:"viewTag"`
	QuotedOutput       uint64     `json:"quotedOutput"`
	OutputAmount       uint64     `json:"outputAmount"`
	TxRef              string     `json:"txRef,omitempty"`
	ClaimTxRef         string     `json:"claimTxRef,omitempty"`
	MEVExtracted       float64    `json:"mevExtracted"`
	PrivacyScore       int        `json:"privacyScore"`
	Status             SwapStatus `json:"status"`
	FailedStep         string     `json:"failedStep,omitempty"`
	Error              string     `json:"error,omitempty"`
	IdempotencyKey     string     `json:"idempotencyKey,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// ViewingKeyRecord is a node of the viewing-key tree. The root has an empty
// ParentHash and role master.
type ViewingKeyRecord struct {
	ID           string                `json:"id"`
	KeyHash      string                `json:"keyHash"`
	EncryptedKey *crypto.EncryptedBlob `json:"encryptedKey"`
	Path         string                `json:"path"`
	ParentHash   string                `json:"parentHash,omitempty"`
	Role         Role                  `json:"role"`
	ExpiresAt    *time.Time            `json:"expiresAt,omitempty"`
	CreatedAt    time.Time             `json:"createdAt"`
	RevokedAt    *time.Time            `json:"revokedAt,omitempty"`
}

// Live reports whether the key is neither revoked nor expired at now.
func (r *ViewingKeyRecord) Live(now time.Time) bool {
	if r.RevokedAt != nil {
		return false
	}
	return r.ExpiresAt == nil || now.Before(*r.ExpiresAt)
}

// DisclosureRecord is transaction data encrypted for an auditor under a
// viewing key.
type DisclosureRecord struct {
	ID              string     `json:"id"`
	TransactionID   string     `json:"transactionId"`
	AuditorID       string     `json:"auditorId"`
	Role            Role       `json:"role"`
	ViewingKeyHash  string     `json:"viewingKeyHash"`
	EncryptedData   []byte     `json:"encryptedData"`
	DisclosedFields []string   `json:"disclosedFields"`
	ExpiresAt       time.Time  `json:"expiresAt"`
	CreatedAt       time.Time  `json:"createdAt"`
	RevokedAt       *time.Time `json:"revokedAt,omitempty"`
}

// TransferRecord is a stored transfer available for compliance disclosure.
type TransferRecord struct {
	ID           string    `json:"id"`
	Sender       string    `json:"sender"`
	Recipient    string    `json:"recipient"`
	Amount       uint64    `json:"amount"`
	Timestamp    time.Time `json:"timestamp"`
	TxSignature  string    `json:"txSignature"`
	CommitmentID string    `json:"commitmentId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
