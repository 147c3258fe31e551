package provider

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidMetaAddress = errors.New("invalid meta-address")
	ErrInvalidKey         = errors.New("invalid key")
	ErrInvalidCommitment  = errors.New("invalid commitment")
	ErrInvalidBlinding    = errors.New("invalid blinding factor")
	ErrInvalidCombine     = errors.New("invalid combine request")
	ErrInvalidViewingKey  = errors.New("invalid viewing key")
	ErrInvalidPathSegment = errors.New("invalid path segment")
	ErrNoAnnouncements    = errors.New("no announcement source configured")
	ErrNoHistory          = errors.New("no history source configured")
)

// MetaAddress is the public (spend, view) key pair identifying a stealth
// recipient. Keys are hex-encoded compressed points.
type MetaAddress struct {
	SpendPublicKey string `json:"spendPublicKey"`
	ViewPublicKey  string `json:"viewPublicKey"`
}

// GeneratedMetaAddress is a fresh meta-address together with its private
// keys. The caller owns the private key slices and must zero them.
type GeneratedMetaAddress struct {
	MetaAddress     MetaAddress `json:"metaAddress"`
	SpendPrivateKey []byte      `json:"spendPrivateKey"`
	ViewPrivateKey  []byte      `json:"viewPrivateKey"`
}

// StealthAddress is a one-time destination derived from a MetaAddress.
type StealthAddress struct {
	Address            string `json:"address"`
	EphemeralPublicKey string `json:"ephemeralPublicKey"`
	ViewTag            uint8  `json:"viewTag"`
}

// Payment is an inbound stealth payment recognized with a view key.
type Payment struct {
	StealthAddress     string    `json:"stealthAddress"`
	EphemeralPublicKey string    `json:"ephemeralPublicKey"`
	Amount             uint64    `json:"amount"`
	Commitment         string    `json:"commitment,omitempty"`
	Slot               uint64    `json:"slot"`
	Timestamp          time.Time `json:"timestamp"`
	TxRef              string    `json:"txRef"`
}

// ScanRequest asks for payments visible to ViewPrivateKey after FromSlot.
type ScanRequest struct {
	ViewPrivateKey []byte `json:"viewPrivateKey"`
	SpendPublicKey string `json:"spendPublicKey"`
	FromSlot       uint64 `json:"fromSlot"`
	Limit          int    `json:"limit"`
}

// ScanResult lists payments found by a scan. ScannedThrough is the highest
// slot examined, which may exceed the slot of every payment found.
type ScanResult struct {
	Payments       []Payment `json:"payments"`
	ScannedThrough uint64    `json:"scannedThrough"`
}

// Commitment is a hex-encoded commitment point and its blinding factor.
type Commitment struct {
	Commitment     string `json:"commitment"`
	BlindingFactor []byte `json:"blindingFactor"`
}

// CombineOp selects the homomorphic operation applied by CombineCommitments.
type CombineOp string

const (
	CombineAdd CombineOp = "add"
	CombineSub CombineOp = "sub"
)

// CombineRequest combines two commitments and their blinding factors.
// For CombineSub the result commits to the first value minus the second.
type CombineRequest struct {
	Op              CombineOp `json:"op"`
	Commitments     []string  `json:"commitments"`
	BlindingFactors [][]byte  `json:"blindingFactors"`
}

// Factor is one contribution to a privacy score.
type Factor struct {
	Name        string `json:"name"`
	Impact      int    `json:"impact"`
	Description string `json:"description"`
}

// PrivacyAnalysis is the provider's assessment of an address.
type PrivacyAnalysis struct {
	Address         string   `json:"address"`
	Score           int      `json:"score"`
	Grade           string   `json:"grade"`
	Factors         []Factor `json:"factors"`
	Recommendations []string `json:"recommendations"`
}

// ViewingKey is raw viewing key material at a hierarchy path.
type ViewingKey struct {
	Key  []byte `json:"key"`
	Path string `json:"path"`
}

// CryptoProvider performs the elliptic-curve work of the subsystem.
// Implementations may be remote; every call honors ctx cancellation.
type CryptoProvider interface {
	// GenerateMetaAddress creates a new spend/view key pair.
	GenerateMetaAddress(ctx context.Context, label string) (*GeneratedMetaAddress, error)

	// DeriveStealthAddress derives a one-time address for meta and returns
	// the shared secret established with the recipient.
	DeriveStealthAddress(ctx context.Context, meta MetaAddress) (*StealthAddress, []byte, error)

	// CheckOwnership reports whether addr was derived for the meta-address
	// of the given private keys.
	CheckOwnership(ctx context.Context, addr StealthAddress, spendPrivateKey, viewPrivateKey []byte) (bool, error)

	// ScanPayments lists payments to the recipient after req.FromSlot.
	ScanPayments(ctx context.Context, req ScanRequest) (*ScanResult, error)

	CreateCommitment(ctx context.Context, value uint64) (*Commitment, error)
	VerifyCommitment(ctx context.Context, commitment string, value uint64, blindingFactor []byte) (bool, error)

	// CombineCommitments returns the combined commitment together with
	// its combined blinding factor.
	CombineCommitments(ctx context.Context, req CombineRequest) (*Commitment, error)

	AnalyzePrivacy(ctx context.Context, address string, limit int) (*PrivacyAnalysis, error)

	GenerateViewingKey(ctx context.Context, path string) (*ViewingKey, error)
	DeriveViewingKey(ctx context.Context, parent ViewingKey, segment string) (*ViewingKey, error)
}

type idempotencyKey struct{}

// WithIdempotencyKey attaches a client idempotency token to ctx. Remote
// providers forward it with the request.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// IdempotencyKeyFromContext returns the token set by WithIdempotencyKey.
func IdempotencyKeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(idempotencyKey{}).(string)
	return key, ok && key != ""
}
