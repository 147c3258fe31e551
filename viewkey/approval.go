package viewkey

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/fikriaf/ars-sub001/crypto"
	"github.com/fikriaf/ars-sub001/metrics"
	"github.com/fikriaf/ars-sub001/store"
	"github.com/lightningnetwork/lnd/clock"
	gocache "github.com/patrickmn/go-cache"
)

var (
	// ErrInsufficientApprovals is returned when fewer than Threshold distinct
	// approvers signed an access request.
	ErrInsufficientApprovals = errors.New("insufficient approvals")

	// ErrApprovalExpired is returned for requests outside the validity window.
	ErrApprovalExpired = errors.New("approval request expired")

	// ErrReplayedApproval is returned when a request nonce was already used.
	ErrReplayedApproval = errors.New("approval nonce already used")

	// ErrNoApprovers is returned when master access is requested without a
	// configured approver set.
	ErrNoApprovers = errors.New("no master key approvers configured")
)

const (
	DefaultApprovalThreshold = 3
	DefaultApprovalValidity  = 5 * time.Minute

	accessDomain = "veil/master-key-access/v1"
)

// ApprovalPolicy is the k-of-N rule guarding master key export.
type ApprovalPolicy struct {
	Threshold int
	Approvers []crypto.PublicKey

	// Validity bounds how old or how far in the future IssuedAt may be.
	Validity time.Duration
}

// AccessRequest names the key to export. Approvers sign Digest().
type AccessRequest struct {
	KeyID    string    `json:"keyId"`
	Nonce    string    `json:"nonce"`
	IssuedAt time.Time `json:"issuedAt"`
}

// Digest is the message approvers sign.
func (r AccessRequest) Digest() []byte {
	buf := make([]byte, 0, len(accessDomain)+len(r.KeyID)+len(r.Nonce)+32)
	buf = append(buf, accessDomain...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(r.KeyID)))
	buf = append(buf, r.KeyID...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(r.Nonce)))
	buf = append(buf, r.Nonce...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.IssuedAt.Unix()))
	return buf
}

// Approval is one approver's signature over an AccessRequest.
type Approval struct {
	Approver  crypto.PublicKey `json:"approver"`
	Signature crypto.Signature `json:"signature"`
}

// SignAccess signs req with sk.
func SignAccess(sk crypto.PrivateKey, req AccessRequest) (Approval, error) {
	pk, err := sk.PublicKey()
	if err != nil {
		return Approval{}, err
	}
	sig, err := crypto.Sign(sk, req.Digest())
	if err != nil {
		return Approval{}, err
	}
	return Approval{Approver: pk, Signature: sig}, nil
}

// ApprovalVerifier checks access requests against a policy. Each nonce is
// accepted once within the validity window.
type ApprovalVerifier struct {
	policy    ApprovalPolicy
	approvers map[string]crypto.PublicKey
	nonces    *gocache.Cache
	clock     clock.Clock
}

// NewApprovalVerifier validates policy and creates a verifier.
func NewApprovalVerifier(policy ApprovalPolicy, clk clock.Clock) (*ApprovalVerifier, error) {
	if policy.Threshold == 0 {
		policy.Threshold = DefaultApprovalThreshold
	}
	if policy.Validity == 0 {
		policy.Validity = DefaultApprovalValidity
	}
	approvers := make(map[string]crypto.PublicKey, len(policy.Approvers))
	for _, pk := range policy.Approvers {
		approvers[pk.String()] = pk
	}
	if len(approvers) > 0 && policy.Threshold > len(approvers) {
		return nil, fmt.Errorf("approval threshold %d exceeds %d approvers", policy.Threshold, len(approvers))
	}
	if policy.Threshold < 1 {
		return nil, fmt.Errorf("invalid approval threshold %d", policy.Threshold)
	}
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &ApprovalVerifier{
		policy:    policy,
		approvers: approvers,
		nonces:    gocache.New(2*policy.Validity, policy.Validity),
		clock:     clk,
	}, nil
}

// Verify checks that at least Threshold distinct configured approvers
// signed req, that req is within the validity window and that its nonce is
// new. A request that passes consumes its nonce.
func (v *ApprovalVerifier) Verify(req AccessRequest, approvals []Approval) error {
	err := v.verify(req, approvals)
	if err != nil {
		metrics.IncApproval("rejected")
		return err
	}
	metrics.IncApproval("accepted")
	return nil
}

func (v *ApprovalVerifier) verify(req AccessRequest, approvals []Approval) error {
	if len(v.approvers) == 0 {
		return ErrNoApprovers
	}
	if req.KeyID == "" || req.Nonce == "" {
		return errors.New("access request needs key id and nonce")
	}
	now := v.clock.Now()
	if age := now.Sub(req.IssuedAt); age > v.policy.Validity || age < -v.policy.Validity {
		return fmt.Errorf("%w: issued %s", ErrApprovalExpired, req.IssuedAt.UTC().Format(time.RFC3339))
	}

	digest := req.Digest()
	signed := make(map[string]struct{})
	for _, a := range approvals {
		pk, ok := v.approvers[a.Approver.String()]
		if !ok {
			continue
		}
		if a.Signature.Verify(pk, digest) {
			signed[pk.String()] = struct{}{}
		}
	}
	if len(signed) < v.policy.Threshold {
		return fmt.Errorf("%w: %d of %d", ErrInsufficientApprovals, len(signed), v.policy.Threshold)
	}

	if err := v.nonces.Add(req.Nonce, struct{}{}, gocache.DefaultExpiration); err != nil {
		return fmt.Errorf("%w: %s", ErrReplayedApproval, req.Nonce)
	}
	return nil
}

// ExportKey returns the decrypted key of req.KeyID. Master keys require
// approvals satisfying v; other roles are returned directly. The caller
// must zero the result.
func (m *Manager) ExportKey(ctx context.Context, v *ApprovalVerifier, req AccessRequest, approvals []Approval) ([]byte, error) {
	rec, err := m.store.ViewingKey(ctx, req.KeyID)
	if err != nil {
		return nil, err
	}
	if !rec.Live(m.clock.Now()) {
		return nil, fmt.Errorf("%w: %s", ErrKeyInactive, rec.ID)
	}
	if rec.Role == store.RoleMaster {
		if v == nil {
			return nil, ErrNoApprovers
		}
		if err := v.Verify(req, approvals); err != nil {
			m.log.Warn("master key export rejected", "id", rec.ID, "err", err)
			return nil, err
		}
		m.log.Info("master key exported", "id", rec.ID, "approvals", len(approvals))
	}
	return m.decrypt(rec)
}
