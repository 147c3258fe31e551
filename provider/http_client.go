package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrRemote is returned when the remote provider answers with an error status.
var ErrRemote = errors.New("remote provider error")

// HTTPProvider is a CryptoProvider reached over HTTP.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider creates a client for the provider at baseURL. Every request
// is bounded by timeout in addition to the caller's context.
func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

var _ CryptoProvider = (*HTTPProvider)(nil)

func (p *HTTPProvider) GenerateMetaAddress(ctx context.Context, label string) (*GeneratedMetaAddress, error) {
	var resp GeneratedMetaAddress
	if err := p.post(ctx, pathMetaAddress, metaAddressRequest{Label: label}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *HTTPProvider) DeriveStealthAddress(ctx context.Context, meta MetaAddress) (*StealthAddress, []byte, error) {
	var resp stealthAddressResponse
	if err := p.post(ctx, pathStealthAddress, meta, &resp); err != nil {
		return nil, nil, err
	}
	return &resp.StealthAddress, resp.SharedSecret, nil
}

func (p *HTTPProvider) CheckOwnership(ctx context.Context, addr StealthAddress, spendPrivateKey, viewPrivateKey []byte) (bool, error) {
	var resp boolResponse
	err := p.post(ctx, pathOwnership, ownershipRequest{
		StealthAddress:  addr,
		SpendPrivateKey: spendPrivateKey,
		ViewPrivateKey:  viewPrivateKey,
	}, &resp)
	return resp.Result, err
}

func (p *HTTPProvider) ScanPayments(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	var resp ScanResult
	if err := p.post(ctx, pathScan, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *HTTPProvider) CreateCommitment(ctx context.Context, value uint64) (*Commitment, error) {
	var resp Commitment
	if err := p.post(ctx, pathCommitment, createCommitmentRequest{Value: value}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *HTTPProvider) VerifyCommitment(ctx context.Context, commitment string, value uint64, blindingFactor []byte) (bool, error) {
	var resp boolResponse
	err := p.post(ctx, pathVerifyCommitment, verifyCommitmentRequest{
		Commitment:     commitment,
		Value:          value,
		BlindingFactor: blindingFactor,
	}, &resp)
	return resp.Result, err
}

func (p *HTTPProvider) CombineCommitments(ctx context.Context, req CombineRequest) (*Commitment, error) {
	var resp Commitment
	if err := p.post(ctx, pathCombineCommitment, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *HTTPProvider) AnalyzePrivacy(ctx context.Context, address string, limit int) (*PrivacyAnalysis, error) {
	var resp PrivacyAnalysis
	if err := p.post(ctx, pathPrivacy, analyzeRequest{Address: address, Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *HTTPProvider) GenerateViewingKey(ctx context.Context, path string) (*ViewingKey, error) {
	var resp ViewingKey
	if err := p.post(ctx, pathViewingKey, generateViewingKeyRequest{Path: path}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *HTTPProvider) DeriveViewingKey(ctx context.Context, parent ViewingKey, segment string) (*ViewingKey, error) {
	var resp ViewingKey
	if err := p.post(ctx, pathDeriveViewingKey, deriveViewingKeyRequest{Parent: parent, Segment: segment}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *HTTPProvider) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key, ok := IdempotencyKeyFromContext(ctx); ok {
		req.Header.Set(idempotencyHeader, key)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%w: %s: status %d: %s", ErrRemote, path, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("%w: %s: status %d", ErrRemote, path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
