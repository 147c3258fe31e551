package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/fikriaf/ars-sub001/crypto"
	"github.com/fikriaf/ars-sub001/disclosure"
	"github.com/fikriaf/ars-sub001/provider"
	"github.com/fikriaf/ars-sub001/services"
	"github.com/fikriaf/ars-sub001/store"
	"github.com/fikriaf/ars-sub001/swap"
	"github.com/fikriaf/ars-sub001/testutil"
	"github.com/fikriaf/ars-sub001/viewkey"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type testAPI struct {
	*testutil.Arena
	sys      *services.Subsystem
	auth     *Authenticator
	handler  http.Handler
	operator string
	auditor  string
	signers  []crypto.PrivateKey
}

func setupAPI(t *testing.T) *testAPI {
	t.Helper()

	a := testutil.NewArena(t)
	pubs, privs := testutil.GenerateTestKeyPairs(t, 3)
	sys, err := services.New(services.Config{
		Approvals: viewkey.ApprovalPolicy{Threshold: 2, Approvers: pubs},
	}, services.Deps{
		Provider: a.Provider,
		Store:    a.Store,
		Vault:    a.Vault,
		Venue:    a.Ledger,
		Claimer:  a.Ledger,
		Clock:    a.Clock,
		Log:      a.Log,
	})
	require.NoError(t, err)

	auth, err := NewAuthenticator(testSecret, "veil-test", a.Clock)
	require.NoError(t, err)

	api := New(Deps{
		Registry:    sys.Registry,
		Scanner:     sys.Scanner,
		Payments:    a.Store,
		Commitments: sys.Commitments,
		Privacy:     sys.Privacy,
		Swaps:       sys.Swaps,
		ViewingKeys: sys.ViewingKeys,
		Approvals:   sys.Approvals,
		Disclosures: sys.Disclosures,
		Auth:        auth,
		Log:         a.Log,
	})
	r := chi.NewRouter()
	api.RegisterRoutes(r)

	operator, err := auth.Issue("ops", time.Hour, ScopeOperator)
	require.NoError(t, err)
	auditor, err := auth.Issue("auditor-1", time.Hour, ScopeAuditor)
	require.NoError(t, err)

	a.Ledger.SetRate("SOL", "USDC", 2)
	a.Ledger.Fund("VaultAddr111", 10_000)
	a.Ledger.AdvanceSlot()

	return &testAPI{Arena: a, sys: sys, auth: auth, handler: r, operator: operator, auditor: auditor, signers: privs}
}

func (ta *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	ta.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestAuth(t *testing.T) {
	ta := setupAPI(t)

	expired, err := ta.auth.Issue("ops", time.Minute, ScopeOperator)
	require.NoError(t, err)
	other, err := NewAuthenticator([]byte("fedcba9876543210fedcba9876543210"), "veil-test", ta.Clock)
	require.NoError(t, err)
	forged, err := other.Issue("ops", time.Hour, ScopeOperator)
	require.NoError(t, err)
	ta.Advance(2 * time.Minute)

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "not-a-jwt", http.StatusUnauthorized},
		{"expired", expired, http.StatusUnauthorized},
		{"wrong secret", forged, http.StatusUnauthorized},
		{"auditor on operator route", ta.auditor, http.StatusForbidden},
		{"operator", ta.operator, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ta.do(t, http.MethodGet, "/api/v1/privacy/threshold", tt.token, nil)
			require.Equal(t, tt.status, rr.Code, rr.Body.String())
		})
	}

	_, err = NewAuthenticator([]byte("short"), "", nil)
	require.Error(t, err)
}

func TestMetaAddressRoutes(t *testing.T) {
	ta := setupAPI(t)

	rr := ta.do(t, http.MethodGet, "/api/v1/agents/agent-1/meta-address", ta.operator, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = ta.do(t, http.MethodPost, "/api/v1/agents/agent-1/meta-address", ta.operator, labelRequest{Label: "main"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	meta := decodeBody[provider.MetaAddress](t, rr)
	require.NotEmpty(t, meta.SpendPublicKey)

	rr = ta.do(t, http.MethodGet, "/api/v1/agents/agent-1/meta-address", ta.operator, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, meta, decodeBody[provider.MetaAddress](t, rr))

	rr = ta.do(t, http.MethodPost, "/api/v1/stealth-address", ta.operator, meta)
	require.Equal(t, http.StatusOK, rr.Code)
	addr := decodeBody[provider.StealthAddress](t, rr)
	require.NotEmpty(t, addr.Address)
	require.NotContains(t, rr.Body.String(), "sharedSecret")

	rr = ta.do(t, http.MethodDelete, "/api/v1/agents/agent-1", ta.operator, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, decodeBody[deletedResponse](t, rr).Deleted)
}

func TestCommitmentRoutes(t *testing.T) {
	ta := setupAPI(t)

	rr := ta.do(t, http.MethodPost, "/api/v1/commitments/batch", ta.operator, batchRequest{Values: []uint64{300, 700}})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	recs := decodeBody[[]store.CommitmentRecord](t, rr)
	require.Len(t, recs, 2)

	rr = ta.do(t, http.MethodPost, "/api/v1/commitments/combine", ta.operator, combineRequest{A: recs[0].ID, B: recs[1].ID})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	sum := decodeBody[store.CommitmentRecord](t, rr)

	rr = ta.do(t, http.MethodPost, "/api/v1/commitments/"+sum.ID+"/verify", ta.operator, valueRequest{Value: 999})
	require.Equal(t, http.StatusOK, rr.Code)
	require.False(t, decodeBody[validResponse](t, rr).Valid)

	rr = ta.do(t, http.MethodPost, "/api/v1/commitments/"+sum.ID+"/verify", ta.operator, valueRequest{Value: 1000})
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, decodeBody[validResponse](t, rr).Valid)

	rr = ta.do(t, http.MethodPost, "/api/v1/commitments/combine", ta.operator, combineRequest{A: recs[0].ID, B: recs[1].ID, Op: provider.CombineSub})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ta.do(t, http.MethodPost, "/api/v1/commitments/batch", ta.operator, batchRequest{})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ta.do(t, http.MethodPost, "/api/v1/commitments/unknown/verify", ta.operator, valueRequest{Value: 1})
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPrivacyRoutes(t *testing.T) {
	ta := setupAPI(t)

	rr := ta.do(t, http.MethodPut, "/api/v1/privacy/threshold", ta.operator, thresholdBody{Threshold: 101})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ta.do(t, http.MethodPut, "/api/v1/privacy/threshold", ta.operator, thresholdBody{Threshold: 80})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 80, ta.sys.Privacy.Threshold())

	rr = ta.do(t, http.MethodPost, "/api/v1/privacy/FreshAddr/analyze", ta.operator, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, 100, decodeBody[store.PrivacyScoreRecord](t, rr).Score)

	rr = ta.do(t, http.MethodGet, "/api/v1/privacy/FreshAddr/protection", ta.operator, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.False(t, decodeBody[protectionResponse](t, rr).Enhanced)

	rr = ta.do(t, http.MethodGet, "/api/v1/privacy/FreshAddr/trend?n=x", ta.operator, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestViewingKeyRoutes(t *testing.T) {
	ta := setupAPI(t)

	rr := ta.do(t, http.MethodPost, "/api/v1/viewing-keys/master", ta.operator, masterRequest{Path: "x/0"})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ta.do(t, http.MethodPost, "/api/v1/viewing-keys/master", ta.operator, masterRequest{})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	root := decodeBody[store.ViewingKeyRecord](t, rr)
	require.Equal(t, viewkey.DefaultMasterPath, root.Path)

	rr = ta.do(t, http.MethodPost, "/api/v1/viewing-keys/"+root.ID+"/derive", ta.operator, deriveRequest{Segment: "a/b"})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ta.do(t, http.MethodPost, "/api/v1/viewing-keys/"+root.ID+"/derive", ta.operator, deriveRequest{Segment: "org", Role: store.RoleExternal, TTL: "24h"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	org := decodeBody[store.ViewingKeyRecord](t, rr)
	require.Equal(t, store.RoleExternal, org.Role)
	require.Equal(t, ta.Clock.Now().Add(24*time.Hour).Unix(), org.ExpiresAt.Unix())

	rr = ta.do(t, http.MethodPost, "/api/v1/viewing-keys/verify", ta.operator, hierarchyRequest{ParentID: root.ID, ChildID: org.ID})
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, decodeBody[validResponse](t, rr).Valid)

	rr = ta.do(t, http.MethodGet, "/api/v1/viewing-keys?role=external", ta.operator, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, decodeBody[[]store.ViewingKeyRecord](t, rr), 1)

	rr = ta.do(t, http.MethodPost, "/api/v1/viewing-keys/"+org.ID+"/revoke", ta.operator, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = ta.do(t, http.MethodPost, "/api/v1/viewing-keys/"+org.ID+"/revoke", ta.operator, nil)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = ta.do(t, http.MethodPost, "/api/v1/viewing-keys/"+org.ID+"/derive", ta.operator, deriveRequest{Segment: "team"})
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestMasterExportRequiresApprovals(t *testing.T) {
	ta := setupAPI(t)

	rr := ta.do(t, http.MethodPost, "/api/v1/viewing-keys/master", ta.operator, masterRequest{})
	require.Equal(t, http.StatusCreated, rr.Code)
	root := decodeBody[store.ViewingKeyRecord](t, rr)

	access := viewkey.AccessRequest{KeyID: root.ID, Nonce: "n-1", IssuedAt: ta.Clock.Now()}
	sign := func(sks ...crypto.PrivateKey) exportRequest {
		req := exportRequest{Nonce: access.Nonce, IssuedAt: access.IssuedAt}
		for _, sk := range sks {
			ap, err := viewkey.SignAccess(sk, access)
			require.NoError(t, err)
			req.Approvals = append(req.Approvals, approvalBody{Approver: ap.Approver.String(), Signature: ap.Signature.String()})
		}
		return req
	}

	path := "/api/v1/viewing-keys/" + root.ID + "/export"
	rr = ta.do(t, http.MethodPost, path, ta.operator, sign(ta.signers[0]))
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = ta.do(t, http.MethodPost, path, ta.operator, sign(ta.signers[0], ta.signers[2]))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, root.KeyHash, decodeBody[exportResponse](t, rr).KeyHash)

	rr = ta.do(t, http.MethodPost, path, ta.operator, sign(ta.signers[0], ta.signers[1]))
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestSwapDisclosureFlow(t *testing.T) {
	ta := setupAPI(t)

	rr := ta.do(t, http.MethodPost, "/api/v1/swaps", ta.operator, swap.Request{
		VaultID:      "vault-1",
		VaultAddress: "VaultAddr111",
		InputMint:    "SOL",
		OutputMint:   "USDC",
		Amount:       1000,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	sw := decodeBody[store.SwapRecord](t, rr)
	require.Equal(t, store.SwapCompleted, sw.Status)

	rr = ta.do(t, http.MethodGet, "/api/v1/swaps/"+sw.ID, ta.operator, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = ta.do(t, http.MethodGet, "/api/v1/vaults/vault-1/mev-metrics", ta.operator, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, decodeBody[swap.MEVMetrics](t, rr).Swaps)

	// No regulator key yet.
	disclose := discloseRequest{TransactionID: sw.ID, AuditorID: "auditor-1", Role: store.RoleRegulator}
	rr = ta.do(t, http.MethodPost, "/api/v1/disclosures", ta.operator, disclose)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = ta.do(t, http.MethodPost, "/api/v1/viewing-keys/master", ta.operator, masterRequest{})
	root := decodeBody[store.ViewingKeyRecord](t, rr)
	rr = ta.do(t, http.MethodPost, "/api/v1/viewing-keys/"+root.ID+"/derive", ta.operator, deriveRequest{Segment: "regulator", Role: store.RoleRegulator})
	require.Equal(t, http.StatusCreated, rr.Code)
	reg := decodeBody[store.ViewingKeyRecord](t, rr)
	rr = ta.do(t, http.MethodPost, "/api/v1/viewing-keys/"+reg.ID+"/export", ta.operator, exportRequest{})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	regKey := decodeBody[exportResponse](t, rr).Key

	rr = ta.do(t, http.MethodPost, "/api/v1/disclosures", ta.operator, disclose)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	d := decodeBody[store.DisclosureRecord](t, rr)

	// Auditors cannot create disclosures but can verify them.
	rr = ta.do(t, http.MethodPost, "/api/v1/disclosures", ta.auditor, disclose)
	require.Equal(t, http.StatusForbidden, rr.Code)

	verify := "/api/v1/disclosures/" + d.ID + "/verify"
	rr = ta.do(t, http.MethodPost, verify, ta.auditor, complianceRequest{ViewingKey: "zz"})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ta.do(t, http.MethodPost, verify, ta.auditor, complianceRequest{ViewingKey: regKey})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	report := decodeBody[disclosure.ComplianceReport](t, rr)
	require.True(t, report.Compliant)
	require.Equal(t, sw.ID, report.TransactionID)
	require.NotNil(t, report.Transfer.Amount)
	require.Equal(t, uint64(1000), *report.Transfer.Amount)

	q := url.Values{
		"role": {string(store.RoleRegulator)},
		"from": {ta.Clock.Now().Add(-time.Hour).Format(time.RFC3339)},
		"to":   {ta.Clock.Now().Add(time.Hour).Format(time.RFC3339)},
	}
	rr = ta.do(t, http.MethodGet, "/api/v1/disclosures/report?"+q.Encode(), ta.auditor, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, 1, decodeBody[disclosure.Report](t, rr).Compliant)

	rr = ta.do(t, http.MethodGet, "/api/v1/disclosures/report?role=regulator&from=yesterday", ta.auditor, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ta.do(t, http.MethodPost, "/api/v1/disclosures/"+d.ID+"/revoke", ta.operator, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = ta.do(t, http.MethodPost, verify, ta.auditor, complianceRequest{ViewingKey: regKey})
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSwapFailureReturnsRecord(t *testing.T) {
	ta := setupAPI(t)

	rr := ta.do(t, http.MethodPut, "/api/v1/swaps/strict", ta.operator, strictBody{Strict: true})
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, ta.sys.Swaps.Strict())

	rr = ta.do(t, http.MethodPost, "/api/v1/swaps", ta.operator, swap.Request{
		VaultID:      "vault-1",
		VaultAddress: "VaultAddr111",
		InputMint:    "SOL",
		OutputMint:   "DOGE",
		Amount:       1000,
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	sw := decodeBody[store.SwapRecord](t, rr)
	require.Equal(t, store.SwapFailed, sw.Status)
	require.Equal(t, string(swap.StepSubmit), sw.FailedStep)

	rr = ta.do(t, http.MethodPost, "/api/v1/swaps/"+sw.ID+"/retry-claim", ta.operator, nil)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = ta.do(t, http.MethodPost, "/api/v1/swaps", ta.operator, map[string]any{"vaultId": "v", "bogus": 1})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{disclosure.ErrDisclosureExpired, http.StatusNotFound},
		{disclosure.ErrDisclosureRevoked, http.StatusNotFound},
		{viewkey.ErrInvalidPath, http.StatusBadRequest},
		{viewkey.ErrRevokedParent, http.StatusConflict},
		{store.ErrNotFound, http.StatusNotFound},
		{crypto.ErrDecryptionFailed, http.StatusForbidden},
		{http.ErrBodyNotAllowed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		require.Equal(t, tt.status, statusFor(tt.err), tt.err.Error())
	}
}
