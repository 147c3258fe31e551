package handlers

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fikriaf/ars-sub001/commitment"
	"github.com/fikriaf/ars-sub001/crypto"
	"github.com/fikriaf/ars-sub001/disclosure"
	"github.com/fikriaf/ars-sub001/privacyscore"
	"github.com/fikriaf/ars-sub001/provider"
	"github.com/fikriaf/ars-sub001/scanner"
	"github.com/fikriaf/ars-sub001/stealth"
	"github.com/fikriaf/ars-sub001/store"
	"github.com/fikriaf/ars-sub001/swap"
	"github.com/fikriaf/ars-sub001/viewkey"
	"github.com/go-chi/chi/v5"
)

// Deps are the components served by the API. Routes of a nil component are
// not mounted.
type Deps struct {
	Registry    *stealth.Registry
	Scanner     *scanner.Scanner
	Payments    store.PaymentStore
	Commitments *commitment.Engine
	Privacy     *privacyscore.Monitor
	Swaps       *swap.Orchestrator
	ViewingKeys *viewkey.Manager
	Approvals   *viewkey.ApprovalVerifier
	Disclosures *disclosure.Service

	// Events streams scanner events, typically a *scanner.Hub.
	Events http.Handler

	// Auth guards every route. Nil leaves the API open.
	Auth *Authenticator

	Log *slog.Logger
}

// API serves the subsystem's operations as JSON under /api/v1.
type API struct {
	Deps
	log *slog.Logger
}

// New creates the API.
func New(deps Deps) *API {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &API{Deps: deps, log: log.With("component", "api")}
}

// RegisterRoutes implements httpserver.RouteRegistrar.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if a.Auth != nil {
				r.Use(a.Auth.Require(ScopeOperator))
			}
			a.operatorRoutes(r)
		})

		// Auditors verify and report on the disclosures made to them.
		if a.Disclosures != nil {
			r.Group(func(r chi.Router) {
				if a.Auth != nil {
					r.Use(a.Auth.Require(ScopeOperator, ScopeAuditor))
				}
				r.Post("/disclosures/{id}/verify", a.handleVerifyCompliance)
				r.Get("/disclosures/report", a.handleReport)
			})
		}
	})
}

func (a *API) operatorRoutes(r chi.Router) {
	if a.Registry != nil {
		r.Post("/agents/{agentID}/meta-address", a.handleGenerateMetaAddress)
		r.Get("/agents/{agentID}/meta-address", a.handleGetMetaAddress)
		r.Post("/agents/{agentID}/meta-address/rotate", a.handleRotateMetaAddress)
		r.Delete("/agents/{agentID}", a.handleDeleteAgent)
		r.Post("/stealth-address", a.handleDeriveStealthAddress)
	}
	if a.Scanner != nil {
		r.Post("/scan", a.handleScanAll)
		r.Post("/agents/{agentID}/scan", a.handleScanAgent)
	}
	if a.Payments != nil {
		r.Get("/agents/{agentID}/payments", a.handlePayments)
	}
	if a.Events != nil {
		r.Handle("/events", a.Events)
	}
	if a.Commitments != nil {
		r.Post("/commitments", a.handleCreateCommitment)
		r.Post("/commitments/batch", a.handleBatchCommitments)
		r.Post("/commitments/verify", a.handleVerifyCommitment)
		r.Post("/commitments/combine", a.handleCombineCommitments)
		r.Post("/commitments/{id}/verify", a.handleVerifyCommitmentRecord)
	}
	if a.Privacy != nil {
		r.Get("/privacy/threshold", a.handleGetThreshold)
		r.Put("/privacy/threshold", a.handleSetThreshold)
		r.Post("/privacy/{address}/analyze", a.handleAnalyze)
		r.Get("/privacy/{address}/trend", a.handleTrend)
		r.Get("/privacy/{address}/protection", a.handleProtection)
	}
	if a.Swaps != nil {
		r.Post("/swaps", a.handleExecuteSwap)
		r.Put("/swaps/strict", a.handleSetStrict)
		r.Get("/swaps/{id}", a.handleGetSwap)
		r.Post("/swaps/{id}/retry-claim", a.handleRetryClaim)
		r.Get("/vaults/{vaultID}/mev-metrics", a.handleMEVMetrics)
	}
	if a.ViewingKeys != nil {
		r.Post("/viewing-keys/master", a.handleGenerateMaster)
		r.Post("/viewing-keys/verify", a.handleVerifyHierarchy)
		r.Get("/viewing-keys", a.handleKeysByRole)
		r.Get("/viewing-keys/{id}", a.handleGetViewingKey)
		r.Post("/viewing-keys/{id}/derive", a.handleDeriveViewingKey)
		r.Post("/viewing-keys/{id}/revoke", a.handleRevokeViewingKey)
		r.Post("/viewing-keys/{id}/rotate", a.handleRotateViewingKey)
		r.Post("/viewing-keys/{id}/export", a.handleExportViewingKey)
	}
	if a.Disclosures != nil {
		r.Post("/disclosures", a.handleDisclose)
		r.Post("/disclosures/{id}/revoke", a.handleRevokeDisclosure)
	}
}

// fail writes err with its mapped status. Server errors are logged.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeError(w, status, err)
}

// Stealth registry and scanner.

type labelRequest struct {
	Label string `json:"label"`
}

func (a *API) handleGenerateMetaAddress(w http.ResponseWriter, r *http.Request) {
	var req labelRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			a.fail(w, r, err)
			return
		}
	}
	meta, err := a.Registry.GenerateForAgent(r.Context(), chi.URLParam(r, "agentID"), req.Label)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

func (a *API) handleGetMetaAddress(w http.ResponseWriter, r *http.Request) {
	meta, err := a.Registry.GetByAgentID(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (a *API) handleRotateMetaAddress(w http.ResponseWriter, r *http.Request) {
	var req labelRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			a.fail(w, r, err)
			return
		}
	}
	meta, err := a.Registry.RotateKeys(r.Context(), chi.URLParam(r, "agentID"), req.Label)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

type deletedResponse struct {
	Deleted int `json:"deleted"`
}

func (a *API) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	n, err := a.Registry.DeleteForAgent(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deletedResponse{Deleted: n})
}

// handleDeriveStealthAddress returns a one-time address for a payer. The
// shared secret stays server side.
func (a *API) handleDeriveStealthAddress(w http.ResponseWriter, r *http.Request) {
	var meta provider.MetaAddress
	if err := decode(r, &meta); err != nil {
		a.fail(w, r, err)
		return
	}
	addr, secret, err := a.Registry.DeriveStealthAddress(r.Context(), meta)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	crypto.Zero(secret)
	writeJSON(w, http.StatusOK, addr)
}

func (a *API) handleScanAll(w http.ResponseWriter, r *http.Request) {
	res, err := a.Scanner.ScanAllAgents(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleScanAgent(w http.ResponseWriter, r *http.Request) {
	res, err := a.Scanner.ScanAgent(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handlePayments(w http.ResponseWriter, r *http.Request) {
	payments, err := a.Payments.PaymentsByAgent(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if payments == nil {
		payments = []*store.DetectedPayment{}
	}
	writeJSON(w, http.StatusOK, payments)
}

// Commitments.

type valueRequest struct {
	Value uint64 `json:"value"`
}

type batchRequest struct {
	Values []uint64 `json:"values"`
}

type verifyCommitmentRequest struct {
	Commitment     string `json:"commitment"`
	Value          uint64 `json:"value"`
	BlindingFactor string `json:"blindingFactor"`
}

type combineRequest struct {
	A  string             `json:"a"`
	B  string             `json:"b"`
	Op provider.CombineOp `json:"op"`
}

type validResponse struct {
	Valid bool `json:"valid"`
}

func (a *API) handleCreateCommitment(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	rec, err := a.Commitments.Create(r.Context(), req.Value)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) handleBatchCommitments(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if len(req.Values) == 0 {
		a.fail(w, r, fmt.Errorf("%w: empty batch", errBadRequest))
		return
	}
	recs, err := a.Commitments.BatchCreate(r.Context(), req.Values)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, recs)
}

func (a *API) handleVerifyCommitment(w http.ResponseWriter, r *http.Request) {
	var req verifyCommitmentRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	blinding, err := hex.DecodeString(req.BlindingFactor)
	if err != nil {
		a.fail(w, r, fmt.Errorf("%w: blinding factor: %w", errBadRequest, err))
		return
	}
	defer crypto.Zero(blinding)
	ok, err := a.Commitments.Verify(r.Context(), req.Commitment, req.Value, blinding)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, validResponse{Valid: ok})
}

func (a *API) handleVerifyCommitmentRecord(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	ok, err := a.Commitments.VerifyRecord(r.Context(), chi.URLParam(r, "id"), req.Value)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, validResponse{Valid: ok})
}

func (a *API) handleCombineCommitments(w http.ResponseWriter, r *http.Request) {
	var req combineRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	var (
		rec *store.CommitmentRecord
		err error
	)
	switch req.Op {
	case provider.CombineAdd, "":
		rec, err = a.Commitments.Combine(r.Context(), req.A, req.B)
	case provider.CombineSub:
		rec, err = a.Commitments.Subtract(r.Context(), req.A, req.B)
	default:
		err = fmt.Errorf("%w: op %q", provider.ErrInvalidCombine, req.Op)
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// Privacy.

type thresholdBody struct {
	Threshold int `json:"threshold"`
}

type analyzeRequest struct {
	Limit int `json:"limit"`
}

type protectionResponse struct {
	Address  string `json:"address"`
	Enhanced bool   `json:"enhanced"`
}

func (a *API) handleGetThreshold(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, thresholdBody{Threshold: a.Privacy.Threshold()})
}

func (a *API) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdBody
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.Privacy.SetThreshold(req.Threshold); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *API) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			a.fail(w, r, err)
			return
		}
	}
	rec, err := a.Privacy.Analyze(r.Context(), chi.URLParam(r, "address"), req.Limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleTrend(w http.ResponseWriter, r *http.Request) {
	n, err := intQuery(r, "n")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	trend, err := a.Privacy.Trend(r.Context(), chi.URLParam(r, "address"), n)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trend)
}

func (a *API) handleProtection(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	enhanced, err := a.Privacy.NeedsEnhancedProtection(r.Context(), address)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protectionResponse{Address: address, Enhanced: enhanced})
}

// Swaps.

type strictBody struct {
	Strict bool `json:"strict"`
}

// handleExecuteSwap returns the swap record with 201 on success and with
// the mapped error status when a step failed.
func (a *API) handleExecuteSwap(w http.ResponseWriter, r *http.Request) {
	var req swap.Request
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	rec, err := a.Swaps.Execute(r.Context(), req)
	switch {
	case err != nil && rec != nil:
		a.log.Warn("swap failed", "swap", rec.ID, "step", rec.FailedStep, "err", err)
		writeJSON(w, statusFor(err), rec)
	case err != nil:
		a.fail(w, r, err)
	default:
		writeJSON(w, http.StatusCreated, rec)
	}
}

func (a *API) handleSetStrict(w http.ResponseWriter, r *http.Request) {
	var req strictBody
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	a.Swaps.SetStrict(req.Strict)
	writeJSON(w, http.StatusOK, strictBody{Strict: a.Swaps.Strict()})
}

func (a *API) handleGetSwap(w http.ResponseWriter, r *http.Request) {
	rec, err := a.Swaps.Swap(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleRetryClaim(w http.ResponseWriter, r *http.Request) {
	rec, err := a.Swaps.RetryClaim(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleMEVMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := a.Swaps.Metrics(r.Context(), chi.URLParam(r, "vaultID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Viewing keys.

type masterRequest struct {
	Path string `json:"path"`
}

type deriveRequest struct {
	Segment   string     `json:"segment"`
	Role      store.Role `json:"role,omitempty"`
	TTL       string     `json:"ttl,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

type hierarchyRequest struct {
	ParentID string `json:"parentId"`
	ChildID  string `json:"childId"`
}

type approvalBody struct {
	Approver  string `json:"approver"`
	Signature string `json:"signature"`
}

type exportRequest struct {
	Nonce     string         `json:"nonce"`
	IssuedAt  time.Time      `json:"issuedAt"`
	Approvals []approvalBody `json:"approvals"`
}

type exportResponse struct {
	ID      string `json:"id"`
	KeyHash string `json:"keyHash"`
	Key     string `json:"key"`
}

func (a *API) handleGenerateMaster(w http.ResponseWriter, r *http.Request) {
	var req masterRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.Path == "" {
		req.Path = viewkey.DefaultMasterPath
	}
	rec, err := a.ViewingKeys.GenerateMaster(r.Context(), req.Path)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) handleDeriveViewingKey(w http.ResponseWriter, r *http.Request) {
	var req deriveRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	var opts []viewkey.DeriveOption
	if req.Role != "" {
		opts = append(opts, viewkey.WithRole(req.Role))
	}
	if req.TTL != "" {
		ttl, err := time.ParseDuration(req.TTL)
		if err != nil || ttl <= 0 {
			a.fail(w, r, fmt.Errorf("%w: ttl %q", errBadRequest, req.TTL))
			return
		}
		opts = append(opts, viewkey.WithTTL(ttl))
	}
	if req.ExpiresAt != nil {
		opts = append(opts, viewkey.WithExpiry(*req.ExpiresAt))
	}
	rec, err := a.ViewingKeys.Derive(r.Context(), chi.URLParam(r, "id"), req.Segment, opts...)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) handleVerifyHierarchy(w http.ResponseWriter, r *http.Request) {
	var req hierarchyRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	ok := a.ViewingKeys.VerifyHierarchy(r.Context(), req.ParentID, req.ChildID)
	writeJSON(w, http.StatusOK, validResponse{Valid: ok})
}

func (a *API) handleKeysByRole(w http.ResponseWriter, r *http.Request) {
	role := store.Role(r.URL.Query().Get("role"))
	if !role.Valid() {
		a.fail(w, r, fmt.Errorf("%w: %q", viewkey.ErrInvalidRole, role))
		return
	}
	recs, err := a.ViewingKeys.ActiveByRole(r.Context(), role)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if recs == nil {
		recs = []*store.ViewingKeyRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (a *API) handleGetViewingKey(w http.ResponseWriter, r *http.Request) {
	rec, err := a.ViewingKeys.Record(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleRevokeViewingKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.ViewingKeys.Revoke(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRotateViewingKey(w http.ResponseWriter, r *http.Request) {
	rec, err := a.ViewingKeys.Rotate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// handleExportViewingKey releases raw key material. Master keys require
// k-of-N approver signatures over the access request.
func (a *API) handleExportViewingKey(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	approvals := make([]viewkey.Approval, 0, len(req.Approvals))
	for _, ap := range req.Approvals {
		pk, err := crypto.NewPublicKeyFromString(ap.Approver)
		if err != nil {
			a.fail(w, r, fmt.Errorf("%w: approver: %w", errBadRequest, err))
			return
		}
		sig, err := crypto.NewSignatureFromString(ap.Signature)
		if err != nil {
			a.fail(w, r, fmt.Errorf("%w: signature: %w", errBadRequest, err))
			return
		}
		approvals = append(approvals, viewkey.Approval{Approver: pk, Signature: sig})
	}

	id := chi.URLParam(r, "id")
	access := viewkey.AccessRequest{KeyID: id, Nonce: req.Nonce, IssuedAt: req.IssuedAt}
	key, err := a.ViewingKeys.ExportKey(r.Context(), a.Approvals, access, approvals)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	defer crypto.Zero(key)

	subject := ""
	if c, ok := ClaimsFromContext(r.Context()); ok {
		subject = c.Subject
	}
	a.log.Warn("viewing key exported", "key", id, "subject", subject, "approvals", len(approvals))
	writeJSON(w, http.StatusOK, exportResponse{ID: id, KeyHash: viewkey.KeyHash(key), Key: hex.EncodeToString(key)})
}

// Disclosures.

type discloseRequest struct {
	TransactionID string     `json:"transactionId"`
	AuditorID     string     `json:"auditorId"`
	Role          store.Role `json:"role"`
}

type complianceRequest struct {
	ViewingKey string `json:"viewingKey"`
}

func (a *API) handleDisclose(w http.ResponseWriter, r *http.Request) {
	var req discloseRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.TransactionID == "" || req.AuditorID == "" {
		a.fail(w, r, fmt.Errorf("%w: transactionId and auditorId are required", errBadRequest))
		return
	}
	rec, err := a.Disclosures.DiscloseToAuditor(r.Context(), req.TransactionID, req.AuditorID, req.Role)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) handleVerifyCompliance(w http.ResponseWriter, r *http.Request) {
	var req complianceRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	key, err := hex.DecodeString(req.ViewingKey)
	if err != nil || len(key) == 0 {
		a.fail(w, r, fmt.Errorf("%w: viewing key must be non-empty hex", errBadRequest))
		return
	}
	defer crypto.Zero(key)

	report, err := a.Disclosures.VerifyCompliance(r.Context(), chi.URLParam(r, "id"), key)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleRevokeDisclosure(w http.ResponseWriter, r *http.Request) {
	if err := a.Disclosures.RevokeDisclosure(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReport expects RFC 3339 from and to query parameters.
func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, errFrom := time.Parse(time.RFC3339, q.Get("from"))
	to, errTo := time.Parse(time.RFC3339, q.Get("to"))
	if err := errors.Join(errFrom, errTo); err != nil {
		a.fail(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	report, err := a.Disclosures.GenerateReport(r.Context(), from, to, store.Role(q.Get("role")))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func intQuery(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", errBadRequest, name, err)
	}
	return n, nil
}
