package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/fikriaf/ars-sub001/commitment"
	"github.com/fikriaf/ars-sub001/crypto"
	"github.com/fikriaf/ars-sub001/disclosure"
	"github.com/fikriaf/ars-sub001/ledger"
	"github.com/fikriaf/ars-sub001/privacyscore"
	"github.com/fikriaf/ars-sub001/provider"
	"github.com/fikriaf/ars-sub001/scanner"
	"github.com/fikriaf/ars-sub001/stealth"
	"github.com/fikriaf/ars-sub001/store"
	"github.com/fikriaf/ars-sub001/swap"
	"github.com/fikriaf/ars-sub001/viewkey"
)

// errBadRequest marks request decoding failures.
var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
}

var statusByError = []struct {
	err    error
	status int
}{
	{errBadRequest, http.StatusBadRequest},

	{store.ErrNotFound, http.StatusNotFound},
	{stealth.ErrNoMetaAddress, http.StatusNotFound},
	{disclosure.ErrDisclosureNotFound, http.StatusNotFound},
	{swap.ErrPaymentNotDetected, http.StatusNotFound},

	{store.ErrDuplicate, http.StatusConflict},
	{store.ErrPathCollision, http.StatusConflict},
	{store.ErrAlreadyRevoked, http.StatusConflict},
	{viewkey.ErrRevokedParent, http.StatusConflict},
	{viewkey.ErrExpiredParent, http.StatusConflict},
	{viewkey.ErrKeyRevoked, http.StatusConflict},
	{viewkey.ErrKeyInactive, http.StatusConflict},
	{swap.ErrNotClaimable, http.StatusConflict},
	{scanner.ErrCycleInProgress, http.StatusConflict},
	{scanner.ErrAgentBusy, http.StatusConflict},
	{scanner.ErrScanFailure, http.StatusBadGateway},

	{viewkey.ErrInsufficientApprovals, http.StatusForbidden},
	{viewkey.ErrApprovalExpired, http.StatusForbidden},
	{viewkey.ErrReplayedApproval, http.StatusForbidden},
	{viewkey.ErrNoApprovers, http.StatusForbidden},
	{disclosure.ErrViewingKeyMismatch, http.StatusForbidden},
	{crypto.ErrDecryptionFailed, http.StatusForbidden},

	{privacyscore.ErrInsufficientPrivacy, http.StatusUnprocessableEntity},
	{privacyscore.ErrInvalidThreshold, http.StatusBadRequest},
	{disclosure.ErrNoViewingKey, http.StatusUnprocessableEntity},
	{swap.ErrNotOwned, http.StatusUnprocessableEntity},
	{ledger.ErrInsufficientBalance, http.StatusUnprocessableEntity},
	{ledger.ErrSlippageExceeded, http.StatusConflict},

	{viewkey.ErrInvalidPath, http.StatusBadRequest},
	{viewkey.ErrInvalidRole, http.StatusBadRequest},
	{disclosure.ErrInvalidRange, http.StatusBadRequest},
	{swap.ErrInvalidRequest, http.StatusBadRequest},
	{stealth.ErrInvalidAgent, http.StatusBadRequest},
	{ledger.ErrUnknownPair, http.StatusBadRequest},
	{commitment.ErrOverflow, http.StatusBadRequest},
	{commitment.ErrNegativeResult, http.StatusBadRequest},
	{provider.ErrInvalidMetaAddress, http.StatusBadRequest},
	{provider.ErrInvalidKey, http.StatusBadRequest},
	{provider.ErrInvalidCommitment, http.StatusBadRequest},
	{provider.ErrInvalidBlinding, http.StatusBadRequest},
	{provider.ErrInvalidCombine, http.StatusBadRequest},
	{provider.ErrInvalidPathSegment, http.StatusBadRequest},
}

// statusFor maps a component error to an HTTP status.
func statusFor(err error) int {
	for _, e := range statusByError {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}
