package provider

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/patrickmn/go-cache"
)

// Handler exposes a CryptoProvider over HTTP. Responses to requests carrying
// an Idempotency-Key header are replayed for repeated keys.
type Handler struct {
	provider CryptoProvider
	replies  *cache.Cache
	log      *slog.Logger
}

// NewHandler creates an HTTP handler for p. Idempotent replies are kept for
// replayWindow.
func NewHandler(p CryptoProvider, replayWindow time.Duration, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if replayWindow <= 0 {
		replayWindow = 10 * time.Minute
	}
	return &Handler{
		provider: p,
		replies:  cache.New(replayWindow, 2*replayWindow),
		log:      log,
	}
}

// RegisterRoutes registers the provider endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post(pathMetaAddress, h.handleMetaAddress)
	r.Post(pathStealthAddress, h.handleStealthAddress)
	r.Post(pathOwnership, h.handleOwnership)
	r.Post(pathScan, h.handleScan)
	r.Post(pathCommitment, h.handleCreateCommitment)
	r.Post(pathVerifyCommitment, h.handleVerifyCommitment)
	r.Post(pathCombineCommitment, h.handleCombineCommitment)
	r.Post(pathPrivacy, h.handleAnalyze)
	r.Post(pathViewingKey, h.handleGenerateViewingKey)
	r.Post(pathDeriveViewingKey, h.handleDeriveViewingKey)
}

func (h *Handler) handleMetaAddress(w http.ResponseWriter, r *http.Request) {
	var req metaAddressRequest
	if !decode(w, r, &req) {
		return
	}
	h.reply(w, r, func() (any, error) {
		return h.provider.GenerateMetaAddress(r.Context(), req.Label)
	})
}

func (h *Handler) handleStealthAddress(w http.ResponseWriter, r *http.Request) {
	var req MetaAddress
	if !decode(w, r, &req) {
		return
	}
	h.reply(w, r, func() (any, error) {
		addr, secret, err := h.provider.DeriveStealthAddress(r.Context(), req)
		if err != nil {
			return nil, err
		}
		return stealthAddressResponse{StealthAddress: *addr, SharedSecret: secret}, nil
	})
}

func (h *Handler) handleOwnership(w http.ResponseWriter, r *http.Request) {
	var req ownershipRequest
	if !decode(w, r, &req) {
		return
	}
	h.reply(w, r, func() (any, error) {
		ok, err := h.provider.CheckOwnership(r.Context(), req.StealthAddress, req.SpendPrivateKey, req.ViewPrivateKey)
		return boolResponse{Result: ok}, err
	})
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if !decode(w, r, &req) {
		return
	}
	h.reply(w, r, func() (any, error) {
		return h.provider.ScanPayments(r.Context(), req)
	})
}

func (h *Handler) handleCreateCommitment(w http.ResponseWriter, r *http.Request) {
	var req createCommitmentRequest
	if !decode(w, r, &req) {
		return
	}
	h.reply(w, r, func() (any, error) {
		return h.provider.CreateCommitment(r.Context(), req.Value)
	})
}

func (h *Handler) handleVerifyCommitment(w http.ResponseWriter, r *http.Request) {
	var req verifyCommitmentRequest
	if !decode(w, r, &req) {
		return
	}
	h.reply(w, r, func() (any, error) {
		ok, err := h.provider.VerifyCommitment(r.Context(), req.Commitment, req.Value, req.BlindingFactor)
		return boolResponse{Result: ok}, err
	})
}

func (h *Handler) handleCombineCommitment(w http.ResponseWriter, r *http.Request) {
	var req CombineRequest
	if !decode(w, r, &req) {
		return
	}
	h.reply(w, r, func() (any, error) {
		return h.provider.CombineCommitments(r.Context(), req)
	})
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decode(w, r, &req) {
		return
	}
	h.reply(w, r, func() (any, error) {
		return h.provider.AnalyzePrivacy(r.Context(), req.Address, req.Limit)
	})
}

func (h *Handler) handleGenerateViewingKey(w http.ResponseWriter, r *http.Request) {
	var req generateViewingKeyRequest
	if !decode(w, r, &req) {
		return
	}
	h.reply(w, r, func() (any, error) {
		return h.provider.GenerateViewingKey(r.Context(), req.Path)
	})
}

func (h *Handler) handleDeriveViewingKey(w http.ResponseWriter, r *http.Request) {
	var req deriveViewingKeyRequest
	if !decode(w, r, &req) {
		return
	}
	h.reply(w, r, func() (any, error) {
		return h.provider.DeriveViewingKey(r.Context(), req.Parent, req.Segment)
	})
}

// reply runs fn and writes its result, replaying a cached body when the
// request repeats an idempotency key.
func (h *Handler) reply(w http.ResponseWriter, r *http.Request, fn func() (any, error)) {
	key := r.Header.Get(idempotencyHeader)
	if key != "" {
		if body, ok := h.replies.Get(r.URL.Path + "|" + key); ok {
			writeBody(w, http.StatusOK, body.([]byte))
			return
		}
	}

	result, err := fn()
	if err != nil {
		status := http.StatusInternalServerError
		if isClientError(err) {
			status = http.StatusBadRequest
		} else {
			h.log.Error("provider call failed", "path", r.URL.Path, "err", err)
		}
		body, _ := json.Marshal(errorResponse{Error: err.Error()})
		writeBody(w, status, body)
		return
	}

	body, err := json.Marshal(result)
	if err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	if key != "" {
		h.replies.SetDefault(r.URL.Path+"|"+key, body)
	}
	writeBody(w, http.StatusOK, body)
}

func isClientError(err error) bool {
	for _, target := range []error{
		ErrInvalidMetaAddress, ErrInvalidKey, ErrInvalidCommitment, ErrInvalidBlinding,
		ErrInvalidCombine, ErrInvalidViewingKey, ErrInvalidPathSegment,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeBody(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
