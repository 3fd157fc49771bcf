package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/chainspan/chainspan-backend/internal/bridge"
	"github.com/chainspan/chainspan-backend/internal/catalog"
	"github.com/chainspan/chainspan-backend/internal/config"
	"github.com/chainspan/chainspan-backend/internal/repository"
	"github.com/chainspan/chainspan-backend/internal/store"
	"github.com/chainspan/chainspan-backend/internal/ws"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Handler struct {
	worker  *bridge.Worker
	clients bridge.ClientSource
	repo    *repository.Repository
	cache   *store.Cache
	chains  *catalog.Service
	wsHub   *ws.Hub
	config  *config.Config
	logger  *zap.SugaredLogger

	// Collapses concurrent registry lookups for the same pair.
	lookups singleflight.Group
}

func NewHandler(
	worker *bridge.Worker,
	clients bridge.ClientSource,
	repo *repository.Repository,
	cache *store.Cache,
	chains *catalog.Service,
	wsHub *ws.Hub,
	config *config.Config,
	logger *zap.SugaredLogger,
) *Handler {
	return &Handler{
		worker:  worker,
		clients: clients,
		repo:    repo,
		cache:   cache,
		chains:  chains,
		wsHub:   wsHub,
		config:  config,
		logger:  logger,
	}
}

// CreateWrappedToken runs the full attestation workflow. The request
// blocks until the run reaches a terminal state; expected failures come
// back as a 200 with success=false so callers get the retained message
// id for resumption.
func (h *Handler) CreateWrappedToken(w http.ResponseWriter, r *http.Request) {
	var req CreateWrappedTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body")
		return
	}

	network, err := bridge.ParseNetwork(req.Network)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_NETWORK", err.Error())
		return
	}

	runID, res, err := h.worker.Submit(r.Context(), bridge.CreateWrappedRequest{
		SourceAsset: bridge.AssetRef{
			Chain:   bridge.ChainID(req.SourceAsset.Chain),
			Address: req.SourceAsset.Address,
		},
		DestinationChain: bridge.ChainID(req.DestinationChain),
		Network:          network,
		Timeout:          requestTimeout(req.TimeoutMs),
	})
	if err != nil {
		h.writeRunError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resultToResponse(runID, res))
}

// ResumeWrappedToken re-enters a run at the proof wait, using either the
// message id in the body or the one retained for the pair.
func (h *Handler) ResumeWrappedToken(w http.ResponseWriter, r *http.Request) {
	var req ResumeWrappedTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body")
		return
	}

	network, err := bridge.ParseNetwork(req.Network)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_NETWORK", err.Error())
		return
	}

	source := bridge.AssetRef{
		Chain:   bridge.ChainID(req.SourceAsset.Chain),
		Address: req.SourceAsset.Address,
	}
	dest := bridge.ChainID(req.DestinationChain)

	var msgID bridge.MessageID
	if req.MessageID != "" {
		msgID, err = bridge.ParseMessageID(req.MessageID)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "INVALID_MESSAGE_ID", err.Error())
			return
		}
	} else {
		retained, err := h.cache.RetainedMessage(r.Context(), source.PairKey(dest))
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "RETAINED_LOOKUP_ERROR", err.Error())
			return
		}
		if retained == nil {
			h.writeError(w, http.StatusNotFound, "NO_RETAINED_MESSAGE", "no retained message id for this pair")
			return
		}
		msgID = *retained
	}

	runID, res, err := h.worker.SubmitResume(r.Context(), bridge.ResumeRequest{
		MessageID:        msgID,
		SourceAsset:      source,
		DestinationChain: dest,
		Network:          network,
		Timeout:          requestTimeout(req.TimeoutMs),
	})
	if err != nil {
		h.writeRunError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resultToResponse(runID, res))
}

// GetWrappedToken looks up the registry for an existing wrapped asset
// without issuing any transactions.
func (h *Handler) GetWrappedToken(w http.ResponseWriter, r *http.Request) {
	destChain := bridge.ChainID(chi.URLParam(r, "destChain"))
	source := bridge.AssetRef{
		Chain:   bridge.ChainID(chi.URLParam(r, "sourceChain")),
		Address: chi.URLParam(r, "address"),
	}

	network, err := bridge.ParseNetwork(r.URL.Query().Get("network"))
	if err != nil {
		if network, err = bridge.ParseNetwork(h.config.Network); err != nil {
			network = bridge.NetworkTestnet
		}
	}

	// Confirmed mappings are immutable, so the cache answer is as good
	// as the chain's.
	var cached bridge.WrappedAssetRef
	if err := h.cache.GetWrappedAsset(r.Context(), source.PairKey(destChain), &cached); err == nil {
		h.writeJSON(w, http.StatusOK, WrappedTokenDTO{Chain: string(cached.Chain), Address: cached.Address})
		return
	}

	client, err := h.clients.Client(network, destChain)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_CHAIN", err.Error())
		return
	}

	v, err, _ := h.lookups.Do(source.PairKey(destChain), func() (any, error) {
		// Detached from the request: collapsed waiters must not inherit
		// the first caller's cancellation.
		lookupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return client.TokenBridge().GetWrappedAsset(lookupCtx, source)
	})
	if err != nil {
		if errors.Is(err, bridge.ErrNoWrappedAsset) {
			h.writeError(w, http.StatusNotFound, "NO_WRAPPED_ASSET", "no wrapped asset registered for this pair")
			return
		}
		h.writeError(w, http.StatusBadGateway, "REGISTRY_LOOKUP_ERROR", err.Error())
		return
	}
	addr := v.(string)

	wrapped := bridge.WrappedAssetRef{Chain: destChain, Address: addr}
	if err := h.cache.SetWrappedAsset(r.Context(), source.PairKey(destChain), &wrapped); err != nil {
		h.logger.Warnw("Failed to cache wrapped asset", "pair", source.PairKey(destChain), "error", err)
	}

	h.writeJSON(w, http.StatusOK, WrappedTokenDTO{Chain: string(destChain), Address: addr})
}

// ListRuns returns recent run history, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	runs, err := h.repo.ListRuns(r.Context(), r.URL.Query().Get("sourceAddress"), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "RUN_QUERY_ERROR", err.Error())
		return
	}

	dtos := make([]RunDTO, 0, len(runs))
	for _, rec := range runs {
		dtos = append(dtos, runToDTO(rec))
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// GetRun returns one run by id.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := h.repo.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "RUN_QUERY_ERROR", err.Error())
		return
	}
	if rec == nil {
		h.writeError(w, http.StatusNotFound, "RUN_NOT_FOUND", "no such run")
		return
	}

	h.writeJSON(w, http.StatusOK, runToDTO(*rec))
}

// ListChains returns the supported chain catalog.
func (h *Handler) ListChains(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.chains.List())
}

// GetChain returns one catalog entry by chain id.
func (h *Handler) GetChain(w http.ResponseWriter, r *http.Request) {
	c, ok := h.chains.Get(chi.URLParam(r, "id"))
	if !ok {
		h.writeError(w, http.StatusNotFound, "CHAIN_NOT_FOUND", "unsupported chain")
		return
	}
	h.writeJSON(w, http.StatusOK, c)
}

func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHub.HandleWebSocket(w, r)
}

// Health endpoints
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "DB_UNAVAILABLE", err.Error())
			return
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "CACHE_UNAVAILABLE", err.Error())
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bridge.ErrInvalidAsset):
		h.writeError(w, http.StatusBadRequest, bridge.KindInvalidAsset, err.Error())
	case errors.Is(err, bridge.ErrRunInProgress):
		h.writeError(w, http.StatusConflict, "RUN_IN_PROGRESS", err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.logger.Errorw("API error", "code", code, "message", message, "status", status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := ErrorResponse{
		Code:    code,
		Message: message,
	}
	json.NewEncoder(w).Encode(err)
}
