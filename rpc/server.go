// Package rpc exposes the ledger over HTTP.
package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"dposledger/config"
	"dposledger/core"
	"dposledger/core/events"
	"dposledger/core/handlers"
	"dposledger/core/state"
	"dposledger/core/types"
	"dposledger/mempool"
	"dposledger/observability"
)

const requestIDHeader = "X-Request-ID"

type ctxKey int

const requestIDKey ctxKey = iota

// Config wires the ledger components served by the API.
type Config struct {
	Wallets   *state.WalletManager
	Guard     *mempool.Guard
	Processor *core.BlockProcessor
	Chain     *core.Blockchain
	Events    *events.Recorder
	Limits    config.RPC
	Logger    *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	wallets   *state.WalletManager
	guard     *mempool.Guard
	processor *core.BlockProcessor
	chain     *core.Blockchain
	events    *events.Recorder
	limits    config.RPC
	limiter   *RateLimiter
	logger    *slog.Logger
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		wallets:   cfg.Wallets,
		guard:     cfg.Guard,
		processor: cfg.Processor,
		chain:     cfg.Chain,
		events:    cfg.Events,
		limits:    cfg.Limits,
		limiter:   NewRateLimiter(cfg.Limits.SubmissionsPerMinute, cfg.Limits.SubmissionBurst),
		logger:    logger.With("component", "rpc"),
	}
}

// Handler returns the routed API wrapped in tracing.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/wallets", s.handleListWallets)
		v1.Get("/wallets/{address}", s.handleGetWallet)
		v1.Get("/state/digest", s.handleDigest)

		v1.With(s.limiter.Middleware("transactions")).Post("/transactions", s.handleSubmitTransactions)
		v1.Get("/transactions/pending", s.handlePending)

		v1.Post("/blocks", s.handleApplyBlock)
		v1.Delete("/blocks/tip", s.handleRevertBlock)
		v1.Get("/blocks/{height}", s.handleGetBlock)

		v1.Get("/events", s.handleEvents)
	})

	return otelhttp.NewHandler(r, "ledger-rpc")
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		observability.RPC().Observe(route, rec.status, time.Since(start))
		s.logger.Debug("request served",
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"request_id", RequestID(r.Context()),
			"duration", time.Since(start).String())
	})
}

type errorBody struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: apiError{Code: code, Message: message}})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	limit := s.limits.MaxBodyBytes
	if limit <= 0 {
		limit = config.DefaultGlobal().RPC.MaxBodyBytes
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", err.Error())
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return false
	}
	return true
}

type walletResponse struct {
	Address         string `json:"address"`
	PublicKey       string `json:"publicKey,omitempty"`
	SecondPublicKey string `json:"secondPublicKey,omitempty"`
	MultiSignature  bool   `json:"multisignature"`
	Balance         string `json:"balance"`
}

func newWalletResponse(w *types.Wallet) walletResponse {
	resp := walletResponse{
		Address:        w.Address,
		MultiSignature: w.MultiSignature,
		Balance:        "0",
	}
	if w.Balance != nil {
		resp.Balance = w.Balance.String()
	}
	if len(w.PublicKey) > 0 {
		resp.PublicKey = hex.EncodeToString(w.PublicKey)
	}
	if len(w.SecondPublicKey) > 0 {
		resp.SecondPublicKey = hex.EncodeToString(w.SecondPublicKey)
	}
	return resp
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	wallet, ok := s.wallets.Wallet(address)
	if !ok {
		wallet = types.NewWallet(address)
	}
	writeJSON(w, http.StatusOK, newWalletResponse(wallet))
}

func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	all := s.wallets.All()
	out := make([]walletResponse, len(all))
	for i, wallet := range all {
		out[i] = newWalletResponse(wallet)
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallets": out})
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	digest, err := s.wallets.DigestHex()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"height": s.chain.Height(), "digest": digest})
}

type submitRequest struct {
	Transactions []*types.Transaction `json:"transactions"`
}

func (s *Server) handleSubmitTransactions(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Transactions) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "no transactions supplied")
		return
	}
	result := s.guard.Validate(req.Transactions)
	status := http.StatusOK
	if len(result.Accept) == 0 {
		status = http.StatusUnprocessableEntity
	}
	s.logger.Info("transactions submitted",
		"request_id", RequestID(r.Context()),
		"accepted", len(result.Accept),
		"invalid", len(result.Invalid),
		"excess", len(result.Excess))
	writeJSON(w, status, map[string]any{"data": result})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	pending := s.guard.Pending()
	writeJSON(w, http.StatusOK, map[string]any{"transactions": pending})
}

type blockResponse struct {
	Height       uint64 `json:"height"`
	Hash         string `json:"hash"`
	Transactions int    `json:"transactions"`
	Digest       string `json:"digest,omitempty"`
}

func (s *Server) handleApplyBlock(w http.ResponseWriter, r *http.Request) {
	var block types.Block
	if !s.decode(w, r, &block) {
		return
	}
	result, err := s.processor.ApplyBlock(r.Context(), &block)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, blockErrorCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, blockResponse{
		Height:       result.Height,
		Hash:         hex.EncodeToString(result.Hash),
		Transactions: result.Transactions,
		Digest:       hex.EncodeToString(result.Digest[:]),
	})
}

func blockErrorCode(err error) string {
	if kind := handlers.Kind(err); kind != "other" {
		return kind
	}
	switch {
	case errors.Is(err, core.ErrHeightMismatch), errors.Is(err, core.ErrPrevHashMismatch):
		return "not_next_block"
	case errors.Is(err, core.ErrTxRootMismatch):
		return "tx_root_mismatch"
	case errors.Is(err, core.ErrTooManyTransactions):
		return "too_many_transactions"
	case errors.Is(err, core.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, core.ErrInvalidRecipient):
		return "invalid_recipient"
	case errors.Is(err, core.ErrMissingHeader), errors.Is(err, core.ErrNilTransaction):
		return "bad_request"
	}
	return "rejected"
}

func (s *Server) handleRevertBlock(w http.ResponseWriter, r *http.Request) {
	block, err := s.processor.RevertBlock(r.Context())
	if errors.Is(err, core.ErrEmptyChain) {
		writeError(w, http.StatusConflict, "empty_chain", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	hash, err := block.Header.Hash()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, blockResponse{
		Height:       block.Header.Height,
		Hash:         hex.EncodeToString(hash),
		Transactions: len(block.Transactions),
	})
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(chi.URLParam(r, "height"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "height must be an unsigned integer")
		return
	}
	block, err := s.chain.BlockAt(height)
	if errors.Is(err, core.ErrBlockNotFound) {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, block)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []types.Event{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": s.events.Events()})
}
