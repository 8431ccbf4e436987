package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"claimbridge/core/attest"
	"claimbridge/core/domain"
	cerrors "claimbridge/core/errors"
	"claimbridge/native/claims"
	"claimbridge/native/dispatch"
	"claimbridge/native/settlement"
	"claimbridge/observability/audit"
	"claimbridge/observability/metrics"
	"claimbridge/observability/otel"
)

// Config wires the server to whichever domains this node hosts. Nil
// components disable their methods.
type Config struct {
	Verifier   *claims.Verifier
	Dispatcher *dispatch.Dispatcher
	Oracle     attest.ProofOracle
	Ledger     *settlement.Ledger
	Domains    []*domain.Domain
	Audit      *audit.Store
	Auth       *Authenticator
	Limiter    *RateLimiter
	Logger     *slog.Logger
}

type Server struct {
	verifier   *claims.Verifier
	dispatcher *dispatch.Dispatcher
	oracle     attest.ProofOracle
	ledger     *settlement.Ledger
	domains    map[string]*domain.Domain
	audit      *audit.Store
	auth       *Authenticator
	limiter    *RateLimiter
	logger     *slog.Logger
	telemetry  *metrics.RPCMetrics
	methods    map[string]method
}

// method handles one JSON-RPC call. Returned errors are either *callError
// or domain errors mapped by writeDomainError.
type method func(r *http.Request, req *RPCRequest) (interface{}, error)

// callError carries a protocol-level failure with its HTTP status.
type callError struct {
	status int
	rpc    *RPCError
}

func (e *callError) Error() string { return e.rpc.Message }

func invalidParams(message string, data interface{}) error {
	return &callError{status: http.StatusBadRequest, rpc: &RPCError{Code: codeInvalidParams, Message: message, Data: data}}
}

func unavailable(what string) error {
	return &callError{status: http.StatusNotFound, rpc: &RPCError{Code: codeMethodNotFound, Message: what + " not hosted by this node"}}
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	oracle := cfg.Oracle
	if oracle == nil {
		oracle = attest.StaticOracle(false)
	}
	s := &Server{
		verifier:   cfg.Verifier,
		dispatcher: cfg.Dispatcher,
		oracle:     oracle,
		ledger:     cfg.Ledger,
		domains:    make(map[string]*domain.Domain),
		audit:      cfg.Audit,
		auth:       cfg.Auth,
		limiter:    cfg.Limiter,
		logger:     logger.With(slog.String("component", "rpc")),
		telemetry:  metrics.RPC(),
	}
	for _, d := range cfg.Domains {
		if d != nil {
			s.domains[d.Name()] = d
		}
	}
	s.methods = map[string]method{
		"claims_submit":                  s.handleClaimSubmit,
		"claims_isNullifierUsed":         s.handleIsNullifierUsed,
		"claims_getTierInfo":             s.handleGetTierInfo,
		"claims_getMaxTierIndex":         s.handleGetMaxTierIndex,
		"claims_getStats":                s.handleClaimsStats,
		"claims_addTier":                 s.handleAddTier,
		"claims_setActiveEdition":        s.handleSetActiveEdition,
		"settlement_applyMint":           s.handleApplyMint,
		"settlement_isCommitmentApplied": s.handleIsCommitmentApplied,
		"settlement_getEditionStatus":    s.handleEditionStatus,
		"settlement_getHolder":           s.handleGetHolder,
		"settlement_getStats":            s.handleSettlementStats,
		"settlement_createEdition":       s.handleCreateEdition,
		"settlement_setEditionActive":    s.handleSetEditionActive,
		"domain_pause":                   s.handlePause,
		"domain_resume":                  s.handleResume,
		"domain_status":                  s.handleDomainStatus,
	}
	return s
}

// Router exposes the JSON-RPC endpoint alongside health, metrics and the
// audit stream.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/audit", s.handleAuditWS)

	var rpcHandler http.Handler = http.HandlerFunc(s.handle)
	if s.limiter != nil {
		rpcHandler = s.limiter.Middleware(rpcHandler)
	}
	r.Method(http.MethodPost, "/rpc", otelhttp.NewHandler(rpcHandler, "rpc"))
	return r
}

// Serve runs the HTTP server until ctx ends, then shuts it down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("rpc server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	handler, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}

	ctx, span := otel.Tracer("rpc").Start(r.Context(), req.Method)
	defer span.End()
	start := time.Now()
	result, err := handler(r.WithContext(ctx), req)
	code := "ok"
	if err != nil {
		var ce *callError
		if errors.As(err, &ce) {
			code = "protocol"
			writeError(w, ce.status, req.ID, ce.rpc.Code, ce.rpc.Message, ce.rpc.Data)
		} else {
			code = cerrors.Code(err)
			if code == "internal" {
				s.logger.Error("rpc handler failed", slog.String("method", req.Method), slog.Any("error", err))
			}
			writeDomainError(w, req.ID, err)
		}
		span.SetStatus(codes.Error, code)
	} else {
		writeResult(w, req.ID, result)
	}
	span.SetAttributes(attribute.String("rpc.outcome", code))
	s.telemetry.Observe(req.Method, code, time.Since(start))
}

// caller authenticates the request for scope.
func (s *Server) caller(r *http.Request, scope string) (ethcommon.Address, error) {
	addr, rpcErr := s.auth.Authorize(r, scope)
	if rpcErr != nil {
		return addr, &callError{status: http.StatusUnauthorized, rpc: rpcErr}
	}
	return addr, nil
}

func decodeParam(req *RPCRequest, idx int, out interface{}, name string) error {
	if idx >= len(req.Params) {
		return invalidParams(fmt.Sprintf("missing parameter %s", name), nil)
	}
	if err := json.Unmarshal(req.Params[idx], out); err != nil {
		return invalidParams(fmt.Sprintf("invalid parameter %s", name), err.Error())
	}
	return nil
}

// optionalBool decodes params[idx] when present and false otherwise.
func optionalBool(req *RPCRequest, idx int, name string) (bool, error) {
	var v bool
	if idx >= len(req.Params) {
		return false, nil
	}
	err := decodeParam(req, idx, &v, name)
	return v, err
}

func expectParams(req *RPCRequest, min, max int) error {
	if len(req.Params) < min || len(req.Params) > max {
		if min == max {
			return invalidParams(fmt.Sprintf("expected %d parameter(s)", min), nil)
		}
		return invalidParams(fmt.Sprintf("expected %d to %d parameters", min, max), nil)
	}
	return nil
}
