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

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"payai/core"
	"payai/core/types"
	"payai/native/escrow"
	"payai/native/fees"
	"payai/observability"
)

const (
	maxRequestBytes   = 1 << 20 // 1 MiB
	requestIDHeader   = "X-Request-ID"
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
	moduleName        = "escrow"
)

// Node is the ledger surface served over JSON-RPC.
type Node interface {
	ProgramID() solana.PublicKey
	Execute(ctx context.Context, ins *types.Instruction) (*types.Receipt, error)
	Agreement(addr solana.PublicKey) (*escrow.Agreement, error)
	GlobalState() (*escrow.GlobalState, error)
	BuyerCounter(buyer solana.PublicKey) (*escrow.BuyerCounter, error)
	Balance(addr solana.PublicKey) (uint64, error)
	DeriveAccounts(buyer solana.PublicKey) (escrow.Accounts, uint64, error)
	InstructionAccounts(typ types.InstructionType, signer, agreement, recipient solana.PublicKey) ([]solana.PublicKey, error)
	Quote(amount uint64) (fees.Quote, error)
	SubscribeEvents(ctx context.Context, cursor string) (<-chan core.EventUpdate, func(), []core.EventUpdate)
}

// ServerConfig configures the JSON-RPC server.
type ServerConfig struct {
	Auth              AuthConfig
	RequestsPerMinute float64
	Burst             int
	// TrustedProxies lists the peer addresses whose X-Forwarded-For and
	// X-Real-IP headers identify the client.
	TrustedProxies []string
	Logger         *slog.Logger
}

type Server struct {
	node           Node
	auth           *authenticator
	limiter        *rateLimiter
	trustedProxies map[string]struct{}
	logger         *slog.Logger
	handler        http.Handler
}

type methodHandler func(ctx context.Context, req *RPCRequest) (interface{}, *httpError)

// httpError pairs a JSON-RPC error with the HTTP status written for it.
type httpError struct {
	status int
	err    *RPCError
}

func NewServer(node Node, cfg ServerConfig) (*Server, error) {
	if node == nil {
		return nil, fmt.Errorf("rpc: node must not be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		node:           node,
		auth:           newAuthenticator(cfg.Auth),
		limiter:        newRateLimiter(cfg.RequestsPerMinute, cfg.Burst),
		trustedProxies: parseTrustedProxies(cfg.TrustedProxies),
		logger:         logger.With(slog.String("component", "rpc")),
	}

	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/events", s.handleEventsWS)
	r.Post("/", s.handle)
	s.handler = otelhttp.NewHandler(r, "payai.rpc")
	return s, nil
}

// Handler returns the instrumented HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve listens on addr until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc server listening", slog.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    "ok",
		"programId": s.node.ProgramID().String(),
	})
}

func writeError(w http.ResponseWriter, status int, id interface{}, rpcErr *RPCError) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: rpcErr}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if !s.limiter.allow(s.clientSource(r)) {
		observability.ModuleMetrics().RecordThrottle(moduleName, "rate_limit")
		writeError(w, http.StatusTooManyRequests, nil, &RPCError{Code: codeRateLimited, Message: "rate limit exceeded"})
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, &RPCError{Code: codeInvalidRequest, Message: message, Data: err.Error()})
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, &RPCError{Code: codeInvalidRequest, Message: "request body required"})
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, &RPCError{Code: codeParseError, Message: "invalid JSON payload", Data: err.Error()})
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, &RPCError{Code: codeInvalidRequest, Message: "unsupported jsonrpc version", Data: req.JSONRPC})
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, &RPCError{Code: codeInvalidRequest, Message: "method required"})
		return
	}

	handler, ok := s.methods()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, &RPCError{Code: codeMethodNotFound, Message: "method not found", Data: req.Method})
		return
	}
	if req.Method == "escrow_submit" {
		if authErr := s.auth.authorize(r.Header.Get("Authorization")); authErr != nil {
			observability.ModuleMetrics().RecordThrottle(moduleName, "unauthenticated")
			writeError(w, http.StatusUnauthorized, req.ID, authErr)
			return
		}
	}

	status := http.StatusOK
	result, herr := handler(r.Context(), req)
	if herr != nil {
		status = herr.status
		s.logger.Debug("rpc request failed",
			slog.String("method", req.Method),
			slog.String("requestId", w.Header().Get(requestIDHeader)),
			slog.Int("status", status),
			slog.String("error", herr.err.Message))
		writeError(w, status, req.ID, herr.err)
	} else {
		writeResult(w, req.ID, result)
	}
	observability.ModuleMetrics().Observe(moduleName, req.Method, status, time.Since(start))
}

func (s *Server) methods() map[string]methodHandler {
	return map[string]methodHandler{
		"escrow_submit":         s.handleSubmit,
		"escrow_getAgreement":   s.handleGetAgreement,
		"escrow_getGlobalState": s.handleGetGlobalState,
		"escrow_getCounter":     s.handleGetCounter,
		"escrow_getBalance":     s.handleGetBalance,
		"escrow_deriveAccounts": s.handleDeriveAccounts,
		"escrow_quote":          s.handleQuote,
	}
}
