package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"cashbackd/native/cashback"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	rpcTokenEnv = "CASHBACKD_RPC_TOKEN"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// Server exposes the cashback ledger over JSON-RPC 2.0. Mutating calls are
// serialized under a single mutex: the server plays the role of the host
// ledger's global total order, while the engine's own reentrancy guard covers
// nested entry within a call.
type Server struct {
	engine   *cashback.Engine
	registry *cashback.Registry
	clock    clockwork.Clock

	opMu sync.Mutex

	authToken string

	limiterMu      sync.Mutex
	limiters       map[string]*rate.Limiter
	requestsPerMin float64
	burst          int

	httpServer *http.Server
}

// NewServer creates a server for the provided engine and registry. The
// transport auth token is read from CASHBACKD_RPC_TOKEN; when the variable is
// unset, mutating methods are open (development mode).
func NewServer(engine *cashback.Engine, registry *cashback.Registry, clock clockwork.Clock) *Server {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Server{
		engine:         engine,
		registry:       registry,
		clock:          clock,
		authToken:      strings.TrimSpace(os.Getenv(rpcTokenEnv)),
		limiters:       make(map[string]*rate.Limiter),
		requestsPerMin: 600,
		burst:          20,
	}
}

// SetRateLimit configures the per-client request budget for mutating methods.
func (s *Server) SetRateLimit(requestsPerMin float64, burst int) {
	if requestsPerMin > 0 {
		s.requestsPerMin = requestsPerMin
	}
	if burst > 0 {
		s.burst = burst
	}
}

// Handler returns the HTTP handler serving the JSON-RPC endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return mux
}

// Start begins serving on addr and blocks until the listener fails or the
// server is shut down.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.Handler()}
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
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

	switch req.Method {
	case "cashback_registerRule":
		s.requireMutation(w, r, req, s.handleRegisterRule)
	case "cashback_processTransaction":
		s.requireMutation(w, r, req, s.handleProcessTransaction)
	case "cashback_deposit":
		s.requireMutation(w, r, req, s.handleDeposit)
	case "cashback_withdrawFunds":
		s.requireMutation(w, r, req, s.handleWithdrawFunds)
	case "cashback_pause":
		s.requireMutation(w, r, req, s.handlePause)
	case "cashback_unpause":
		s.requireMutation(w, r, req, s.handleUnpause)
	case "cashback_transferAdmin":
		s.requireMutation(w, r, req, s.handleTransferAdmin)
	case "cashback_calculateCashback":
		s.handleCalculateCashback(w, req)
	case "cashback_getRule":
		s.handleGetRule(w, req)
	case "cashback_getUserUsage":
		s.handleGetUserUsage(w, req)
	case "cashback_getReserve":
		s.handleGetReserve(w, req)
	case "cashback_maxPercentage":
		writeResult(w, req.ID, cashback.MaxPercentageBps)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}
}

// requireMutation applies transport auth, rate limiting, and the global call
// order before dispatching a mutating handler.
func (s *Server) requireMutation(w http.ResponseWriter, r *http.Request, req *RPCRequest, handler func(http.ResponseWriter, *RPCRequest)) {
	if s.authToken != "" {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.authToken)) != 1 {
			writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "invalid or missing bearer token", nil)
			return
		}
	}
	if !s.allow(clientID(r)) {
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
		return
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()
	handler(w, req)
}

func (s *Server) allow(client string) bool {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	limiter, ok := s.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.requestsPerMin/60.0), s.burst)
		s.limiters[client] = limiter
	}
	return limiter.Allow()
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) now() uint64 {
	return uint64(s.clock.Now().UTC().Unix())
}
