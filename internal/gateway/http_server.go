package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/agentd/internal/agent"
)

// Server binds an A2AServer to an HTTP listener, exposing the JSON-RPC
// surface, a health probe, and Prometheus metrics.
type Server struct {
	a2a     *A2AServer
	metrics *Metrics
	logger  *slog.Logger

	httpServer   *http.Server
	httpListener net.Listener
}

// NewServer builds a gateway HTTP server bound to engine.
func NewServer(engine *agent.Engine, metrics *Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{
		a2a:     NewA2AServer(engine, metrics, logger),
		metrics: metrics,
		logger:  logger,
	}
}

// Start binds addr and begins serving in the background. It returns once
// the listener is established; Serve errors after that point are logged,
// not returned.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/a2a/v1", s.handleA2A)
	mux.HandleFunc("/a2a/health", s.handleHealthz)
	mux.HandleFunc("/.well-known/agent.json", s.handleAgentCard)
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	s.httpServer = server
	s.httpListener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway server error", "error", err)
		}
	}()

	s.logger.Info("starting gateway server", "addr", addr)
	return nil
}

// Shutdown gracefully stops the server, falling back to a 5 second
// timeout if ctx carries none.
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("gateway shutdown error", "error", err)
	}
	s.httpServer = nil
	s.httpListener = nil
}

func (s *Server) handleA2A(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, s.logger, http.StatusBadRequest, errorResponse(nil, rpcParseError, "invalid JSON: "+err.Error()))
		return
	}

	resp := s.a2a.Dispatch(r.Context(), req)
	writeJSON(w, s.logger, http.StatusOK, resp)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	card := map[string]any{
		"name":        "agentd",
		"description": "Personal AI agent runtime exposing a JSON-RPC agent-to-agent surface.",
		"version":     "0.1.0",
		"methods":     []string{"message/send", "tasks/get", "tasks/cancel"},
	}
	writeJSON(w, s.logger, http.StatusOK, card)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && logger != nil {
		logger.Debug("response write failed", "error", err)
	}
}
