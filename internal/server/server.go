// Package server exposes the trade kernel over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/tradekernel/internal/domain"
	"github.com/alanyoungcy/tradekernel/internal/server/handler"
	"github.com/alanyoungcy/tradekernel/internal/server/middleware"
	"github.com/alanyoungcy/tradekernel/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKeys     []string // empty disables authentication
	RateLimit   int      // requests per minute per client IP; 0 disables
}

// Handlers aggregates the endpoint handlers.
type Handlers struct {
	Health    *handler.HealthHandler
	Trades    *handler.TradeHandler
	Consensus *handler.ConsensusHandler
	Trust     *handler.TrustHandler
	Fraud     *handler.FraudHandler
	Corridors *handler.CorridorHandler
	Metrics   http.Handler // nil omits /metrics
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and builds the middleware chain. wsHub
// and limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      Routes(cfg, handlers, wsHub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// Routes returns the full handler chain.
func Routes(cfg Config, h Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}

	mux.HandleFunc("POST /api/trades", h.Trades.Create)
	mux.HandleFunc("GET /api/trades/{id}", h.Trades.Get)
	mux.HandleFunc("GET /api/trades/{id}/events", h.Trades.Events)
	mux.HandleFunc("GET /api/trades/{id}/quotes", h.Trades.Quotes)
	mux.HandleFunc("POST /api/trades/{id}/quotes", h.Trades.SubmitQuote)
	mux.HandleFunc("POST /api/trades/{id}/transitions", h.Trades.Transition)
	mux.HandleFunc("POST /api/trades/{id}/dossier", h.Trades.ExportDossier)
	mux.HandleFunc("GET /api/trades/{id}/dossier", h.Trades.GetDossier)

	mux.HandleFunc("GET /api/trades/{id}/consensus", h.Consensus.Status)
	mux.HandleFunc("POST /api/trades/{id}/consensus/sign", h.Consensus.Sign)
	mux.HandleFunc("POST /api/trades/{id}/consensus/request", h.Consensus.Request)

	mux.HandleFunc("GET /api/counterparties/{id}/trust", h.Trust.Get)
	mux.HandleFunc("POST /api/counterparties/{id}/trust", h.Trust.Refresh)

	mux.HandleFunc("POST /api/fraud/document", h.Fraud.AnalyzeDocument)
	mux.HandleFunc("GET /api/fraud/identity", h.Fraud.Identity)
	mux.HandleFunc("GET /api/fraud/velocity", h.Fraud.Velocity)
	mux.HandleFunc("POST /api/fraud/threats", h.Fraud.LogThreat)
	mux.HandleFunc("GET /api/fraud/threats", h.Fraud.ListThreats)

	mux.HandleFunc("POST /api/corridors/score", h.Corridors.Score)
	mux.HandleFunc("GET /api/corridors/estimate", h.Corridors.Estimate)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var chain http.Handler = mux
	chain = middleware.Auth(cfg.APIKeys, "/api/health", "/metrics")(chain)
	chain = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute, logger)(chain)
	chain = middleware.Logging(logger)(chain)
	chain = middleware.CORS(cfg.CORSOrigins)(chain)
	return chain
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("listening", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
