package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/swingold/escrowd/internal/crypto"
	"github.com/swingold/escrowd/internal/domain"
	"github.com/swingold/escrowd/internal/server/handler"
	"github.com/swingold/escrowd/internal/server/middleware"
	"github.com/swingold/escrowd/internal/server/ws"
)

// replayWindow bounds how old a signed request timestamp may be; nonces are
// remembered for the same window.
const replayWindow = 5 * time.Minute

// Config holds the HTTP server configuration.
type Config struct {
	Port          int
	CORSOrigins   []string
	APIKey        string // if empty, API-key authentication is disabled
	SignatureAuth bool   // verify X-Swingold-* request signatures
	RateLimit     int    // requests per window per client; 0 disables
	RateWindow    time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health *handler.HealthHandler
	Ledger *handler.LedgerHandler
	Trades *handler.TradeHandler
}

// Server is the headless HTTP + WebSocket API for the ledger and escrow.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub. limiter may be nil when rate limiting is disabled.
func NewServer(
	cfg Config,
	handlers Handlers,
	wsHub *ws.Hub,
	limiter domain.RateLimiter,
	logger *slog.Logger,
) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Ledger endpoints.
	mux.HandleFunc("POST /api/ledger/mint", handlers.Ledger.Mint)
	mux.HandleFunc("POST /api/ledger/transfer", handlers.Ledger.Transfer)
	mux.HandleFunc("POST /api/ledger/approve", handlers.Ledger.Approve)
	mux.HandleFunc("POST /api/ledger/transfer-from", handlers.Ledger.TransferFrom)
	mux.HandleFunc("POST /api/ledger/deposit", handlers.Ledger.Deposit)
	mux.HandleFunc("POST /api/ledger/withdraw", handlers.Ledger.Withdraw)
	mux.HandleFunc("GET /api/ledger/balance/{address}", handlers.Ledger.GetBalance)
	mux.HandleFunc("GET /api/ledger/allowance", handlers.Ledger.GetAllowance)
	mux.HandleFunc("GET /api/ledger/history/{address}", handlers.Ledger.GetHistory)
	mux.HandleFunc("GET /api/ledger/journal/{address}", handlers.Ledger.GetJournal)
	mux.HandleFunc("GET /api/ledger/supply", handlers.Ledger.GetSupply)

	// Trade endpoints.
	mux.HandleFunc("POST /api/trades", handlers.Trades.CreateTrade)
	mux.HandleFunc("GET /api/trades", handlers.Trades.ListTrades)
	mux.HandleFunc("GET /api/trades/escrow", handlers.Trades.GetEscrowInfo)
	mux.HandleFunc("GET /api/trades/{item}", handlers.Trades.GetTrade)
	mux.HandleFunc("POST /api/trades/{item}/confirm", handlers.Trades.ConfirmTrade)
	mux.HandleFunc("POST /api/trades/{item}/cancel", handlers.Trades.CancelTrade)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	if cfg.SignatureAuth {
		h = middleware.Signature(crypto.NewReplayGuard(replayWindow), replayWindow)(h)
	}

	h = middleware.APIKey(cfg.APIKey)(h)

	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
