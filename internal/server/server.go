package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/conviction/internal/server/handler"
	"github.com/alanyoungcy/conviction/internal/server/middleware"
	"github.com/alanyoungcy/conviction/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port           int
	CORSOrigins    []string
	RateLimitRPS   float64 // zero disables rate limiting
	RateLimitBurst int
	MaxClockSkew   time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Markets, Positions and Admin may be nil in modes without an engine.
type Handlers struct {
	Health    *handler.HealthHandler
	Markets   *handler.MarketHandler
	Positions *handler.PositionHandler
	Admin     *handler.AdminHandler
}

// Server is the HTTP + WebSocket API of the settlement engine.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// Mutating routes require a signed request; reads are anonymous.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	signed := func(fn http.HandlerFunc) http.Handler {
		return middleware.RequireCaller(fn)
	}

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	if m := handlers.Markets; m != nil {
		mux.HandleFunc("GET /api/markets", m.ListMarkets)
		mux.HandleFunc("GET /api/markets/expired", m.ListExpired)
		mux.HandleFunc("GET /api/markets/{id}", m.GetMarket)
		mux.HandleFunc("GET /api/markets/{id}/oracle", m.GetOracle)
		mux.HandleFunc("GET /api/markets/{id}/events", m.ListEvents)
		mux.HandleFunc("GET /api/markets/{id}/stakers/{address}", m.HasStaked)
		mux.Handle("POST /api/markets", signed(m.CreateMarket))
		mux.Handle("POST /api/markets/{id}/stake", signed(m.RecordStake))
		mux.Handle("POST /api/markets/{id}/oracle", signed(m.RegisterOracle))
		mux.Handle("POST /api/markets/{id}/resolve", signed(m.ResolveMarket))
		mux.Handle("POST /api/markets/{id}/min-stake", signed(m.SetMinStake))
		mux.Handle("POST /api/upkeep", signed(m.PerformUpkeep))
	}

	if p := handlers.Positions; p != nil {
		mux.HandleFunc("GET /api/positions", p.ListPositions)
		mux.HandleFunc("GET /api/positions/{id}", p.GetPosition)
		mux.Handle("POST /api/positions/{id}/claim", signed(p.ClaimReward))
		mux.Handle("POST /api/positions/{id}/transfer", signed(p.TransferPosition))
		mux.Handle("POST /api/positions/{id}/approve", signed(p.ApprovePosition))
		mux.Handle("POST /api/operators", signed(p.SetApprovalForAll))
	}

	if a := handlers.Admin; a != nil {
		mux.HandleFunc("GET /api/config", a.GetConfig)
		mux.Handle("PUT /api/admin/fee", signed(a.SetFee))
		mux.Handle("PUT /api/admin/global-min-stake", signed(a.SetGlobalMinStake))
		mux.Handle("PUT /api/admin/default-min-stake", signed(a.SetDefaultMinStake))
		mux.Handle("PUT /api/admin/max-staleness", signed(a.SetMaxStaleness))
		mux.Handle("PUT /api/admin/claims-paused", signed(a.SetClaimsPaused))
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain. Logging wraps Identity so the verified
	// caller is reported on the request log line.
	var h http.Handler = mux
	h = middleware.Identity(cfg.MaxClockSkew, nil)(h)
	h = middleware.RateLimit(middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst))(h)
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
		handler:    h,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Handler returns the fully wrapped request handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until the server is shut down.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server: starting",
		slog.String("addr", ln.Addr().String()),
	)
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: serve: %w", err)
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
