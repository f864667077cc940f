// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/backstop-dashboard/internal/logging"
	"github.com/backstop-dashboard/internal/models"
	"github.com/backstop-dashboard/internal/service"
	"github.com/backstop-dashboard/internal/storage"
	"github.com/gorilla/mux"
)

// Service interfaces for dependency injection and testing

// PnlServiceInterface defines the P&L engine operations the API exposes
type PnlServiceInterface interface {
	GetDailyPnl(ctx context.Context, address string, opts service.ReportOptions) (*models.DailyPnlReport, error)
	GetPeriodPnl(ctx context.Context, address string, opts service.PeriodOptions) (*models.PeriodReport, error)
	GetRealizedYield(ctx context.Context, address string, opts service.ReportOptions) (*models.RealizedYieldReport, error)
	GetBorrowCostBasis(ctx context.Context, address string, opts service.ReportOptions) ([]models.CostBasisBreakdown, []string, error)
	GetPortfolioPnl(ctx context.Context, addresses []string, opts service.PeriodOptions) (*models.PeriodReport, error)
}

// WalletServiceInterface defines the wallet registry operations
type WalletServiceInterface interface {
	Follow(ctx context.Context, input service.FollowWalletInput) (*models.Wallet, error)
	List(ctx context.Context, userID string) ([]models.Wallet, error)
	Unfollow(ctx context.Context, userID, address string) (bool, error)
}

// RefreshRunner triggers one coordinated daily-rates refresh
type RefreshRunner interface {
	RunOnce(ctx context.Context) (bool, error)
}

// Pinger reports dependency reachability for the health endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router        *mux.Router
	httpServer    *http.Server
	pnlService    PnlServiceInterface
	walletService WalletServiceInterface
	refresher     RefreshRunner
	reportCache   *storage.ReportCache
	deps          map[string]Pinger
	logger        *logging.Logger
	config        *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	FreeTierRPS     int
	PremiumTierRPS  int
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	pnlService PnlServiceInterface,
	walletService WalletServiceInterface,
	refresher RefreshRunner,
	reportCache *storage.ReportCache,
	deps map[string]Pinger,
	logger *logging.Logger,
) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		pnlService:    pnlService,
		walletService: walletService,
		refresher:     refresher,
		reportCache:   reportCache,
		deps:          deps,
		logger:        logger,
		config:        config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.FreeTierRPS, s.config.PremiumTierRPS)

	// Middleware order matters
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Wallet registry
	api.HandleFunc("/wallets", s.handleFollowWallet).Methods("POST")
	api.HandleFunc("/wallets", s.handleListWallets).Methods("GET")
	api.HandleFunc("/wallets/{address}", s.handleUnfollowWallet).Methods("DELETE")

	// P&L reports
	api.HandleFunc("/wallets/{address}/pnl/daily", s.handleDailyPnl).Methods("GET")
	api.HandleFunc("/wallets/{address}/pnl/periods", s.handlePeriodPnl).Methods("GET")
	api.HandleFunc("/wallets/{address}/yield/realized", s.handleRealizedYield).Methods("GET")
	api.HandleFunc("/wallets/{address}/costbasis/borrow", s.handleBorrowCostBasis).Methods("GET")

	// Portfolio aggregation
	api.HandleFunc("/portfolio/pnl", s.handlePortfolioPnl).Methods("POST")

	// Admin
	api.HandleFunc("/admin/rates/refresh", s.handleRefreshRates).Methods("POST")
}

// handleHealth handles health check requests, reporting dependency
// reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := map[string]string{}
	for name, dep := range s.deps {
		if err := dep.Ping(ctx); err != nil {
			checks[name] = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			checks[name] = "ok"
		}
	}

	respondJSON(w, status, map[string]interface{}{
		"status":  map[bool]string{true: "healthy", false: "degraded"}[status == http.StatusOK],
		"service": "backstop-dashboard",
		"checks":  checks,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
