// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/stock-portfolio/internal/circuitbreaker"
	"github.com/stock-portfolio/internal/logging"
	"github.com/stock-portfolio/internal/models"
	"github.com/stock-portfolio/internal/service"
)

// Service interfaces for dependency injection and testing

// PortfolioServiceInterface defines the interface for portfolio service operations
type PortfolioServiceInterface interface {
	ListPortfolios(ctx context.Context, investorID *int64) ([]*models.Portfolio, error)
	CreatePortfolio(ctx context.Context, input *service.CreatePortfolioInput) (*models.Portfolio, error)
	GetPortfolio(ctx context.Context, id int64) (*models.Portfolio, error)
	DeletePortfolio(ctx context.Context, id int64) error
}

// ValuationServiceInterface defines the interface for holdings and value lookups
type ValuationServiceInterface interface {
	ComputeValue(ctx context.Context, portfolioID int64) (decimal.Decimal, error)
	GetHoldings(ctx context.Context, portfolioID int64) ([]*models.HoldingView, error)
}

// InvestorServiceInterface defines the interface for investor service operations
type InvestorServiceInterface interface {
	GetInvestor(ctx context.Context, id int64) (*models.Investor, error)
	ListInvestors(ctx context.Context) ([]*models.Investor, error)
	UpdateInvestor(ctx context.Context, id int64, input *service.UpdateInvestorInput) error
}

// StockServiceInterface defines the interface for stock catalogue lookups
type StockServiceInterface interface {
	ListStocks(ctx context.Context) ([]*models.Stock, error)
	ListListings(ctx context.Context, stockID int64) ([]*models.MarketListing, error)
}

// OrderServiceInterface defines the interface for order service operations
type OrderServiceInterface interface {
	PlaceOrder(ctx context.Context, in service.PlaceOrderInput) (*service.OrderResult, error)
	ListOrders(ctx context.Context, limit int) ([]*models.Order, error)
	ListTrades(ctx context.Context, portfolioID int64, limit int) ([]*models.OrderEvent, error)
	BreakerStats() []circuitbreaker.Stats
}

// SnapshotServiceInterface defines the interface for snapshot service operations
type SnapshotServiceInterface interface {
	GetSnapshots(ctx context.Context, portfolioID int64, from, to time.Time) ([]*models.ValuationSnapshot, error)
}

// Services groups the collaborators the server routes to
type Services struct {
	Portfolios PortfolioServiceInterface
	Valuation  ValuationServiceInterface
	Investors  InvestorServiceInterface
	Stocks     StockServiceInterface
	Orders     OrderServiceInterface
	Snapshots  SnapshotServiceInterface

	// HealthCheck probes the primary database; nil reports healthy
	HealthCheck func(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	handler    http.Handler
	httpServer *http.Server
	services   Services
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS    int
	RateLimitBurst  int
	AllowedOrigins  []string
	TrustedProxies  []netip.Prefix
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, services Services) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		services: services,
		config:   config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.setupRoutes()

	// The chain wraps the router rather than using router.Use so unmatched
	// paths and methods are identified, logged and limited too. Listed from
	// the innermost out; the request logger must exist before anything logs.
	var h http.Handler = s.router
	h = CompressionMiddleware(h)
	if s.config.RateLimitRPS > 0 {
		h = RateLimitMiddleware(NewRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst, s.config.TrustedProxies...))(h)
	}
	h = RecoveryMiddleware(h)
	h = LoggingMiddleware(h)
	h = TracingMiddleware(h)
	h = RequestIDMiddleware(h)
	s.handler = CORSMiddleware(s.config.AllowedOrigins)(h)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()

	// Portfolio endpoints
	api.HandleFunc("/portfolios", s.handleListPortfolios).Methods(http.MethodGet)
	api.HandleFunc("/portfolios", s.handleCreatePortfolio).Methods(http.MethodPost)
	api.HandleFunc("/portfolios/{id}", s.handleGetPortfolio).Methods(http.MethodGet)
	api.HandleFunc("/portfolios/{id}", s.handleDeletePortfolio).Methods(http.MethodDelete)
	api.HandleFunc("/portfolios/{id}/snapshots", s.handleGetSnapshots).Methods(http.MethodGet)
	api.HandleFunc("/portfolios/{id}/trades", s.handleGetTrades).Methods(http.MethodGet)
	api.HandleFunc("/holdings/{portfolioId}", s.handleGetHoldings).Methods(http.MethodGet)
	api.HandleFunc("/portfolio-value/{portfolioId}", s.handleGetPortfolioValue).Methods(http.MethodGet)

	// Investor endpoints
	api.HandleFunc("/investors", s.handleListInvestors).Methods(http.MethodGet)
	api.HandleFunc("/investor/{id}", s.handleGetInvestor).Methods(http.MethodGet)
	api.HandleFunc("/investor/{id}", s.handleUpdateInvestor).Methods(http.MethodPut)

	// Stock endpoints
	api.HandleFunc("/stocks", s.handleListStocks).Methods(http.MethodGet)
	api.HandleFunc("/stocks/{id}/listings", s.handleListListings).Methods(http.MethodGet)

	// Order endpoints
	api.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods(http.MethodPost)
	api.HandleFunc("/place_order", s.handlePlaceOrder).Methods(http.MethodPost)
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status   string                 `json:"status"`
	Service  string                 `json:"service"`
	Breakers []circuitbreaker.Stats `json:"breakers,omitempty"`
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Service: "stock-portfolio"}
	if s.services.Orders != nil {
		resp.Breakers = s.services.Orders.BreakerStats()
	}

	if s.services.HealthCheck != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.services.HealthCheck(ctx); err != nil {
			logging.FromContext(r.Context()).WithError(err).Warn("Health check failed")
			resp.Status = "unhealthy"
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// Handler exposes the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
