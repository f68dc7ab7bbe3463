// Package server provides the HTTP server implementation.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/items-api/internal/auth"
	"github.com/vyrodovalexey/items-api/internal/config"
	"github.com/vyrodovalexey/items-api/internal/handler"
	"github.com/vyrodovalexey/items-api/internal/middleware"
	"github.com/vyrodovalexey/items-api/internal/service"
	"github.com/vyrodovalexey/items-api/internal/store"
)

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     *config.Config
	logger     *zap.Logger
	wsHandler  *handler.WebSocketHandler
}

// New creates a new Server instance serving items from itemStore. Every
// route except the public endpoints is guarded by authenticator.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	itemStore store.Store,
	authenticator auth.Authenticator,
) *Server {
	router := mux.NewRouter()

	s := &Server{
		router: router,
		config: cfg,
		logger: logger,
	}

	s.setupMiddleware(authenticator)
	s.setupRoutes(itemStore)
	s.setupHTTPServer()

	return s
}

// allowedMethods are advertised to CORS preflights and plain OPTIONS.
var allowedMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodOptions,
}

// setupMiddleware configures the middleware chain.
func (s *Server) setupMiddleware(authenticator auth.Authenticator) {
	cors := middleware.CORSOptions{
		AllowedOrigins: []string{"*"},
		AllowedMethods: allowedMethods,
		AllowedHeaders: []string{"Content-Type", auth.APIKeyHeader, middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         24 * time.Hour,
	}

	// First applied = outermost.
	s.router.Use(mux.MiddlewareFunc(middleware.RequestID()))
	s.router.Use(mux.MiddlewareFunc(middleware.Recovery(s.logger)))

	if s.config.MetricsEnabled {
		s.router.Use(mux.MiddlewareFunc(middleware.Metrics()))
	}

	s.router.Use(mux.MiddlewareFunc(middleware.Logging(s.logger)))
	s.router.Use(mux.MiddlewareFunc(middleware.CORS(cors)))
	s.router.Use(mux.MiddlewareFunc(middleware.Auth(authenticator, s.logger)))
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes(itemStore store.Store) {
	s.wsHandler = handler.NewWebSocketHandler(s.logger)

	items := service.NewItemService(itemStore, s.logger,
		service.WithPublisher(s.wsHandler),
		service.WithMaxPageSize(s.config.MaxPageSize),
	)

	// The change feed goes first so /items/events is not taken for an id.
	s.wsHandler.RegisterRoutes(s.router)
	handler.NewRESTHandler(items, s.logger).RegisterRoutes(s.router)

	if s.config.MetricsEnabled {
		s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	// mux runs middleware only for matched routes, so OPTIONS needs a route
	// of its own for CORS to see preflights on any path.
	s.router.Methods(http.MethodOptions).HandlerFunc(options)
}

// options answers authenticated plain OPTIONS requests.
func options(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Allow", strings.Join(allowedMethods, ", "))
	w.WriteHeader(http.StatusNoContent)
}

// setupHTTPServer configures the HTTP server.
func (s *Server) setupHTTPServer() {
	s.httpServer = &http.Server{
		Addr:              s.config.Address(),
		Handler:           s.router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting server",
		zap.String("address", s.config.Address()),
		zap.String("database_driver", s.config.DatabaseDriver),
		zap.Bool("metrics_enabled", s.config.MetricsEnabled),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server listen and serve: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	// Feed clients hold hijacked connections that http.Server.Shutdown
	// does not track.
	if s.wsHandler != nil {
		s.wsHandler.CloseAllConnections()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// Router returns the server's router for testing purposes.
func (s *Server) Router() *mux.Router {
	return s.router
}
