// Package http provides the HTTP server and handlers.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"image"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/jobrunner/climap/internal/application"
	"github.com/jobrunner/climap/internal/config"
	"github.com/jobrunner/climap/internal/domain"
	"github.com/jobrunner/climap/internal/ports/input"
)

// ImageRenderer renders a single frame outside any session.
type ImageRenderer interface {
	RenderImage(ctx context.Context, params domain.RenderParams, view domain.ViewState, width, height int) (*image.RGBA, error)
}

// Syncer triggers a registry sync on request.
type Syncer interface {
	TriggerSync(ctx context.Context) (application.SyncResult, error)
}

// Services bundles the application ports served over HTTP. Renderer and
// Sync may be nil, which removes their routes.
type Services struct {
	Registry input.DatasetRegistry
	Maps     input.MapService
	Health   input.HealthChecker
	Renderer ImageRenderer
	Sync     Syncer
	// DefaultLayer is the base that partial layer requests apply to.
	DefaultLayer domain.RenderParams
}

// Option configures a Server.
type Option func(*Server)

// WithTLS serves HTTPS with the given configuration.
func WithTLS(cfg *tls.Config) Option {
	return func(s *Server) { s.tlsConfig = cfg }
}

// WithMiddleware adds a router middleware, e.g. request metrics.
func WithMiddleware(mw mux.MiddlewareFunc) Option {
	return func(s *Server) { s.middleware = append(s.middleware, mw) }
}

// Server wraps the HTTP server with application handlers.
type Server struct {
	server     *http.Server
	router     *mux.Router
	services   Services
	logger     *slog.Logger
	config     config.ServerConfig
	origins    originPolicy
	upgrader   websocket.Upgrader
	tlsConfig  *tls.Config
	middleware []mux.MiddlewareFunc
}

// NewServer creates a new HTTP server.
func NewServer(cfg config.ServerConfig, services Services, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		services: services,
		logger:   logger.With("component", "http"),
		config:   cfg,
		origins:  newOriginPolicy(cfg.CORS.AllowedOrigins),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     s.checkWebSocketOrigin,
	}

	s.router = s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		TLSConfig:    s.tlsConfig,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	for _, mw := range s.middleware {
		r.Use(mw)
	}
	if s.config.CORS.Enabled() {
		r.Use(s.origins.middleware)
		// preflight requests never match a method-restricted route
		r.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}

	// Health endpoints
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	// Datasets
	api.HandleFunc("/datasets", s.handleListDatasets).Methods(http.MethodGet)
	api.HandleFunc("/datasets/{datasetId}", s.handleGetDataset).Methods(http.MethodGet)
	if s.services.Sync != nil {
		api.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	}
	if s.services.Renderer != nil {
		api.HandleFunc("/render.png", s.handleRender).Methods(http.MethodGet)
	}

	// Map sessions
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{sessionId}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{sessionId}", s.handleCloseSession).Methods(http.MethodDelete)
	sess := api.PathPrefix("/sessions/{sessionId}").Subrouter()
	sess.HandleFunc("/view", s.handleGetView).Methods(http.MethodGet)
	sess.HandleFunc("/view", s.handleSetView).Methods(http.MethodPut)
	sess.HandleFunc("/layer", s.handleSetLayer).Methods(http.MethodPut)
	sess.HandleFunc("/size", s.handleResize).Methods(http.MethodPut)
	sess.HandleFunc("/events", s.handleEvents).Methods(http.MethodPost)
	sess.HandleFunc("/frame.png", s.handleFrame).Methods(http.MethodGet)
	sess.HandleFunc("/boundaries", s.handleBoundaries).Methods(http.MethodGet)
	sess.HandleFunc("/query", s.handleQuery).Methods(http.MethodGet)
	sess.HandleFunc("/ws", s.handleStream).Methods(http.MethodGet)

	// OpenAPI spec and Swagger UI
	r.HandleFunc("/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)
	r.HandleFunc("/docs", s.handleSwaggerUI).Methods(http.MethodGet)

	if s.config.FrontendEnabled {
		r.HandleFunc("/", s.handleFrontend).Methods(http.MethodGet)
	}

	return r
}

// Router returns the mux router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	if s.tlsConfig != nil {
		s.logger.Info("starting HTTPS server", "address", s.config.Address())
		// certificates come from TLSConfig.GetCertificate
		return s.server.ListenAndServeTLS("", "")
	}
	s.logger.Info("starting HTTP server", "address", s.config.Address())
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server. Hijacked WebSocket connections
// are not tracked by net/http and end when their sessions close.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs incoming requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		level := slog.LevelInfo
		if wrapped.statusCode >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the logging middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}
