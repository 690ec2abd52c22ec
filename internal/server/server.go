package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mamori-ai/mamori/internal/auth"
	"github.com/mamori-ai/mamori/internal/pipeline"
	"github.com/mamori-ai/mamori/internal/ratelimit"
	"github.com/mamori-ai/mamori/internal/storage"
)

// Server is the sidecar HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): DB, Reports, JWTMgr, MetricsHandler, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	Pipeline *pipeline.Pipeline
	Logger   *slog.Logger

	// Optional dependencies (nil = disabled).
	DB             *storage.DB
	Reports        *storage.ReportStore
	JWTMgr         *auth.JWTManager
	OpsKeyHash     string
	AuthLimiter    ratelimit.Limiter
	MetricsHandler http.Handler
	MCPServer      *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Pipeline:            cfg.Pipeline,
		DB:                  cfg.DB,
		Reports:             cfg.Reports,
		JWTMgr:              cfg.JWTMgr,
		OpsKeyHash:          cfg.OpsKeyHash,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	// Capture: the hot path. No auth — the sidecar sits next to the
	// application and is not exposed beyond localhost or the pod.
	mux.HandleFunc("POST /v1/capture", h.HandleCapture)

	// Operator auth (no auth required to obtain a token). IP rate limited
	// to slow down key guessing.
	authRL := rateLimitMiddleware(cfg.AuthLimiter, ipKey)
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Resilience reports: reads are open, ingestion needs an operator token.
	opsOnly := requireOps(cfg.JWTMgr)
	mux.HandleFunc("GET /v1/reports/resilience", h.HandleGetResilienceReport)
	mux.Handle("POST /v1/reports/resilience", opsOnly(http.HandlerFunc(h.HandlePostResilienceReport)))

	// MCP StreamableHTTP transport (operator token required).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", opsOnly(mcpHTTP))
	}

	// Prometheus exposition (no auth, no envelope).
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	// Health (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handlers returns the underlying Handlers for tests.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
