package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kiroku-ai/kiroku/api"
	"github.com/kiroku-ai/kiroku/internal/auth"
	"github.com/kiroku-ai/kiroku/internal/pipeline"
	"github.com/kiroku-ai/kiroku/internal/ratelimit"
	"github.com/kiroku-ai/kiroku/internal/telemetry"
)

// Server is the kiroku HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. JWTMgr and AdminAPIKeyHash may be empty to run without
// authentication; MCPServer and Metrics are optional.
type ServerConfig struct {
	Runner    *pipeline.Runner
	Extractor TextExtractor
	Logger    *slog.Logger

	JWTMgr          *auth.JWTManager
	AdminAPIKeyHash string
	Metrics         *telemetry.Metrics
	MCPServer       *mcpserver.MCPServer
	Limiter         ratelimit.Limiter

	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Version        string
	UploadDir      string
	MaxUploadBytes int64
	BatchLimit     int
	MountDevSinks  bool

	// ExtraRoutes are called after the built-in routes are registered.
	// Registered handlers share the auth and observability chain.
	ExtraRoutes []func(mux *http.ServeMux)
	// Middlewares wrap the root handler, outermost first. They run
	// before the built-in chain and see every request.
	Middlewares []func(http.Handler) http.Handler
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Runner:          cfg.Runner,
		Extractor:       cfg.Extractor,
		JWTMgr:          cfg.JWTMgr,
		Metrics:         cfg.Metrics,
		Logger:          cfg.Logger,
		UploadDir:       cfg.UploadDir,
		MaxUploadBytes:  cfg.MaxUploadBytes,
		BatchLimit:      cfg.BatchLimit,
		Version:         cfg.Version,
		AdminAPIKeyHash: cfg.AdminAPIKeyHash,
	})

	authEnabled := cfg.JWTMgr != nil
	ingest := requirePermission(authEnabled, (*auth.Claims).CanIngest)
	view := requirePermission(authEnabled, (*auth.Claims).CanView)

	mux := http.NewServeMux()

	// Token exchange (no auth).
	mux.Handle("POST /auth/token", http.HandlerFunc(h.HandleAuthToken))

	// Document intake.
	mux.Handle("POST /v1/documents", ingest(http.HandlerFunc(h.HandleIngest)))
	mux.Handle("POST /v1/documents/batch", ingest(http.HandlerFunc(h.HandleBatchIngest)))
	mux.Handle("POST /v1/webhooks/json", ingest(http.HandlerFunc(h.HandleWebhookJSON)))

	// Audit trail queries.
	mux.Handle("GET /v1/trace", view(http.HandlerFunc(h.HandleTraceRecent)))
	mux.Handle("GET /v1/trace/{id}", view(http.HandlerFunc(h.HandleTraceGet)))

	// MCP StreamableHTTP transport (viewer+).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", view(mcpHTTP))
	}

	// Loopback action sinks for local runs.
	if cfg.MountDevSinks {
		mux.Handle("POST /v1/sinks/crm/escalate", devSinkHandler("crm_escalate", cfg.Logger))
		mux.Handle("POST /v1/sinks/risk_alert", devSinkHandler("risk_alert", cfg.Logger))
		mux.Handle("POST /v1/sinks/compliance_alert", devSinkHandler("compliance_alert", cfg.Logger))
		cfg.Logger.Warn("dev action sinks mounted, do not enable in production")
	}

	for _, register := range cfg.ExtraRoutes {
		register(mux)
	}

	// Health and API description (no auth).
	mux.HandleFunc("GET /healthz", h.HandleHealth)
	mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(api.OpenAPISpec)
	})

	// Middleware chain (outermost executes first):
	// request ID, tracing, logging, auth, rate limit, recovery, handler.
	// Rate limiting runs after auth so authenticated clients are limited
	// per client ID rather than per source IP.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = ratelimit.Middleware(cfg.Limiter, rateLimitKey, requestIDFromRequest, cfg.Logger)(handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// rateLimitKey identifies a request for rate limiting: the authenticated
// client when present, the source IP otherwise. Health checks and the
// loopback action sinks are never limited.
func rateLimitKey(r *http.Request) string {
	if r.URL.Path == "/healthz" || strings.HasPrefix(r.URL.Path, "/v1/sinks/") {
		return ""
	}
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		return "client:" + claims.ClientID
	}
	return "ip:" + ratelimit.IPKeyFunc(r)
}

func requestIDFromRequest(r *http.Request) string {
	return RequestIDFromContext(r.Context())
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
