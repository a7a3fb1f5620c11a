// Package kiroku is the public API for embedding the kiroku document
// intake server.
//
// Consumers import this package to construct and extend the server
// without forking it:
//
//	app, err := kiroku.New(
//	    kiroku.WithVersion(version),
//	    kiroku.WithLogger(logger),
//	    kiroku.WithEventHook(myHook{}),
//	    kiroku.WithExtraRoutes(myRoutes),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: kiroku (root)
// imports internal/*, but internal/* never imports kiroku (root).
// Public types (Record) are standalone structs with no internal
// imports; conversion helpers live here because this is the only file
// that sees both sides of the boundary.
package kiroku

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/kiroku-ai/kiroku/internal/action"
	"github.com/kiroku-ai/kiroku/internal/agent"
	"github.com/kiroku-ai/kiroku/internal/auth"
	"github.com/kiroku-ai/kiroku/internal/config"
	"github.com/kiroku-ai/kiroku/internal/extract"
	"github.com/kiroku-ai/kiroku/internal/mcp"
	"github.com/kiroku-ai/kiroku/internal/model"
	"github.com/kiroku-ai/kiroku/internal/pipeline"
	"github.com/kiroku-ai/kiroku/internal/ratelimit"
	"github.com/kiroku-ai/kiroku/internal/server"
	"github.com/kiroku-ai/kiroku/internal/telemetry"
	"github.com/kiroku-ai/kiroku/internal/trace"
)

// App is the kiroku server lifecycle. Construct with New(), run with
// Run(). App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	store        trace.Store
	srv          *server.Server
	limiter      ratelimit.Limiter
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string

	closeOnce sync.Once
}

// New initialises the kiroku server. It opens the trace store, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("kiroku starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, true)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("telemetry metrics: %w", err)
	}

	// Open the audit trace store; migrations run here.
	store, err := trace.Open(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("trace store: %w", err)
	}

	// Authentication is enabled only when a bootstrap API key exists.
	var (
		jwtMgr     *auth.JWTManager
		apiKeyHash string
	)
	if cfg.AdminAPIKey != "" {
		jwtMgr, err = auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
		if err != nil {
			_ = store.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("auth: %w", err)
		}
		apiKeyHash, err = auth.HashAPIKey(cfg.AdminAPIKey)
		if err != nil {
			_ = store.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("auth: hash bootstrap key: %w", err)
		}
	} else {
		logger.Warn("KIROKU_ADMIN_API_KEY not set, API authentication disabled")
	}

	// Wire the pipeline: dispatcher → router, extractor → agents → runner.
	dispatcher := action.NewDispatcher(action.DispatcherConfig{
		BaseURL:        cfg.ActionBaseURL,
		MaxAttempts:    cfg.ActionMaxAttempts,
		BaseDelay:      cfg.ActionBaseDelay,
		AttemptTimeout: cfg.ActionTimeout,
	}, logger)
	router := action.NewRouter(dispatcher, logger)
	extractor := extract.NewPDFExtractor(logger)
	runner := pipeline.New(
		store,
		router,
		agent.NewJSONAgent(dispatcher, logger),
		agent.NewPDFAgent(extractor, logger),
		logger,
	)

	for _, hook := range o.eventHooks {
		hook := hook
		runner.AddHook(func(ctx context.Context, rec model.TraceRecord) error {
			return hook.OnDocumentProcessed(ctx, toPublicRecord(rec))
		})
	}

	// MCP server for read-only trace inspection, mounted at /mcp.
	mcpSrv := mcp.New(store, version, logger)

	var limiter ratelimit.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = ratelimit.NewMemoryLimiter(float64(cfg.RateLimitRPS), cfg.RateLimitBurst, cfg.RateLimitStaleAfter)
		logger.Info("rate limiting enabled", "rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	}

	extraRoutes := make([]func(*http.ServeMux), 0, len(o.routeRegistrars))
	for _, fn := range o.routeRegistrars {
		extraRoutes = append(extraRoutes, fn)
	}
	middlewares := make([]func(http.Handler) http.Handler, 0, len(o.middlewares))
	for _, mw := range o.middlewares {
		middlewares = append(middlewares, mw)
	}

	srv := server.New(server.ServerConfig{
		Runner:          runner,
		Extractor:       extractor,
		Logger:          logger,
		JWTMgr:          jwtMgr,
		AdminAPIKeyHash: apiKeyHash,
		Metrics:         metrics,
		MCPServer:       mcpSrv.MCPServer(),
		Limiter:         limiter,
		Port:            cfg.Port,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		Version:         version,
		UploadDir:       cfg.UploadDir,
		MaxUploadBytes:  cfg.MaxUploadBytes,
		BatchLimit:      cfg.BatchLimit,
		MountDevSinks:   cfg.MountDevSinks,
		ExtraRoutes:     extraRoutes,
		Middlewares:     middlewares,
	})

	return &App{
		cfg:          cfg,
		store:        store,
		srv:          srv,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails. On return all subsystems have been shut down.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown. Drain HTTP first so in-flight runs finish their
	// audit appends, then close the store and flush telemetry.
	a.logger.Info("kiroku shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	a.logger.Info("kiroku stopped")
	return nil
}

// Handler returns the root HTTP handler. Useful for embedding the API
// in an existing server or driving it in tests without a listener.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Close releases the App's resources without serving. Run calls it
// automatically; call it directly only when Run was never invoked.
// Safe to call multiple times.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.limiter != nil {
			_ = a.limiter.Close()
		}
		if err := a.store.Close(); err != nil {
			a.logger.Error("trace store close error", "error", err)
		}
		_ = a.otelShutdown(context.Background())
	})
}

// toPublicRecord converts an internal trace record to the public shape.
func toPublicRecord(rec model.TraceRecord) Record {
	return Record{
		ID:          rec.ID,
		Timestamp:   rec.Timestamp,
		Source:      rec.Source,
		Filename:    rec.Filename,
		Format:      string(rec.Format),
		Intent:      string(rec.Intent),
		AgentResult: rec.AgentResult,
		ActionTaken: rec.ActionTaken,
	}
}
