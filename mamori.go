// Package mamori is the public API for embedding the guardrail sidecar.
//
// Consumers construct and run the sidecar without forking it:
//
//	app, err := mamori.New(
//	    mamori.WithVersion(version),
//	    mamori.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: mamori (root) imports
// internal/*, but internal/* never imports mamori (root).
package mamori

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mamori-ai/mamori/internal/analyzer"
	"github.com/mamori-ai/mamori/internal/auth"
	"github.com/mamori-ai/mamori/internal/config"
	"github.com/mamori-ai/mamori/internal/export"
	"github.com/mamori-ai/mamori/internal/guard"
	"github.com/mamori-ai/mamori/internal/limiter"
	"github.com/mamori-ai/mamori/internal/mcp"
	"github.com/mamori-ai/mamori/internal/pattern"
	"github.com/mamori-ai/mamori/internal/pipeline"
	"github.com/mamori-ai/mamori/internal/ratelimit"
	"github.com/mamori-ai/mamori/internal/sampler"
	"github.com/mamori-ai/mamori/internal/server"
	"github.com/mamori-ai/mamori/internal/storage"
	"github.com/mamori-ai/mamori/internal/telemetry"
)

// Shutdown phase timeouts. The HTTP drain is short because capture calls are
// sub-second; the batcher drain is longer because it may flush to Postgres.
const (
	shutdownHTTPTimeout  = 10 * time.Second
	shutdownDrainTimeout = 30 * time.Second
	retentionSweepEvery  = time.Hour
)

// App is the sidecar lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB // nil when no Postgres sink configured
	reports      *storage.ReportStore
	srv          *server.Server
	authLimiter  ratelimit.Limiter
	pipeline     *pipeline.Pipeline
	patternCache *pattern.Cache
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the sidecar. It connects to configured stores, wires all
// subsystems, and returns a ready-to-run App. It does NOT start any
// goroutines or accept HTTP connections — call Run().
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

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("mamori starting", "version", version, "port", cfg.Port)

	otelShutdown, registry, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Span archive is optional; without it spans are exported to OTel only.
	var db *storage.DB
	if cfg.SpanSinkURL != "" {
		db, err = storage.New(context.Background(), cfg.SpanSinkURL, logger)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("storage: %w", err)
		}
		if err := db.EnsureSchema(context.Background()); err != nil {
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("storage schema: %w", err)
		}
	}

	cleanup := func() {
		if db != nil {
			db.Close()
		}
		_ = otelShutdown(context.Background())
	}

	reports, err := storage.OpenReportStore(cfg.ReportDBPath)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("report store: %w", err)
	}

	var jwtMgr *auth.JWTManager
	if cfg.OpsAPIKeyHash != "" {
		jwtMgr, err = auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
		if err != nil {
			reports.Close()
			cleanup()
			return nil, fmt.Errorf("auth: %w", err)
		}
	}

	// Detection patterns: built-ins overlaid by YAML packs, behind a TTL cache.
	source, err := pattern.NewPackSource(cfg.PatternPacksDir)
	if err != nil {
		reports.Close()
		cleanup()
		return nil, fmt.Errorf("patterns: %w", err)
	}
	patternCache := pattern.NewCache(source, cfg.PatternCacheTTL)

	probe := o.loadProbe
	if probe == nil {
		probe = sampler.NewSystemProbe()
	}
	seed := o.samplerSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	sinks := export.Multi{export.NewOTelSink()}
	if db != nil {
		sinks = append(sinks, db)
	}
	sinks = append(sinks, o.extraSinks...)

	batcher := pipeline.NewBatcher(sinks, logger, cfg.BatchSize, cfg.FlushInterval)

	pipe := pipeline.New(cfg, pipeline.Deps{
		Sampler:  sampler.New(cfg, probe, seed),
		Analyzer: analyzer.New(patternCache),
		Guard:    guard.New(guard.NewLedger(cfg.BudgetWindow), cfg.DailyBudgetUSD, cfg.TokenStormThreshold),
		Gate:     limiter.New(cfg.MaxConcurrentAnalyses, cfg.LimiterQueueDepth),
		Batcher:  batcher,
		Logger:   logger,
	})

	var authLimiter ratelimit.Limiter = ratelimit.Noop{}
	if cfg.AuthRateRPS > 0 {
		authLimiter = ratelimit.NewTokenBucket(cfg.AuthRateRPS, cfg.AuthRateBurst)
	}

	var mcpServer *mcp.Server
	if cfg.MCPEnabled {
		mcpServer = mcp.New(pipe, db, reports, version, logger)
		logger.Info("mcp enabled, serving at /mcp")
	}

	srvCfg := server.ServerConfig{
		Pipeline:            pipe,
		Logger:              logger,
		DB:                  db,
		Reports:             reports,
		JWTMgr:              jwtMgr,
		OpsKeyHash:          cfg.OpsAPIKeyHash,
		AuthLimiter:         authLimiter,
		MetricsHandler:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	}
	if mcpServer != nil {
		srvCfg.MCPServer = mcpServer.MCPServer()
	}

	return &App{
		cfg:          cfg,
		db:           db,
		reports:      reports,
		srv:          server.New(srvCfg),
		authLimiter:  authLimiter,
		pipeline:     pipe,
		patternCache: patternCache,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Pipeline exposes the capture pipeline for embedding consumers (the
// resilience harness drives it directly).
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

// Handler returns the root HTTP handler for in-process testing.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run starts background services and the HTTP server, then blocks until ctx
// is cancelled or the server fails. On cancellation it shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	a.pipeline.Batcher().Start(ctx)
	if a.db != nil {
		go a.db.RetentionLoop(ctx, a.cfg.RetentionPeriod, retentionSweepEvery)
	}

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

	return a.Shutdown(context.Background())
}

// Shutdown performs a graceful shutdown: stop accepting HTTP requests and
// drain in-flight, flush the span batcher, then close stores and telemetry.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("mamori shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, shutdownHTTPTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	drainCtx, drainCancel := context.WithTimeout(ctx, shutdownDrainTimeout)
	a.pipeline.Batcher().Drain(drainCtx)
	drainCancel()

	a.patternCache.Close()
	_ = a.authLimiter.Close()
	if err := a.reports.Close(); err != nil {
		a.logger.Warn("report store close error", "error", err)
	}
	if a.db != nil {
		a.db.Close()
	}
	_ = a.otelShutdown(context.Background())

	a.logger.Info("mamori stopped")
	return nil
}
