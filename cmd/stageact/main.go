// Package main is the entry point for the stage action engine server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/licensahq/stageact/internal/action"
	"github.com/licensahq/stageact/internal/collab"
	"github.com/licensahq/stageact/internal/config"
	"github.com/licensahq/stageact/internal/engine"
	"github.com/licensahq/stageact/internal/observability"
	"github.com/licensahq/stageact/internal/openapi"
	"github.com/licensahq/stageact/internal/template"
	"github.com/licensahq/stageact/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "stageact", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Load OpenAPI specs used to validate api_call endpoints.
	oaIndex := openapi.NewIndex()
	specSources := buildSpecSources(cfg.Specs)
	if err := oaIndex.Load(specSources); err != nil {
		logger.Error("OpenAPI index load failed", zap.Error(err))
		return 1
	}

	// Outbound collaborators and the action handler registry. Built
	// before template validation so templates referencing an action type
	// whose collaborator is not configured are rejected at startup.
	mailer := collab.NewHTTPMailer(cfg.Mail)
	caller := collab.NewHTTPCaller(cfg.Services)

	handlers := action.NewRegistry()
	handlers.Register(action.NewEmailHandler(mailer, cfg.Mail.Templates))
	handlers.Register(action.NewAdminEmailHandler(mailer, cfg.Mail.Templates, cfg.Mail.AdminAddress))
	handlers.Register(action.NewAPICallHandler(caller))
	if svc, ok := cfg.Services["payments"]; ok {
		handlers.Register(action.NewInvoiceHandler(collab.NewHTTPPayments(svc)))
	}
	if svc, ok := cfg.Services["documents"]; ok {
		handlers.Register(action.NewDocumentHandler(collab.NewHTTPDocuments(svc)))
	}

	// Load stage templates, validate, build registry.
	loader := template.NewLoader()
	defs, err := loader.LoadAll(cfg.Templates.Directories)
	if err != nil {
		logger.Error("template loading failed", zap.Error(err))
		return 1
	}

	validator := template.NewValidator(handlers)
	verrs := validator.Validate(defs, oaIndex)
	if len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("template validation error", zap.String("error", ve.Error()))
		}
		logger.Error("template validation failed", zap.Int("errors", len(verrs)))
		return 1
	}

	registry := template.NewRegistry(defs)
	metrics.SetTemplatesLoaded(float64(registry.Len()))

	// Engine store.
	store, storeCloser, err := buildStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}

	// Engine services.
	resolver := engine.NewResolver(registry)
	dispatcher := engine.NewDispatcher(store, resolver, handlers, logger, metrics, cfg.Actions.HandlerTimeout)
	auditLog := engine.NewAuditLog(store, logger, metrics)
	retrier := engine.NewRetrier(store, handlers, logger, metrics, cfg.Actions.HandlerTimeout)
	testRunner := engine.NewTestRunner(handlers, logger, cfg.Actions.HandlerTimeout)

	// HTTP router.
	readiness := observability.ReadinessChecks{
		TemplatesLoaded: func() bool { return registry.Len() > 0 },
	}
	if hc, ok := store.(observability.HealthChecker); ok {
		readiness.Store = hc
	}

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)
	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
		Store:        store,
		Dispatcher:   dispatcher,
		AuditLog:     auditLog,
		Retrier:      retrier,
		TestRunner:   testRunner,
		Templates:    registry,
		Readiness:    readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Scheduled maintenance: retention cleanup and the optional retry sweep.
	scheduler, err := startScheduler(ctx, cfg, auditLog, retrier, logger)
	if err != nil {
		logger.Error("scheduler initialization failed", zap.Error(err))
		return 1
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("templates", registry.Len()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if scheduler != nil {
		schedCtx := scheduler.Stop()
		select {
		case <-schedCtx.Done():
		case <-shutdownCtx.Done():
		}
	}

	if storeCloser != nil {
		storeCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildSpecSources converts config spec sources to openapi.SpecSource.
func buildSpecSources(specsCfg config.SpecsConfig) []openapi.SpecSource {
	sources := make([]openapi.SpecSource, len(specsCfg.Sources))
	for i, s := range specsCfg.Sources {
		specPath := s.SpecFile
		if specsCfg.Directory != "" && !filepath.IsAbs(specPath) {
			specPath = filepath.Join(specsCfg.Directory, specPath)
		}
		sources[i] = openapi.SpecSource{
			ServiceID: s.ServiceID,
			SpecPath:  specPath,
		}
	}
	return sources
}

// buildStore creates the engine store based on config.
func buildStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (engine.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory engine store")
		return engine.NewMemStore(), nil, nil
	case "postgres", "":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" && cfg.DSNEnv != "" {
			return nil, nil, fmt.Errorf("engine store: %s environment variable not set", cfg.DSNEnv)
		}
		if dsn == "" {
			logger.Warn("engine store DSN not configured, using in-memory store")
			return engine.NewMemStore(), nil, nil
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("engine store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("engine store: connect: %w", err)
		}

		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("engine store: ping: %w", err)
		}

		return engine.NewPgStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported engine store driver: %q", cfg.Driver)
	}
}

// startScheduler registers the retention cleanup job and, when enabled,
// the retry sweep. Returns nil when nothing is scheduled.
func startScheduler(ctx context.Context, cfg *config.Config, auditLog *engine.AuditLog, retrier *engine.Retrier, logger *zap.Logger) (*cron.Cron, error) {
	c := cron.New()
	scheduled := false

	if cfg.Retention.Schedule != "" {
		_, err := c.AddFunc(cfg.Retention.Schedule, func() {
			jobCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
			defer cancel()

			removed, err := auditLog.Cleanup(jobCtx, cfg.Retention.AuditDays)
			if err != nil {
				logger.Error("audit retention cleanup failed", zap.Error(err))
			} else {
				logger.Info("audit retention cleanup", zap.Int64("removed", removed))
			}

			removed, err = retrier.Cleanup(jobCtx, cfg.Retention.ResolvedDays)
			if err != nil {
				logger.Error("failed action retention cleanup failed", zap.Error(err))
			} else {
				logger.Info("failed action retention cleanup", zap.Int64("removed", removed))
			}
		})
		if err != nil {
			return nil, fmt.Errorf("retention schedule: %w", err)
		}
		scheduled = true
	}

	if cfg.Retry.SweepEnabled && cfg.Retry.SweepSchedule != "" {
		_, err := c.AddFunc(cfg.Retry.SweepSchedule, func() {
			jobCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
			defer cancel()

			// Only pick up records idle for at least one sweep interval.
			cutoff := time.Now().UTC().Add(-30 * time.Minute)
			attempted, resolved, err := retrier.Sweep(jobCtx, cutoff, cfg.Retry.MaxSweepBatch)
			if err != nil {
				logger.Error("retry sweep failed", zap.Error(err))
				return
			}
			if attempted > 0 {
				logger.Info("retry sweep",
					zap.Int("attempted", attempted),
					zap.Int("resolved", resolved),
				)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("retry sweep schedule: %w", err)
		}
		scheduled = true
	}

	if !scheduled {
		return nil, nil
	}
	c.Start()
	return c, nil
}
