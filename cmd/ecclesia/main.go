package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/ecclesia-app/ecclesia/cmd/ecclesia/cli"
	"github.com/ecclesia-app/ecclesia/internal/app"
	"github.com/ecclesia-app/ecclesia/internal/audit"
	audithttp "github.com/ecclesia-app/ecclesia/internal/audit/http"
	"github.com/ecclesia-app/ecclesia/internal/observability"
	"github.com/ecclesia-app/ecclesia/internal/operations"
	"github.com/ecclesia-app/ecclesia/internal/platform/cache"
	"github.com/ecclesia-app/ecclesia/internal/platform/db"
	"github.com/ecclesia-app/ecclesia/internal/rbac"
	"github.com/ecclesia-app/ecclesia/internal/roles"
	"github.com/ecclesia-app/ecclesia/internal/shared"
	"github.com/ecclesia-app/ecclesia/internal/users"
	"github.com/ecclesia-app/ecclesia/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	if code, ok := cli.RunOffline(os.Args[1:], os.Stdout, os.Stderr); ok {
		os.Exit(code)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobs(ctx, cfg, os.Args[2:]))
	}

	// The catalog is validated before anything else starts; a broken catalog
	// must never serve requests.
	rbacConfig, err := rbac.LoadConfigFile(cfg.RBACCatalogFile)
	if err != nil {
		logger.Error("load permission catalog", slog.Any("error", err))
		os.Exit(1)
	}
	ops := operations.Table()
	if err := operations.Validate(rbacConfig.Catalog, ops); err != nil {
		logger.Error("route guards reference unknown permissions", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{ApplicationName: "ecclesia"})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := rbac.Migrate(ctx, pool); err != nil {
		logger.Error("migrate", slog.Any("error", err))
		os.Exit(1)
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "ecclesia_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	metrics := observability.NewMetrics()

	auditStore := audit.NewPGStore(pool)
	auditService := audit.NewService(auditStore, logger)

	rbacRepo := rbac.NewPGRepository(pool)
	rbacService := rbac.NewService(rbacRepo, rbacConfig, auditService, logger, rbac.ServiceOptions{
		StorageTimeout: cfg.RBACStorageTimeout,
		Observer:       metrics,
	})
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	jobQueue := jobs.NewQueue(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobQueue.Close(); err != nil {
			logger.Warn("job queue close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		RBACMiddleware: rbacMiddleware,
		RBACHandler:    rbac.NewHandler(logger, rbacService, rbacMiddleware),
		RolesHandler:   roles.NewHandler(logger, roles.NewService(rbacConfig.Defaults), rbacMiddleware),
		UsersHandler:   users.NewHandler(logger, users.NewService(rbacService), rbacMiddleware),
		AuditHandler:   audithttp.NewHandler(logger, auditService, rbacMiddleware),
		JobHandler:     jobs.NewHandler(jobQueue, logger),
		Operations:     ops,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.Int("permissions", len(rbacConfig.Catalog.List())))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		slog.Default().Error("init jobs cli", slog.Any("error", err))
		return 1
	}
	defer func() { _ = jobsCLI.Close() }()
	return jobsCLI.Run(ctx, args, os.Stdout, os.Stderr)
}
