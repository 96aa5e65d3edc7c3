package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-agents/meridian/internal/app"
	"github.com/meridian-agents/meridian/internal/confirm"
	"github.com/meridian-agents/meridian/internal/observability"
	"github.com/meridian-agents/meridian/internal/platform/cache"
	"github.com/meridian-agents/meridian/internal/platform/db"
	"github.com/meridian-agents/meridian/internal/rbac"
	"github.com/meridian-agents/meridian/internal/roles"
	"github.com/meridian-agents/meridian/internal/schema"
	"github.com/meridian-agents/meridian/internal/shared"
	"github.com/meridian-agents/meridian/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, caching disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)

	registry := schema.NewRegistry(logger,
		schema.WithWarnThreshold(cfg.ValidationWarnThreshold),
		schema.WithMetrics(metrics),
		schema.WithParallelism(cfg.BatchParallelism),
	)

	roleRepo := roles.NewRepository(dbpool)
	roleService := roles.NewService(roleRepo, auditLogger, logger)

	decisionCache, err := rbac.NewDecisionCache(4096, redisClient, cfg.DecisionCacheTTL)
	if err != nil {
		logger.Error("init decision cache", slog.Any("error", err))
		os.Exit(1)
	}
	checker := rbac.NewChecker(roleRepo, logger,
		rbac.WithCache(decisionCache),
		rbac.WithMetrics(metrics),
		rbac.WithWarnThreshold(cfg.PermissionWarnThreshold),
		rbac.WithBatchLimit(cfg.BatchCheckLimit),
		rbac.WithTargetTPS(cfg.BatchTargetTPS),
	)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobsClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(asynq.NewInspector(redisOpts), logger)

	confirmRepo := confirm.NewRepository(dbpool)
	confirmService := confirm.NewService(confirmRepo, logger,
		confirm.WithPermissionPort(checker),
		confirm.WithNotifier(confirm.NewAsynqNotifier(jobsClient)),
		confirm.WithAudit(auditLogger),
		confirm.WithServiceMetrics(metrics),
		confirm.WithParallelism(cfg.BatchParallelism),
	)

	router := app.NewRouter(app.RouterParams{
		Logger:  logger,
		Config:  cfg,
		Metrics: metrics,
		Probes: map[string]shared.HealthProbe{
			"schema":  registry,
			"roles":   roleService,
			"rbac":    checker,
			"confirm": confirmService,
		},
		Stats: confirmService,
		Jobs:  jobsHandler,
	})

	server := &http.Server{
		Addr:         cfg.OpsAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting ops server", slog.String("addr", cfg.OpsAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
