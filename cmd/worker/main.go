package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/meridian-agents/meridian/internal/app"
	"github.com/meridian-agents/meridian/internal/confirm"
	"github.com/meridian-agents/meridian/internal/platform/db"
	"github.com/meridian-agents/meridian/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	confirmRepo := confirm.NewRepository(dbpool)
	confirmService := confirm.NewService(confirmRepo, logger,
		confirm.WithNotifier(confirm.LogNotifier{Logger: logger}),
	)

	sweepSpec := fmt.Sprintf("@every %s", cfg.ExpirySweepEvery)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskConfirmNotification, Handler: jobs.NewConfirmNotificationHandler(jobs.LogDeliverer{Logger: logger})},
			{Type: jobs.TaskConfirmExpirySweep, Handler: jobs.NewConfirmExpirySweepHandler(confirmService, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: sweepSpec, Task: jobs.NewConfirmExpirySweepTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
