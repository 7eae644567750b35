package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/portside-host/portside/internal/activity"
	"github.com/portside-host/portside/internal/app"
	"github.com/portside-host/portside/internal/backups"
	"github.com/portside-host/portside/internal/daemon"
	"github.com/portside-host/portside/internal/platform/db"
	"github.com/portside-host/portside/internal/schedules"
	"github.com/portside-host/portside/internal/server"
	"github.com/portside-host/portside/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	serverRepo := server.NewRepository(pool)
	facades := daemon.Builder{Nodes: serverRepo, Logger: logger}

	backupService := backups.NewService(backups.NewRepository(pool),
		func(ctx context.Context, srv server.Server) (backups.NodeBackups, error) {
			return facades.ForServer(ctx, srv)
		}, logger)

	sweeper := schedules.NewSweeper(
		schedules.NewRepository(pool),
		serverRepo,
		func(ctx context.Context, srv server.Server) (schedules.NodeTasks, error) {
			return facades.ForServer(ctx, srv)
		},
		func(ctx context.Context, sctx *server.Context, ignore string) error {
			_, err := backupService.Create(ctx, sctx, "", ignore)
			return err
		},
		logger,
	)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskActivityRecord, Handler: activity.NewRecordTaskHandler(activity.NewRepository(pool), logger)},
			{Type: jobs.TaskScheduleSweep, Handler: sweeper.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "* * * * *", Task: jobs.NewScheduleSweepTask()},
		},
	})
	if err != nil {
		logger.Error("build worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker starting")
	if err := worker.Run(ctx); err != nil {
		logger.Error("worker", slog.Any("error", err))
		os.Exit(1)
	}
}
