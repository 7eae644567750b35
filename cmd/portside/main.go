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

	"github.com/portside-host/portside/internal/activity"
	"github.com/portside-host/portside/internal/allocations"
	"github.com/portside-host/portside/internal/app"
	"github.com/portside-host/portside/internal/backups"
	"github.com/portside-host/portside/internal/daemon"
	"github.com/portside-host/portside/internal/databases"
	"github.com/portside-host/portside/internal/files"
	"github.com/portside-host/portside/internal/observability"
	"github.com/portside-host/portside/internal/platform/cache"
	"github.com/portside-host/portside/internal/platform/db"
	"github.com/portside-host/portside/internal/power"
	"github.com/portside-host/portside/internal/principal"
	"github.com/portside-host/portside/internal/schedules"
	"github.com/portside-host/portside/internal/server"
	"github.com/portside-host/portside/internal/settings"
	"github.com/portside-host/portside/internal/subusers"
	"github.com/portside-host/portside/internal/tokens"
	"github.com/portside-host/portside/internal/websocket"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()

	principalRepo := principal.NewRepository(pool)
	authenticator := principal.Authenticator{Repo: principalRepo, Logger: logger}

	serverRepo := server.NewRepository(pool)
	resolver := server.NewResolver(serverRepo, logger)
	serverMW := server.Middleware{Resolver: resolver}

	facades := daemon.Builder{Nodes: serverRepo, Logger: logger}
	issuer := tokens.NewIssuer(cfg.TokenSecret, cfg.TokenTTL)

	recorder := activity.NewRecorder(asynqClient, logger)
	activityRepo := activity.NewRepository(pool)

	powerHandler := power.NewHandler(logger,
		func(ctx context.Context, srv server.Server) (power.NodeCommander, error) {
			return facades.ForServer(ctx, srv)
		}, recorder)

	filesHandler := files.NewHandler(logger,
		func(ctx context.Context, srv server.Server) (files.NodeFiles, error) {
			return facades.ForServer(ctx, srv)
		}, serverRepo, issuer, recorder)

	backupRepo := backups.NewRepository(pool)
	backupService := backups.NewService(backupRepo,
		func(ctx context.Context, srv server.Server) (backups.NodeBackups, error) {
			return facades.ForServer(ctx, srv)
		}, logger)
	backupsHandler := backups.NewHandler(logger, backupService, serverRepo, issuer, recorder)

	scheduleRepo := schedules.NewRepository(pool)
	scheduleService := schedules.NewService(scheduleRepo, logger)
	schedulesHandler := schedules.NewHandler(scheduleService, recorder)

	subuserRepo := subusers.NewRepository(pool)
	subuserService := subusers.NewService(subuserRepo, logger)
	subusersHandler := subusers.NewHandler(subuserService, recorder)

	allocationRepo := allocations.NewRepository(pool)
	allocationsHandler := allocations.NewHandler(logger, allocationRepo, recorder)

	databaseRepo := databases.NewRepository(pool)
	databaseService := databases.NewService(databaseRepo, logger)
	databasesHandler := databases.NewHandler(databaseService, recorder)

	settingsHandler := settings.NewHandler(logger, serverRepo,
		func(ctx context.Context, srv server.Server) (settings.NodeSettings, error) {
			return facades.ForServer(ctx, srv)
		}, recorder)

	websocketHandler := websocket.NewHandler(logger, serverRepo, issuer)
	activityHandler := activity.NewHandler(logger, activityRepo)

	serverHandler := server.NewHandler(logger, serverRepo,
		func(ctx context.Context, srv server.Server) (server.NodeResources, error) {
			return facades.ForServer(ctx, srv)
		})

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:  logger,
		Config:  cfg,
		Metrics: metrics,

		Authenticator: authenticator,
		ServerMW:      serverMW,

		ServerHandler:      serverHandler,
		PowerHandler:       powerHandler,
		FilesHandler:       filesHandler,
		BackupsHandler:     backupsHandler,
		SchedulesHandler:   schedulesHandler,
		SubusersHandler:    subusersHandler,
		AllocationsHandler: allocationsHandler,
		DatabasesHandler:   databasesHandler,
		SettingsHandler:    settingsHandler,
		WebsocketHandler:   websocketHandler,
		ActivityHandler:    activityHandler,
	})

	srv := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("server listening", slog.String("addr", cfg.AppAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", slog.Any("error", err))
	}
}
