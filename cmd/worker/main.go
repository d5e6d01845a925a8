package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/hillsclinic/clinic-portal/internal/app"
	"github.com/hillsclinic/clinic-portal/internal/notify"
	"github.com/hillsclinic/clinic-portal/internal/platform/db"
	"github.com/hillsclinic/clinic-portal/internal/shared"
	"github.com/hillsclinic/clinic-portal/internal/users"
	"github.com/hillsclinic/clinic-portal/jobs"
)

func main() {
	_ = godotenv.Load()

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

	usersRepo := users.NewRepository(pool)
	notifyRepo := notify.NewRepository(pool)
	notifyService := notify.NewService(notifyRepo, usersRepo, logger)
	mailer := notify.NewMailer(cfg.ResendAPIKey, cfg.MailFrom, cfg.AppName, !cfg.IsProduction(), logger)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeSendEmail, Handler: jobs.NewSendEmailHandler(mailer)},
			{Type: jobs.TaskTypeConsentRevoked, Handler: jobs.NewConsentRevokedHandler(notifyService, mailer, cfg.AlertEmail, logger)},
			{Type: jobs.TaskTypeDocumentUploaded, Handler: jobs.NewDocumentUploadedHandler(notifyService, logger)},
			{Type: jobs.TaskTypeIdempotencyCleanup, Handler: jobs.NewIdempotencyCleanupHandler(idempotencyStore, cfg.IdempotencyRetention, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "30 3 * * *", Task: jobs.NewIdempotencyCleanupTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
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
