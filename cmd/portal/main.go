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
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/hillsclinic/clinic-portal/internal/access"
	"github.com/hillsclinic/clinic-portal/internal/app"
	"github.com/hillsclinic/clinic-portal/internal/audit"
	"github.com/hillsclinic/clinic-portal/internal/auth"
	"github.com/hillsclinic/clinic-portal/internal/consent"
	"github.com/hillsclinic/clinic-portal/internal/media"
	"github.com/hillsclinic/clinic-portal/internal/notify"
	"github.com/hillsclinic/clinic-portal/internal/observability"
	"github.com/hillsclinic/clinic-portal/internal/platform/cache"
	"github.com/hillsclinic/clinic-portal/internal/platform/db"
	"github.com/hillsclinic/clinic-portal/internal/platform/storage"
	"github.com/hillsclinic/clinic-portal/internal/rbac"
	"github.com/hillsclinic/clinic-portal/internal/shared"
	"github.com/hillsclinic/clinic-portal/internal/subject"
	"github.com/hillsclinic/clinic-portal/internal/users"
	"github.com/hillsclinic/clinic-portal/jobs"
	"github.com/hillsclinic/clinic-portal/migrations"
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

	if err := db.Migrate(ctx, pool, migrations.FS); err != nil {
		logger.Error("apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

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

	sessionManager := shared.NewSessionManager(redisClient, "portal_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	tokenManager := auth.NewTokenManager(cfg.PipelineTokenSecret, cfg.PipelineTokenIssuer, cfg.PipelineTokenTTL)

	runner := db.Runner{Pool: pool}
	idempotencyStore := shared.NewIdempotencyStore(pool)

	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo)

	rbacService := rbac.NewService(pool)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}
	gate := access.NewGate(rbacService, auditService, logger)

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo)

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager, usersRepo, auditService)

	subjectRepo := subject.NewRepository(pool)
	subjectService := subject.NewService(subjectRepo, auditService, logger)
	subjectHandler := subject.NewHandler(logger, subjectService, gate)

	consentRepo := consent.NewRepository(pool)
	mediaRepo := media.NewRepository(pool)

	consentService := consent.NewService(runner, consentRepo, auditService, mediaRepo, logger)
	consentHandler := consent.NewHandler(logger, consentService, gate)

	mediaService := media.NewService(runner, mediaRepo, consentRepo, auditService, logger)
	mediaHandler := media.NewHandler(logger, mediaService, gate, idempotencyStore)

	resolver, err := storage.New(ctx, storage.Options{
		Region:   cfg.S3Region,
		Bucket:   cfg.S3Bucket,
		Endpoint: cfg.S3Endpoint,
		Expiry:   cfg.S3PresignTTL,
	})
	if err != nil {
		logger.Error("init storage resolver", slog.Any("error", err))
		os.Exit(1)
	}
	mediaService.SetResolver(resolver)

	notifyRepo := notify.NewRepository(pool)
	notifyService := notify.NewService(notifyRepo, usersRepo, logger)
	notifyHandler := notify.NewHandler(logger, notifyService)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	consentService.SetDispatcher(jobsClient)
	mediaService.SetDispatcher(jobsClient)

	auditHandler := audit.NewHandler(logger, auditService, rbacMiddleware)
	usersHandler := users.NewHandler(logger, usersService, rbacService, rbacMiddleware)
	rbacHandler := rbac.NewHandler(logger, rbacService, rbacMiddleware)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	metrics := observability.NewMetrics()
	auditService.SetMetrics(metrics)
	gate.SetMetrics(metrics)
	consentService.SetMetrics(metrics)
	mediaService.SetMetrics(metrics)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		TokenManager:   tokenManager,
		AuthHandler:    authHandler,
		SubjectHandler: subjectHandler,
		ConsentHandler: consentHandler,
		MediaHandler:   mediaHandler,
		AuditHandler:   auditHandler,
		NotifyHandler:  notifyHandler,
		UsersHandler:   usersHandler,
		RBACHandler:    rbacHandler,
		JobHandler:     jobHandler,
		RBACMiddleware: rbacMiddleware,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server exit", slog.Any("error", err))
		os.Exit(1)
	}
}
