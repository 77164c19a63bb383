package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"experimentservice/internal/audit"
	"experimentservice/internal/config"
	cronrunner "experimentservice/internal/cron"
	"experimentservice/internal/db"
	"experimentservice/internal/handler"
	"experimentservice/internal/idempotency"
	"experimentservice/internal/logger"
	"experimentservice/internal/metrics"
	gormrepository "experimentservice/internal/repository/gorm"
	"experimentservice/internal/service"
	"experimentservice/internal/telemetry"
	"experimentservice/internal/webhook"

	_ "experimentservice/docs"
)

func main() {
	cfgPath := os.Getenv("EXP_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("EXP_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log, cfg.App.Env)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if cfg.DB.MigrateOnStart {
		if err := db.Migrate(cfg.DB.DSN, "up", 0); err != nil {
			logger.Fatal("migrate failed", zap.Error(err))
		}
		if v, dirty, err := db.MigrationVersion(cfg.DB.DSN); err == nil {
			logger.Info("schema ready", zap.Uint("version", v), zap.Bool("dirty", dirty))
		}
	}

	dbConn, err := db.Open(cfg.DB, logger)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	store := gormrepository.New(dbConn.Gorm)
	recorder := &audit.Recorder{Repo: store, Outbox: &webhook.Producer{Repo: store}}

	guard := &idempotency.Guard{
		Repo:    store,
		TTL:     cfg.Idempotency.TTL,
		Logger:  logger,
		Metrics: m,
	}
	var redisClient *redis.Client
	if rc := cfg.Idempotency.Redis; rc.Enabled {
		cache := idempotency.NewRedisCache(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB}, rc.Prefix)
		defer cache.Close()
		guard.Cache = cache
		redisClient = cache.Client
	}

	experiments := &service.ExperimentService{Repo: store, Audit: recorder}
	runs := &service.RunService{Repo: store, Audit: recorder}
	captures := &service.CaptureService{Repo: store, Audit: recorder, Logger: logger}
	profiles := &service.ProfileService{Repo: store, Audit: recorder}
	sensors := &service.SensorService{Repo: store, Audit: recorder, Profiles: profiles}
	secrets, err := webhook.NewSecretBox(cfg.Webhook.SecretKey, cfg.Webhook.SecretPreviousKey)
	if err != nil {
		logger.Fatal("webhook secret key invalid", zap.Error(err))
	}
	webhooks := &service.WebhookService{Repo: store, Secrets: secrets}
	events := &service.EventService{Repo: store}

	ingest := &telemetry.IngestService{Repo: store, Config: cfg.Telemetry, Logger: logger, Metrics: m}
	query := &telemetry.QueryService{Repo: store, Config: cfg.Telemetry}
	streamer := &telemetry.Streamer{Repo: store, Config: cfg.Telemetry}

	engine := handler.NewRouter(handler.RouterOptions{
		Env:         cfg.App.Env,
		Auth:        cfg.Auth,
		Logger:      logger,
		Metrics:     m,
		MetricsPath: cfg.Metrics.Path,
		Swagger:     true,
	},
		&handler.HealthHandler{DB: dbConn, Redis: redisClient},
		&handler.ExperimentHandler{Service: experiments, Events: events, Idem: guard},
		&handler.RunHandler{Service: runs, Events: events, Idem: guard},
		&handler.CaptureHandler{Service: captures, Events: events, Idem: guard},
		&handler.SensorHandler{Service: sensors, Profiles: profiles, Events: events, Idem: guard},
		&handler.TelemetryHandler{Ingest: ingest, Query: query, Streamer: streamer, Metrics: m, Idem: guard},
		&handler.WebhookHandler{Service: webhooks, Idem: guard},
	)

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	dispatcher := &webhook.Dispatcher{
		Repo:    store,
		Client:  &http.Client{Timeout: cfg.Webhook.RequestTimeout},
		Config:  cfg.Webhook,
		Logger:  logger,
		Metrics: m,
		Secrets: secrets,
	}
	if cfg.Webhook.Enabled {
		go func() {
			if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("webhook dispatcher stopped", zap.Error(err))
			}
		}()
	}

	sink, err := telemetry.NewSink(ctx, cfg.Telemetry.Archive)
	if err != nil {
		logger.Fatal("archive sink failed", zap.Error(err))
	}

	cronRunner := cronrunner.New(logger, m, ctx)
	if cfg.Cron.Enabled {
		err := cronrunner.Register(cronRunner, cfg.Cron, cronrunner.Jobs{
			Idempotency: store,
			Captures:    captures,
			Dispatcher:  dispatcher,
			Rollup:      &telemetry.Rollup{Repo: store, Lookback: cfg.Telemetry.RollupLookback, Logger: logger},
			Archiver: &telemetry.Archiver{
				Repo:       store,
				Sink:       sink,
				After:      cfg.Telemetry.ArchiveAfter,
				MaxBuckets: cfg.Telemetry.ArchiveMaxBuckets,
				Logger:     logger,
			},
			StaleAfter: cfg.Capture.StaleAfter,
		})
		if err != nil {
			logger.Fatal("cron register failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
