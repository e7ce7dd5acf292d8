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

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"voice-recorder/internal/archive"
	"voice-recorder/internal/audit"
	"voice-recorder/internal/auth"
	"voice-recorder/internal/config"
	"voice-recorder/internal/events"
	"voice-recorder/internal/metrics"
	"voice-recorder/internal/storage"
	"voice-recorder/internal/voicemail"
	"voice-recorder/pkg/logger"
	"voice-recorder/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)
	rootCtx = logger.With(rootCtx, log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := utils.OpenDatabase(rootCtx, databaseConfig(cfg.DB))
	if err != nil {
		log.Error("database init failed", "driver", cfg.DB.Driver, "err", err)
		os.Exit(1)
	}
	sqlStore := storage.NewSQLStore(db)
	defer sqlStore.Close()

	if err := sqlStore.Migrate(rootCtx); err != nil {
		log.Error("database migration failed", "err", err)
		os.Exit(1)
	}
	store := storage.NewRetryingStore(sqlStore, storage.RetryPolicy{Attempts: cfg.DB.WriteAttempts})

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	m := metrics.New()

	var journalRepo audit.Repository = audit.NewMemoryRepo()
	if rdb != nil {
		journalRepo = audit.NewRedisRepo(rdb, audit.DefaultStream, 0)
	}
	journal := audit.NewService(journalRepo)

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.Events.Enabled() {
		rp, err := events.DialRabbit(cfg.Events.RabbitURL, cfg.Events.Queue)
		if err != nil {
			log.Error("rabbitmq init failed", "err", err)
			os.Exit(1)
		}
		publisher = rp
	}
	defer publisher.Close()

	var archiver *archive.Archiver
	if cfg.Archive.Enabled() {
		archiver, err = newArchiver(cfg, store, rdb, m, log)
		if err != nil {
			log.Error("archive init failed", "err", err)
			os.Exit(1)
		}
		archiver.Start(context.WithoutCancel(rootCtx))
	}

	deps := voicemail.Deps{
		Store:     store,
		Journal:   journal,
		Publisher: publisher,
		Metrics:   m,
	}
	if archiver != nil {
		deps.Archiver = archiver
	}
	svc := voicemail.NewService(cfg, deps)

	var adminAuth *auth.Manager
	if cfg.Admin.JWTSecret != "" {
		adminAuth, err = auth.NewManager(cfg.Admin)
		if err != nil {
			log.Error("auth init failed", "err", err)
			os.Exit(1)
		}
	} else {
		log.Warn("admin api disabled", "reason", "ADMIN_JWT_SECRET not set")
	}

	limiter := auth.NewIPRateLimiter(auth.DefaultRateLimitConfig())
	defer limiter.Stop()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		cfg:       cfg,
		lifecycle: svc,
		store:     store,
		redis:     rdb,
		metrics:   m,
		adminAuth: adminAuth,
		limiter:   limiter,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "db_driver", cfg.DB.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if archiver != nil {
		if err := archiver.Stop(shutdownCtx); err != nil {
			log.Warn("archive drain incomplete", "err", err)
		}
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

func databaseConfig(c config.DBConfig) utils.DatabaseConfig {
	if c.Driver == "postgres" {
		return utils.DatabaseConfig{Driver: utils.DriverPostgres, DSN: c.DSN}
	}
	return utils.DatabaseConfig{Driver: utils.DriverSQLite, Path: c.Path}
}

func newArchiver(cfg config.Config, store storage.Store, rdb *redis.Client, m *metrics.Metrics, log *slog.Logger) (*archive.Archiver, error) {
	key, err := archive.LoadPrivateKey(cfg.Vonage.PrivateKeyPath)
	if err != nil {
		return nil, err
	}
	dl, err := archive.NewVonageDownloader(cfg.Vonage.ApplicationID, key)
	if err != nil {
		return nil, err
	}
	up, err := archive.NewS3Uploader(cfg.Archive)
	if err != nil {
		return nil, err
	}
	return archive.New(store, dl, up, archive.Options{
		Workers:       cfg.Archive.Workers,
		Redis:         rdb,
		MaxConcurrent: cfg.Archive.MaxConcurrent,
		Metrics:       m,
		Logger:        log,
	}), nil
}
