package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"videosummarizer/internal/api"
	"videosummarizer/internal/config"
	"videosummarizer/internal/metrics"
	"videosummarizer/internal/redis"
	"videosummarizer/internal/service/ai"
	"videosummarizer/internal/service/assistant"
	"videosummarizer/internal/service/gemini"
	"videosummarizer/internal/service/tempfile"
	"videosummarizer/internal/service/video"
	"videosummarizer/internal/storage"
	"videosummarizer/internal/worker"
)

func main() {
	if err := config.LoadEnvFile(os.Getenv("VIDEOSUM_ENV_FILE")); err != nil {
		log.Fatalf("load env file: %v", err)
	}
	cfg, err := config.Load(os.Getenv("VIDEOSUM_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := newLogger(cfg.BasicConfig.LogLevel, cfg.BasicConfig.DevMode)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbType := os.Getenv("VIDEOSUM_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	logger.Info("opening database", zap.String("driver", dbType))
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		logger.Fatal("migrate database", zap.Error(err))
	}

	var cache *redis.Client
	if cfg.Redis.Enabled {
		cache, err = redis.NewRedisClient(cfg)
		if err != nil {
			logger.Fatal("create redis client", zap.Error(err))
		}
		defer cache.Close()
	}

	collector := metrics.NewCollector()

	provider := gemini.NewProvider(cfg)
	if !provider.HasKey() {
		logger.Warn("no provider API key configured, requests will fail at the provider",
			zap.String("env", cfg.Provider.APIKeyEnv))
	}
	bridge := video.NewBridge(video.NewGeminiStore(provider), cfg.Poll, logger, collector)
	agents := ai.NewFactory(cfg, provider, logger)

	files, err := tempfile.NewManager(cfg.BasicConfig.TempDir, logger)
	if err != nil {
		logger.Fatal("prepare temp dir", zap.Error(err))
	}
	files.StartSweeper(ctx, cfg.TempCleanInterval(), cfg.TempFileTTL())

	svc, err := assistant.NewService(assistant.Deps{
		DB:                db,
		Cache:             cache,
		Files:             files,
		Bridge:            bridge,
		Agents:            agents,
		Metrics:           collector,
		Logger:            logger,
		MaxUploadBytes:    cfg.MaxUploadBytes(),
		DeleteRemoteFiles: cfg.Agent.DeleteRemoteFiles,
	})
	if err != nil {
		logger.Fatal("init assistant service", zap.Error(err))
	}
	svc.StartCleaner(ctx, assistant.DefaultCleanupInterval, cfg.SessionTTL())

	dispatcher := worker.NewDispatcher(
		cfg.BasicConfig.MinWorkers,
		cfg.BasicConfig.MaxWorkers,
		cfg.BasicConfig.QueueSize,
		cfg.WorkerIdleTimeout(),
		logger,
	)
	defer dispatcher.Stop()
	collector.RegisterGauge("queue_pending_jobs", "Summarize jobs waiting for a worker",
		func() float64 { return float64(dispatcher.Pending()) })
	collector.RegisterGauge("workers", "Live summarize workers",
		func() float64 { return float64(dispatcher.Workers()) })

	handlers := api.NewHandler(ctx, svc, dispatcher, collector, logger, api.HandlerConfig{
		MaxUploadBytes: cfg.MaxUploadBytes(),
		SubmitRPS:      cfg.BasicConfig.SubmitRPS,
		SubmitBurst:    cfg.BasicConfig.SubmitBurst,
	})

	if !cfg.BasicConfig.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(api.Recovery(logger), api.RequestLogger(logger, collector))
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
}

func newLogger(level string, dev bool) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	zc := zap.NewProductionConfig()
	if dev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}
