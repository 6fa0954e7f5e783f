package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/uplay-learning/engagement/config"
	"github.com/uplay-learning/engagement/internal/aggregator"
	"github.com/uplay-learning/engagement/internal/archive"
	"github.com/uplay-learning/engagement/internal/catalog"
	"github.com/uplay-learning/engagement/internal/events"
	"github.com/uplay-learning/engagement/internal/identity"
	"github.com/uplay-learning/engagement/internal/middleware"
	"github.com/uplay-learning/engagement/internal/query"
	"github.com/uplay-learning/engagement/internal/realtime"
	"github.com/uplay-learning/engagement/internal/reconcile"
	"github.com/uplay-learning/engagement/internal/sessions"
	"github.com/uplay-learning/engagement/pkg/database"
	"github.com/uplay-learning/engagement/pkg/queue"
	redisclient "github.com/uplay-learning/engagement/pkg/redis"
	"github.com/uplay-learning/engagement/pkg/response"
)

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

func main() {
	logger, err := newLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	rdb, err := redisclient.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	defer rdb.Close()

	jobs := queue.NewQueue(rdb.Client, logger)

	eventRepo := events.NewRepository(pool)
	sessionRepo := sessions.NewRepository(pool)
	snapshotRepo := aggregator.NewRepository(pool)
	catalogRepo := catalog.NewRepository(pool)
	discrepancyRepo := reconcile.NewRepository(pool)

	hub := realtime.NewHub(logger)

	agg := aggregator.New(snapshotRepo, eventRepo, hub,
		int(cfg.Engine.DropOffBucketSec), logger)

	store := sessions.NewStore(eventRepo, sessionRepo, agg, hub,
		archive.NewScheduler(jobs), logger)
	if openIDs, err := sessionRepo.ListOpenSessionIDs(ctx); err != nil {
		logger.Warn("open session scan failed", zap.Error(err))
	} else if err := store.Recover(ctx, eventRepo, openIDs); err != nil {
		logger.Warn("session recovery failed", zap.Error(err))
	}
	sweeper := sessions.NewSweeper(store,
		time.Duration(cfg.Engine.IdleWindowMinutes)*time.Minute,
		time.Duration(cfg.Engine.SweepIntervalSec)*time.Second, logger)

	lookup := catalog.NewLookup(cfg.Providers.YouTubeAPIKey,
		time.Duration(cfg.Reconcile.LookupTimeoutSec)*time.Second, logger)
	reconciler := reconcile.NewService(catalogRepo, lookup, discrepancyRepo, agg, hub,
		cfg.Reconcile.MinSignificantDelta,
		time.Duration(cfg.Reconcile.LookupTimeoutSec)*time.Second, logger)

	validator := events.NewValidator(cfg.Engine.TimestampToleranceSec)
	eventHandler := events.NewHandler(validator, store, logger)
	cache := query.NewSnapshotCache(rdb.Client,
		time.Duration(cfg.Engine.SnapshotCacheTTLSec)*time.Second, logger)
	queryHandler := query.NewHandler(agg, snapshotRepo, catalogRepo, sessionRepo, discrepancyRepo, cache, logger)
	reconcileHandler := reconcile.NewHandler(reconciler, discrepancyRepo, jobs, logger)

	go sweeper.Run(ctx)
	go agg.Run(ctx, time.Duration(cfg.Engine.SnapshotFlushSec)*time.Second)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(identity.Middleware(cfg.JWT.Secret))

	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", hub.ServeWS)

	analytics := router.Group("/analytics")
	{
		analytics.POST("/video-event", eventHandler.Submit)
		analytics.POST("/video-events", eventHandler.SubmitBatch)
	}
	router.GET("/videos/:id/metrics", queryHandler.GetVideoMetrics)
	router.POST("/videos/:id/recompute", reconcileHandler.RecomputeVideo)
	router.GET("/reports", queryHandler.GetReport)
	router.GET("/discrepancies", queryHandler.GetDiscrepancies)
	router.PATCH("/discrepancies/:id/acknowledge", reconcileHandler.AcknowledgeDiscrepancy)
	router.POST("/reconcile/run", reconcileHandler.RunReconciliation)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	hub.Shutdown()
	logger.Info("server stopped")
}
