package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/uplay-learning/engagement/config"
	"github.com/uplay-learning/engagement/internal/aggregator"
	"github.com/uplay-learning/engagement/internal/archive"
	"github.com/uplay-learning/engagement/internal/catalog"
	"github.com/uplay-learning/engagement/internal/events"
	"github.com/uplay-learning/engagement/internal/reconcile"
	"github.com/uplay-learning/engagement/internal/worker"
	"github.com/uplay-learning/engagement/pkg/database"
	"github.com/uplay-learning/engagement/pkg/queue"
	redisclient "github.com/uplay-learning/engagement/pkg/redis"
	"github.com/uplay-learning/engagement/pkg/storage"
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
	snapshotRepo := aggregator.NewRepository(pool)
	catalogRepo := catalog.NewRepository(pool)
	discrepancyRepo := reconcile.NewRepository(pool)

	agg := aggregator.New(snapshotRepo, eventRepo, nil,
		int(cfg.Engine.DropOffBucketSec), logger)

	lookup := catalog.NewLookup(cfg.Providers.YouTubeAPIKey,
		time.Duration(cfg.Reconcile.LookupTimeoutSec)*time.Second, logger)
	reconciler := reconcile.NewService(catalogRepo, lookup, discrepancyRepo, agg, nil,
		cfg.Reconcile.MinSignificantDelta,
		time.Duration(cfg.Reconcile.LookupTimeoutSec)*time.Second, logger)

	var exporter *archive.Exporter
	if cfg.AWS.Region != "" {
		s3, err := storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			ArchiveBucket:   cfg.AWS.ArchiveBucket,
		}, logger)
		if err != nil {
			logger.Fatal("s3 client failed", zap.Error(err))
		}
		exporter = archive.NewExporter(eventRepo, s3, logger)
	} else {
		logger.Warn("AWS_REGION not set; session archiving disabled")
	}

	w := worker.New(jobs, agg, reconciler, exporter, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		reconciler.Run(ctx, time.Duration(cfg.Reconcile.IntervalMinutes)*time.Minute)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	cancel()
	wg.Wait()
	logger.Info("worker stopped")
}
