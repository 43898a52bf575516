package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"artgen/internal/config"
	"artgen/internal/core"
	"artgen/internal/export"
	"artgen/internal/models"
	"artgen/internal/queue"
	"artgen/internal/scheduler"
	"artgen/internal/storage"
)

func main() {
	// Load .env if present; real deployments set env vars directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := storage.NewDB(storage.DBConfig{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	service := core.NewService(db, scheduler.Config{
		SampleLimit: cfg.Estimator.SampleLimit,
		MinDuration: cfg.Estimator.MinDuration,
		MaxDuration: cfg.Estimator.MaxDuration,
		DefaultDurations: map[models.Mode]time.Duration{
			models.ModeBasic: cfg.Estimator.DefaultBasic,
			models.ModePro:   cfg.Estimator.DefaultPro,
			models.ModeUltra: cfg.Estimator.DefaultUltra,
		},
		MinETA: cfg.Estimator.MinETA,
	})

	// Async usage pipeline
	queueConfig := queue.DefaultConfig("usage")
	queueConfig.BatchSize = cfg.Usage.BatchSize
	queueConfig.BatchTimeout = cfg.Usage.BatchTimeout
	queueConfig.MaxRetries = cfg.Usage.MaxRetries
	queueConfig.RetryBackoff = cfg.Usage.RetryBackoff
	queueConfig.UseRedis = cfg.Usage.UseRedis
	queueConfig.RedisAddr = cfg.Redis.Address
	queueConfig.RedisPassword = cfg.Redis.Password
	queueConfig.RedisDB = cfg.Redis.DB

	var usageQueue queue.Queue
	var usageDLQ queue.DeadLetterQueue
	if queueConfig.UseRedis {
		usageQueue, err = queue.NewRedisQueue(queueConfig)
		if err != nil {
			log.Fatalf("Failed to create Redis usage queue: %v", err)
		}
		usageDLQ, err = queue.NewRedisDeadLetterQueue(queueConfig)
		if err != nil {
			log.Fatalf("Failed to create Redis dead letter queue: %v", err)
		}
	} else {
		usageQueue = queue.NewMemoryQueue(10 * queueConfig.BatchSize)
		usageDLQ = queue.NewMemoryDeadLetterQueue()
	}

	worker := storage.NewUsageQueueWorker(usageQueue, usageDLQ, storage.NewUsageRepository(db), queueConfig)
	worker.Start(ctx)
	service.SetUsageSink(worker)

	// Optional S3 export sink
	var sink export.Sink = export.NewNoopSink()
	if cfg.Export.Enabled {
		sink, err = export.NewS3Sink(ctx, export.S3SinkConfig{
			BufferSize:    cfg.Export.BufferSize,
			FlushSize:     cfg.Export.FlushSize,
			FlushInterval: cfg.Export.FlushInterval,
			S3Bucket:      cfg.Export.S3Bucket,
			S3Region:      cfg.Export.S3Region,
			S3Prefix:      cfg.Export.S3Prefix,
			NodeName:      cfg.Export.NodeName,
		}, nil)
		if err != nil {
			log.Fatalf("Failed to create export sink: %v", err)
		}
	}
	service.SetExportSink(sink)

	log.Printf("artgen core running (usage queue: redis=%v, export: %v)",
		cfg.Usage.UseRedis, cfg.Export.Enabled)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the usage worker so in-flight batches finish persisting
	if err := worker.Stop(); err != nil {
		log.Printf("Failed to stop usage worker: %v", err)
	}
	if err := usageQueue.Close(); err != nil {
		log.Printf("Failed to close usage queue: %v", err)
	}
	if err := usageDLQ.Close(); err != nil {
		log.Printf("Failed to close dead letter queue: %v", err)
	}

	// Flush remaining export records to S3
	if err := sink.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown export sink: %v", err)
	}

	log.Println("Exited")
}
