// Package main provides the outbox relay service entry point.
// Relays committed outbox entries to the broker so lifecycle events,
// notifications, and audit records leave the database exactly as written.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/careloop/rx-engine/internal/config"
	"github.com/careloop/rx-engine/internal/infrastructure/postgres"
	"github.com/careloop/rx-engine/internal/infrastructure/redpanda"
	"github.com/careloop/rx-engine/internal/observability/tracing"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("configuration error", zap.Error(err))
	}

	ctx := context.Background()

	tp, err := tracing.Init(ctx, "outbox-relay", cfg)
	if err != nil {
		logger.Warn("tracing init failed, continuing without export", zap.Error(err))
	} else {
		defer tp.Shutdown(context.Background())
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("invalid database url", zap.Error(err))
	}
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MinConns = cfg.DBMinConns
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("connected to database")

	// Make sure the destination topics exist before relaying into them
	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	if err := admin.EnsureTopics(ctx); err != nil {
		logger.Warn("topic creation failed, assuming topics exist", zap.Error(err))
	}
	admin.Close()

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers

	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	logger.Info("connected to broker", zap.Strings("brokers", cfg.KafkaBrokers))

	outbox := postgres.NewOutbox(pool, producer, postgres.DefaultOutboxConfig(), logger)
	outbox.Start()
	logger.Info("outbox relay started")

	// Housekeeping: sweep exhausted entries to the dead letter topic and trim
	// processed rows.
	hkCtx, hkCancel := context.WithCancel(ctx)
	hkDone := make(chan struct{})
	go housekeeping(hkCtx, outbox, logger, hkDone)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	hkCancel()
	<-hkDone
	outbox.Stop()
	logger.Info("outbox relay stopped")
}

func housekeeping(ctx context.Context, outbox *postgres.Outbox, logger *zap.Logger, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := outbox.MoveToDeadLetter(ctx); err != nil {
				logger.Error("dead letter sweep failed", zap.Error(err))
			} else if n > 0 {
				logger.Warn("entries moved to dead letter", zap.Int64("count", n))
			}

			if _, err := outbox.CleanupProcessed(ctx, 24*time.Hour); err != nil {
				logger.Error("outbox cleanup failed", zap.Error(err))
			}

			if stats, err := outbox.GetStats(ctx); err == nil && stats.Pending > 0 {
				logger.Info("outbox backlog", zap.Int64("pending", stats.Pending))
			}
		}
	}
}
