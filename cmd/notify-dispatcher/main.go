// Package main provides the notification dispatcher entry point.
// Consumes the notifications topic and delivers each notification to the
// recipient's webhook exactly once.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/careloop/rx-engine/internal/config"
	"github.com/careloop/rx-engine/internal/infrastructure/redpanda"
	"github.com/careloop/rx-engine/internal/notify"
	"github.com/careloop/rx-engine/internal/observability/tracing"
	"github.com/careloop/rx-engine/pkg/circuitbreaker"
	"github.com/careloop/rx-engine/pkg/idempotency"
	"github.com/careloop/rx-engine/pkg/workerpool"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("configuration error", zap.Error(err))
	}

	ctx := context.Background()

	tp, err := tracing.Init(ctx, "notify-dispatcher", cfg)
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

	inbox := idempotency.NewInbox(pool, idempotency.DefaultInboxConfig(), logger)
	inbox.StartCleanup()
	defer inbox.Stop()

	breakers := circuitbreaker.NewManager(logger)
	sender := notify.NewWebhookSender(map[string]string{
		"patient": cfg.PatientWebhookURL,
		"doctor":  cfg.DoctorWebhookURL,
	}, breakers, logger)

	dispatcher := &dispatcher{inbox: inbox, sender: sender, logger: logger}

	workerPool, err := workerpool.New(workerpool.DefaultConfig(), dispatcher.process, logger)
	if err != nil {
		logger.Fatal("worker pool creation failed", zap.Error(err))
	}
	workerPool.Start()

	go func() {
		for res := range workerPool.Results() {
			if !res.Success {
				logger.Error("notification delivery failed",
					zap.String("task_id", res.TaskID),
					zap.Error(res.Error))
			}
		}
	}()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers
	consumerCfg.Topics = []string{redpanda.TopicNotifications}

	consumer, err := redpanda.NewConsumer(consumerCfg, func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
		return workerPool.Submit(&workerpool.Task{
			ID:      string(msg.Key),
			Payload: msg.Value,
			Context: ctx,
		})
	}, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}

	consumer.Start()
	logger.Info("notify dispatcher started",
		zap.String("group", consumerCfg.GroupID),
		zap.Strings("brokers", cfg.KafkaBrokers))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	consumer.Stop()
	workerPool.Stop()
	logger.Info("notify dispatcher stopped")
}

type dispatcher struct {
	inbox  *idempotency.Inbox
	sender *notify.WebhookSender
	logger *zap.Logger
}

// process delivers one consumed notification. Redeliveries hit the inbox and
// return the stored result without a second webhook call.
func (d *dispatcher) process(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	body, ok := task.Payload.([]byte)
	if !ok {
		return &workerpool.Result{TaskID: task.ID, Success: false, Error: errors.New("unexpected payload type")}
	}

	var n notify.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		// Malformed payloads never become deliverable; drop rather than retry
		d.logger.Error("malformed notification dropped", zap.Error(err))
		return &workerpool.Result{TaskID: task.ID, Success: true}
	}

	key := idempotency.GenerateKey(n.ID, n.RecipientID, "webhook")
	res, err := d.inbox.Process(ctx, key, "webhook-dispatch", body, func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		if err := d.sender.Send(ctx, n.RecipientType, payload); err != nil {
			return nil, err
		}
		return json.RawMessage(`{"delivered":true}`), nil
	})
	if err != nil {
		if errors.Is(err, idempotency.ErrEventInProgress) {
			// Another replica holds the entry; the retry delay covers it
			return &workerpool.Result{TaskID: task.ID, Success: false, Error: err}
		}
		return &workerpool.Result{TaskID: task.ID, Success: false, Error: err}
	}

	if !res.IsNew {
		d.logger.Debug("duplicate notification skipped",
			zap.String("notification_id", n.ID),
			zap.String("recipient_id", n.RecipientID))
	} else {
		d.logger.Info("notification delivered",
			zap.String("notification_id", n.ID),
			zap.String("recipient_type", n.RecipientType),
			zap.String("event", n.Event))
	}

	return &workerpool.Result{TaskID: task.ID, Success: true}
}
