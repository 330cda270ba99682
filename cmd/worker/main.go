package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/chikwex/orderpipeline/internal/aws"
	"github.com/chikwex/orderpipeline/internal/capability"
	"github.com/chikwex/orderpipeline/internal/deadletter"
	"github.com/chikwex/orderpipeline/internal/logging"
	"github.com/chikwex/orderpipeline/internal/metrics"
	"github.com/chikwex/orderpipeline/internal/notify"
	"github.com/chikwex/orderpipeline/internal/orders"
	"github.com/chikwex/orderpipeline/internal/queue"
	"github.com/chikwex/orderpipeline/internal/retry"
	"github.com/chikwex/orderpipeline/internal/workflow"
)

func main() {
	_ = godotenv.Load()
	logger := logging.New("order-worker")
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init aws clients")
	}

	emitter := metrics.NewEmitter(clients.CloudWatch, logger)
	ordersStore := orders.NewStore(clients.DynamoDB, cfg.OrdersTable)
	quarantine := deadletter.NewStore(clients.DynamoDB, cfg.QuarantineTable)
	events := notify.NewPublisher(clients.SNS, cfg.TopicARN, logger, emitter)

	payment := capability.NewSimulatedPayment(cfg.PaymentDeclineRate, cfg.PaymentOutageRate, time.Now().UnixNano())
	inventory := capability.NewSimulatedInventory(cfg.InventoryOutOfStockRate, cfg.InventoryOutageRate, time.Now().UnixNano())

	policy := retry.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		Interval:    time.Duration(cfg.RetryIntervalSec) * time.Second,
		Rate:        2.0,
	}

	orchestrator := workflow.New(ordersStore, payment, inventory, events, emitter, policy, logger)

	consumer := queue.NewConsumer(clients.SQS, queue.Config{
		QueueURL:          cfg.QueueURL,
		BatchSize:         int32(cfg.BatchSize),
		VisibilityTimeout: int32(cfg.VisibilityTimeout),
		MaxReceiveCount:   cfg.MaxReceiveCount,
		Workers:           cfg.Workers,
	}, orchestrator, quarantine, emitter, logger)

	logger.Info().
		Int("workers", cfg.Workers).
		Str("queue", cfg.QueueURL).
		Msg("worker starting")

	if err := consumer.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("consumer stopped with error")
	}
	logger.Info().Msg("worker stopped")
}
