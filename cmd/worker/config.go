package main

import (
	"os"
	"strconv"
)

// Config holds the worker's environment-driven settings.
type Config struct {
	OrdersTable       string
	QuarantineTable   string
	QueueURL          string
	TopicARN          string
	Workers           int
	BatchSize         int
	VisibilityTimeout int // seconds
	MaxReceiveCount   int
	RetryMaxAttempts  int
	RetryIntervalSec  int

	// simulated capability failure rates, for demo runs
	PaymentDeclineRate      float64
	PaymentOutageRate       float64
	InventoryOutOfStockRate float64
	InventoryOutageRate     float64
}

func loadConfig() Config {
	return Config{
		OrdersTable:       os.Getenv("ORDERS_TABLE"),
		QuarantineTable:   os.Getenv("QUARANTINE_TABLE"),
		QueueURL:          os.Getenv("ORDERS_QUEUE_URL"),
		TopicARN:          os.Getenv("ORDER_TOPIC_ARN"),
		Workers:           envInt("WORKER_POOL_SIZE", 4),
		BatchSize:         envInt("BATCH_SIZE", 10),
		VisibilityTimeout: envInt("VISIBILITY_TIMEOUT_SECONDS", 180),
		MaxReceiveCount:   envInt("MAX_RECEIVE_COUNT", 3),
		RetryMaxAttempts:  envInt("RETRY_MAX_ATTEMPTS", 3),
		RetryIntervalSec:  envInt("RETRY_INTERVAL_SECONDS", 2),

		PaymentDeclineRate:      envFloat("SIM_PAYMENT_DECLINE_RATE", 0),
		PaymentOutageRate:       envFloat("SIM_PAYMENT_OUTAGE_RATE", 0),
		InventoryOutOfStockRate: envFloat("SIM_INVENTORY_OOS_RATE", 0),
		InventoryOutageRate:     envFloat("SIM_INVENTORY_OUTAGE_RATE", 0),
	}
}

func envInt(key string, fallback int) int {
	if raw := os.Getenv(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if raw := os.Getenv(key); raw != "" {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}
	return fallback
}
