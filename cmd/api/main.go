package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/chikwex/orderpipeline/internal/aws"
	"github.com/chikwex/orderpipeline/internal/handlers"
	"github.com/chikwex/orderpipeline/internal/logging"
)

func setupRouter(cfg handlers.HandlerConfig, qcfg handlers.QuarantineConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterOrdersRoutes(r, cfg)
	handlers.RegisterQuarantineRoutes(r, qcfg)

	return r
}

func main() {
	_ = godotenv.Load()
	logger := logging.New("order-api")

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init aws clients")
	}

	cfg := handlers.HandlerConfig{
		DynamoDBClient:   clients.DynamoDB,
		SQSClient:        clients.SQS,
		SNSClient:        clients.SNS,
		CloudWatchClient: clients.CloudWatch,
		IdempotencyTable: os.Getenv("IDEMPOTENCY_TABLE"),
		OrdersTable:      os.Getenv("ORDERS_TABLE"),
		QueueURL:         os.Getenv("ORDERS_QUEUE_URL"),
		TopicARN:         os.Getenv("ORDER_TOPIC_ARN"),
		TTLWindow:        48 * time.Hour,
		Logger:           logger,
	}

	qcfg := handlers.QuarantineConfig{
		DynamoDBClient:  clients.DynamoDB,
		SQSClient:       clients.SQS,
		QuarantineTable: os.Getenv("QUARANTINE_TABLE"),
		QueueURL:        os.Getenv("ORDERS_QUEUE_URL"),
	}

	r := setupRouter(cfg, qcfg)

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if os.Getenv("RUN_LOCAL") == "true" {
		addr := ":8080"
		logger.Info().Str("addr", addr).Msg("running local server")
		if err := r.Run(addr); err != nil {
			logger.Fatal().Err(err).Msg("failed to run local server")
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		// the adapter handles proxying; use adapter.ProxyWithContext for proper context propagation
		return adapter.ProxyWithContext(ctx, req)
	})
}
