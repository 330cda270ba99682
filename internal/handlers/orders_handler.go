package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/chikwex/orderpipeline/internal/aws"
	"github.com/chikwex/orderpipeline/internal/idempotency"
	"github.com/chikwex/orderpipeline/internal/metrics"
	"github.com/chikwex/orderpipeline/internal/notify"
	"github.com/chikwex/orderpipeline/internal/orders"
	"github.com/chikwex/orderpipeline/internal/queue"
	"github.com/chikwex/orderpipeline/internal/validation"
)

// HandlerConfig groups dependencies for the orders handler.
type HandlerConfig struct {
	DynamoDBClient   aws.DynamoDBAPI
	SQSClient        aws.SQSAPI
	SNSClient        aws.SNSAPI
	CloudWatchClient aws.CloudWatchAPI
	IdempotencyTable string
	OrdersTable      string
	QueueURL         string
	TopicARN         string
	TTLWindow        time.Duration
	Logger           zerolog.Logger
}

// RegisterOrdersRoutes registers routes for the order API.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	idempStore := idempotency.NewStore(cfg.DynamoDBClient, cfg.IdempotencyTable, cfg.TTLWindow)
	ordersStore := orders.NewStore(cfg.DynamoDBClient, cfg.OrdersTable)
	publisher := aws.NewPublisher(cfg.SQSClient, cfg.QueueURL)

	var emitter *metrics.Emitter
	if cfg.CloudWatchClient != nil {
		emitter = metrics.NewEmitter(cfg.CloudWatchClient, cfg.Logger)
	}
	events := notify.NewPublisher(cfg.SNSClient, cfg.TopicARN, cfg.Logger, emitter)

	r.POST("/orders", createOrderHandler(cfg, v, idempStore, ordersStore, publisher, emitter))
	r.GET("/orders/:id", getOrderHandler(ordersStore))
	r.GET("/orders", listOrdersHandler(ordersStore))
	r.POST("/orders/:id/cancel", cancelOrderHandler(ordersStore, events, emitter))
}

func createOrderHandler(cfg HandlerConfig, v *validatorv10.Validate, idempStore *idempotency.Store, ordersStore *orders.Store, publisher *aws.Publisher, emitter *metrics.Emitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.CreateOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		// idempotency key: body field first, header as fallback. Without one
		// each submission is its own logical request.
		idempKey := req.IdempotencyKey
		if idempKey == "" {
			idempKey = c.GetHeader("Idempotency-Key")
		}
		if idempKey == "" {
			idempKey = uuid.NewString()
		}

		orderID := uuid.NewString()
		now := time.Now().UTC()

		items := make([]orders.Item, 0, len(req.Items))
		for _, it := range req.Items {
			items = append(items, orders.Item{
				ProductID: it.ProductID,
				Quantity:  it.Quantity,
				UnitPrice: decimal.NewFromFloat(it.UnitPrice),
			})
		}

		order := orders.Order{
			OrderID:         orderID,
			CustomerID:      req.CustomerID,
			Items:           items,
			TotalAmount:     orders.TotalOf(items),
			Status:          orders.StatusPending,
			CreatedAt:       now,
			UpdatedAt:       now,
			CustomerEmail:   req.CustomerEmail,
			ShippingAddress: req.ShippingAddress,
		}

		idempItem := map[string]interface{}{
			"idempotency_key": idempKey,
			"status":          idempotency.StatusInProgress,
			"order_id":        orderID,
			"created_at":      now.Format(time.RFC3339),
			"updated_at":      now.Format(time.RFC3339),
		}

		err := ordersStore.CreateWithIdempotencyTransaction(ctx, cfg.IdempotencyTable, idempItem, order, cfg.TTLWindow)
		if err != nil {
			if !errors.Is(err, orders.ErrIdempotencyConflict) {
				emitter.Count(ctx, metrics.OrderCreationErrors, nil)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed", "detail": err.Error()})
				return
			}
			replayIdempotentResponse(c, idempStore, idempKey, err)
			return
		}

		msgBody, _ := json.Marshal(queue.Message{OrderID: orderID, CreatedAt: now})
		attrs := map[string]string{
			"order_id":       orderID,
			"correlation_id": c.GetHeader("X-Request-Id"),
		}
		if err := publisher.SendMessage(ctx, string(msgBody), attrs); err != nil {
			// mark idempotency failed so the client can retry
			_ = idempStore.MarkFailed(ctx, idempKey, fmt.Sprintf("enqueue_failed: %v", err))
			emitter.Count(ctx, metrics.OrderCreationErrors, nil)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue_failed", "detail": err.Error()})
			return
		}

		response := gin.H{
			"orderId":     orderID,
			"status":      orders.StatusPending,
			"totalAmount": order.TotalAmount,
			"createdAt":   now,
		}
		responseBody, _ := json.Marshal(response)
		_ = idempStore.MarkDone(ctx, idempKey, string(responseBody), http.StatusCreated)

		emitter.Count(ctx, metrics.OrdersCreated, nil)
		emitter.Value(ctx, metrics.OrderValue, order.TotalAmount.InexactFloat64(), nil)

		c.Header("Location", fmt.Sprintf("/orders/%s", orderID))
		c.JSON(http.StatusCreated, response)
	}
}

// replayIdempotentResponse handles a duplicate idempotency key: the stored
// response is returned instead of creating a second order.
func replayIdempotentResponse(c *gin.Context, idempStore *idempotency.Store, idempKey string, createErr error) {
	ctx := c.Request.Context()

	rec, getErr := idempStore.Get(ctx, idempKey)
	if getErr != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "detail": getErr.Error()})
		return
	}
	if rec == nil {
		// transaction failed but no record found
		c.JSON(http.StatusInternalServerError, gin.H{"error": "transaction_failed_no_idempotency_record", "detail": createErr.Error()})
		return
	}

	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" {
			c.Data(rec.ResponseStatus, "application/json", []byte(rec.ResponseBody))
			return
		}
		c.JSON(http.StatusOK, gin.H{"orderId": rec.OrderID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress", "orderId": rec.OrderID})
	case idempotency.StatusFailed:
		// let client retry
		c.JSON(http.StatusInternalServerError, gin.H{"error": "previous_attempt_failed", "orderId": rec.OrderID})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"})
	}
}

func getOrderHandler(ordersStore *orders.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := ordersStore.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "retrieval_failed", "detail": err.Error()})
			return
		}
		if order == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": fmt.Sprintf("order %s not found", c.Param("id"))})
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func listOrdersHandler(ordersStore *orders.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := orders.Status(strings.ToUpper(c.Query("status")))
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_status",
				"message": "status must be one of: PENDING, PROCESSING, COMPLETED, FAILED, CANCELLED",
			})
			return
		}

		limit := 50
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
				return
			}
			limit = n
		}

		list, err := ordersStore.QueryByStatus(c.Request.Context(), status, int32(limit))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "detail": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"orders": list,
			"count":  len(list),
			"filter": gin.H{"status": status},
		})
	}
}

func cancelOrderHandler(ordersStore *orders.Store, events *notify.Publisher, emitter *metrics.Emitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		orderID := c.Param("id")

		order, err := ordersStore.Get(ctx, orderID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "retrieval_failed", "detail": err.Error()})
			return
		}
		if order == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}

		// only pre-capture orders can be cancelled
		if order.Status.Terminal() || order.PaymentReference != "" {
			c.JSON(http.StatusConflict, gin.H{"error": "not_cancellable", "status": order.Status})
			return
		}

		if err := ordersStore.Cancel(ctx, orderID, order.Status); err != nil {
			if errors.Is(err, orders.ErrNotCancellable) {
				c.JSON(http.StatusConflict, gin.H{"error": "not_cancellable"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cancel_failed", "detail": err.Error()})
			return
		}

		events.PublishStatus(ctx, orderID, orders.StatusCancelled, "")
		emitter.Count(ctx, metrics.OrdersCancelled, nil)
		c.JSON(http.StatusOK, gin.H{"orderId": orderID, "status": orders.StatusCancelled})
	}
}
