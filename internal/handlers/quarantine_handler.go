package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/chikwex/orderpipeline/internal/aws"
	"github.com/chikwex/orderpipeline/internal/deadletter"
)

// QuarantineConfig groups dependencies for the operator routes.
type QuarantineConfig struct {
	DynamoDBClient  aws.DynamoDBAPI
	SQSClient       aws.SQSAPI
	QuarantineTable string
	QueueURL        string
}

// RegisterQuarantineRoutes exposes dead-letter inspection and manual replay.
// Replay is the only way a quarantined message re-enters the pipeline.
func RegisterQuarantineRoutes(r *gin.Engine, cfg QuarantineConfig) {
	store := deadletter.NewStore(cfg.DynamoDBClient, cfg.QuarantineTable)
	publisher := aws.NewPublisher(cfg.SQSClient, cfg.QueueURL)

	r.GET("/quarantine", func(c *gin.Context) {
		limit := 50
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
				return
			}
			limit = n
		}

		records, err := store.List(c.Request.Context(), int32(limit))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
	})

	r.GET("/quarantine/:id", func(c *gin.Context) {
		rec, err := store.Get(c.Request.Context(), c.Param("id"))
		if errors.Is(err, deadletter.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "get_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	r.POST("/quarantine/:id/replay", func(c *gin.Context) {
		err := store.Replay(c.Request.Context(), c.Param("id"), publisher)
		if errors.Is(err, deadletter.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "replay_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"orderId": c.Param("id"), "replayed": true})
	})
}
