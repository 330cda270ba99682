package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/chikwex/orderpipeline/internal/aws"
	"github.com/chikwex/orderpipeline/internal/deadletter"
	"github.com/chikwex/orderpipeline/internal/metrics"
)

// Processor drives an order to a terminal status. Implemented by
// *workflow.Orchestrator.
type Processor interface {
	Process(ctx context.Context, orderID string) error
}

// Quarantine parks messages that exhausted their redelivery budget.
// Implemented by *deadletter.Store.
type Quarantine interface {
	Put(ctx context.Context, rec deadletter.Record) error
}

// Config bounds the consumer's receive loop.
type Config struct {
	QueueURL          string
	BatchSize         int32 // messages per receive, default 10
	VisibilityTimeout int32 // seconds; must exceed worst-case processing of one order, default 180
	WaitTime          int32 // long-poll seconds, default 20
	MaxReceiveCount   int   // deliveries before quarantine, default 3
	Workers           int   // pool size, default 4
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 180
	}
	if c.WaitTime <= 0 {
		c.WaitTime = 20
	}
	if c.MaxReceiveCount <= 0 {
		c.MaxReceiveCount = 3
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	return c
}

// Consumer pulls ingestion messages with a fixed pool of workers. The
// visibility timeout is the only thing keeping two workers off the same
// order; it is a lease, not a mutex, so the processor must stay safe to
// resume. A message is deleted only after the processor reports the order
// durably terminal; anything else reappears after the timeout. Messages past
// the redelivery budget go to quarantine, never into the void.
type Consumer struct {
	sqs        aws.SQSAPI
	cfg        Config
	processor  Processor
	quarantine Quarantine
	emitter    *metrics.Emitter
	logger     zerolog.Logger
}

// NewConsumer builds a Consumer; zero Config fields take defaults.
func NewConsumer(sqsClient aws.SQSAPI, cfg Config, processor Processor, quarantine Quarantine, emitter *metrics.Emitter, logger zerolog.Logger) *Consumer {
	return &Consumer{
		sqs:        sqsClient,
		cfg:        cfg.withDefaults(),
		processor:  processor,
		quarantine: quarantine,
		emitter:    emitter,
		logger:     logger,
	}
}

// Run blocks polling the queue until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			c.pollLoop(ctx, worker)
			return nil
		})
	}
	return g.Wait()
}

func (c *Consumer) pollLoop(ctx context.Context, worker int) {
	logger := c.logger.With().Int("worker", worker).Logger()
	for {
		if ctx.Err() != nil {
			return
		}

		out, err := c.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            &c.cfg.QueueURL,
			MaxNumberOfMessages: c.cfg.BatchSize,
			WaitTimeSeconds:     c.cfg.WaitTime,
			VisibilityTimeout:   c.cfg.VisibilityTimeout,
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
				sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
				sqstypes.MessageSystemAttributeNameSentTimestamp,
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Msg("receive failed; backing off")
			sleep(ctx, time.Second)
			continue
		}

		for _, msg := range out.Messages {
			c.handle(ctx, logger, msg)
		}
	}
}

// handle processes a single delivery. Errors are not returned: either the
// message is deleted (done or quarantined) or it is left for redelivery.
func (c *Consumer) handle(ctx context.Context, logger zerolog.Logger, raw sqstypes.Message) {
	body := ""
	if raw.Body != nil {
		body = *raw.Body
	}
	receiveCount := receiveCountOf(raw)

	var msg Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil || msg.OrderID == "" {
		// malformed messages can never succeed; park them immediately
		c.park(ctx, logger, raw, deadletter.Record{
			OrderID:         msg.OrderID,
			OriginalMessage: body,
			ReceiveCount:    receiveCount,
			FirstFailureAt:  sentTimeOf(raw),
			LastError:       fmt.Sprintf("malformed message body: %v", err),
		})
		return
	}

	logger = logger.With().Str("order_id", msg.OrderID).Int("receive_count", receiveCount).Logger()

	if receiveCount > c.cfg.MaxReceiveCount {
		logger.Error().Msg("redelivery budget exhausted; quarantining message for operator review")
		c.park(ctx, logger, raw, deadletter.Record{
			OrderID:         msg.OrderID,
			OriginalMessage: body,
			ReceiveCount:    receiveCount,
			FirstFailureAt:  sentTimeOf(raw),
			LastError:       fmt.Sprintf("order not terminal after %d deliveries", receiveCount-1),
		})
		return
	}

	if err := c.processor.Process(ctx, msg.OrderID); err != nil {
		// leave the message; it reappears after the visibility timeout
		logger.Warn().Err(err).Msg("processing failed; message will be redelivered")
		return
	}

	if err := c.delete(ctx, raw); err != nil {
		// the order is terminal; the duplicate delivery will be acked then
		logger.Warn().Err(err).Msg("failed to delete acknowledged message")
		return
	}
	logger.Debug().Msg("message acknowledged")
}

// park quarantines the message and deletes it from the queue. If the
// quarantine write fails the message is left in place — losing data is worse
// than another redelivery.
func (c *Consumer) park(ctx context.Context, logger zerolog.Logger, raw sqstypes.Message, rec deadletter.Record) {
	if err := c.quarantine.Put(ctx, rec); err != nil {
		logger.Error().Err(err).Msg("failed to quarantine message; leaving it on the queue")
		return
	}
	if err := c.delete(ctx, raw); err != nil {
		logger.Warn().Err(err).Msg("quarantined but failed to delete message")
		return
	}
	c.emitter.Count(ctx, metrics.OrdersQuarantined, nil)
}

func (c *Consumer) delete(ctx context.Context, raw sqstypes.Message) error {
	_, err := c.sqs.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.cfg.QueueURL,
		ReceiptHandle: raw.ReceiptHandle,
	})
	return err
}

func receiveCountOf(raw sqstypes.Message) int {
	v := raw.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]
	n, err := strconv.Atoi(v)
	if err != nil {
		return 1
	}
	return n
}

func sentTimeOf(raw sqstypes.Message) time.Time {
	v := raw.Attributes[string(sqstypes.MessageSystemAttributeNameSentTimestamp)]
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
