package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/rs/zerolog"

	"github.com/chikwex/orderpipeline/internal/aws"
	"github.com/chikwex/orderpipeline/internal/metrics"
	"github.com/chikwex/orderpipeline/internal/orders"
	"github.com/chikwex/orderpipeline/internal/retry"
)

// Event is published to the fan-out topic on every status transition.
// Subscribers (customer messaging, analytics) consume independently.
type Event struct {
	OrderID       string        `json:"orderId"`
	Status        orders.Status `json:"status"`
	Timestamp     time.Time     `json:"timestamp"`
	FailureReason string        `json:"failureReason,omitempty"`
}

// Publisher fans out status events over an SNS topic. Publishing is
// best-effort: delivery failures are retried a bounded number of times,
// then logged and dropped. Order-state durability never waits on it.
type Publisher struct {
	sns      aws.SNSAPI
	topicARN string
	logger   zerolog.Logger
	emitter  *metrics.Emitter
	policy   retry.Policy
	nowFunc  func() time.Time
}

// NewPublisher returns a Publisher bound to a topic ARN. An empty ARN
// disables publishing (local development without SNS).
func NewPublisher(snsClient aws.SNSAPI, topicARN string, logger zerolog.Logger, emitter *metrics.Emitter) *Publisher {
	return &Publisher{
		sns:      snsClient,
		topicARN: topicARN,
		logger:   logger,
		emitter:  emitter,
		policy:   retry.Policy{MaxAttempts: 3, Interval: 200 * time.Millisecond, Rate: 2.0},
		nowFunc:  time.Now,
	}
}

// PublishStatus publishes a transition event. It never returns an error: the
// orchestrator's state transition must not block or roll back on a
// notification failure.
func (p *Publisher) PublishStatus(ctx context.Context, orderID string, status orders.Status, failureReason string) {
	if p.topicARN == "" {
		return
	}

	ev := Event{
		OrderID:       orderID,
		Status:        status,
		Timestamp:     p.nowFunc().UTC(),
		FailureReason: failureReason,
	}

	body, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error().Err(err).Str("order_id", orderID).Msg("failed to marshal status event")
		return
	}

	subject := fmt.Sprintf("Order %s", status)
	message := string(body)
	statusStr := string(status)

	_, err = p.policy.Do(ctx, func(ctx context.Context) error {
		_, err := p.sns.Publish(ctx, &sns.PublishInput{
			TopicArn: &p.topicARN,
			Subject:  &subject,
			Message:  &message,
			MessageAttributes: map[string]snstypes.MessageAttributeValue{
				"status": {
					DataType:    awsString("String"),
					StringValue: &statusStr,
				},
			},
		})
		return err
	})
	if err != nil {
		p.logger.Warn().Err(err).
			Str("order_id", orderID).
			Str("status", statusStr).
			Msg("dropping status event after bounded retries")
		p.emitter.Count(ctx, metrics.NotificationsSent, map[string]string{"Status": "failed"})
		return
	}

	p.emitter.Count(ctx, metrics.NotificationsSent, map[string]string{"Status": "sent"})
}

func awsString(s string) *string { return &s }
