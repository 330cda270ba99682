package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog"

	"github.com/chikwex/orderpipeline/internal/aws"
)

// Namespace groups every metric the pipeline emits.
const Namespace = "OrderPipeline"

// Metric names.
const (
	OrdersCreated         = "OrdersCreated"
	OrderValue            = "OrderValue"
	OrderCreationErrors   = "OrderCreationErrors"
	OrdersCompleted       = "OrdersCompleted"
	OrdersFailed          = "OrdersFailed"
	OrdersCancelled       = "OrdersCancelled"
	OrdersQuarantined     = "OrdersQuarantined"
	PaymentsProcessed     = "PaymentsProcessed"
	PaymentRefunds        = "PaymentRefunds"
	InventoryReservations = "InventoryReservations"
	NotificationsSent     = "NotificationsSent"
)

// Emitter pushes counters to CloudWatch. Emission is fire-and-forget: a sink
// failure is logged and dropped, it never affects order processing. A nil
// Emitter is a no-op, so callers don't guard every call site.
type Emitter struct {
	client  aws.CloudWatchAPI
	logger  zerolog.Logger
	nowFunc func() time.Time
}

// NewEmitter returns an Emitter over the CloudWatch client.
func NewEmitter(client aws.CloudWatchAPI, logger zerolog.Logger) *Emitter {
	return &Emitter{
		client:  client,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Count emits a count-of-one datum with optional dimensions.
func (e *Emitter) Count(ctx context.Context, name string, dims map[string]string) {
	e.put(ctx, name, 1, cwtypes.StandardUnitCount, dims)
}

// Value emits an arbitrary datum (e.g. order value) with optional dimensions.
func (e *Emitter) Value(ctx context.Context, name string, value float64, dims map[string]string) {
	e.put(ctx, name, value, cwtypes.StandardUnitNone, dims)
}

func (e *Emitter) put(ctx context.Context, name string, value float64, unit cwtypes.StandardUnit, dims map[string]string) {
	if e == nil {
		return
	}

	datum := cwtypes.MetricDatum{
		MetricName: &name,
		Value:      &value,
		Unit:       unit,
		Timestamp:  awsTime(e.nowFunc()),
	}
	for k, v := range dims {
		k, v := k, v
		datum.Dimensions = append(datum.Dimensions, cwtypes.Dimension{Name: &k, Value: &v})
	}

	namespace := Namespace
	_, err := e.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  &namespace,
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("metric", name).Msg("failed to put metric data")
	}
}

func awsTime(t time.Time) *time.Time { return &t }
