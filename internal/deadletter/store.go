package deadletter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/chikwex/orderpipeline/internal/aws"
)

// ErrNotFound is returned when no quarantined record exists for the order.
var ErrNotFound = errors.New("quarantine record not found")

// Record is a quarantined ingestion message plus the reason it was parked.
// Records are only removed by an operator replay; data is never dropped.
type Record struct {
	OrderID         string    `dynamodbav:"order_id" json:"orderId"` // PK
	OriginalMessage string    `dynamodbav:"original_message" json:"originalMessage"`
	ReceiveCount    int       `dynamodbav:"receive_count" json:"receiveCount"`
	FirstFailureAt  time.Time `dynamodbav:"first_failure_at" json:"firstFailureAt"`
	LastError       string    `dynamodbav:"last_error" json:"lastError"`
	QuarantinedAt   time.Time `dynamodbav:"quarantined_at" json:"quarantinedAt"`
}

// Store persists quarantined messages in a DynamoDB table for operator
// inspection and manual replay.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a Store over the quarantine table.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Put stores a quarantine record. A repeat quarantine of the same order
// overwrites the previous record with the newer receive count and error.
func (s *Store) Put(ctx context.Context, rec Record) error {
	now := s.nowFunc()
	rec.QuarantinedAt = now
	if rec.FirstFailureAt.IsZero() {
		rec.FirstFailureAt = now
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal quarantine record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put quarantine record: %w", err)
	}
	return nil
}

// Get fetches a quarantine record by order id.
func (s *Store) Get(ctx context.Context, orderID string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       recordKey(orderID),
	})
	if err != nil {
		return nil, fmt.Errorf("get quarantine record: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal quarantine record: %w", err)
	}
	return &rec, nil
}

// List returns up to limit quarantined records for operator inspection.
func (s *Store) List(ctx context.Context, limit int32) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	out, err := s.client.Scan(ctx, &dyn.ScanInput{
		TableName: &s.tableName,
		Limit:     &limit,
	})
	if err != nil {
		return nil, fmt.Errorf("scan quarantine: %w", err)
	}

	records := make([]Record, 0, len(out.Items))
	for _, item := range out.Items {
		var rec Record
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal quarantine record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Replay re-enqueues the original message onto the ingestion queue and
// removes the quarantine record. Replay is operator-initiated only; nothing
// in the pipeline calls it automatically.
func (s *Store) Replay(ctx context.Context, orderID string, queue *aws.Publisher) error {
	rec, err := s.Get(ctx, orderID)
	if err != nil {
		return err
	}

	err = queue.SendMessage(ctx, rec.OriginalMessage, map[string]string{
		"replayed": "true",
		"order_id": rec.OrderID,
	})
	if err != nil {
		return fmt.Errorf("re-enqueue quarantined message: %w", err)
	}

	_, err = s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key:       recordKey(orderID),
	})
	if err != nil {
		return fmt.Errorf("delete quarantine record: %w", err)
	}
	return nil
}

func recordKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}
