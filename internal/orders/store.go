package orders

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

// statusIndex is the GSI keyed by status with created_at as the range key.
const statusIndex = "status-index"

const maxQueryLimit = 100

// marshalItem and unmarshalItem route decimal fields through their text
// encoding. The default encoder ignores encoding.TextMarshaler, which would
// flatten decimal.Decimal (no exported fields) to an empty map and read it
// back as zero.
func marshalItem(v interface{}) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMapWithOptions(v, func(o *attributevalue.EncoderOptions) {
		o.UseEncodingMarshalers = true
	})
}

func unmarshalItem(m map[string]types.AttributeValue, out interface{}) error {
	return attributevalue.UnmarshalMapWithOptions(m, out, func(o *attributevalue.DecoderOptions) {
		o.UseEncodingUnmarshalers = true
	})
}

var (
	// ErrStatusMismatch is returned when a conditional status write loses an
	// optimistic-concurrency race (the row's status changed since it was read).
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")

	// ErrInvalidTransition is returned before any write when the requested
	// transition is not an edge of the state graph.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrPaymentReferenceSet is returned when a payment reference is already
	// recorded; the reserve side effect must not be repeated.
	ErrPaymentReferenceSet = errors.New("payment reference already set")

	// ErrNotCancellable is returned when an order is past the point of
	// cancellation (terminal, or payment already captured).
	ErrNotCancellable = errors.New("order not cancellable")

	// ErrIdempotencyConflict is returned when creation is rejected because the
	// idempotency key already exists.
	ErrIdempotencyConflict = errors.New("idempotency key already exists")
)

// Store encapsulates operations on the orders table. All mutations are
// conditional writes; the store never overwrites a status it did not expect.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// CreateWithIdempotencyTransaction atomically creates:
//   - an idempotency record in idempotencyTable (ConditionExpression
//     attribute_not_exists(idempotency_key))
//   - the order row in the orders table (attribute_not_exists(order_id))
//
// in a single TransactWriteItems call. A duplicate idempotency key cancels
// the whole transaction and is reported as ErrIdempotencyConflict so the
// caller can replay the originally stored response.
func (s *Store) CreateWithIdempotencyTransaction(ctx context.Context, idempotencyTable string, idempotencyItem interface{}, order Order, ttlWindow time.Duration) error {
	idempMap, err := marshalItem(idempotencyItem)
	if err != nil {
		return fmt.Errorf("marshal idempotency item: %w", err)
	}
	// ensure idempotency TTL if the caller did not include one
	if _, ok := idempMap["expires_at"]; !ok && ttlWindow > 0 {
		expires := s.nowFunc().Add(ttlWindow).Unix()
		idempMap["expires_at"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expires)}
	}

	now := s.nowFunc()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	orderMap, err := marshalItem(order)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}

	transactItems := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           &idempotencyTable,
				Item:                idempMap,
				ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
			},
		},
		{
			Put: &types.Put{
				TableName:           &s.tableName,
				Item:                orderMap,
				ConditionExpression: awsString("attribute_not_exists(order_id)"),
			},
		},
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: transactItems,
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return fmt.Errorf("%w: %v", ErrIdempotencyConflict, err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       orderKey(orderID),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := unmarshalItem(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// UpdateStatus conditionally moves the order status from expected to next.
// Returns ErrInvalidTransition for edges outside the state graph and
// ErrStatusMismatch when the row's status no longer equals expected.
func (s *Store) UpdateStatus(ctx context.Context, orderID string, expected, next Status) error {
	if !expected.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, expected, next)
	}

	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              orderKey(orderID),
		UpdateExpression: awsString("SET #s = :new, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: string(next)},
			":expected": &types.AttributeValueMemberS{Value: string(expected)},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ConditionExpression: awsString("#s = :expected"),
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// MarkFailed moves the order to FAILED with a failure reason, conditional on
// the expected current status.
func (s *Store) MarkFailed(ctx context.Context, orderID string, expected Status, reason string) error {
	if !expected.CanTransitionTo(StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, expected, StatusFailed)
	}

	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              orderKey(orderID),
		UpdateExpression: awsString("SET #s = :new, failure_reason = :fr, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: string(StatusFailed)},
			":expected": &types.AttributeValueMemberS{Value: string(expected)},
			":fr":       &types.AttributeValueMemberS{Value: reason},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ConditionExpression: awsString("#s = :expected"),
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item (mark failed): %w", err)
	}
	return nil
}

// SetPaymentReference records the payment reservation reference exactly once.
// A second write fails with ErrPaymentReferenceSet; the caller must not
// re-invoke the payment capability when the reference survives.
func (s *Store) SetPaymentReference(ctx context.Context, orderID, ref string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              orderKey(orderID),
		UpdateExpression: awsString("SET payment_reference = :ref, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ref": &types.AttributeValueMemberS{Value: ref},
			":ua":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ConditionExpression: awsString("attribute_not_exists(payment_reference)"),
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrPaymentReferenceSet
		}
		return fmt.Errorf("set payment reference: %w", err)
	}
	return nil
}

// RecordRefundAttempt increments the refund ledger counter. It is written
// before the refund outcome is known so that a FAILED order with a payment
// reference always shows at least one recorded attempt.
func (s *Store) RecordRefundAttempt(ctx context.Context, orderID string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              orderKey(orderID),
		UpdateExpression: awsString("SET refund_attempts = if_not_exists(refund_attempts, :zero) + :inc, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":inc":  &types.AttributeValueMemberN{Value: "1"},
			":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		return fmt.Errorf("record refund attempt: %w", err)
	}
	return nil
}

// RecordRefund stores the refund reference issued by a successful
// compensation. The order total is never touched.
func (s *Store) RecordRefund(ctx context.Context, orderID, refundRef string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              orderKey(orderID),
		UpdateExpression: awsString("SET refund_reference = :ref, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ref": &types.AttributeValueMemberS{Value: refundRef},
			":ua":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		return fmt.Errorf("record refund: %w", err)
	}
	return nil
}

// Cancel moves the order to CANCELLED, allowed only while the expected status
// is pre-terminal and no payment has been captured.
func (s *Store) Cancel(ctx context.Context, orderID string, expected Status) error {
	if !expected.CanTransitionTo(StatusCancelled) {
		return fmt.Errorf("%w: %s", ErrNotCancellable, expected)
	}

	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              orderKey(orderID),
		UpdateExpression: awsString("SET #s = :new, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: string(StatusCancelled)},
			":expected": &types.AttributeValueMemberS{Value: string(expected)},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ConditionExpression: awsString("#s = :expected AND attribute_not_exists(payment_reference)"),
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrNotCancellable
		}
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}

// QueryByStatus lists orders with the given status, newest first, via the
// status GSI. limit is capped at 100; zero means the default page of 50.
func (s *Store) QueryByStatus(ctx context.Context, status Status, limit int32) ([]Order, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(statusIndex),
		KeyConditionExpression: awsString("#s = :status"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
		},
		ScanIndexForward: awsBool(false), // created_at descending
		Limit:            &limit,
	})
	if err != nil {
		return nil, fmt.Errorf("query by status: %w", err)
	}

	result := make([]Order, 0, len(out.Items))
	for _, item := range out.Items {
		var o Order
		if err := unmarshalItem(item, &o); err != nil {
			return nil, fmt.Errorf("unmarshal order: %w", err)
		}
		result = append(result, o)
	}
	return result, nil
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
