package orders

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is an in-memory stand-in for DynamoDB that understands exactly
// the expressions this package issues. Not production-grade.
type mockDynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue
}

func newMockDynamo(tables ...string) *mockDynamo {
	m := &mockDynamo{tables: map[string]map[string]map[string]types.AttributeValue{}}
	for _, t := range tables {
		m.tables[t] = map[string]map[string]types.AttributeValue{}
	}
	return m
}

func itemKey(item map[string]types.AttributeValue) (string, error) {
	for _, k := range []string{"order_id", "idempotency_key"} {
		if av, ok := item[k]; ok {
			return av.(*types.AttributeValueMemberS).Value, nil
		}
	}
	return "", errors.New("no recognized key attribute")
}

func (m *mockDynamo) table(name *string) (map[string]map[string]types.AttributeValue, error) {
	t, ok := m.tables[*name]
	if !ok {
		return nil, errors.New("unknown table " + *name)
	}
	return t, nil
}

func (m *mockDynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := itemKey(in.Item)
	if err != nil {
		return nil, err
	}
	if in.ConditionExpression != nil && strings.Contains(*in.ConditionExpression, "attribute_not_exists") {
		if _, ok := t[k]; ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	t[k] = in.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := itemKey(in.Key)
	if err != nil {
		return nil, err
	}
	item, ok := t[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := itemKey(in.Key)
	if err != nil {
		return nil, err
	}
	delete(t, k)
	return &dyn.DeleteItemOutput{}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := itemKey(in.Key)
	if err != nil {
		return nil, err
	}
	item, exists := t[k]

	if in.ConditionExpression != nil {
		cond := *in.ConditionExpression
		if !exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
		if strings.Contains(cond, "#s = :expected") {
			expected := in.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberS).Value
			cur, ok := item["status"].(*types.AttributeValueMemberS)
			if !ok || cur.Value != expected {
				return nil, &types.ConditionalCheckFailedException{}
			}
		}
		if strings.Contains(cond, "attribute_not_exists(payment_reference)") {
			if _, ok := item["payment_reference"]; ok {
				return nil, &types.ConditionalCheckFailedException{}
			}
		}
	}
	if !exists {
		item = map[string]types.AttributeValue{}
		t[k] = item
	}

	expr := ""
	if in.UpdateExpression != nil {
		expr = *in.UpdateExpression
	}

	if v, ok := in.ExpressionAttributeValues[":new"]; ok {
		item["status"] = v
	}
	if v, ok := in.ExpressionAttributeValues[":fr"]; ok {
		item["failure_reason"] = v
	}
	if v, ok := in.ExpressionAttributeValues[":ua"]; ok {
		item["updated_at"] = v
	}
	if v, ok := in.ExpressionAttributeValues[":ref"]; ok {
		switch {
		case strings.Contains(expr, "payment_reference"):
			item["payment_reference"] = v
		case strings.Contains(expr, "refund_reference"):
			item["refund_reference"] = v
		}
	}
	if strings.Contains(expr, "refund_attempts") {
		cur := 0
		if av, ok := item["refund_attempts"].(*types.AttributeValueMemberN); ok {
			cur, _ = strconv.Atoi(av.Value)
		}
		item["refund_attempts"] = &types.AttributeValueMemberN{Value: strconv.Itoa(cur + 1)}
	}

	return &dyn.UpdateItemOutput{Attributes: item}, nil
}

func (m *mockDynamo) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(in.TableName)
	if err != nil {
		return nil, err
	}
	want := in.ExpressionAttributeValues[":status"].(*types.AttributeValueMemberS).Value

	var items []map[string]types.AttributeValue
	for _, item := range t {
		if st, ok := item["status"].(*types.AttributeValueMemberS); ok && st.Value == want {
			items = append(items, item)
		}
	}
	// created_at descending, matching ScanIndexForward=false on the GSI
	sort.Slice(items, func(i, j int) bool {
		a := items[i]["created_at"].(*types.AttributeValueMemberS).Value
		b := items[j]["created_at"].(*types.AttributeValueMemberS).Value
		return a > b
	})
	if in.Limit != nil && int(*in.Limit) < len(items) {
		items = items[:*in.Limit]
	}
	return &dyn.QueryOutput{Items: items}, nil
}

func (m *mockDynamo) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(in.TableName)
	if err != nil {
		return nil, err
	}
	var items []map[string]types.AttributeValue
	for _, item := range t {
		items = append(items, item)
	}
	if in.Limit != nil && int(*in.Limit) < len(items) {
		items = items[:*in.Limit]
	}
	return &dyn.ScanOutput{Items: items}, nil
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range in.TransactItems {
		p := it.Put
		if p == nil {
			continue
		}
		t, err := m.table(p.TableName)
		if err != nil {
			return nil, err
		}
		k, err := itemKey(p.Item)
		if err != nil {
			return nil, err
		}
		if p.ConditionExpression != nil && strings.Contains(*p.ConditionExpression, "attribute_not_exists") {
			if _, ok := t[k]; ok {
				return nil, &types.TransactionCanceledException{}
			}
		}
	}
	for _, it := range in.TransactItems {
		p := it.Put
		if p == nil {
			continue
		}
		t, _ := m.table(p.TableName)
		k, _ := itemKey(p.Item)
		t[k] = p.Item
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}
