package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the order lifecycle state persisted in the orders table.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// transitions is the allowed state graph. Terminal states have no outgoing
// edges; every conditional write is additionally guarded in DynamoDB.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no outgoing transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Item is a single order line.
type Item struct {
	ProductID string          `dynamodbav:"product_id" json:"productId"`
	Quantity  int             `dynamodbav:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `dynamodbav:"unit_price" json:"unitPrice"`
}

// Order represents the item stored in the orders DynamoDB table.
//
// TotalAmount is computed once at creation and never rewritten; a refund is
// recorded in the refund_* ledger fields, not by mutating the total.
type Order struct {
	OrderID          string            `dynamodbav:"order_id" json:"orderId"` // PK
	CustomerID       string            `dynamodbav:"customer_id" json:"customerId"`
	Items            []Item            `dynamodbav:"items" json:"items"`
	TotalAmount      decimal.Decimal   `dynamodbav:"total_amount" json:"totalAmount"`
	Status           Status            `dynamodbav:"status" json:"status"`
	CreatedAt        time.Time         `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt        time.Time         `dynamodbav:"updated_at" json:"updatedAt"`
	PaymentReference string            `dynamodbav:"payment_reference,omitempty" json:"paymentReference,omitempty"`
	RefundReference  string            `dynamodbav:"refund_reference,omitempty" json:"refundReference,omitempty"`
	RefundAttempts   int               `dynamodbav:"refund_attempts,omitempty" json:"refundAttempts,omitempty"`
	FailureReason    string            `dynamodbav:"failure_reason,omitempty" json:"failureReason,omitempty"`
	CustomerEmail    string            `dynamodbav:"customer_email,omitempty" json:"customerEmail,omitempty"`
	ShippingAddress  map[string]string `dynamodbav:"shipping_address,omitempty" json:"shippingAddress,omitempty"`
}

// TotalOf computes the order total as the sum of quantity x unit price.
func TotalOf(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}
