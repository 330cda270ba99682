package capability

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/chikwex/orderpipeline/internal/orders"
)

// Payment reserves and refunds funds. Adapters carry no state of their own;
// the payment reference lives in the order row.
type Payment interface {
	// Reserve places a hold for the order total and returns the payment
	// reference on success.
	Reserve(ctx context.Context, orderID string, amount decimal.Decimal) (string, error)

	// Refund compensates a prior reservation and returns the refund reference.
	Refund(ctx context.Context, orderID, paymentRef string) (string, error)
}

// Inventory reserves and releases stock for order lines.
type Inventory interface {
	Reserve(ctx context.Context, orderID string, items []orders.Item) error
	Release(ctx context.Context, orderID string, items []orders.Item) error
}
