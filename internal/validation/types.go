package validation

// Item represents a single order line item.
type Item struct {
	ProductID string  `json:"productId" validate:"required"`           // catalog reference
	Quantity  int     `json:"quantity" validate:"required,min=1"`      // must be >= 1
	UnitPrice float64 `json:"unitPrice" validate:"gte=0"`              // price per unit, non-negative
}

// CreateOrderRequest is the payload for POST /orders. The total is computed
// server-side from the items; clients never supply it.
type CreateOrderRequest struct {
	CustomerID      string            `json:"customerId" validate:"required"`       // business id for customer
	Items           []Item            `json:"items" validate:"required,min=1,dive"` // at least one item
	IdempotencyKey  string            `json:"idempotencyKey,omitempty"`             // optional; Idempotency-Key header also accepted
	CustomerEmail   string            `json:"customerEmail,omitempty" validate:"omitempty,email"`
	ShippingAddress map[string]string `json:"shippingAddress,omitempty"`
}
