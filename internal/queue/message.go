package queue

import "time"

// Message is the ingestion payload. It is deliberately minimal: the worker
// re-reads authoritative order state from the store instead of trusting a
// possibly stale or duplicated message body.
type Message struct {
	OrderID   string    `json:"orderId"`
	CreatedAt time.Time `json:"createdAt"`
}
