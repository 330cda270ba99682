package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/chikwex/orderpipeline/internal/capability"
	"github.com/chikwex/orderpipeline/internal/metrics"
	"github.com/chikwex/orderpipeline/internal/orders"
	"github.com/chikwex/orderpipeline/internal/retry"
)

// OrderStore is the slice of the orders store the orchestrator drives.
// Implemented by *orders.Store.
type OrderStore interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	UpdateStatus(ctx context.Context, orderID string, expected, next orders.Status) error
	MarkFailed(ctx context.Context, orderID string, expected orders.Status, reason string) error
	SetPaymentReference(ctx context.Context, orderID, ref string) error
	RecordRefundAttempt(ctx context.Context, orderID string) error
	RecordRefund(ctx context.Context, orderID, refundRef string) error
}

// EventPublisher fans out status transitions. Implemented by *notify.Publisher.
type EventPublisher interface {
	PublishStatus(ctx context.Context, orderID string, status orders.Status, failureReason string)
}

// Orchestrator drives one order at a time through the state machine:
//
//	Validate -> ReservePayment -> ReserveInventory -> Complete
//	                              \-> CompensatePayment -> MarkFailed
//
// The step to run is always derived from the persisted order row, never from
// the message or in-memory state, so a redelivered message resumes instead of
// replaying. Mutual exclusion comes from the queue lease plus the store's
// conditional writes, not from locks.
type Orchestrator struct {
	store     OrderStore
	payment   capability.Payment
	inventory capability.Inventory
	events    EventPublisher
	emitter   *metrics.Emitter
	policy    retry.Policy
	logger    zerolog.Logger
}

// New builds an Orchestrator with the per-step retry policy.
func New(store OrderStore, payment capability.Payment, inventory capability.Inventory, events EventPublisher, emitter *metrics.Emitter, policy retry.Policy, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		payment:   payment,
		inventory: inventory,
		events:    events,
		emitter:   emitter,
		policy:    policy,
		logger:    logger,
	}
}

// Process drives the order identified by orderID to a terminal status.
// A nil return means the order is durably terminal and the ingestion message
// may be acknowledged; any error leaves the message for redelivery.
func (o *Orchestrator) Process(ctx context.Context, orderID string) error {
	order, err := o.store.Get(ctx, orderID)
	if err != nil {
		return fmt.Errorf("fetch order: %w", err)
	}
	if order == nil {
		// should never happen; redelivery will quarantine it eventually
		return fmt.Errorf("order not found: %s", orderID)
	}

	switch order.Status {
	case orders.StatusCompleted, orders.StatusFailed, orders.StatusCancelled:
		// duplicate delivery of a finished order
		o.logger.Debug().Str("order_id", orderID).Str("status", string(order.Status)).Msg("order already terminal")
		return nil

	case orders.StatusPending:
		err := o.store.UpdateStatus(ctx, orderID, orders.StatusPending, orders.StatusProcessing)
		if errors.Is(err, orders.ErrStatusMismatch) {
			// lost the claim: re-read and route on what actually happened
			o2, err2 := o.store.Get(ctx, orderID)
			if err2 != nil {
				return fmt.Errorf("re-fetch order after claim race: %w", err2)
			}
			if o2 == nil {
				return fmt.Errorf("order vanished during claim: %s", orderID)
			}
			if o2.Status.Terminal() {
				return nil
			}
			// another worker holds the lease; let redelivery find the outcome
			o.logger.Info().Str("order_id", orderID).Msg("duplicate delivery while order in flight")
			return nil
		}
		if err != nil {
			return fmt.Errorf("claim order for processing: %w", err)
		}
		order.Status = orders.StatusProcessing
		o.events.PublishStatus(ctx, orderID, orders.StatusProcessing, "")

	case orders.StatusProcessing:
		// resume after a crash or an expired lease; fall through

	default:
		return fmt.Errorf("order %s has unknown status %q", orderID, order.Status)
	}

	return o.run(ctx, order)
}

// run executes the remaining steps for an order in PROCESSING.
func (o *Orchestrator) run(ctx context.Context, order *orders.Order) error {
	if reason, ok := o.validate(order); !ok {
		// nothing reserved yet, no compensation needed
		o.logger.Info().Str("order_id", order.OrderID).Str("reason", reason).Msg("order failed validation")
		return o.markFailed(ctx, order.OrderID, reason)
	}

	// ReservePayment — skipped when the reference is already persisted; the
	// reserve side effect must never run twice for one order.
	if order.PaymentReference == "" {
		ref, err := o.reservePayment(ctx, order)
		if err != nil {
			// payment never captured, fail without compensation
			return o.markFailed(ctx, order.OrderID, fmt.Sprintf("payment reservation failed: %v", err))
		}
		order.PaymentReference = ref
	}

	if err := o.reserveInventory(ctx, order); err != nil {
		return o.compensateAndFail(ctx, order, fmt.Sprintf("inventory reservation failed: %v", err))
	}

	return o.complete(ctx, order)
}

func (o *Orchestrator) validate(order *orders.Order) (string, bool) {
	if len(order.Items) == 0 {
		return "order has no items", false
	}
	for _, it := range order.Items {
		if it.Quantity <= 0 {
			return fmt.Sprintf("item %s has non-positive quantity", it.ProductID), false
		}
		if it.UnitPrice.IsNegative() {
			return fmt.Sprintf("item %s has negative unit price", it.ProductID), false
		}
	}
	if !order.TotalAmount.Equal(orders.TotalOf(order.Items)) {
		return "total amount does not match items", false
	}
	return "", true
}

func (o *Orchestrator) reservePayment(ctx context.Context, order *orders.Order) (string, error) {
	var ref string
	attempts, err := o.policy.Do(ctx, func(ctx context.Context) error {
		r, rerr := o.payment.Reserve(ctx, order.OrderID, order.TotalAmount)
		if rerr != nil {
			return rerr
		}
		ref = r
		return nil
	})
	if err != nil {
		o.logStepFailure("reserve_payment", order.OrderID, err, attempts)
		o.emitter.Count(ctx, metrics.PaymentsProcessed, map[string]string{"Status": "failed"})
		return "", err
	}
	o.emitter.Count(ctx, metrics.PaymentsProcessed, map[string]string{"Status": "success"})

	if err := o.store.SetPaymentReference(ctx, order.OrderID, ref); err != nil {
		if errors.Is(err, orders.ErrPaymentReferenceSet) {
			// overlapping worker already recorded a reference; trust the row
			cur, gerr := o.store.Get(ctx, order.OrderID)
			if gerr != nil {
				return "", fmt.Errorf("re-fetch after payment reference race: %w", gerr)
			}
			if cur != nil && cur.PaymentReference != "" {
				return cur.PaymentReference, nil
			}
		}
		return "", fmt.Errorf("persist payment reference: %w", err)
	}
	return ref, nil
}

func (o *Orchestrator) reserveInventory(ctx context.Context, order *orders.Order) error {
	attempts, err := o.policy.Do(ctx, func(ctx context.Context) error {
		return o.inventory.Reserve(ctx, order.OrderID, order.Items)
	})
	if err != nil {
		o.logStepFailure("reserve_inventory", order.OrderID, err, attempts)
		o.emitter.Count(ctx, metrics.InventoryReservations, map[string]string{"Status": "failed"})
		return err
	}
	o.emitter.Count(ctx, metrics.InventoryReservations, map[string]string{"Status": "success"})
	return nil
}

// compensateAndFail refunds the captured payment, then marks the order
// FAILED. Once started, the refund runs on a context detached from the
// worker's cancellation: a half-compensated order must not be abandoned
// because of a shutdown. At least one refund attempt is recorded in the
// ledger before the FAILED status becomes durable.
func (o *Orchestrator) compensateAndFail(ctx context.Context, order *orders.Order, reason string) error {
	rctx := context.WithoutCancel(ctx)

	if err := o.store.RecordRefundAttempt(rctx, order.OrderID); err != nil {
		// store unavailable: surface for redelivery rather than risk an
		// unrecorded refund against a FAILED order
		return fmt.Errorf("record refund attempt: %w", err)
	}

	var refundRef string
	attempts, err := o.policy.Do(rctx, func(ctx context.Context) error {
		r, rerr := o.payment.Refund(ctx, order.OrderID, order.PaymentReference)
		if rerr != nil {
			return rerr
		}
		refundRef = r
		return nil
	})
	if err != nil {
		ce := &capability.CompensationError{
			OrderID:          order.OrderID,
			PaymentReference: order.PaymentReference,
			Err:              err,
		}
		o.logger.Error().Err(ce).
			Str("order_id", order.OrderID).
			Str("payment_reference", order.PaymentReference).
			Int("attempts", attempts).
			Msg("refund failed after exhausting retries; funds may remain captured")
		o.emitter.Count(rctx, metrics.PaymentRefunds, map[string]string{"Status": "failed"})
	} else {
		if rerr := o.store.RecordRefund(rctx, order.OrderID, refundRef); rerr != nil {
			o.logger.Warn().Err(rerr).Str("order_id", order.OrderID).Msg("refund succeeded but reference write failed")
		}
		o.emitter.Count(rctx, metrics.PaymentRefunds, map[string]string{"Status": "success"})
	}

	return o.markFailed(rctx, order.OrderID, reason)
}

func (o *Orchestrator) complete(ctx context.Context, order *orders.Order) error {
	err := o.store.UpdateStatus(ctx, order.OrderID, orders.StatusProcessing, orders.StatusCompleted)
	if errors.Is(err, orders.ErrStatusMismatch) {
		cur, gerr := o.store.Get(ctx, order.OrderID)
		if gerr == nil && cur != nil && cur.Status.Terminal() {
			return nil
		}
		return fmt.Errorf("complete order %s: %w", order.OrderID, err)
	}
	if err != nil {
		return fmt.Errorf("complete order %s: %w", order.OrderID, err)
	}

	o.events.PublishStatus(ctx, order.OrderID, orders.StatusCompleted, "")
	o.emitter.Count(ctx, metrics.OrdersCompleted, nil)
	o.logger.Info().Str("order_id", order.OrderID).Msg("order completed")
	return nil
}

func (o *Orchestrator) markFailed(ctx context.Context, orderID, reason string) error {
	err := o.store.MarkFailed(ctx, orderID, orders.StatusProcessing, reason)
	if errors.Is(err, orders.ErrStatusMismatch) {
		cur, gerr := o.store.Get(ctx, orderID)
		if gerr == nil && cur != nil && cur.Status.Terminal() {
			return nil
		}
		return fmt.Errorf("mark order %s failed: %w", orderID, err)
	}
	if err != nil {
		return fmt.Errorf("mark order %s failed: %w", orderID, err)
	}

	o.events.PublishStatus(ctx, orderID, orders.StatusFailed, reason)
	o.emitter.Count(ctx, metrics.OrdersFailed, nil)
	o.logger.Info().Str("order_id", orderID).Str("reason", reason).Msg("order failed")
	return nil
}

// logStepFailure distinguishes an explicit decline from an exhausted
// transient budget; both route to the failure edge.
func (o *Orchestrator) logStepFailure(step, orderID string, err error, attempts int) {
	if capability.IsPermanent(err) {
		o.logger.Info().Err(err).Str("order_id", orderID).Str("step", step).Msg("capability declined")
		return
	}
	o.logger.Warn().Err(err).Str("order_id", orderID).Str("step", step).Int("attempts", attempts).Msg("retry budget exhausted")
}
