package capability

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chikwex/orderpipeline/internal/orders"
)

var testItems = []orders.Item{{ProductID: "widget", Quantity: 1, UnitPrice: decimal.RequireFromString("9.99")}}

func TestSimulatedPaymentDeterministicSuccess(t *testing.T) {
	p := NewSimulatedPayment(0, 0, 42)
	ctx := context.Background()

	ref, err := p.Reserve(ctx, "o-1", decimal.RequireFromString("109.97"))
	require.NoError(t, err)
	assert.Regexp(t, `^PAY-\d{6}$`, ref)

	refund, err := p.Refund(ctx, "o-1", ref)
	require.NoError(t, err)
	assert.Regexp(t, `^REF-\d{6}$`, refund)
}

func TestSimulatedPaymentAlwaysDeclines(t *testing.T) {
	p := NewSimulatedPayment(1, 0, 42)
	_, err := p.Reserve(context.Background(), "o-1", decimal.New(1, 0))
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestSimulatedPaymentOutageIsTransient(t *testing.T) {
	p := NewSimulatedPayment(0, 1, 42)
	_, err := p.Reserve(context.Background(), "o-1", decimal.New(1, 0))
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	_, err = p.Refund(context.Background(), "o-1", "PAY-000001")
	require.Error(t, err)
	assert.True(t, IsTransient(err), "refunds fail transiently, never permanently")
}

func TestSimulatedPaymentCancelledContext(t *testing.T) {
	p := NewSimulatedPayment(0, 0, 42)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Reserve(ctx, "o-1", decimal.New(1, 0))
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestSimulatedInventoryDeterministicSuccess(t *testing.T) {
	inv := NewSimulatedInventory(0, 0, 42)
	require.NoError(t, inv.Reserve(context.Background(), "o-1", testItems))
	require.NoError(t, inv.Release(context.Background(), "o-1", testItems))
}

func TestSimulatedInventoryOutOfStockIsPermanent(t *testing.T) {
	inv := NewSimulatedInventory(1, 0, 42)
	err := inv.Reserve(context.Background(), "o-1", testItems)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestSimulatedInventoryOutageIsTransient(t *testing.T) {
	inv := NewSimulatedInventory(0, 1, 42)
	err := inv.Reserve(context.Background(), "o-1", testItems)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
