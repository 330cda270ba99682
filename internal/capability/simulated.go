package capability

import (
	"context"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/chikwex/orderpipeline/internal/orders"
)

// Simulated adapters stand in for the real payment gateway and inventory
// system. Rates are probabilities in [0,1]; zero rates make the adapter
// deterministic, which is what the worker defaults to outside demos.

// SimulatedPayment fakes a payment gateway.
type SimulatedPayment struct {
	DeclineRate float64 // permanent decline probability
	OutageRate  float64 // transient failure probability

	mu   sync.Mutex
	rand *rand.Rand
}

// NewSimulatedPayment seeds the generator; seed 0 means a fixed seed.
func NewSimulatedPayment(declineRate, outageRate float64, seed int64) *SimulatedPayment {
	if seed == 0 {
		seed = 1
	}
	return &SimulatedPayment{
		DeclineRate: declineRate,
		OutageRate:  outageRate,
		rand:        rand.New(rand.NewSource(seed)),
	}
}

func (p *SimulatedPayment) roll() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rand.Float64()
}

// Reserve simulates placing a hold for the order amount.
func (p *SimulatedPayment) Reserve(ctx context.Context, orderID string, amount decimal.Decimal) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", Transient(err)
	}
	if r := p.roll(); r < p.OutageRate {
		return "", Transientf("payment gateway timeout for order %s", orderID)
	} else if r < p.OutageRate+p.DeclineRate {
		return "", Permanentf("payment declined for order %s", orderID)
	}
	return "PAY-" + referenceSuffix(p.rand, &p.mu), nil
}

// Refund simulates the compensating refund. Refunds are never declined, only
// subject to outages, matching gateway semantics for releasing a hold.
func (p *SimulatedPayment) Refund(ctx context.Context, orderID, paymentRef string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", Transient(err)
	}
	if p.roll() < p.OutageRate {
		return "", Transientf("payment gateway timeout refunding %s", paymentRef)
	}
	return "REF-" + referenceSuffix(p.rand, &p.mu), nil
}

// SimulatedInventory fakes a stock system.
type SimulatedInventory struct {
	OutOfStockRate float64
	OutageRate     float64

	mu   sync.Mutex
	rand *rand.Rand
}

// NewSimulatedInventory seeds the generator; seed 0 means a fixed seed.
func NewSimulatedInventory(outOfStockRate, outageRate float64, seed int64) *SimulatedInventory {
	if seed == 0 {
		seed = 1
	}
	return &SimulatedInventory{
		OutOfStockRate: outOfStockRate,
		OutageRate:     outageRate,
		rand:           rand.New(rand.NewSource(seed)),
	}
}

func (i *SimulatedInventory) roll() float64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rand.Float64()
}

// Reserve simulates reserving stock for every line of the order.
func (i *SimulatedInventory) Reserve(ctx context.Context, orderID string, items []orders.Item) error {
	if err := ctx.Err(); err != nil {
		return Transient(err)
	}
	if r := i.roll(); r < i.OutageRate {
		return Transientf("inventory system timeout for order %s", orderID)
	} else if r < i.OutageRate+i.OutOfStockRate {
		return Permanentf("insufficient inventory for order %s", orderID)
	}
	return nil
}

// Release returns previously reserved stock.
func (i *SimulatedInventory) Release(ctx context.Context, orderID string, items []orders.Item) error {
	if err := ctx.Err(); err != nil {
		return Transient(err)
	}
	if i.roll() < i.OutageRate {
		return Transientf("inventory system timeout releasing order %s", orderID)
	}
	return nil
}

func referenceSuffix(r *rand.Rand, mu *sync.Mutex) string {
	const digits = "0123456789"
	mu.Lock()
	defer mu.Unlock()
	b := make([]byte, 6)
	for i := range b {
		b[i] = digits[r.Intn(len(digits))]
	}
	return string(b)
}
