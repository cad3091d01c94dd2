package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mchlabs/niftybot/internal/models"
)

// Compile-time interface check
var _ Broker = (*PaperBroker)(nil)

// PaperBroker simulates fills against the caller's reference price with a
// configurable adverse slippage rate and flat per-order brokerage.
type PaperBroker struct {
	mu           sync.Mutex
	slippageRate float64
	brokerage    float64
	logger       zerolog.Logger

	orders []OrderRequest // fill journal, oldest first
	costs  float64
}

// NewPaperBroker creates a paper broker.
func NewPaperBroker(slippageRate, brokeragePerOrder float64, logger zerolog.Logger) *PaperBroker {
	return &PaperBroker{
		slippageRate: slippageRate,
		brokerage:    brokeragePerOrder,
		logger:       logger.With().Str("component", "paper_broker").Logger(),
	}
}

// PlaceOrder fills immediately at the reference price adjusted against the
// caller: buys fill higher, sells fill lower.
func (b *PaperBroker) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return OrderResult{}, err
	}
	if req.Quantity <= 0 {
		return OrderResult{Success: false, Error: fmt.Sprintf("invalid quantity %d", req.Quantity)}, nil
	}
	if req.Price <= 0 {
		return OrderResult{Success: false, Error: fmt.Sprintf("invalid reference price %.2f", req.Price)}, nil
	}

	fill := req.Price * (1 + b.slippageRate)
	if req.Side == models.SideSell {
		fill = req.Price * (1 - b.slippageRate)
	}

	b.mu.Lock()
	b.orders = append(b.orders, req)
	b.costs += b.brokerage
	b.mu.Unlock()

	id := "PAPER-" + uuid.NewString()[:8]
	b.logger.Debug().
		Str("order_id", id).
		Str("side", string(req.Side)).
		Float64("strike", req.Strike).
		Int("quantity", req.Quantity).
		Float64("fill", fill).
		Msg("paper fill")

	return OrderResult{Success: true, OrderID: id, FillPrice: fill}, nil
}

// ClosePosition sells req.Quantity at the reference price less slippage.
func (b *PaperBroker) ClosePosition(ctx context.Context, req OrderRequest) (OrderResult, error) {
	req.Side = models.SideSell
	return b.PlaceOrder(ctx, req)
}

// PlaceBasket fills legs sequentially, stopping at the first failure.
func (b *PaperBroker) PlaceBasket(ctx context.Context, reqs []OrderRequest) ([]OrderResult, error) {
	results := make([]OrderResult, 0, len(reqs))
	for _, req := range reqs {
		res, err := b.PlaceOrder(ctx, req)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		if !res.Success {
			break
		}
	}
	return results, nil
}

// OrderCount returns how many orders have been filled.
func (b *PaperBroker) OrderCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

// TotalCosts returns accumulated brokerage.
func (b *PaperBroker) TotalCosts() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.costs
}
