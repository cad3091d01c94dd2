package broker

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mchlabs/niftybot/internal/models"
)

func testRequest(side models.OrderSide) OrderRequest {
	return OrderRequest{
		Instrument: "NIFTY",
		Strike:     23650,
		Expiry:     time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
		OptionType: models.OptionCall,
		Side:       side,
		Quantity:   75,
		Price:      180,
	}
}

func TestPaperFillSlippage(t *testing.T) {
	b := NewPaperBroker(0.01, 20, zerolog.Nop())

	buy, err := b.PlaceOrder(context.Background(), testRequest(models.SideBuy))
	require.NoError(t, err)
	require.True(t, buy.Success)
	assert.InDelta(t, 181.8, buy.FillPrice, 1e-9, "buys fill above reference")
	assert.NotEmpty(t, buy.OrderID)

	sell, err := b.PlaceOrder(context.Background(), testRequest(models.SideSell))
	require.NoError(t, err)
	assert.InDelta(t, 178.2, sell.FillPrice, 1e-9, "sells fill below reference")

	assert.Equal(t, 2, b.OrderCount())
	assert.InDelta(t, 40, b.TotalCosts(), 1e-9)
}

func TestPaperRejectsBadOrders(t *testing.T) {
	b := NewPaperBroker(0, 0, zerolog.Nop())

	req := testRequest(models.SideBuy)
	req.Quantity = 0
	res, err := b.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "quantity")

	req = testRequest(models.SideBuy)
	req.Price = 0
	res, err = b.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestPaperHonorsContext(t *testing.T) {
	b := NewPaperBroker(0, 0, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.PlaceOrder(ctx, testRequest(models.SideBuy))
	assert.Error(t, err)
}

func TestPaperBasketStopsOnFailure(t *testing.T) {
	b := NewPaperBroker(0, 0, zerolog.Nop())
	bad := testRequest(models.SideSell)
	bad.Quantity = -1

	results, err := b.PlaceBasket(context.Background(),
		[]OrderRequest{testRequest(models.SideSell), bad, testRequest(models.SideBuy)})
	require.NoError(t, err)
	require.Len(t, results, 2, "legs after the failure are not sent")
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
}

func TestBreakerPassesThrough(t *testing.T) {
	inner := NewPaperBroker(0, 0, zerolog.Nop())
	b := NewBreakerBroker(inner, zerolog.Nop())

	res, err := b.PlaceOrder(context.Background(), testRequest(models.SideBuy))
	require.NoError(t, err)
	assert.True(t, res.Success)

	// Business rejections flow through without tripping the breaker.
	bad := testRequest(models.SideBuy)
	bad.Quantity = 0
	for i := 0; i < 10; i++ {
		res, err = b.PlaceOrder(context.Background(), bad)
		require.NoError(t, err)
		assert.False(t, res.Success)
	}

	res, err = b.PlaceOrder(context.Background(), testRequest(models.SideBuy))
	require.NoError(t, err, "breaker must still be closed")
	assert.True(t, res.Success)
}
