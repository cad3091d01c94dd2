package broker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

var _ Broker = (*BreakerBroker)(nil)

// BreakerBroker wraps another Broker with a circuit breaker so repeated
// transport failures stop order submission for a cool-down instead of
// hammering a broken connection mid-session.
type BreakerBroker struct {
	inner Broker
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerBroker wraps inner with a circuit breaker that opens after 5
// consecutive failures and probes again after 30 seconds.
func NewBreakerBroker(inner Broker, logger zerolog.Logger) *BreakerBroker {
	log := logger.With().Str("component", "broker_breaker").Logger()
	settings := gobreaker.Settings{
		Name:        "broker",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}
	return &BreakerBroker{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

// PlaceOrder submits through the breaker. Business rejections (Success=false)
// do not count as failures; only transport errors trip the breaker.
func (b *BreakerBroker) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.PlaceOrder(ctx, req)
	})
	if err != nil {
		return OrderResult{}, err
	}
	return out.(OrderResult), nil
}

// ClosePosition submits the close through the breaker.
func (b *BreakerBroker) ClosePosition(ctx context.Context, req OrderRequest) (OrderResult, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.ClosePosition(ctx, req)
	})
	if err != nil {
		return OrderResult{}, err
	}
	return out.(OrderResult), nil
}

// PlaceBasket submits the whole basket as one breaker-guarded call.
func (b *BreakerBroker) PlaceBasket(ctx context.Context, reqs []OrderRequest) ([]OrderResult, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.PlaceBasket(ctx, reqs)
	})
	if err != nil {
		return nil, err
	}
	return out.([]OrderResult), nil
}
