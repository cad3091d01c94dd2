// Package broker defines the order execution surface and its in-tree
// implementations. Live brokers plug in behind the same interface.
package broker

import (
	"context"
	"time"

	"github.com/mchlabs/niftybot/internal/models"
)

// OrderRequest describes a single option order. Price is the reference
// premium the caller expects; implementations may fill at a worse price.
type OrderRequest struct {
	Instrument string            `json:"instrument"`
	Strike     float64           `json:"strike"`
	Expiry     time.Time         `json:"expiry"`
	OptionType models.OptionType `json:"option_type"`
	Side       models.OrderSide  `json:"side"`
	Quantity   int               `json:"quantity"`
	Price      float64           `json:"price"`
	Tag        string            `json:"tag,omitempty"` // caller reference, e.g. position ID
}

// OrderResult reports the outcome of an order submission.
type OrderResult struct {
	Success   bool    `json:"success"`
	OrderID   string  `json:"order_id,omitempty"`
	FillPrice float64 `json:"fill_price,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Broker executes orders. All methods honor context cancellation.
type Broker interface {
	// PlaceOrder submits a single-leg order and returns its fill outcome.
	// A rejected order returns Success=false with Error set, not a Go error;
	// Go errors are reserved for transport failures.
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)

	// ClosePosition reduces an existing long position by req.Quantity at
	// the reference price. Implementations treat it as a sell regardless
	// of req.Side.
	ClosePosition(ctx context.Context, req OrderRequest) (OrderResult, error)

	// PlaceBasket submits a multi-leg order atomically in intent: on the
	// first leg failure no further legs are sent and the filled legs are
	// reported so the caller can unwind.
	PlaceBasket(ctx context.Context, reqs []OrderRequest) ([]OrderResult, error)
}
