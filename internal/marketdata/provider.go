// Package marketdata supplies per-cycle market snapshots and option quotes.
// The in-tree providers are a synthetic feed for paper trading and a CSV
// replay feed for backtests; live data vendors plug in behind Provider.
package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/mchlabs/niftybot/internal/models"
)

// ErrFeedExhausted is returned by replay feeds once all rows are consumed.
var ErrFeedExhausted = errors.New("marketdata: feed exhausted")

// Provider supplies indicator snapshots and option premiums.
type Provider interface {
	// Snapshot returns the current indicator set.
	Snapshot(ctx context.Context) (models.MarketSnapshot, error)

	// IsMarketOpen reports whether the venue can currently trade. Replay
	// feeds return false once exhausted.
	IsMarketOpen() bool

	// OptionQuote returns the current premium for an option, or ok=false
	// when the provider cannot quote it (callers fall back to estimation).
	OptionQuote(strike float64, optType models.OptionType, expiry time.Time) (float64, bool)
}
