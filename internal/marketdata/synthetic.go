package marketdata

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/mchlabs/niftybot/internal/models"
	"github.com/mchlabs/niftybot/internal/pricing"
)

var _ Provider = (*SyntheticFeed)(nil)

// SyntheticFeed generates a deterministic random-walk market for paper
// trading. Indicators drift smoothly so regime classification behaves like a
// slow-moving real market rather than white noise. Quotes come from
// Black-Scholes at a vol derived from the synthetic VIX.
type SyntheticFeed struct {
	mu       sync.Mutex
	rng      *rand.Rand
	clock    func() time.Time
	riskFree float64

	spot float64
	vix  float64
	adx  float64
	di   float64 // DI+ minus DI-, signed
	rsi  float64
	ema  float64
	ivp  float64
}

// NewSyntheticFeed creates a feed seeded for reproducibility, starting at the
// given spot level.
func NewSyntheticFeed(startSpot float64, seed int64, riskFree float64) *SyntheticFeed {
	return &SyntheticFeed{
		rng:      rand.New(rand.NewSource(seed)), // #nosec G404 -- simulation, not crypto
		clock:    time.Now,
		riskFree: riskFree,
		spot:     startSpot,
		vix:      14,
		adx:      18,
		di:       2,
		rsi:      50,
		ema:      startSpot,
		ivp:      45,
	}
}

// SetClock overrides the time source, for tests and backtests.
func (f *SyntheticFeed) SetClock(clock func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = clock
}

// IsMarketOpen always reports true; the synthetic market never closes.
// Session hours are enforced by the caller's schedule config.
func (f *SyntheticFeed) IsMarketOpen() bool { return true }

// Snapshot advances the walk one step and returns the new indicator set.
func (f *SyntheticFeed) Snapshot(_ context.Context) (models.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Mean-reverting steps keep the indicators inside realistic bands.
	f.spot *= 1 + f.rng.NormFloat64()*0.002
	f.vix = clamp(f.vix+f.rng.NormFloat64()*0.4+(14-f.vix)*0.02, 9, 45)
	f.adx = clamp(f.adx+f.rng.NormFloat64()*0.8+(20-f.adx)*0.02, 5, 60)
	f.di = clamp(f.di+f.rng.NormFloat64()*1.2-f.di*0.05, -30, 30)
	f.rsi = clamp(f.rsi+f.rng.NormFloat64()*2+(50-f.rsi)*0.05, 5, 95)
	f.ema += (f.spot - f.ema) * 0.1
	f.ivp = clamp(f.ivp+f.rng.NormFloat64()*2+(50-f.ivp)*0.03, 1, 99)

	atr := f.spot * f.vix / 100 / math.Sqrt(252)
	diPlus := 20 + f.di/2
	diMinus := 20 - f.di/2

	return models.MarketSnapshot{
		Timestamp:     f.clock(),
		Spot:          f.spot,
		VIX:           f.vix,
		ADX:           f.adx,
		DIPlus:        diPlus,
		DIMinus:       diMinus,
		RSI:           f.rsi,
		EMA:           f.ema,
		ATR:           atr,
		ATRPercentile: clamp((f.vix-9)/(45-9)*100, 0, 100),
		IVPercentile:  f.ivp,
	}, nil
}

// OptionQuote prices the option with Black-Scholes at the current synthetic
// vol.
func (f *SyntheticFeed) OptionQuote(strike float64, optType models.OptionType, expiry time.Time) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := expiry.Sub(f.clock()).Hours() / 24 / 365
	if t <= 0 {
		return 0, false
	}
	vol := f.vix / 100
	return pricing.Price(f.spot, strike, t, f.riskFree, vol, optType), true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
