// Package regime classifies market conditions and arbitrates which strategy
// may trade. Classification is pure; activation decisions belong to the
// Controller.
package regime

import (
	"math"

	"github.com/mchlabs/niftybot/internal/config"
	"github.com/mchlabs/niftybot/internal/models"
)

// Thresholds holds the classifier cut-offs.
type Thresholds struct {
	ADXTrending       float64
	ADXRanging        float64
	VIXVolatile       float64
	ATRPercentileHigh float64
}

// ThresholdsFromConfig maps the regime config section onto Thresholds.
func ThresholdsFromConfig(rc config.RegimeConfig) Thresholds {
	return Thresholds{
		ADXTrending:       rc.ADXTrending,
		ADXRanging:        rc.ADXRanging,
		VIXVolatile:       rc.VIXVolatile,
		ATRPercentileHigh: rc.ATRPercentileHigh,
	}
}

// Classify maps a market snapshot onto a regime. Volatility dominates: an
// elevated VIX or ATR percentile is VOLATILE regardless of trend strength.
func Classify(snap models.MarketSnapshot, th Thresholds) models.Regime {
	if snap.VIX > th.VIXVolatile || snap.ATRPercentile > th.ATRPercentileHigh {
		return models.RegimeVolatile
	}

	diDiff := snap.DirectionalDiff()

	if snap.ADX > th.ADXTrending && snap.VIX < th.VIXVolatile && diDiff > 10 {
		return models.RegimeTrending
	}
	if snap.ADX < th.ADXRanging && snap.VIX < th.VIXVolatile && diDiff < 5 {
		return models.RegimeRanging
	}
	return models.RegimeChoppy
}

// Confidence scores how cleanly the snapshot fits the given regime, in [0,1].
// Two regime-specific factors each contribute up to 0.35 on top of a 0.3 base.
func Confidence(snap models.MarketSnapshot, regime models.Regime, th Thresholds) float64 {
	var a, b float64

	switch regime {
	case models.RegimeTrending:
		a = math.Min((snap.ADX-th.ADXTrending)/20, 1)
		b = math.Min(snap.DirectionalDiff()/20, 1)
	case models.RegimeRanging:
		a = math.Max(1-snap.ADX/th.ADXRanging, 0)
		b = math.Max(1-snap.VIX/th.VIXVolatile, 0)
	case models.RegimeVolatile:
		a = math.Min((snap.VIX-th.VIXVolatile)/10, 1)
		b = math.Min(snap.ATRPercentile/100, 1)
	default:
		// Choppy or unknown: no structure to be confident about.
		return 0.3
	}

	conf := 0.3 + 0.35*a + 0.35*b
	return math.Max(0, math.Min(conf, 1))
}
