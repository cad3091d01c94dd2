// Package strategy contains the two trading strategies (momentum option
// buying and iron condor selling), the confidence scorer and the exit
// handler. All decision functions are pure; execution lives elsewhere.
package strategy

import (
	"fmt"
	"math"

	"github.com/mchlabs/niftybot/internal/config"
	"github.com/mchlabs/niftybot/internal/models"
)

// Direction is the side of a momentum signal.
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
	DirectionNone    Direction = "none"
)

// FactorChecks records which of the three entry factors passed.
type FactorChecks struct {
	Trend bool `json:"trend"`
	RSI   bool `json:"rsi"`
	IV    bool `json:"iv"`
}

// Satisfied returns how many factors passed, out of 3.
func (f FactorChecks) Satisfied() int {
	n := 0
	if f.Trend {
		n++
	}
	if f.RSI {
		n++
	}
	if f.IV {
		n++
	}
	return n
}

// MomentumSignal is the detector's verdict for one snapshot.
type MomentumSignal struct {
	Signal    bool         `json:"signal"`
	Direction Direction    `json:"direction"`
	Strength  float64      `json:"strength"` // 0..100
	Factors   FactorChecks `json:"factors"`
	Reason    string       `json:"reason"`
}

// MomentumDetector evaluates directional entry conditions for option buying.
type MomentumDetector struct {
	adxThreshold    float64
	rsiMax          float64
	ivPercentileMax float64
}

// NewMomentumDetector builds a detector from the entry config section.
func NewMomentumDetector(ec config.EntryConfig) *MomentumDetector {
	return &MomentumDetector{
		adxThreshold:    ec.ADXThreshold,
		rsiMax:          ec.RSIMax,
		ivPercentileMax: ec.IVPercentileMax,
	}
}

// Detect evaluates the snapshot for a directional entry. A signal requires
// all three factors on the same side: trend structure, RSI headroom and
// affordable option IV.
func (d *MomentumDetector) Detect(snap models.MarketSnapshot) MomentumSignal {
	bullTrend := snap.ADX > d.adxThreshold && snap.Spot > snap.EMA && snap.DIPlus > snap.DIMinus
	bearTrend := snap.ADX > d.adxThreshold && snap.Spot < snap.EMA && snap.DIMinus > snap.DIPlus

	var dir Direction
	var factors FactorChecks
	switch {
	case bullTrend:
		dir = DirectionBullish
		factors = FactorChecks{
			Trend: true,
			RSI:   snap.RSI < d.rsiMax,
			IV:    snap.IVPercentile < d.ivPercentileMax,
		}
	case bearTrend:
		dir = DirectionBearish
		factors = FactorChecks{
			Trend: true,
			RSI:   snap.RSI > 100-d.rsiMax,
			IV:    snap.IVPercentile < d.ivPercentileMax,
		}
	default:
		return MomentumSignal{
			Signal:    false,
			Direction: DirectionNone,
			Factors:   FactorChecks{},
			Reason: fmt.Sprintf("no trend structure (adx=%.1f, spot %.0f vs ema %.0f)",
				snap.ADX, snap.Spot, snap.EMA),
		}
	}

	sig := MomentumSignal{
		Direction: dir,
		Strength:  d.Strength(snap),
		Factors:   factors,
	}
	sig.Signal = factors.Trend && factors.RSI && factors.IV

	switch {
	case sig.Signal:
		sig.Reason = fmt.Sprintf("%s momentum confirmed (strength %.0f)", dir, sig.Strength)
	case !factors.RSI:
		sig.Reason = fmt.Sprintf("%s trend but RSI %.1f outside entry band", dir, snap.RSI)
	default:
		sig.Reason = fmt.Sprintf("%s trend but IV percentile %.0f too high", dir, snap.IVPercentile)
	}
	return sig
}

// Strength scores trend quality in [0,100]: 40% ADX level, 30% directional
// clarity, 30% distance from the EMA.
func (d *MomentumDetector) Strength(snap models.MarketSnapshot) float64 {
	adxScore := math.Min(snap.ADX/30*100, 100)
	diScore := math.Min(snap.DirectionalDiff()/30*100, 100)

	emaDistPct := 0.0
	if snap.EMA > 0 {
		emaDistPct = math.Abs(snap.Spot-snap.EMA) / snap.EMA * 100
	}
	emaScore := math.Min(emaDistPct*50, 100)

	return 0.4*adxScore + 0.3*diScore + 0.3*emaScore
}
