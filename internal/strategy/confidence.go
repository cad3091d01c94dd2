package strategy

import (
	"fmt"
	"math"

	"github.com/mchlabs/niftybot/internal/models"
)

// Score component weights. They sum to 1.
const (
	weightRegime  = 0.25
	weightFactors = 0.30
	weightADX     = 0.20
	weightVIX     = 0.15
	weightRSI     = 0.10
)

// ConfidenceScore is the composite entry-quality score for a candidate trade.
type ConfidenceScore struct {
	Total          float64 `json:"total"` // 0..100
	RegimeScore    float64 `json:"regime_score"`
	FactorScore    float64 `json:"factor_score"`
	ADXScore       float64 `json:"adx_score"`
	VIXScore       float64 `json:"vix_score"`
	RSIScore       float64 `json:"rsi_score"`
	SizeMultiplier float64 `json:"size_multiplier"`
}

// ConfidenceScorer combines regime quality, factor alignment and indicator
// levels into a single 0-100 score used for the entry gate and for sizing.
type ConfidenceScorer struct {
	minConfidence float64
}

// NewConfidenceScorer builds a scorer with the given entry threshold.
func NewConfidenceScorer(minConfidence float64) *ConfidenceScorer {
	return &ConfidenceScorer{minConfidence: minConfidence}
}

// Score computes the composite score for a momentum candidate. regimeConf is
// the classifier confidence in [0,1].
func (s *ConfidenceScorer) Score(snap models.MarketSnapshot, regimeConf float64, factors FactorChecks) ConfidenceScore {
	sc := ConfidenceScore{
		RegimeScore: math.Max(0, math.Min(regimeConf, 1)) * 100,
		FactorScore: float64(factors.Satisfied()) / 3 * 100,
		ADXScore:    scoreADX(snap.ADX),
		VIXScore:    scoreVIX(snap.VIX),
		RSIScore:    scoreRSI(snap.RSI),
	}
	sc.Total = weightRegime*sc.RegimeScore +
		weightFactors*sc.FactorScore +
		weightADX*sc.ADXScore +
		weightVIX*sc.VIXScore +
		weightRSI*sc.RSIScore
	sc.SizeMultiplier = sizeMultiplier(sc.Total)
	return sc
}

// ShouldTrade applies the minimum-confidence gate.
func (s *ConfidenceScorer) ShouldTrade(sc ConfidenceScore) (bool, string) {
	if sc.Total < s.minConfidence {
		return false, fmt.Sprintf("confidence %.1f below minimum %.1f", sc.Total, s.minConfidence)
	}
	return true, fmt.Sprintf("confidence %.1f", sc.Total)
}

// scoreADX maps trend strength onto 0..100. Flat below 20, rising steeply
// through the 20-25 band where trends become tradeable.
func scoreADX(adx float64) float64 {
	switch {
	case adx < 20:
		return 30
	case adx < 25:
		return 30 + (adx-20)*6
	case adx < 40:
		return 60 + (adx-25)*2.33
	default:
		return math.Min(95+(adx-40)*0.5, 100)
	}
}

// scoreVIX rewards calm markets. Long option buying fights elevated vol.
func scoreVIX(vix float64) float64 {
	switch {
	case vix < 12:
		return 95
	case vix < 16:
		return 95 - (vix-12)*5
	case vix < 20:
		return 75 - (vix-16)*6.25
	case vix < 30:
		return 50 - (vix-20)*3
	default:
		return math.Max(20-(vix-30)*2, 0)
	}
}

// scoreRSI rewards the neutral band and penalizes overbought/oversold.
func scoreRSI(rsi float64) float64 {
	switch {
	case rsi >= 40 && rsi <= 60:
		return 100
	case rsi >= 30 && rsi < 40:
		return 60 + (rsi-30)*4
	case rsi > 60 && rsi <= 70:
		return 100 - (rsi-60)*4
	case rsi < 30:
		return math.Max(30+rsi, 0)
	default:
		return math.Max(100-(rsi-70), 0)
	}
}

// sizeMultiplier scales position size with conviction.
func sizeMultiplier(total float64) float64 {
	switch {
	case total >= 85:
		return 1.2
	case total >= 70:
		return 1.0
	case total >= 50:
		return 0.9
	default:
		return 0.8
	}
}
