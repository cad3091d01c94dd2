package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mchlabs/niftybot/internal/models"
)

func TestScoreComponents(t *testing.T) {
	s := NewConfidenceScorer(70)
	sc := s.Score(models.MarketSnapshot{ADX: 30, VIX: 13, RSI: 52},
		0.9, FactorChecks{Trend: true, RSI: true, IV: true})

	assert.InDelta(t, 90, sc.RegimeScore, 1e-9)
	assert.InDelta(t, 100, sc.FactorScore, 1e-9)
	assert.InDelta(t, 60+5*2.33, sc.ADXScore, 1e-6)
	assert.InDelta(t, 90, sc.VIXScore, 1e-9) // 95 - (13-12)*5
	assert.InDelta(t, 100, sc.RSIScore, 1e-9)
	assert.Greater(t, sc.Total, 70.0)
}

func TestIndicatorMaps(t *testing.T) {
	assert.Equal(t, 30.0, scoreADX(15))
	assert.InDelta(t, 48, scoreADX(23), 1e-9)
	assert.InDelta(t, 95, scoreADX(40), 1e-9)
	assert.Equal(t, 100.0, scoreADX(60))

	assert.Equal(t, 95.0, scoreVIX(10))
	assert.InDelta(t, 75, scoreVIX(16), 1e-9)
	assert.InDelta(t, 50, scoreVIX(20), 1e-9)
	assert.Equal(t, 0.0, scoreVIX(45))

	assert.Equal(t, 100.0, scoreRSI(50))
	assert.InDelta(t, 80, scoreRSI(35), 1e-9)
	assert.InDelta(t, 80, scoreRSI(65), 1e-9)
	assert.InDelta(t, 55, scoreRSI(25), 1e-9)
	assert.InDelta(t, 85, scoreRSI(85), 1e-9)
}

func TestSizeMultiplierTiers(t *testing.T) {
	tests := []struct {
		total float64
		want  float64
	}{
		{90, 1.2},
		{85, 1.2},
		{75, 1.0},
		{60, 0.9},
		{40, 0.8},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sizeMultiplier(tt.total), "total=%.0f", tt.total)
	}
}

func TestShouldTradeGate(t *testing.T) {
	s := NewConfidenceScorer(70)

	ok, _ := s.ShouldTrade(ConfidenceScore{Total: 72})
	assert.True(t, ok)

	ok, reason := s.ShouldTrade(ConfidenceScore{Total: 69.9})
	assert.False(t, ok)
	assert.Contains(t, reason, "below minimum")
}

func TestFewerFactorsLowerScore(t *testing.T) {
	s := NewConfidenceScorer(70)
	snap := models.MarketSnapshot{ADX: 30, VIX: 13, RSI: 52}

	all := s.Score(snap, 0.8, FactorChecks{Trend: true, RSI: true, IV: true})
	two := s.Score(snap, 0.8, FactorChecks{Trend: true, RSI: true})
	assert.Greater(t, all.Total, two.Total)
}
