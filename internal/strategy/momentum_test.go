package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mchlabs/niftybot/internal/config"
	"github.com/mchlabs/niftybot/internal/models"
)

func testEntryConfig() config.EntryConfig {
	return config.EntryConfig{
		DTEMin:            10,
		DTEMax:            14,
		StrikeDistanceMin: 100,
		StrikeDistanceMax: 200,
		ADXThreshold:      25,
		EMAPeriod:         21,
		RSIMax:            70,
		IVPercentileMax:   60,
		MinConfidence:     70,
	}
}

func TestDetectBullish(t *testing.T) {
	d := NewMomentumDetector(testEntryConfig())
	sig := d.Detect(models.MarketSnapshot{
		Spot: 23700, EMA: 23500, ADX: 30,
		DIPlus: 28, DIMinus: 14, RSI: 58, IVPercentile: 40,
	})
	assert.True(t, sig.Signal)
	assert.Equal(t, DirectionBullish, sig.Direction)
	assert.Equal(t, 3, sig.Factors.Satisfied())
	assert.Greater(t, sig.Strength, 0.0)
}

func TestDetectBearish(t *testing.T) {
	d := NewMomentumDetector(testEntryConfig())
	sig := d.Detect(models.MarketSnapshot{
		Spot: 23300, EMA: 23500, ADX: 30,
		DIPlus: 14, DIMinus: 28, RSI: 42, IVPercentile: 40,
	})
	assert.True(t, sig.Signal)
	assert.Equal(t, DirectionBearish, sig.Direction)
}

func TestDetectBlockedFactors(t *testing.T) {
	d := NewMomentumDetector(testEntryConfig())
	tests := []struct {
		name string
		snap models.MarketSnapshot
		dir  Direction
	}{
		{
			"weak adx",
			models.MarketSnapshot{Spot: 23700, EMA: 23500, ADX: 18, DIPlus: 28, DIMinus: 14, RSI: 55, IVPercentile: 40},
			DirectionNone,
		},
		{
			"overbought rsi",
			models.MarketSnapshot{Spot: 23700, EMA: 23500, ADX: 30, DIPlus: 28, DIMinus: 14, RSI: 78, IVPercentile: 40},
			DirectionBullish,
		},
		{
			"expensive iv",
			models.MarketSnapshot{Spot: 23700, EMA: 23500, ADX: 30, DIPlus: 28, DIMinus: 14, RSI: 55, IVPercentile: 75},
			DirectionBullish,
		},
		{
			"trend up but di down",
			models.MarketSnapshot{Spot: 23700, EMA: 23500, ADX: 30, DIPlus: 14, DIMinus: 28, RSI: 55, IVPercentile: 40},
			DirectionNone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := d.Detect(tt.snap)
			assert.False(t, sig.Signal)
			assert.Equal(t, tt.dir, sig.Direction)
			assert.NotEmpty(t, sig.Reason)
		})
	}
}

func TestBearishRSIBand(t *testing.T) {
	// Bearish entries need RSI above 100-rsiMax: a crashed RSI means the
	// move already happened.
	d := NewMomentumDetector(testEntryConfig())
	sig := d.Detect(models.MarketSnapshot{
		Spot: 23300, EMA: 23500, ADX: 30,
		DIPlus: 14, DIMinus: 28, RSI: 22, IVPercentile: 40,
	})
	assert.False(t, sig.Signal)
	assert.False(t, sig.Factors.RSI)
}

func TestStrengthMonotonicInADX(t *testing.T) {
	d := NewMomentumDetector(testEntryConfig())
	base := models.MarketSnapshot{Spot: 23700, EMA: 23500, DIPlus: 28, DIMinus: 14}

	weak, strong := base, base
	weak.ADX, strong.ADX = 26, 40
	assert.Greater(t, d.Strength(strong), d.Strength(weak))

	// Strength caps at 100 per component.
	extreme := base
	extreme.ADX = 90
	assert.LessOrEqual(t, d.Strength(extreme), 100.0)
}
