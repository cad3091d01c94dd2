package regime

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mchlabs/niftybot/internal/models"
)

var (
	trendingSnap = snap(32, 30, 12, 14, 40)
	rangingSnap  = snap(14, 21, 19, 13, 30)
	volatileSnap = snap(14, 21, 19, 26, 85)
	choppySnap   = snap(22, 24, 18, 16, 50)
)

func newTestController() *Controller {
	return NewController(testThresholds, zerolog.Nop())
}

func TestMutualExclusion(t *testing.T) {
	c := newTestController()
	for _, s := range []models.MarketSnapshot{trendingSnap, rangingSnap, volatileSnap, choppySnap} {
		dec := c.Evaluate(s)
		assert.False(t, dec.CondorEnabled && dec.MomentumEnabled,
			"both strategies enabled in %s regime", dec.Regime)
	}
}

func TestActivationByRegime(t *testing.T) {
	tests := []struct {
		name           string
		snap           models.MarketSnapshot
		condor, momentum bool
	}{
		{"trending", trendingSnap, false, true},
		{"ranging", rangingSnap, true, false},
		{"volatile", volatileSnap, true, false},
		{"choppy", choppySnap, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController()
			dec := c.Evaluate(tt.snap)
			assert.Equal(t, tt.condor, dec.CondorEnabled)
			assert.Equal(t, tt.momentum, dec.MomentumEnabled)
			assert.NotEmpty(t, dec.Reason)
		})
	}
}

func TestStabilityDebounce(t *testing.T) {
	c := newTestController()

	c.Evaluate(trendingSnap)
	ok, reason := c.CanTrade(models.StrategyMomentum)
	assert.False(t, ok, "single cycle must not be tradeable")
	assert.Contains(t, reason, "stability")

	c.Evaluate(trendingSnap)
	ok, _ = c.CanTrade(models.StrategyMomentum)
	assert.True(t, ok, "two consecutive cycles satisfy the debounce")

	// The other strategy stays blocked regardless of stability.
	ok, reason = c.CanTrade(models.StrategyCondor)
	assert.False(t, ok)
	assert.Contains(t, reason, "disabled")
}

func TestFlickerResetsStability(t *testing.T) {
	c := newTestController()
	c.Evaluate(rangingSnap)
	c.Evaluate(rangingSnap)
	ok, _ := c.CanTrade(models.StrategyCondor)
	require.True(t, ok)

	// One trending bar resets the counter; condor is both disabled and,
	// after flipping back, unstable again.
	c.Evaluate(trendingSnap)
	ok, _ = c.CanTrade(models.StrategyCondor)
	assert.False(t, ok)

	c.Evaluate(rangingSnap)
	ok, reason := c.CanTrade(models.StrategyCondor)
	assert.False(t, ok, "one bar back is not stable yet: %s", reason)

	c.Evaluate(rangingSnap)
	ok, _ = c.CanTrade(models.StrategyCondor)
	assert.True(t, ok)
}

func TestStabilityCountGrows(t *testing.T) {
	c := newTestController()
	for i := 1; i <= 4; i++ {
		dec := c.Evaluate(rangingSnap)
		assert.Equal(t, i, dec.StabilityCount)
	}
	regime, count := c.StabilityStatus()
	assert.Equal(t, models.RegimeRanging, regime)
	assert.Equal(t, 4, count)
}

func TestForceRegime(t *testing.T) {
	c := newTestController()
	require.NoError(t, c.ForceRegime(models.RegimeTrending, "manual override"))

	// Classifier says ranging, but the forced regime wins and is already
	// stable enough to act on in the very next cycle.
	dec := c.Evaluate(rangingSnap)
	assert.Equal(t, models.RegimeTrending, dec.Regime)
	assert.True(t, dec.MomentumEnabled)
	assert.GreaterOrEqual(t, dec.StabilityCount, minStability)

	ok, _ := c.CanTrade(models.StrategyMomentum)
	assert.True(t, ok, "forced regime must not wait out the debounce")

	assert.Error(t, c.ForceRegime(models.Regime("sideways"), "typo"))
}

func TestCanTradeUnknownStrategy(t *testing.T) {
	c := newTestController()
	c.Evaluate(trendingSnap)
	ok, reason := c.CanTrade(models.Strategy("scalping"))
	assert.False(t, ok)
	assert.Contains(t, reason, "unknown strategy")
}
