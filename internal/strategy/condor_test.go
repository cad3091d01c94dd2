package strategy

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mchlabs/niftybot/internal/config"
	"github.com/mchlabs/niftybot/internal/models"
)

func testCondorBuilder() *CondorBuilder {
	return NewCondorBuilder(
		config.CondorConfig{
			TargetDistance: 300,
			WingWidth:      400,
			MinCreditPerIC: 200,
			MinOTMDistance: 200,
			MaxOTMDistance: 500,
			TargetDelta:    0.15,
		},
		config.InstrumentConfig{Symbol: "NIFTY", LotSize: 75, StrikeStep: 50},
	)
}

// flatPricer quotes shorts richer than longs so the structure collects credit.
func flatPricer(spot float64) LegPricer {
	return func(strike float64, optType models.OptionType) float64 {
		dist := strike - spot
		if dist < 0 {
			dist = -dist
		}
		// Premium decays with distance from spot.
		p := 120 - dist*0.25
		if p < 5 {
			p = 5
		}
		return p
	}
}

func TestSelectBalancedStrikes(t *testing.T) {
	b := testCondorBuilder()
	sp, sc, lp, lc := b.SelectBalancedStrikes(23500)
	assert.Equal(t, 23200.0, sp)
	assert.Equal(t, 23800.0, sc)
	assert.Equal(t, 22800.0, lp)
	assert.Equal(t, 24200.0, lc)
}

func TestSelectBalancedStrikesSnapsOutward(t *testing.T) {
	b := testCondorBuilder()
	// Off-grid spot: put floors down, call ceils up.
	sp, sc, _, _ := b.SelectBalancedStrikes(23526)
	assert.Equal(t, 23200.0, sp) // 23226 -> 23200
	assert.Equal(t, 23850.0, sc) // 23826 -> 23850
}

func TestBuildValidCondor(t *testing.T) {
	b := testCondorBuilder()
	expiry := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)

	ic, err := b.Build(23500, expiry, 1, flatPricer(23500))
	require.NoError(t, err)
	require.Len(t, ic.Legs, 4)

	assert.Equal(t, 23200.0, ic.ShortPut())
	assert.Equal(t, 23800.0, ic.ShortCall())
	assert.Equal(t, 22800.0, ic.LongPut())
	assert.Equal(t, 24200.0, ic.LongCall())
	assert.Greater(t, ic.NetCredit, 0.0)
	assert.Greater(t, ic.MaxLoss(), 0.0)
	assert.NoError(t, b.Validate(ic))
}

func TestBuildRejectsThinCredit(t *testing.T) {
	b := testCondorBuilder()
	expiry := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)

	// All legs priced identically: zero net credit.
	_, err := b.Build(23500, expiry, 1, func(float64, models.OptionType) float64 { return 50 })
	assert.ErrorIs(t, err, ErrInsufficientCredit)
}

func TestValidateCatchesEveryProblem(t *testing.T) {
	b := testCondorBuilder()
	expiry := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	ic, err := b.Build(23500, expiry, 1, flatPricer(23500))
	require.NoError(t, err)

	// Skew the call wing.
	for i := range ic.Legs {
		if ic.Legs[i].OptionType == models.OptionCall && ic.Legs[i].Side == models.SideBuy {
			ic.Legs[i].Strike += 100
		}
	}
	err = b.Validate(ic)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wings unbalanced")

	// Spot outside the short strikes.
	ic2, err := b.Build(23500, expiry, 1, flatPricer(23500))
	require.NoError(t, err)
	ic2.Spot = 23900
	err = b.Validate(ic2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not between short strikes")
}

func TestValidateDistanceBand(t *testing.T) {
	b := testCondorBuilder()
	expiry := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	ic, err := b.Build(23500, expiry, 1, flatPricer(23500))
	require.NoError(t, err)

	// Pull both shorts inside the minimum OTM distance, keeping symmetry.
	for i := range ic.Legs {
		if ic.Legs[i].Side != models.SideSell {
			continue
		}
		if ic.Legs[i].OptionType == models.OptionPut {
			ic.Legs[i].Strike = 23400
		} else {
			ic.Legs[i].Strike = 23600
		}
	}
	for i := range ic.Legs {
		if ic.Legs[i].Side != models.SideBuy {
			continue
		}
		if ic.Legs[i].OptionType == models.OptionPut {
			ic.Legs[i].Strike = 23000
		} else {
			ic.Legs[i].Strike = 24000
		}
	}
	err = b.Validate(ic)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside [200, 500]")

	// Both sides violate the band; the report order is stable for audit
	// logs: put first, then call.
	msg := err.Error()
	put := strings.Index(msg, "short put distance")
	call := strings.Index(msg, "short call distance")
	require.NotEqual(t, -1, put)
	require.NotEqual(t, -1, call)
	assert.Less(t, put, call)
}

func TestPickStrikesByDelta(t *testing.T) {
	b := testCondorBuilder()
	sp, sc := b.PickStrikesByDelta(23500, 12.0/365, 0.06, 0.15)

	assert.Less(t, sp, 23500.0)
	assert.Greater(t, sc, 23500.0)
	assert.GreaterOrEqual(t, 23500-sp, b.cfg.MinOTMDistance)
	assert.GreaterOrEqual(t, sc-23500, b.cfg.MinOTMDistance)
	assert.LessOrEqual(t, 23500-sp, b.cfg.MaxOTMDistance)
	assert.LessOrEqual(t, sc-23500, b.cfg.MaxOTMDistance)
}
