package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mchlabs/niftybot/internal/models"
)

func TestPriceIntrinsicDegenerate(t *testing.T) {
	assert.InDelta(t, 500, Price(24000, 23500, 0, 0.06, 0.2, models.OptionCall), 1e-9)
	assert.InDelta(t, 0, Price(24000, 23500, 0.05, 0.06, 0, models.OptionPut), 1e-9)
	assert.InDelta(t, 500, Price(23000, 23500, 0, 0.06, 0.2, models.OptionPut), 1e-9)
}

func TestPutCallParity(t *testing.T) {
	spot, strike, tte, r, vol := 23500.0, 23600.0, 12.0/365, 0.06, 0.18
	call := Price(spot, strike, tte, r, vol, models.OptionCall)
	put := Price(spot, strike, tte, r, vol, models.OptionPut)
	// C - P = S - K*exp(-rT)
	assert.InDelta(t, spot-strike*math.Exp(-r*tte), call-put, 1e-6)
}

func TestImpliedVolRoundTrip(t *testing.T) {
	spot, strike, tte, r := 23500.0, 23700.0, 14.0/365, 0.06
	for vol := 0.05; vol <= 3.0; vol += 0.05 {
		for _, ot := range []models.OptionType{models.OptionCall, models.OptionPut} {
			price := Price(spot, strike, tte, r, vol, ot)
			got, err := ImpliedVolDefault(price, spot, strike, tte, r, ot)
			require.NoError(t, err, "vol=%.2f type=%s", vol, ot)
			assert.InDelta(t, vol, got, 1e-3, "vol=%.2f type=%s", vol, ot)
		}
	}
}

func TestImpliedVolNotBracketed(t *testing.T) {
	// Price above anything the vol bracket can produce.
	_, err := ImpliedVolDefault(1e9, 23500, 23700, 14.0/365, 0.06, models.OptionCall)
	assert.ErrorIs(t, err, ErrNotBracketed)

	// Price below intrinsic is also unreachable.
	_, err = ImpliedVolDefault(1, 24000, 23000, 14.0/365, 0.06, models.OptionCall)
	assert.ErrorIs(t, err, ErrNotBracketed)
}

func TestDeltaBounds(t *testing.T) {
	d := Delta(23500, 23700, 14.0/365, 0.06, 0.18, models.OptionCall)
	assert.Greater(t, d, 0.0)
	assert.Less(t, d, 1.0)

	d = Delta(23500, 23300, 14.0/365, 0.06, 0.18, models.OptionPut)
	assert.Less(t, d, 0.0)
	assert.Greater(t, d, -1.0)

	// Deep OTM call delta shrinks toward zero.
	far := Delta(23500, 26000, 7.0/365, 0.06, 0.15, models.OptionCall)
	near := Delta(23500, 23600, 7.0/365, 0.06, 0.15, models.OptionCall)
	assert.Less(t, far, near)
}
