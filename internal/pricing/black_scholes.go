// Package pricing provides closed-form European option pricing and an
// implied-volatility solver. All functions are pure.
package pricing

import (
	"errors"
	"math"

	"github.com/mchlabs/niftybot/internal/models"
)

// ErrNotBracketed is returned by ImpliedVol when the target price lies
// outside the price range spanned by the volatility bracket.
var ErrNotBracketed = errors.New("pricing: target price not bracketed by vol range")

// Bisection defaults for ImpliedVol.
const (
	DefaultVolLo    = 1e-4
	DefaultVolHi    = 5.0
	DefaultVolTol   = 1e-4
	DefaultMaxIters = 100
)

func phi(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

// Price returns the Black-Scholes value of a European option. When time to
// expiry or vol is non-positive it returns intrinsic value with no
// discounting.
func Price(spot, strike, t, r, vol float64, optType models.OptionType) float64 {
	if t <= 0 || vol <= 0 {
		if optType == models.OptionCall {
			return math.Max(0, spot-strike)
		}
		return math.Max(0, strike-spot)
	}
	sqT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (r+0.5*vol*vol)*t) / (vol * sqT)
	d2 := d1 - vol*sqT
	if optType == models.OptionCall {
		return spot*phi(d1) - strike*math.Exp(-r*t)*phi(d2)
	}
	return strike*math.Exp(-r*t)*phi(-d2) - spot*phi(-d1)
}

// Delta returns the signed option delta in [-1, 1]. Degenerate inputs
// (t <= 0 or vol <= 0) collapse to the moneyness sign.
func Delta(spot, strike, t, r, vol float64, optType models.OptionType) float64 {
	if t <= 0 || vol <= 0 {
		if optType == models.OptionCall {
			if spot > strike {
				return 1.0
			}
			return 0.0
		}
		if spot < strike {
			return -1.0
		}
		return 0.0
	}
	d1 := (math.Log(spot/strike) + (r+0.5*vol*vol)*t) / (vol * math.Sqrt(t))
	if optType == models.OptionCall {
		return phi(d1)
	}
	return phi(d1) - 1.0
}

// ImpliedVol recovers volatility from an observed option price by bisection
// over [lo, hi]. The target must be bracketed by the prices at lo and hi
// (option value is monotonic in vol), otherwise ErrNotBracketed is returned.
// If maxIters is exhausted before reaching tol, the interval midpoint is
// returned.
func ImpliedVol(price, spot, strike, t, r float64, optType models.OptionType,
	lo, hi, tol float64, maxIters int) (float64, error) {
	if lo <= 0 {
		lo = DefaultVolLo
	}
	if hi <= lo {
		hi = DefaultVolHi
	}
	if tol <= 0 {
		tol = DefaultVolTol
	}
	if maxIters <= 0 {
		maxIters = DefaultMaxIters
	}

	pLo := Price(spot, strike, t, r, lo, optType)
	pHi := Price(spot, strike, t, r, hi, optType)
	if price < math.Min(pLo, pHi) || price > math.Max(pLo, pHi) {
		return 0, ErrNotBracketed
	}

	a, b := lo, hi
	for i := 0; i < maxIters; i++ {
		mid := 0.5 * (a + b)
		pMid := Price(spot, strike, t, r, mid, optType)
		if math.Abs(pMid-price) < tol {
			return mid, nil
		}
		if (pLo-price)*(pMid-price) <= 0 {
			b = mid
		} else {
			a = mid
			pLo = pMid
		}
	}
	return 0.5 * (a + b), nil
}

// ImpliedVolDefault runs ImpliedVol with the package defaults.
func ImpliedVolDefault(price, spot, strike, t, r float64, optType models.OptionType) (float64, error) {
	return ImpliedVol(price, spot, strike, t, r, optType,
		DefaultVolLo, DefaultVolHi, DefaultVolTol, DefaultMaxIters)
}
