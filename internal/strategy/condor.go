package strategy

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mchlabs/niftybot/internal/config"
	"github.com/mchlabs/niftybot/internal/models"
	"github.com/mchlabs/niftybot/internal/pricing"
	"github.com/mchlabs/niftybot/internal/util"
)

// ErrInsufficientCredit is returned by Build when the structure does not
// collect the configured minimum net credit.
var ErrInsufficientCredit = errors.New("condor: net credit below minimum")

// Leg is one of the four option legs of an iron condor.
type Leg struct {
	Strike     float64           `json:"strike"`
	OptionType models.OptionType `json:"option_type"`
	Side       models.OrderSide  `json:"side"`
	Premium    float64           `json:"premium"`
}

// IronCondor is a fully-specified four-leg credit structure: short put and
// call inside, long put and call wings outside.
type IronCondor struct {
	Legs      []Leg     `json:"legs"`
	LotSize   int       `json:"lot_size"`
	Lots      int       `json:"lots"`
	Spot      float64   `json:"spot"`
	Expiry    time.Time `json:"expiry"`
	NetCredit float64   `json:"net_credit"` // per unit, before lot multiplication
}

// ShortPut returns the short put strike (0 if legs are malformed).
func (ic *IronCondor) ShortPut() float64 { return ic.legStrike(models.OptionPut, models.SideSell) }

// ShortCall returns the short call strike.
func (ic *IronCondor) ShortCall() float64 { return ic.legStrike(models.OptionCall, models.SideSell) }

// LongPut returns the long put strike.
func (ic *IronCondor) LongPut() float64 { return ic.legStrike(models.OptionPut, models.SideBuy) }

// LongCall returns the long call strike.
func (ic *IronCondor) LongCall() float64 { return ic.legStrike(models.OptionCall, models.SideBuy) }

func (ic *IronCondor) legStrike(ot models.OptionType, side models.OrderSide) float64 {
	for _, l := range ic.Legs {
		if l.OptionType == ot && l.Side == side {
			return l.Strike
		}
	}
	return 0
}

// MaxLoss returns the worst-case loss per unit (wing width minus credit).
func (ic *IronCondor) MaxLoss() float64 {
	wing := ic.ShortPut() - ic.LongPut()
	return wing - ic.NetCredit
}

// LegPricer returns the current premium for a single option leg.
type LegPricer func(strike float64, optType models.OptionType) float64

// CondorBuilder constructs and validates balanced iron condors.
type CondorBuilder struct {
	cfg        config.CondorConfig
	strikeStep float64
	lotSize    int
}

// NewCondorBuilder builds a CondorBuilder from the condor and instrument
// config sections.
func NewCondorBuilder(cc config.CondorConfig, ic config.InstrumentConfig) *CondorBuilder {
	return &CondorBuilder{cfg: cc, strikeStep: ic.StrikeStep, lotSize: ic.LotSize}
}

// SelectBalancedStrikes picks symmetric short strikes around spot at the
// target distance, snapped outward to the strike grid, plus wings one wing
// width further out.
func (b *CondorBuilder) SelectBalancedStrikes(spot float64) (shortPut, shortCall, longPut, longCall float64) {
	shortPut = util.FloorToStep(spot-b.cfg.TargetDistance, b.strikeStep)
	shortCall = util.CeilToStep(spot+b.cfg.TargetDistance, b.strikeStep)
	longPut = shortPut - b.cfg.WingWidth
	longCall = shortCall + b.cfg.WingWidth
	return
}

// PickStrikesByDelta walks the strike grid outward from spot and returns the
// first short strikes whose absolute delta drops to the builder's target.
// Used instead of SelectBalancedStrikes when delta targeting is preferred
// over fixed point distance.
func (b *CondorBuilder) PickStrikesByDelta(spot, tteYears, riskFree, vol float64) (shortPut, shortCall float64) {
	target := b.cfg.TargetDelta
	if target <= 0 {
		target = 0.15
	}

	shortPut = util.FloorToStep(spot-b.cfg.MinOTMDistance, b.strikeStep)
	for shortPut > spot-b.cfg.MaxOTMDistance {
		d := pricing.Delta(spot, shortPut, tteYears, riskFree, vol, models.OptionPut)
		if math.Abs(d) <= target {
			break
		}
		shortPut -= b.strikeStep
	}

	shortCall = util.CeilToStep(spot+b.cfg.MinOTMDistance, b.strikeStep)
	for shortCall < spot+b.cfg.MaxOTMDistance {
		d := pricing.Delta(spot, shortCall, tteYears, riskFree, vol, models.OptionCall)
		if d <= target {
			break
		}
		shortCall += b.strikeStep
	}
	return
}

// Build assembles a condor at the balanced strikes, prices each leg and
// enforces the minimum-credit gate. Lots scales quantity, not strikes.
func (b *CondorBuilder) Build(spot float64, expiry time.Time, lots int, price LegPricer) (*IronCondor, error) {
	if lots <= 0 {
		return nil, fmt.Errorf("condor: lots must be positive, got %d", lots)
	}
	sp, sc, lp, lc := b.SelectBalancedStrikes(spot)

	legs := []Leg{
		{Strike: sp, OptionType: models.OptionPut, Side: models.SideSell, Premium: price(sp, models.OptionPut)},
		{Strike: lp, OptionType: models.OptionPut, Side: models.SideBuy, Premium: price(lp, models.OptionPut)},
		{Strike: sc, OptionType: models.OptionCall, Side: models.SideSell, Premium: price(sc, models.OptionCall)},
		{Strike: lc, OptionType: models.OptionCall, Side: models.SideBuy, Premium: price(lc, models.OptionCall)},
	}

	credit := 0.0
	for _, l := range legs {
		if l.Side == models.SideSell {
			credit += l.Premium
		} else {
			credit -= l.Premium
		}
	}

	ic := &IronCondor{
		Legs:      legs,
		LotSize:   b.lotSize,
		Lots:      lots,
		Spot:      spot,
		Expiry:    expiry,
		NetCredit: credit,
	}

	if credit*float64(b.lotSize) < b.cfg.MinCreditPerIC {
		return nil, fmt.Errorf("%w: %.2f per lot vs minimum %.2f",
			ErrInsufficientCredit, credit*float64(b.lotSize), b.cfg.MinCreditPerIC)
	}
	if err := b.Validate(ic); err != nil {
		return nil, err
	}
	return ic, nil
}

// Validate checks the structural invariants of a condor and reports every
// violation at once rather than stopping at the first.
func (b *CondorBuilder) Validate(ic *IronCondor) error {
	var problems []string

	if len(ic.Legs) != 4 {
		return fmt.Errorf("condor invalid: expected 4 legs, got %d", len(ic.Legs))
	}
	if ic.LotSize != b.lotSize {
		problems = append(problems, fmt.Sprintf("lot size %d does not match instrument %d", ic.LotSize, b.lotSize))
	}

	sp, sc := ic.ShortPut(), ic.ShortCall()
	lp, lc := ic.LongPut(), ic.LongCall()

	if !(sp < ic.Spot && ic.Spot < sc) {
		problems = append(problems, fmt.Sprintf("spot %.0f not between short strikes [%.0f, %.0f]", ic.Spot, sp, sc))
	}

	wingPut := sp - lp
	wingCall := lc - sc
	if math.Abs(wingPut-wingCall) > 1e-6 {
		problems = append(problems, fmt.Sprintf("wings unbalanced: put %.0f vs call %.0f", wingPut, wingCall))
	}

	distPut := ic.Spot - sp
	distCall := sc - ic.Spot
	tolerance := math.Max(1, 0.2*math.Min(distPut, distCall))
	if math.Abs(distPut-distCall) > tolerance {
		problems = append(problems, fmt.Sprintf("short strikes asymmetric: put %.0f vs call %.0f pts from spot", distPut, distCall))
	}
	for _, side := range []struct {
		name string
		dist float64
	}{{"put", distPut}, {"call", distCall}} {
		if side.dist < b.cfg.MinOTMDistance || side.dist > b.cfg.MaxOTMDistance {
			problems = append(problems, fmt.Sprintf("short %s distance %.0f outside [%.0f, %.0f]",
				side.name, side.dist, b.cfg.MinOTMDistance, b.cfg.MaxOTMDistance))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("condor invalid: %s", strings.Join(problems, "; "))
	}
	return nil
}
