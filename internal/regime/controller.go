package regime

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mchlabs/niftybot/internal/models"
)

// minStability is how many consecutive cycles a regime must persist before
// any strategy is allowed to act on it. Keeps a single flicker bar from
// whipsawing the strategies.
const minStability = 2

// Controller arbitrates strategy activation from the classified regime.
// At most one strategy is ever enabled; TRENDING activates momentum,
// RANGING and VOLATILE activate the condor, CHOPPY activates nothing.
type Controller struct {
	mu         sync.Mutex
	thresholds Thresholds
	logger     zerolog.Logger

	current   models.Regime
	stability int
	forced    bool
	lastDec   models.RegimeDecision
}

// NewController creates a Controller starting in the unknown regime.
func NewController(th Thresholds, logger zerolog.Logger) *Controller {
	return &Controller{
		thresholds: th,
		logger:     logger.With().Str("component", "regime").Logger(),
		current:    models.RegimeUnknown,
	}
}

// Evaluate classifies the snapshot, updates the stability counter and returns
// the activation decision for this cycle.
func (c *Controller) Evaluate(snap models.MarketSnapshot) models.RegimeDecision {
	c.mu.Lock()
	defer c.mu.Unlock()

	regime := Classify(snap, c.thresholds)
	if c.forced {
		// A forced regime holds until the classifier is re-engaged.
		regime = c.current
	}

	if regime == c.current {
		c.stability++
	} else {
		c.logger.Info().
			Str("from", string(c.current)).
			Str("to", string(regime)).
			Float64("adx", snap.ADX).
			Float64("vix", snap.VIX).
			Float64("atr_percentile", snap.ATRPercentile).
			Msg("regime change")
		c.current = regime
		c.stability = 1
	}

	dec := c.decide(snap, regime)
	c.lastDec = dec
	return dec
}

func (c *Controller) decide(snap models.MarketSnapshot, regime models.Regime) models.RegimeDecision {
	dec := models.RegimeDecision{
		Regime:         regime,
		Confidence:     Confidence(snap, regime, c.thresholds),
		StabilityCount: c.stability,
	}

	switch regime {
	case models.RegimeTrending:
		dec.MomentumEnabled = true
		dec.Reason = "trending market: momentum active, condor suspended"
	case models.RegimeRanging:
		dec.CondorEnabled = true
		dec.Reason = "ranging market: condor active, momentum suspended"
	case models.RegimeVolatile:
		dec.CondorEnabled = true
		dec.Reason = "volatile market: condor active (wide strikes), momentum suspended"
	default:
		dec.Reason = "choppy market: all strategies suspended"
	}
	return dec
}

// CanTrade reports whether the given strategy may open a new position now,
// with a human-readable reason when it may not. Requires both activation and
// regime stability.
func (c *Controller) CanTrade(strategy models.Strategy) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var enabled bool
	switch strategy {
	case models.StrategyCondor:
		enabled = c.lastDec.CondorEnabled
	case models.StrategyMomentum:
		enabled = c.lastDec.MomentumEnabled
	default:
		return false, fmt.Sprintf("unknown strategy %q", strategy)
	}

	if !enabled {
		return false, fmt.Sprintf("%s disabled in %s regime", strategy, c.current)
	}
	if c.stability < minStability {
		return false, fmt.Sprintf("waiting for regime stability (%d/%d)", c.stability, minStability)
	}
	return true, ""
}

// ForceRegime pins the controller to a regime, bypassing the classifier.
// A manual override wants immediate effect, so stability is set to the
// debounce threshold and the next evaluation can act right away.
func (c *Controller) ForceRegime(regime models.Regime, reason string) error {
	if !regime.Valid() {
		return fmt.Errorf("regime: cannot force invalid regime %q", regime)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Warn().
		Str("regime", string(regime)).
		Str("reason", reason).
		Msg("regime forced")
	c.current = regime
	c.stability = minStability
	c.forced = regime != models.RegimeUnknown
	return nil
}

// StabilityStatus returns the current regime and how many consecutive cycles
// it has held.
func (c *Controller) StabilityStatus() (models.Regime, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.stability
}
