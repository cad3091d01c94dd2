// Package models provides data structures and state management for trading positions.
package models

import "time"

// Regime classifies current market behavior. It is the master switch for
// strategy selection: exactly one strategy (or none) is enabled per regime.
type Regime string

const (
	RegimeTrending Regime = "trending"
	RegimeRanging  Regime = "ranging"
	RegimeVolatile Regime = "volatile"
	RegimeChoppy   Regime = "choppy"
	RegimeUnknown  Regime = "unknown"
)

// Valid returns true if the Regime is one of the defined constants.
func (r Regime) Valid() bool {
	switch r {
	case RegimeTrending, RegimeRanging, RegimeVolatile, RegimeChoppy, RegimeUnknown:
		return true
	default:
		return false
	}
}

// Strategy identifies one of the two mutually-exclusive sub-strategies.
type Strategy string

const (
	// StrategyCondor is the premium-selling iron condor strategy (active in
	// ranging and volatile regimes).
	StrategyCondor Strategy = "iron_condor"
	// StrategyMomentum is the directional premium-buying strategy (active in
	// trending regimes).
	StrategyMomentum Strategy = "momentum"
)

// OptionType is the option side, serialized in the NSE convention (CE/PE).
type OptionType string

const (
	OptionCall OptionType = "CE"
	OptionPut  OptionType = "PE"
)

// OrderSide is the direction of an order leg.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// ExitAction is the decision produced by the exit handler each cycle.
type ExitAction string

const (
	ExitHold    ExitAction = "HOLD"
	ExitPartial ExitAction = "PARTIAL_EXIT"
	ExitAll     ExitAction = "EXIT_ALL"
)

// MarketSnapshot is the per-cycle view of market indicators. It has no
// identity; it is consumed immediately by the classifier, detector and scorer.
type MarketSnapshot struct {
	Timestamp     time.Time `json:"timestamp"`
	Spot          float64   `json:"spot"`
	VIX           float64   `json:"vix"`
	ADX           float64   `json:"adx"`
	DIPlus        float64   `json:"di_plus"`
	DIMinus       float64   `json:"di_minus"`
	RSI           float64   `json:"rsi"`
	MACD          float64   `json:"macd"`
	MACDSignal    float64   `json:"macd_signal"`
	MACDHist      float64   `json:"macd_hist"`
	EMA           float64   `json:"ema"`
	ATR           float64   `json:"atr"`
	ATRPercentile float64   `json:"atr_percentile"`
	IVPercentile  float64   `json:"iv_percentile"`
}

// DirectionalDiff returns |DI+ - DI-|, the directional clarity measure used
// by the regime classifier.
func (s MarketSnapshot) DirectionalDiff() float64 {
	d := s.DIPlus - s.DIMinus
	if d < 0 {
		return -d
	}
	return d
}

// RegimeDecision is the master controller's per-cycle activation decision.
// Invariant: at most one of CondorEnabled/MomentumEnabled is true.
type RegimeDecision struct {
	Regime          Regime  `json:"regime"`
	Confidence      float64 `json:"confidence"`
	StabilityCount  int     `json:"stability_count"`
	CondorEnabled   bool    `json:"condor_enabled"`
	MomentumEnabled bool    `json:"momentum_enabled"`
	Reason          string  `json:"reason"`
}

// ExitSignal is the outcome of the exit handler's priority ladder for one
// position. Reason is always set, including for HOLD.
type ExitSignal struct {
	Action     ExitAction `json:"action"`
	Percentage float64    `json:"percentage,omitempty"` // fraction of remaining, for PARTIAL_EXIT
	Reason     string     `json:"reason"`
	Priority   string     `json:"priority"`
}

// ExitResult reports the position manager's application of an exit signal.
type ExitResult struct {
	PositionID        string     `json:"position_id"`
	Action            ExitAction `json:"action"`
	ExitQuantity      int        `json:"exit_quantity"`
	RemainingQuantity int        `json:"remaining_quantity"`
	ExitPremium       float64    `json:"exit_premium"`
	PnL               float64    `json:"pnl"`
	ReturnPct         float64    `json:"return_pct,omitempty"`
	Reason            string     `json:"reason"`
}
