package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/mchlabs/niftybot/internal/config"
	"github.com/mchlabs/niftybot/internal/models"
)

// Exit priorities, highest first. The ladder is evaluated strictly in this
// order: a time exit fires even when the profit target is also hit.
const (
	PriorityTime        = "time"
	PriorityMidweek     = "midweek"
	PriorityIVCrush     = "iv_crush"
	PriorityStopLoss    = "stop_loss"
	PriorityReversal    = "momentum_reversal"
	PriorityProfit      = "profit_target"
	PriorityNone        = "none"
	reversalLossTrigger = 0.15
)

// ExitContext carries the market inputs the ladder needs beyond the position
// itself.
type ExitContext struct {
	Snapshot       models.MarketSnapshot
	CurrentPremium float64
	IVPercentile   float64
	Now            time.Time
}

// ExitHandler evaluates the multi-priority exit ladder for open positions.
type ExitHandler struct {
	cfg config.ExitConfig
}

// NewExitHandler builds an ExitHandler from the exit config section.
func NewExitHandler(ec config.ExitConfig) *ExitHandler {
	return &ExitHandler{cfg: ec}
}

// Evaluate runs the ladder top to bottom and returns the first signal that
// fires, or HOLD with a reason.
func (h *ExitHandler) Evaluate(p *models.Position, ctx ExitContext) models.ExitSignal {
	entry := p.EntryPremium
	cur := ctx.CurrentPremium
	profitPct := 0.0
	if entry > 0 {
		profitPct = (cur - entry) / entry
	}
	lossPct := -profitPct

	// 1. Time exit. Long premium decays fastest into expiry.
	if dte := p.DTE(ctx.Now); dte <= h.cfg.TimeExitDTE {
		return models.ExitSignal{
			Action:   models.ExitAll,
			Reason:   fmt.Sprintf("time exit: %d DTE <= %d", dte, h.cfg.TimeExitDTE),
			Priority: PriorityTime,
		}
	}

	// 2. Midweek exit for fresh positions that have gone nowhere.
	if h.cfg.MidweekExit && h.midweekDue(p, ctx.Now) {
		return models.ExitSignal{
			Action:   models.ExitAll,
			Reason:   "midweek exit: position stale past cutoff",
			Priority: PriorityMidweek,
		}
	}

	// 3. IV crush.
	if crush := (p.EntryIVPercentile - ctx.IVPercentile) / 100; crush > h.cfg.IVCrushThreshold {
		return models.ExitSignal{
			Action: models.ExitAll,
			Reason: fmt.Sprintf("IV crush: percentile fell %.0f -> %.0f",
				p.EntryIVPercentile, ctx.IVPercentile),
			Priority: PriorityIVCrush,
		}
	}

	// 4. Stop loss.
	if lossPct >= h.cfg.StopLossPct {
		return models.ExitSignal{
			Action:   models.ExitAll,
			Reason:   fmt.Sprintf("stop loss: down %.1f%%", lossPct*100),
			Priority: PriorityStopLoss,
		}
	}

	// 5. Momentum reversal on a losing position.
	if lossPct > reversalLossTrigger && h.reversed(p, ctx.Snapshot) {
		return models.ExitSignal{
			Action:   models.ExitAll,
			Reason:   fmt.Sprintf("momentum reversed against %s while down %.1f%%", p.OptionType, lossPct*100),
			Priority: PriorityReversal,
		}
	}

	// 6. Profit management: first touch of the target books the partial;
	// after that the remainder rides a trailing stop that is only checked
	// while the gain still clears the target. Below it, the ladder holds.
	if profitPct >= h.cfg.ProfitTargetPct/100 {
		if !p.PartialExitDone {
			return models.ExitSignal{
				Action:     models.ExitPartial,
				Percentage: h.cfg.PartialExitPct,
				Reason:     fmt.Sprintf("profit target hit: up %.1f%%, booking partial", profitPct*100),
				Priority:   PriorityProfit,
			}
		}
		trail := h.trailingStop(p, ctx)
		if cur <= trail {
			return models.ExitSignal{
				Action:   models.ExitAll,
				Reason:   fmt.Sprintf("trailing stop: premium %.2f <= trail %.2f", cur, trail),
				Priority: PriorityProfit,
			}
		}
	}

	return models.ExitSignal{
		Action:   models.ExitHold,
		Reason:   fmt.Sprintf("holding: P&L %.1f%%, %d DTE", profitPct*100, p.DTE(ctx.Now)),
		Priority: PriorityNone,
	}
}

// midweekDue is true past the configured weekday cutoff for positions only a
// day or two old.
func (h *ExitHandler) midweekDue(p *models.Position, now time.Time) bool {
	if int(now.Weekday()) != h.cfg.MidweekWeekday {
		return false
	}
	cutoffH, cutoffM := 14, 0
	if t, err := time.Parse("15:04", h.cfg.MidweekCutoff); err == nil {
		cutoffH, cutoffM = t.Hour(), t.Minute()
	}
	pastCutoff := now.Hour() > cutoffH || (now.Hour() == cutoffH && now.Minute() >= cutoffM)
	return pastCutoff && p.DaysHeld(now) <= 2
}

// reversed checks whether trend structure has flipped against the position's
// direction.
func (h *ExitHandler) reversed(p *models.Position, snap models.MarketSnapshot) bool {
	if p.OptionType == models.OptionCall {
		return snap.Spot < snap.EMA && snap.DIMinus > snap.DIPlus
	}
	return snap.Spot > snap.EMA && snap.DIPlus > snap.DIMinus
}

// trailingStop computes the floor under the remaining quantity once the
// partial has been booked. Never below entry: breakeven is locked in.
func (h *ExitHandler) trailingStop(p *models.Position, ctx ExitContext) float64 {
	entry := p.EntryPremium
	if h.cfg.TrailingMethod == "atr" {
		return math.Max(ctx.CurrentPremium-(1.5*ctx.Snapshot.ATR)*0.05, entry)
	}

	// spot_move: scale the trail with the favorable spot move since entry.
	moved := 0.0
	if p.EntrySpot > 0 {
		if p.OptionType == models.OptionCall {
			moved = (ctx.Snapshot.Spot - p.EntrySpot) / p.EntrySpot
		} else {
			moved = (p.EntrySpot - ctx.Snapshot.Spot) / p.EntrySpot
		}
	}
	return math.Max(entry*(1+moved*0.5), entry)
}
