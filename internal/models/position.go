package models

import (
	"fmt"
	"time"
)

// Position represents a single long option position owned by the position
// manager. Expiry is fixed at creation: there is deliberately no operation
// anywhere that changes it afterwards (no rolling).
type Position struct {
	ID                string         `json:"position_id"`
	Instrument        string         `json:"instrument"`
	Strike            float64        `json:"strike"`
	Expiry            time.Time      `json:"expiry_date"`
	OptionType        OptionType     `json:"option_type"`
	Quantity          int            `json:"quantity"`
	Lots              int            `json:"lots"`
	EntryPremium      float64        `json:"entry_premium"`
	EntrySpot         float64        `json:"entry_spot"`
	EntryTime         time.Time      `json:"entry_time"`
	EntryIVPercentile float64        `json:"entry_iv_percentile"`
	Confidence        float64        `json:"confidence"`
	StopLoss          float64        `json:"stop_loss"`
	Status            PositionStatus `json:"status"`

	PartialExitDone     bool    `json:"partial_exit_done"`
	PartialExitQuantity int     `json:"partial_exit_quantity"`
	RemainingQuantity   int     `json:"remaining_quantity"`
	RealizedPnL         float64 `json:"realized_pnl"`
	UnrealizedPnL       float64 `json:"unrealized_pnl"`

	ExitTime    time.Time `json:"exit_time,omitempty"`
	ExitPremium float64   `json:"exit_premium,omitempty"`
	ExitReason  string    `json:"exit_reason,omitempty"`
}

// NewPosition creates a pending position. Quantity must be a whole number of
// lots; the caller is responsible for lot rounding.
func NewPosition(id, instrument string, strike float64, expiry time.Time,
	optType OptionType, quantity, lots int) *Position {
	return &Position{
		ID:                id,
		Instrument:        instrument,
		Strike:            strike,
		Expiry:            expiry,
		OptionType:        optType,
		Quantity:          quantity,
		Lots:              lots,
		RemainingQuantity: quantity,
		Status:            StatusPending,
	}
}

// DTE returns calendar days to expiry as of now, floored at 0.
func (p *Position) DTE(now time.Time) int {
	exp := p.Expiry.UTC().Truncate(24 * time.Hour)
	cur := now.UTC().Truncate(24 * time.Hour)
	days := int(exp.Sub(cur).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// DaysHeld returns whole days since entry.
func (p *Position) DaysHeld(now time.Time) int {
	if p.EntryTime.IsZero() {
		return 0
	}
	return int(now.Sub(p.EntryTime).Hours() / 24)
}

// MarkFilled transitions PENDING -> ACTIVE after a confirmed fill.
func (p *Position) MarkFilled(fillPremium float64, at time.Time) error {
	if err := p.transition(StatusActive, ConditionOrderFilled); err != nil {
		return err
	}
	if fillPremium > 0 {
		p.EntryPremium = fillPremium
	}
	p.EntryTime = at
	return nil
}

// MarkFailed transitions PENDING -> FAILED after a broker rejection.
func (p *Position) MarkFailed(reason string) error {
	if err := p.transition(StatusFailed, ConditionOrderFailed); err != nil {
		return err
	}
	p.ExitReason = reason
	return nil
}

// ApplyPartialExit books a partial exit of exitQty units at the given premium
// and ratchets the stop to breakeven. exitQty must already be lot-rounded and
// strictly less than the remaining quantity.
func (p *Position) ApplyPartialExit(exitQty int, premium float64) (float64, error) {
	if exitQty <= 0 {
		return 0, fmt.Errorf("position %s: partial exit quantity must be positive, got %d", p.ID, exitQty)
	}
	if exitQty >= p.RemainingQuantity {
		return 0, fmt.Errorf("position %s: partial exit %d >= remaining %d, use a full exit",
			p.ID, exitQty, p.RemainingQuantity)
	}
	if p.Status == StatusActive {
		if err := p.transition(StatusPartialExit, ConditionProfitPartial); err != nil {
			return 0, err
		}
	} else if p.Status != StatusPartialExit {
		return 0, fmt.Errorf("position %s: cannot partially exit in status %s", p.ID, p.Status)
	}

	pnl := (premium - p.EntryPremium) * float64(exitQty)
	p.PartialExitDone = true
	p.PartialExitQuantity += exitQty
	p.RemainingQuantity -= exitQty
	p.RealizedPnL += pnl
	// Lock in breakeven on the remainder.
	p.StopLoss = p.EntryPremium
	return pnl, nil
}

// ApplyFullExit closes the remaining quantity at the given premium and moves
// the position to CLOSED.
func (p *Position) ApplyFullExit(premium float64, reason string, at time.Time) (float64, error) {
	if !p.Status.Open() {
		return 0, fmt.Errorf("position %s: cannot close in status %s", p.ID, p.Status)
	}
	if err := p.transition(StatusClosed, ConditionFullExit); err != nil {
		return 0, err
	}
	pnl := (premium - p.EntryPremium) * float64(p.RemainingQuantity)
	p.RealizedPnL += pnl
	p.RemainingQuantity = 0
	p.UnrealizedPnL = 0
	p.ExitTime = at
	p.ExitPremium = premium
	p.ExitReason = reason
	return pnl, nil
}

// UpdateUnrealized recomputes unrealized P&L for the remaining quantity.
func (p *Position) UpdateUnrealized(currentPremium float64) {
	p.UnrealizedPnL = (currentPremium - p.EntryPremium) * float64(p.RemainingQuantity)
}

// NotionalValue returns the capital represented by the original entry.
func (p *Position) NotionalValue() float64 {
	return p.EntryPremium * float64(p.Quantity)
}

// RemainingValue returns entry-premium value of the still-open quantity.
func (p *Position) RemainingValue() float64 {
	return p.EntryPremium * float64(p.RemainingQuantity)
}

// ValidateState checks the position's hard invariants. A failure here is a
// programmer error, not a market condition; callers should treat it as fatal.
func (p *Position) ValidateState() error {
	if !p.Status.Valid() {
		return fmt.Errorf("position %s: unknown status %q", p.ID, p.Status)
	}
	if p.RemainingQuantity < 0 {
		return fmt.Errorf("position %s: remaining quantity is negative (%d)", p.ID, p.RemainingQuantity)
	}
	if p.PartialExitQuantity < 0 {
		return fmt.Errorf("position %s: partial exit quantity is negative (%d)", p.ID, p.PartialExitQuantity)
	}
	if p.RemainingQuantity+p.PartialExitQuantity != p.Quantity && p.Status != StatusClosed {
		return fmt.Errorf("position %s: quantity not conserved: remaining %d + partial %d != total %d",
			p.ID, p.RemainingQuantity, p.PartialExitQuantity, p.Quantity)
	}
	if p.Status == StatusClosed && p.RemainingQuantity != 0 {
		return fmt.Errorf("position %s: closed with remaining quantity %d", p.ID, p.RemainingQuantity)
	}
	if p.RemainingQuantity == 0 && p.Status.Open() {
		return fmt.Errorf("position %s: zero remaining quantity but status %s", p.ID, p.Status)
	}
	if p.Status.Open() && p.EntryTime.IsZero() {
		return fmt.Errorf("position %s: open without entry time", p.ID)
	}
	if p.Status == StatusClosed && p.ExitReason == "" {
		return fmt.Errorf("position %s: closed without exit reason", p.ID)
	}
	return nil
}
