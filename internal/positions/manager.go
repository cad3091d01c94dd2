// Package positions owns the lifecycle of momentum option positions: entry
// construction, fills, partial and full exits, and mark-to-market. Expiry is
// fixed at entry; there is intentionally no operation that rolls a position
// to a later expiry.
package positions

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mchlabs/niftybot/internal/broker"
	"github.com/mchlabs/niftybot/internal/config"
	"github.com/mchlabs/niftybot/internal/models"
	"github.com/mchlabs/niftybot/internal/util"
)

// QuoteFunc returns the live premium for an option, or ok=false when no
// quote is available and the estimator should be used instead.
type QuoteFunc func(strike float64, optType models.OptionType, expiry time.Time) (float64, bool)

// EntryParams carries everything the manager needs to open a position.
type EntryParams struct {
	Spot         float64
	OptionType   models.OptionType
	SizeBudget   float64 // capital allocated by the risk manager
	Confidence   float64
	IVPercentile float64
	Now          time.Time
	Quote        QuoteFunc // optional

	// RiskCheck validates the fully-sized position (actual premium outlay
	// and worst case at the stop) before any order is placed. Optional.
	RiskCheck func(value, maxLoss float64) (bool, string)
}

// Manager tracks open positions and applies entries and exits through the
// broker.
type Manager struct {
	mu     sync.Mutex
	entry  config.EntryConfig
	exit   config.ExitConfig
	inst   config.InstrumentConfig
	broker broker.Broker
	logger zerolog.Logger

	positions map[string]*models.Position
	seq       int
}

// NewManager creates a position manager.
func NewManager(entry config.EntryConfig, exit config.ExitConfig, inst config.InstrumentConfig,
	brk broker.Broker, logger zerolog.Logger) *Manager {
	return &Manager{
		entry:     entry,
		exit:      exit,
		inst:      inst,
		broker:    brk,
		logger:    logger.With().Str("component", "positions").Logger(),
		positions: make(map[string]*models.Position),
	}
}

// nextID generates a position ID like POS_20260829143000_001. Callers must
// hold the mutex.
func (m *Manager) nextID(now time.Time) string {
	m.seq++
	return fmt.Sprintf("POS_%s_%03d", now.Format("20060102150405"), m.seq)
}

// NextExpiry returns the upcoming weekly expiry, skipping one week forward
// when the nearest expiry is inside the minimum DTE window.
func (m *Manager) NextExpiry(now time.Time) time.Time {
	daysAhead := (m.inst.ExpiryWeekday - int(now.Weekday()) + 7) % 7
	if daysAhead == 0 {
		daysAhead = 7
	}
	expiry := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).
		AddDate(0, 0, daysAhead)

	if dte := int(expiry.Sub(now).Hours() / 24); dte < m.entry.DTEMin {
		expiry = expiry.AddDate(0, 0, 7)
	}
	return expiry
}

// SelectStrike picks the OTM strike at the midpoint of the configured
// distance band, above spot for calls and below for puts, snapped to the
// strike grid.
func (m *Manager) SelectStrike(spot float64, optType models.OptionType) float64 {
	dist := float64(m.entry.StrikeDistanceMin+m.entry.StrikeDistanceMax) / 2
	if optType == models.OptionCall {
		return util.RoundToStep(spot+dist, m.inst.StrikeStep)
	}
	return util.RoundToStep(spot-dist, m.inst.StrikeStep)
}

// EstimatePremium is the quote fallback: a rough OTM premium model scaled by
// time to expiry and the IV percentile.
func (m *Manager) EstimatePremium(spot, strike float64, dte int, ivPercentile float64) float64 {
	otm := math.Abs(strike - spot)
	base := math.Max(50, 500-otm*1.5)
	return base * float64(dte) / 14 * (1 + (ivPercentile-50)/100)
}

// Enter opens a new position: picks strike and expiry, sizes to the capital
// budget in whole lots, submits the entry order and registers the fill.
func (m *Manager) Enter(ctx context.Context, p EntryParams) (*models.Position, error) {
	expiry := m.NextExpiry(p.Now)
	strike := m.SelectStrike(p.Spot, p.OptionType)
	dte := int(expiry.Sub(p.Now).Hours() / 24)

	premium := 0.0
	if p.Quote != nil {
		if q, ok := p.Quote(strike, p.OptionType, expiry); ok {
			premium = q
		}
	}
	if premium <= 0 {
		premium = m.EstimatePremium(p.Spot, strike, dte, p.IVPercentile)
	}

	lot := m.inst.LotSize
	lots := int(math.Max(1, math.Floor(p.SizeBudget/(premium*float64(lot)))))
	quantity := lots * lot

	// The one-lot floor can push the real outlay past the sizing budget, so
	// risk validation runs on the constructed position, not the budget.
	if p.RiskCheck != nil {
		value := premium * float64(quantity)
		maxLoss := premium * m.exit.StopLossPct * float64(quantity)
		if ok, reason := p.RiskCheck(value, maxLoss); !ok {
			m.logger.Warn().Str("reason", reason).Msg("entry rejected by risk")
			return nil, fmt.Errorf("entry rejected by risk: %s", reason)
		}
	}

	m.mu.Lock()
	id := m.nextID(p.Now)
	m.mu.Unlock()

	pos := models.NewPosition(id, m.inst.Symbol, strike, expiry, p.OptionType, quantity, lots)
	pos.EntrySpot = p.Spot
	pos.EntryPremium = premium
	pos.EntryIVPercentile = p.IVPercentile
	pos.Confidence = p.Confidence
	pos.StopLoss = premium * (1 - m.exit.StopLossPct)

	res, err := m.broker.PlaceOrder(ctx, broker.OrderRequest{
		Instrument: m.inst.Symbol,
		Strike:     strike,
		Expiry:     expiry,
		OptionType: p.OptionType,
		Side:       models.SideBuy,
		Quantity:   quantity,
		Price:      premium,
		Tag:        id,
	})
	if err != nil {
		return nil, fmt.Errorf("placing entry order: %w", err)
	}
	if !res.Success {
		_ = pos.MarkFailed(res.Error)
		return nil, fmt.Errorf("entry order rejected: %s", res.Error)
	}

	if err := pos.MarkFilled(res.FillPrice, p.Now); err != nil {
		return nil, err
	}
	pos.StopLoss = pos.EntryPremium * (1 - m.exit.StopLossPct)

	m.mu.Lock()
	m.positions[pos.ID] = pos
	m.mu.Unlock()

	m.logger.Info().
		Str("position_id", pos.ID).
		Str("option_type", string(p.OptionType)).
		Float64("strike", strike).
		Time("expiry", expiry).
		Int("quantity", quantity).
		Float64("premium", pos.EntryPremium).
		Float64("confidence", p.Confidence).
		Msg("position opened")
	return pos, nil
}

// Exit applies an exit signal to a position. Partial exits round down to
// whole lots; a partial that rounds to zero is rejected rather than silently
// ignored.
func (m *Manager) Exit(ctx context.Context, id string, sig models.ExitSignal,
	currentPremium float64, now time.Time) (models.ExitResult, error) {
	m.mu.Lock()
	pos, ok := m.positions[id]
	m.mu.Unlock()
	if !ok {
		return models.ExitResult{}, fmt.Errorf("position %s not found", id)
	}

	switch sig.Action {
	case models.ExitPartial:
		return m.applyPartial(ctx, pos, sig, currentPremium, now)
	case models.ExitAll:
		return m.applyFull(ctx, pos, sig, currentPremium, now)
	default:
		return models.ExitResult{}, fmt.Errorf("position %s: exit called with action %s", id, sig.Action)
	}
}

func (m *Manager) applyPartial(ctx context.Context, pos *models.Position, sig models.ExitSignal,
	premium float64, now time.Time) (models.ExitResult, error) {
	lot := m.inst.LotSize
	exitQty := int(math.Floor(float64(pos.RemainingQuantity)*sig.Percentage/float64(lot))) * lot
	if exitQty <= 0 {
		return models.ExitResult{}, fmt.Errorf("position %s: partial exit rounds to zero lots (remaining %d, pct %.2f)",
			pos.ID, pos.RemainingQuantity, sig.Percentage)
	}

	res, err := m.sellQuantity(ctx, pos, exitQty, premium)
	if err != nil {
		return models.ExitResult{}, err
	}

	m.mu.Lock()
	pnl, err := pos.ApplyPartialExit(exitQty, res.FillPrice)
	m.mu.Unlock()
	if err != nil {
		return models.ExitResult{}, err
	}

	m.logger.Info().
		Str("position_id", pos.ID).
		Int("exit_quantity", exitQty).
		Int("remaining", pos.RemainingQuantity).
		Float64("pnl", pnl).
		Str("reason", sig.Reason).
		Msg("partial exit")
	return models.ExitResult{
		PositionID:        pos.ID,
		Action:            models.ExitPartial,
		ExitQuantity:      exitQty,
		RemainingQuantity: pos.RemainingQuantity,
		ExitPremium:       res.FillPrice,
		PnL:               pnl,
		Reason:            sig.Reason,
	}, nil
}

func (m *Manager) applyFull(ctx context.Context, pos *models.Position, sig models.ExitSignal,
	premium float64, now time.Time) (models.ExitResult, error) {
	exitQty := pos.RemainingQuantity
	res, err := m.sellQuantity(ctx, pos, exitQty, premium)
	if err != nil {
		return models.ExitResult{}, err
	}

	m.mu.Lock()
	pnl, err := pos.ApplyFullExit(res.FillPrice, sig.Reason, now)
	m.mu.Unlock()
	if err != nil {
		return models.ExitResult{}, err
	}

	returnPct := 0.0
	if nv := pos.NotionalValue(); nv > 0 {
		returnPct = pos.RealizedPnL / nv * 100
	}
	m.logger.Info().
		Str("position_id", pos.ID).
		Int("exit_quantity", exitQty).
		Float64("pnl", pnl).
		Float64("return_pct", returnPct).
		Str("reason", sig.Reason).
		Msg("position closed")
	return models.ExitResult{
		PositionID:   pos.ID,
		Action:       models.ExitAll,
		ExitQuantity: exitQty,
		ExitPremium:  res.FillPrice,
		PnL:          pnl,
		ReturnPct:    returnPct,
		Reason:       sig.Reason,
	}, nil
}

func (m *Manager) sellQuantity(ctx context.Context, pos *models.Position, qty int, premium float64) (broker.OrderResult, error) {
	res, err := m.broker.ClosePosition(ctx, broker.OrderRequest{
		Instrument: pos.Instrument,
		Strike:     pos.Strike,
		Expiry:     pos.Expiry,
		OptionType: pos.OptionType,
		Side:       models.SideSell,
		Quantity:   qty,
		Price:      premium,
		Tag:        pos.ID,
	})
	if err != nil {
		return broker.OrderResult{}, fmt.Errorf("placing exit order: %w", err)
	}
	if !res.Success {
		return broker.OrderResult{}, fmt.Errorf("exit order rejected: %s", res.Error)
	}
	return res, nil
}

// MarkToMarket refreshes unrealized P&L on every open position.
func (m *Manager) MarkToMarket(quote QuoteFunc) {
	if quote == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pos := range m.positions {
		if !pos.Status.Open() {
			continue
		}
		if premium, ok := quote(pos.Strike, pos.OptionType, pos.Expiry); ok {
			pos.UpdateUnrealized(premium)
		}
	}
}

// Open returns all positions with live exposure, sorted by ID for stable
// iteration.
func (m *Manager) Open() []*models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		if pos.Status.Open() {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a position by ID.
func (m *Manager) Get(id string) (*models.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[id]
	return pos, ok
}

// Restore re-registers positions loaded from storage, skipping any that fail
// invariant checks.
func (m *Manager) Restore(list []*models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pos := range list {
		if err := pos.ValidateState(); err != nil {
			return fmt.Errorf("restoring positions: %w", err)
		}
		m.positions[pos.ID] = pos
	}
	return nil
}
