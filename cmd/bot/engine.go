package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mchlabs/niftybot/internal/broker"
	"github.com/mchlabs/niftybot/internal/config"
	"github.com/mchlabs/niftybot/internal/marketdata"
	"github.com/mchlabs/niftybot/internal/models"
	"github.com/mchlabs/niftybot/internal/notify"
	"github.com/mchlabs/niftybot/internal/positions"
	"github.com/mchlabs/niftybot/internal/regime"
	"github.com/mchlabs/niftybot/internal/retry"
	"github.com/mchlabs/niftybot/internal/risk"
	"github.com/mchlabs/niftybot/internal/storage"
	"github.com/mchlabs/niftybot/internal/strategy"
)

// Engine wires every component together and drives one decision cycle at a
// time. The same engine runs live (wall clock, ticker) and in backtests
// (replayed clock, tight loop).
type Engine struct {
	cfg        *config.Config
	logger     zerolog.Logger
	feed       marketdata.Provider
	broker     broker.Broker
	controller *regime.Controller
	detector   *strategy.MomentumDetector
	scorer     *strategy.ConfidenceScorer
	condors    *strategy.CondorBuilder
	exits      *strategy.ExitHandler
	riskMgr    *risk.Manager
	posMgr     *positions.Manager
	store      storage.Interface
	notifier   notify.Notifier
	retrier    *retry.Client

	state       *storage.RuntimeState
	openCondor  *storage.CondorRecord
	clock       func() time.Time
	tradingGate func(time.Time) bool
}

// NewEngine assembles an engine from config. calendar may be nil (no event
// days).
func NewEngine(cfg *config.Config, feed marketdata.Provider, brk broker.Broker,
	store storage.Interface, notifier notify.Notifier, calendar risk.EventCalendar,
	logger zerolog.Logger) (*Engine, error) {

	state, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	posMgr := positions.NewManager(cfg.Entry, cfg.Exit, cfg.Instrument, brk, logger)
	if err := posMgr.Restore(state.Positions); err != nil {
		return nil, err
	}

	riskMgr := risk.NewManager(cfg.Risk, calendar, logger)
	for _, p := range state.Positions {
		if p.Status.Open() {
			riskMgr.RecordEntry(p.RemainingValue())
		}
	}
	if state.Condor != nil {
		ic := state.Condor.Condor
		riskMgr.RecordEntry(ic.MaxLoss() * float64(ic.Lots*ic.LotSize))
	}

	e := &Engine{
		cfg:        cfg,
		logger:     logger.With().Str("component", "engine").Logger(),
		feed:       feed,
		broker:     brk,
		controller: regime.NewController(regime.ThresholdsFromConfig(cfg.Regime), logger),
		detector:   strategy.NewMomentumDetector(cfg.Entry),
		scorer:     strategy.NewConfidenceScorer(cfg.Entry.MinConfidence),
		condors:    strategy.NewCondorBuilder(cfg.Condor, cfg.Instrument),
		exits:      strategy.NewExitHandler(cfg.Exit),
		riskMgr:    riskMgr,
		posMgr:     posMgr,
		store:      store,
		notifier:   notifier,
		retrier:    retry.NewClient(logger),
		state:      state,
		openCondor: state.Condor,
		clock:      time.Now,
	}
	e.tradingGate = cfg.IsWithinTradingHours
	return e, nil
}

// Cycle runs one full decision pass: classify, kill switch, exits, entries.
func (e *Engine) Cycle(ctx context.Context) error {
	snap, err := e.feed.Snapshot(ctx)
	if err != nil {
		return err
	}
	now := snap.Timestamp
	if now.IsZero() {
		now = e.clock()
	}

	decision := e.controller.Evaluate(snap)
	e.logger.Debug().
		Str("regime", string(decision.Regime)).
		Float64("confidence", decision.Confidence).
		Int("stability", decision.StabilityCount).
		Msg("cycle")

	// Kill switch comes before everything else.
	if halt, reason := e.riskMgr.ShouldCloseAll(now); halt {
		e.notifier.Notify(notify.SeverityAlert, "KILL SWITCH: "+reason)
		e.closeEverything(ctx, snap, now, "kill switch: "+reason)
		return e.persist()
	}

	e.posMgr.MarkToMarket(e.feed.OptionQuote)
	e.manageExits(ctx, snap, now)
	e.manageCondorExit(ctx, snap, now, decision)

	if e.feed.IsMarketOpen() && (e.tradingGate == nil || e.tradingGate(now)) {
		e.tryMomentumEntry(ctx, snap, decision, now)
		e.tryCondorEntry(ctx, snap, now)
	}

	return e.persist()
}

// manageExits walks every open position through the exit ladder.
func (e *Engine) manageExits(ctx context.Context, snap models.MarketSnapshot, now time.Time) {
	for _, pos := range e.posMgr.Open() {
		premium, ok := e.feed.OptionQuote(pos.Strike, pos.OptionType, pos.Expiry)
		if !ok {
			e.logger.Warn().Str("position_id", pos.ID).Msg("no quote, skipping exit check")
			continue
		}

		sig := e.exits.Evaluate(pos, strategy.ExitContext{
			Snapshot:       snap,
			CurrentPremium: premium,
			IVPercentile:   snap.IVPercentile,
			Now:            now,
		})
		if sig.Action == models.ExitHold {
			continue
		}

		e.executeExit(ctx, pos.ID, sig, premium, now)
	}
}

func (e *Engine) executeExit(ctx context.Context, id string, sig models.ExitSignal, premium float64, now time.Time) {
	var result models.ExitResult
	err := e.retrier.Do(ctx, "exit "+id, func() error {
		var err error
		result, err = e.posMgr.Exit(ctx, id, sig, premium, now)
		return err
	})
	if err != nil {
		e.logger.Error().Err(err).Str("position_id", id).Msg("exit failed")
		e.notifier.Notify(notify.SeverityAlert, fmt.Sprintf("exit failed for %s: %v", id, err))
		return
	}

	pos, _ := e.posMgr.Get(id)
	released := float64(result.ExitQuantity) * pos.EntryPremium
	e.riskMgr.RecordExit(released, result.PnL, result.Action == models.ExitAll, now)
	e.state.RecordExit(now, len(e.posMgr.Open()))

	if err := e.store.AppendTrade(storage.TradeRecord{
		Timestamp:  now,
		PositionID: id,
		Action:     result.Action,
		Side:       models.SideSell,
		Strike:     pos.Strike,
		OptionType: pos.OptionType,
		Quantity:   result.ExitQuantity,
		Premium:    result.ExitPremium,
		PnL:        result.PnL,
		Reason:     result.Reason,
	}); err != nil {
		e.logger.Error().Err(err).Msg("journaling exit")
	}

	e.notifier.Notify(notify.SeverityTrade, fmt.Sprintf("%s %s: P&L %.0f (%s)",
		result.Action, id, result.PnL, result.Reason))
}

// tryMomentumEntry attempts a directional entry when the controller allows it.
func (e *Engine) tryMomentumEntry(ctx context.Context, snap models.MarketSnapshot,
	decision models.RegimeDecision, now time.Time) {

	if ok, reason := e.controller.CanTrade(models.StrategyMomentum); !ok {
		e.logger.Debug().Str("reason", reason).Msg("momentum entry blocked")
		return
	}

	sig := e.detector.Detect(snap)
	if !sig.Signal {
		e.logger.Debug().Str("reason", sig.Reason).Msg("no momentum signal")
		return
	}

	score := e.scorer.Score(snap, decision.Confidence, sig.Factors)
	if ok, reason := e.scorer.ShouldTrade(score); !ok {
		e.logger.Info().Str("reason", reason).Msg("entry skipped")
		return
	}

	optType := models.OptionCall
	if sig.Direction == strategy.DirectionBearish {
		optType = models.OptionPut
	}

	budget := e.riskMgr.PositionSize(score.Total, score.SizeMultiplier, now)

	if e.cfg.Telegram.Mode == "CONFIRM" {
		prompt := fmt.Sprintf("Enter %s %s? confidence %.0f, budget %.0f",
			sig.Direction, optType, score.Total, budget)
		if !e.notifier.RequestConfirmation(ctx, prompt, e.cfg.ConfirmTimeout()) {
			e.logger.Info().Msg("entry not confirmed, skipping")
			return
		}
	}

	pos, err := e.posMgr.Enter(ctx, positions.EntryParams{
		Spot:         snap.Spot,
		OptionType:   optType,
		SizeBudget:   budget,
		Confidence:   score.Total,
		IVPercentile: snap.IVPercentile,
		Now:          now,
		Quote:        e.feed.OptionQuote,
		RiskCheck: func(value, maxLoss float64) (bool, string) {
			return e.riskMgr.ValidateEntry(value, maxLoss, now)
		},
	})
	if err != nil {
		e.logger.Error().Err(err).Msg("entry failed")
		return
	}

	e.riskMgr.RecordEntry(pos.NotionalValue())
	e.state.RecordEntry(now)

	if err := e.store.AppendTrade(storage.TradeRecord{
		Timestamp:  now,
		PositionID: pos.ID,
		Side:       models.SideBuy,
		Strike:     pos.Strike,
		OptionType: pos.OptionType,
		Quantity:   pos.Quantity,
		Premium:    pos.EntryPremium,
		Reason:     fmt.Sprintf("momentum %s, confidence %.0f", sig.Direction, score.Total),
	}); err != nil {
		e.logger.Error().Err(err).Msg("journaling entry")
	}

	e.notifier.Notify(notify.SeverityTrade, fmt.Sprintf("Opened %s %.0f %s x%d @ %.2f",
		pos.Instrument, pos.Strike, pos.OptionType, pos.Quantity, pos.EntryPremium))
}

// tryCondorEntry opens one condor at a time when the controller allows it.
func (e *Engine) tryCondorEntry(ctx context.Context, snap models.MarketSnapshot, now time.Time) {
	if e.openCondor != nil {
		return
	}
	if ok, reason := e.controller.CanTrade(models.StrategyCondor); !ok {
		e.logger.Debug().Str("reason", reason).Msg("condor entry blocked")
		return
	}

	expiry := e.posMgr.NextExpiry(now)
	ic, err := e.condors.Build(snap.Spot, expiry, 1, func(strike float64, ot models.OptionType) float64 {
		q, _ := e.feed.OptionQuote(strike, ot, expiry)
		return q
	})
	if err != nil {
		e.logger.Info().Err(err).Msg("condor not built")
		return
	}

	qty := ic.Lots * ic.LotSize
	maxLoss := ic.MaxLoss() * float64(qty)
	if ok, reason := e.riskMgr.ValidateEntry(maxLoss, maxLoss, now); !ok {
		e.logger.Info().Str("reason", reason).Msg("condor rejected by risk")
		return
	}

	reqs := make([]broker.OrderRequest, 0, 4)
	for _, leg := range ic.Legs {
		reqs = append(reqs, broker.OrderRequest{
			Instrument: e.cfg.Instrument.Symbol,
			Strike:     leg.Strike,
			Expiry:     expiry,
			OptionType: leg.OptionType,
			Side:       leg.Side,
			Quantity:   qty,
			Price:      leg.Premium,
			Tag:        "condor",
		})
	}
	results, err := e.broker.PlaceBasket(ctx, reqs)
	if err != nil || len(results) != len(reqs) || !allFilled(results) {
		e.logger.Error().Err(err).Msg("condor basket incomplete, unwinding")
		e.unwindLegs(ctx, reqs, results, now)
		return
	}

	credit := 0.0
	for i, res := range results {
		signed := res.FillPrice
		if reqs[i].Side == models.SideBuy {
			signed = -signed
		}
		credit += signed
		if err := e.store.AppendTrade(storage.TradeRecord{
			Timestamp:  now,
			PositionID: "CONDOR",
			Side:       reqs[i].Side,
			Strike:     reqs[i].Strike,
			OptionType: reqs[i].OptionType,
			Quantity:   qty,
			Premium:    res.FillPrice,
			Reason:     "condor entry",
		}); err != nil {
			e.logger.Error().Err(err).Msg("journaling condor leg")
		}
	}

	e.openCondor = &storage.CondorRecord{Condor: ic, EntryCredit: credit, EntryTime: now}
	e.riskMgr.RecordEntry(maxLoss)
	e.state.RecordEntry(now)
	e.notifier.Notify(notify.SeverityTrade, fmt.Sprintf(
		"Condor opened %0.f/%0.f/%0.f/%0.f, credit %.2f/unit",
		ic.LongPut(), ic.ShortPut(), ic.ShortCall(), ic.LongCall(), credit))
}

// manageCondorExit closes the condor when its regime ends or expiry nears.
func (e *Engine) manageCondorExit(ctx context.Context, snap models.MarketSnapshot,
	now time.Time, decision models.RegimeDecision) {
	if e.openCondor == nil {
		return
	}

	// A close already underway keeps going until every leg is out, even if
	// the trigger condition has meanwhile gone away.
	if e.openCondor.Closing() {
		e.closeCondor(ctx, now, e.openCondor.CloseReason)
		return
	}

	dte := int(e.openCondor.Condor.Expiry.Sub(now).Hours() / 24)
	var reason string
	switch {
	case dte <= e.cfg.Exit.TimeExitDTE:
		reason = fmt.Sprintf("condor time exit: %d DTE", dte)
	case !decision.CondorEnabled && decision.StabilityCount >= 2:
		reason = fmt.Sprintf("regime shifted to %s", decision.Regime)
	default:
		return
	}

	e.closeCondor(ctx, now, reason)
}

// closeCondor reverses the remaining legs, tracking completion per leg. The
// condor stays tracked until every close order is confirmed; rejected legs
// are retried on the next cycle, so a failed close never drops exposure.
func (e *Engine) closeCondor(ctx context.Context, now time.Time, reason string) {
	oc := e.openCondor
	ic := oc.Condor
	qty := ic.Lots * ic.LotSize
	if oc.CloseReason == "" {
		oc.CloseReason = reason
	}
	if len(oc.LegClosed) != len(ic.Legs) {
		oc.LegClosed = make([]bool, len(ic.Legs))
	}

	for i, leg := range ic.Legs {
		if oc.LegClosed[i] {
			continue
		}
		closeSide := models.SideBuy
		if leg.Side == models.SideBuy {
			closeSide = models.SideSell
		}
		q, ok := e.feed.OptionQuote(leg.Strike, leg.OptionType, ic.Expiry)
		if !ok {
			q = leg.Premium
		}

		i, leg := i, leg
		err := e.retrier.Do(ctx, "close condor leg", func() error {
			res, err := e.broker.PlaceOrder(ctx, broker.OrderRequest{
				Instrument: e.cfg.Instrument.Symbol,
				Strike:     leg.Strike,
				Expiry:     ic.Expiry,
				OptionType: leg.OptionType,
				Side:       closeSide,
				Quantity:   qty,
				Price:      q,
				Tag:        "condor_close",
			})
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("close rejected: %s", res.Error)
			}
			oc.LegClosed[i] = true
			if closeSide == models.SideBuy {
				oc.CloseDebit += res.FillPrice
			} else {
				oc.CloseDebit -= res.FillPrice
			}
			return nil
		})
		if err != nil {
			e.logger.Error().Err(err).Float64("strike", leg.Strike).Msg("condor leg close failed")
		}
	}

	for _, closed := range oc.LegClosed {
		if !closed {
			e.notifier.Notify(notify.SeverityAlert,
				"Condor close incomplete, open legs will be retried next cycle")
			return
		}
	}

	pnl := (oc.EntryCredit - oc.CloseDebit) * float64(qty)
	maxLoss := ic.MaxLoss() * float64(qty)
	e.riskMgr.RecordExit(maxLoss, pnl, true, now)
	e.state.RecordExit(now, len(e.posMgr.Open()))
	e.notifier.Notify(notify.SeverityTrade, fmt.Sprintf("Condor closed: P&L %.0f (%s)", pnl, oc.CloseReason))

	if err := e.store.AppendTrade(storage.TradeRecord{
		Timestamp:  now,
		PositionID: "CONDOR",
		Action:     models.ExitAll,
		Side:       models.SideBuy,
		Quantity:   qty,
		Premium:    oc.CloseDebit,
		PnL:        pnl,
		Reason:     oc.CloseReason,
	}); err != nil {
		e.logger.Error().Err(err).Msg("journaling condor close")
	}
	e.openCondor = nil
}

// closeEverything flattens all open exposure, highest priority first.
func (e *Engine) closeEverything(ctx context.Context, snap models.MarketSnapshot, now time.Time, reason string) {
	for _, pos := range e.posMgr.Open() {
		premium, ok := e.feed.OptionQuote(pos.Strike, pos.OptionType, pos.Expiry)
		if !ok {
			premium = pos.EntryPremium
		}
		e.executeExit(ctx, pos.ID, models.ExitSignal{
			Action:   models.ExitAll,
			Reason:   reason,
			Priority: "kill_switch",
		}, premium, now)
	}
	if e.openCondor != nil {
		e.closeCondor(ctx, now, reason)
	}
}

func (e *Engine) persist() error {
	open := e.posMgr.Open()
	e.state.Positions = make([]*models.Position, len(open))
	copy(e.state.Positions, open)
	e.state.Condor = e.openCondor
	return e.store.Save(e.state)
}

func allFilled(results []broker.OrderResult) bool {
	for _, r := range results {
		if !r.Success {
			return false
		}
	}
	return true
}

// unwindLegs reverses any legs that did fill from a partially-failed basket.
func (e *Engine) unwindLegs(ctx context.Context, reqs []broker.OrderRequest,
	results []broker.OrderResult, now time.Time) {
	for i, res := range results {
		if !res.Success {
			continue
		}
		side := models.SideBuy
		if reqs[i].Side == models.SideBuy {
			side = models.SideSell
		}
		req := reqs[i]
		req.Side = side
		req.Tag = "condor_unwind"
		if err := e.retrier.Do(ctx, "unwind condor leg", func() error {
			r, err := e.broker.PlaceOrder(ctx, req)
			if err != nil {
				return err
			}
			if !r.Success {
				return fmt.Errorf("unwind rejected: %s", r.Error)
			}
			return nil
		}); err != nil {
			e.logger.Error().Err(err).Float64("strike", req.Strike).Msg("unwind failed, manual intervention needed")
			e.notifier.Notify(notify.SeverityAlert,
				fmt.Sprintf("UNWIND FAILED %s %.0f, close manually", req.OptionType, req.Strike))
		}
	}
}
