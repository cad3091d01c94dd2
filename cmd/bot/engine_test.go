package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mchlabs/niftybot/internal/broker"
	"github.com/mchlabs/niftybot/internal/config"
	"github.com/mchlabs/niftybot/internal/models"
	"github.com/mchlabs/niftybot/internal/notify"
	"github.com/mchlabs/niftybot/internal/pricing"
	"github.com/mchlabs/niftybot/internal/storage"
)

// scriptedFeed replays a fixed snapshot sequence and quotes with
// Black-Scholes at the current row's VIX.
type scriptedFeed struct {
	rows []models.MarketSnapshot
	idx  int
	cur  models.MarketSnapshot
}

func (f *scriptedFeed) IsMarketOpen() bool { return true }

func (f *scriptedFeed) Snapshot(context.Context) (models.MarketSnapshot, error) {
	if f.idx >= len(f.rows) {
		f.idx = len(f.rows) - 1 // hold the last row
	}
	f.cur = f.rows[f.idx]
	f.idx++
	return f.cur, nil
}

func (f *scriptedFeed) OptionQuote(strike float64, ot models.OptionType, expiry time.Time) (float64, bool) {
	t := expiry.Sub(f.cur.Timestamp).Hours() / 24 / 365
	if t <= 0 {
		return 0, false
	}
	return pricing.Price(f.cur.Spot, strike, t, 0.06, f.cur.VIX/100, ot), true
}

func engineConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: config.EnvironmentConfig{Mode: "paper", LogLevel: "error"},
		Instrument:  config.InstrumentConfig{Symbol: "NIFTY", LotSize: 75, StrikeStep: 50, ExpiryWeekday: int(time.Thursday)},
		Regime: config.RegimeConfig{
			ADXTrending: 25, ADXRanging: 20, VIXVolatile: 20, ATRPercentileHigh: 80,
		},
		Entry: config.EntryConfig{
			DTEMin: 10, DTEMax: 14,
			StrikeDistanceMin: 100, StrikeDistanceMax: 200,
			ADXThreshold: 25, EMAPeriod: 21, RSIMax: 70,
			IVPercentileMax: 60, MinConfidence: 70,
		},
		Exit: config.ExitConfig{
			ProfitTargetPct: 75, PartialExitPct: 0.50, StopLossPct: 0.30,
			TimeExitDTE: 4, MidweekWeekday: int(time.Wednesday),
			MidweekCutoff: "14:00", IVCrushThreshold: 0.20, TrailingMethod: "spot_move",
		},
		Condor: config.CondorConfig{
			TargetDistance: 300, WingWidth: 400, MinCreditPerIC: 200,
			MinOTMDistance: 200, MaxOTMDistance: 500, TargetDelta: 0.15,
		},
		Risk: config.RiskConfig{
			Capital: 500000, MaxCapitalPerTrade: 0.35, MaxCapitalPerTrade2: 0.45,
			MaxLossPerTrade: 100000, MaxDailyLoss: 120000, MaxWeeklyLoss: 200000,
			MaxPositions: 2, WeekendMaxCapital: 0.25, EventMaxCapital: 0.20,
		},
		Broker:   config.BrokerConfig{Mode: "paper"},
		Telegram: config.TelegramConfig{Mode: "AUTO"},
	}
}

// vetoBroker passes orders through to the wrapped broker except those whose
// tag matches rejectTag, which come back rejected.
type vetoBroker struct {
	broker.Broker
	rejectTag string
}

func (b *vetoBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	if b.rejectTag != "" && req.Tag == b.rejectTag {
		return broker.OrderResult{Success: false, Error: "exchange rejected"}, nil
	}
	return b.Broker.PlaceOrder(ctx, req)
}

func newTestEngine(t *testing.T, feed *scriptedFeed) (*Engine, *storage.JSONStore) {
	t.Helper()
	return newTestEngineWithBroker(t, feed, broker.NewPaperBroker(0, 0, zerolog.Nop()))
}

func newTestEngineWithBroker(t *testing.T, feed *scriptedFeed, brk broker.Broker) (*Engine, *storage.JSONStore) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewJSONStore(filepath.Join(dir, "state.json"), filepath.Join(dir, "trades.jsonl"))
	require.NoError(t, err)

	engine, err := NewEngine(engineConfig(t), feed, brk, store, notify.Auto{}, nil, zerolog.Nop())
	require.NoError(t, err)
	engine.tradingGate = nil
	return engine, store
}

// trendingRow is a clean bullish momentum bar: strong ADX, price over EMA,
// calm VIX, neutral RSI.
func trendingRow(at time.Time) models.MarketSnapshot {
	return models.MarketSnapshot{
		Timestamp: at, Spot: 23500, EMA: 23300,
		VIX: 12, ADX: 34, DIPlus: 30, DIMinus: 12,
		RSI: 55, ATR: 120, ATRPercentile: 40, IVPercentile: 40,
	}
}

func rangingRow(at time.Time) models.MarketSnapshot {
	return models.MarketSnapshot{
		Timestamp: at, Spot: 23500, EMA: 23490,
		VIX: 12, ADX: 14, DIPlus: 21, DIMinus: 19,
		RSI: 50, ATR: 80, ATRPercentile: 30, IVPercentile: 45,
	}
}

func TestEngineMomentumEntryAfterStability(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	feed := &scriptedFeed{rows: []models.MarketSnapshot{
		trendingRow(start),
		trendingRow(start.Add(time.Minute)),
	}}
	engine, _ := newTestEngine(t, feed)
	ctx := context.Background()

	// First cycle: regime just flipped, debounce blocks the entry.
	require.NoError(t, engine.Cycle(ctx))
	assert.Empty(t, engine.posMgr.Open())

	// Second consecutive trending cycle opens a call.
	require.NoError(t, engine.Cycle(ctx))
	open := engine.posMgr.Open()
	require.Len(t, open, 1)
	assert.Equal(t, models.OptionCall, open[0].OptionType)
	assert.Equal(t, 23650.0, open[0].Strike)
	assert.Equal(t, 0, open[0].Quantity%75)
	assert.Nil(t, engine.openCondor, "condor must stay out of a trending market")
}

func TestEngineCondorEntryInRange(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	feed := &scriptedFeed{rows: []models.MarketSnapshot{
		rangingRow(start),
		rangingRow(start.Add(time.Minute)),
	}}
	engine, _ := newTestEngine(t, feed)
	ctx := context.Background()

	require.NoError(t, engine.Cycle(ctx))
	require.NoError(t, engine.Cycle(ctx))

	require.NotNil(t, engine.openCondor)
	ic := engine.openCondor.Condor
	assert.Equal(t, 23200.0, ic.ShortPut())
	assert.Equal(t, 23800.0, ic.ShortCall())
	assert.Empty(t, engine.posMgr.Open(), "momentum must stay out of a ranging market")

	// Only one condor at a time.
	require.NoError(t, engine.Cycle(ctx))
	require.NotNil(t, engine.openCondor)
}

func TestEngineCondorSurvivesFailedClose(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	feed := &scriptedFeed{rows: []models.MarketSnapshot{
		rangingRow(start),
		rangingRow(start.Add(time.Minute)),
		trendingRow(start.Add(2 * time.Minute)),
		trendingRow(start.Add(3 * time.Minute)),
		trendingRow(start.Add(4 * time.Minute)),
	}}
	veto := &vetoBroker{Broker: broker.NewPaperBroker(0, 0, zerolog.Nop()), rejectTag: "condor_close"}
	engine, _ := newTestEngineWithBroker(t, feed, veto)
	ctx := context.Background()

	// Two ranging cycles open the condor.
	require.NoError(t, engine.Cycle(ctx))
	require.NoError(t, engine.Cycle(ctx))
	require.NotNil(t, engine.openCondor)

	// Regime shifts to trending; once stable the close fires, but every
	// close order is rejected. The condor must stay tracked.
	require.NoError(t, engine.Cycle(ctx))
	require.NoError(t, engine.Cycle(ctx))
	require.NotNil(t, engine.openCondor, "a failed close must not drop the condor")
	assert.True(t, engine.openCondor.Closing())
	for _, closed := range engine.openCondor.LegClosed {
		assert.False(t, closed)
	}

	// Broker recovers; the next cycle completes the close.
	veto.rejectTag = ""
	require.NoError(t, engine.Cycle(ctx))
	assert.Nil(t, engine.openCondor)
}

func TestEngineCondorRestoredAfterRestart(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	feed := &scriptedFeed{rows: []models.MarketSnapshot{
		rangingRow(start),
		rangingRow(start.Add(time.Minute)),
	}}
	engine, store := newTestEngine(t, feed)
	ctx := context.Background()

	require.NoError(t, engine.Cycle(ctx))
	require.NoError(t, engine.Cycle(ctx))
	require.NotNil(t, engine.openCondor)
	wantCredit := engine.openCondor.EntryCredit

	// Restart over the same state file.
	feed2 := &scriptedFeed{rows: []models.MarketSnapshot{rangingRow(start.Add(2 * time.Minute))}}
	engine2, err := NewEngine(engineConfig(t), feed2, broker.NewPaperBroker(0, 0, zerolog.Nop()),
		store, notify.Auto{}, nil, zerolog.Nop())
	require.NoError(t, err)
	engine2.tradingGate = nil

	require.NotNil(t, engine2.openCondor)
	assert.InDelta(t, wantCredit, engine2.openCondor.EntryCredit, 1e-9)

	// The restored exposure is booked with the risk manager again.
	st := engine2.riskMgr.Status(start)
	assert.Equal(t, 1, st.OpenPositions)
	assert.Positive(t, st.CurrentExposure)

	// A further ranging cycle must not stack a second condor.
	require.NoError(t, engine2.Cycle(ctx))
	require.NotNil(t, engine2.openCondor)
	assert.InDelta(t, wantCredit, engine2.openCondor.EntryCredit, 1e-9)
}

func TestEngineStatePersisted(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	feed := &scriptedFeed{rows: []models.MarketSnapshot{
		trendingRow(start),
		trendingRow(start.Add(time.Minute)),
	}}
	engine, store := newTestEngine(t, feed)
	ctx := context.Background()

	require.NoError(t, engine.Cycle(ctx))
	require.NoError(t, engine.Cycle(ctx))

	state, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "active", state.Mode)
	require.Len(t, state.Positions, 1)
	require.NoError(t, state.Positions[0].ValidateState())
}
