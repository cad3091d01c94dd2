// Package config provides configuration management for the trading bot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Defaults applied by normalize() when a field is unset.
const (
	defaultCheckInterval   = "60s"
	defaultTimezone        = "Asia/Kolkata"
	defaultStrikeStep      = 50.0
	defaultLotSize         = 75
	defaultMinConfidence   = 70.0
	defaultTimeExitDTE     = 4
	defaultConfirmTimeout  = "120s"
	defaultNotifyQueueSize = 50
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Instrument  InstrumentConfig  `yaml:"instrument"`
	Regime      RegimeConfig      `yaml:"regime"`
	Entry       EntryConfig       `yaml:"entry"`
	Exit        ExitConfig        `yaml:"exit"`
	Condor      CondorConfig      `yaml:"condor"`
	Risk        RiskConfig        `yaml:"risk"`
	Broker      BrokerConfig      `yaml:"broker"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Storage     StorageConfig     `yaml:"storage"`
	Backtest    BacktestConfig    `yaml:"backtest"`
}

// EnvironmentConfig defines the runtime environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// InstrumentConfig identifies the traded index and its contract parameters.
type InstrumentConfig struct {
	Symbol        string  `yaml:"symbol"`
	LotSize       int     `yaml:"lot_size"`
	StrikeStep    float64 `yaml:"strike_step"`
	ExpiryWeekday int     `yaml:"expiry_weekday"` // 0=Sunday .. 6=Saturday; NIFTY weeklies expire Thursday (4)
}

// RegimeConfig holds the regime classifier thresholds.
type RegimeConfig struct {
	ADXTrending       float64 `yaml:"adx_trending"`
	ADXRanging        float64 `yaml:"adx_ranging"`
	VIXVolatile       float64 `yaml:"vix_volatile"`
	ATRPercentileHigh float64 `yaml:"atr_percentile_high"`
}

// EntryConfig defines momentum entry criteria.
type EntryConfig struct {
	DTEMin            int     `yaml:"dte_min"`
	DTEMax            int     `yaml:"dte_max"`
	StrikeDistanceMin int     `yaml:"strike_distance_min"`
	StrikeDistanceMax int     `yaml:"strike_distance_max"`
	ADXThreshold      float64 `yaml:"adx_threshold"`
	EMAPeriod         int     `yaml:"ema_period"`
	RSIMax            float64 `yaml:"rsi_max"`
	IVPercentileMax   float64 `yaml:"iv_percentile_max"`
	MinConfidence     float64 `yaml:"min_confidence"`
}

// ExitConfig defines the exit handler parameters.
type ExitConfig struct {
	ProfitTargetPct  float64 `yaml:"profit_target_pct"` // e.g. 75 (percent)
	PartialExitPct   float64 `yaml:"partial_exit_pct"`  // fraction of remaining, e.g. 0.50
	StopLossPct      float64 `yaml:"stop_loss_pct"`     // fraction of entry premium, e.g. 0.30
	TimeExitDTE      int     `yaml:"time_exit_dte"`
	MidweekExit      bool    `yaml:"midweek_exit"`
	MidweekWeekday   int     `yaml:"midweek_weekday"` // default Wednesday (3)
	MidweekCutoff    string  `yaml:"midweek_cutoff"`  // "HH:MM", default 14:00
	IVCrushThreshold float64 `yaml:"iv_crush_threshold"`
	TrailingMethod   string  `yaml:"trailing_method"` // spot_move | atr
}

// CondorConfig defines iron condor construction parameters.
type CondorConfig struct {
	TargetDistance float64 `yaml:"target_distance"`
	WingWidth      float64 `yaml:"wing_width"`
	MinCreditPerIC float64 `yaml:"min_credit_per_ic"`
	MinOTMDistance float64 `yaml:"min_otm_distance"`
	MaxOTMDistance float64 `yaml:"max_otm_distance"`
	TargetDelta    float64 `yaml:"target_delta"`
}

// RiskConfig defines capital allocation and loss limits.
type RiskConfig struct {
	Capital             float64 `yaml:"capital"`
	MaxCapitalPerTrade  float64 `yaml:"max_capital_per_trade_base"` // base allocation, e.g. 0.35
	MaxCapitalPerTrade2 float64 `yaml:"max_capital_per_trade_max"`  // high-confidence allocation, e.g. 0.45
	MaxLossPerTrade     float64 `yaml:"max_loss_per_trade"`
	MaxDailyLoss        float64 `yaml:"max_daily_loss"`
	MaxWeeklyLoss       float64 `yaml:"max_weekly_loss"`
	MaxPositions        int     `yaml:"max_positions"`
	WeekendMaxCapital   float64 `yaml:"weekend_max_capital"`
	EventMaxCapital     float64 `yaml:"event_max_capital"`
}

// BrokerConfig defines execution settings.
type BrokerConfig struct {
	Mode              string  `yaml:"mode"` // paper (live brokers plug in behind the Broker interface)
	SlippageRate      float64 `yaml:"slippage_rate"`
	BrokeragePerOrder float64 `yaml:"brokerage_per_order"`
}

// ScheduleConfig defines the polling schedule and market hours.
type ScheduleConfig struct {
	CheckInterval string `yaml:"check_interval"`
	Timezone      string `yaml:"timezone"`
	TradingStart  string `yaml:"trading_start"` // "HH:MM"
	TradingEnd    string `yaml:"trading_end"`   // "HH:MM"
}

// TelegramConfig defines notifier settings. Token and chat ID are normally
// supplied via ${TELEGRAM_BOT_TOKEN} / ${TELEGRAM_CHAT_ID} expansion.
type TelegramConfig struct {
	Enabled        bool   `yaml:"enabled"`
	BotToken       string `yaml:"bot_token"`
	ChatID         int64  `yaml:"chat_id"`
	Mode           string `yaml:"mode"` // AUTO | CONFIRM
	ConfirmTimeout string `yaml:"confirm_timeout"`
	QueueSize      int    `yaml:"queue_size"`
}

// StorageConfig defines paths for the runtime state record and trade journal.
type StorageConfig struct {
	StatePath   string `yaml:"state_path"`
	JournalPath string `yaml:"journal_path"`
}

// BacktestConfig defines offline replay parameters.
type BacktestConfig struct {
	RiskFreeRate     float64 `yaml:"risk_free_rate"`
	DefaultIV        float64 `yaml:"default_iv"`
	CommissionPerLot float64 `yaml:"commission_per_lot"`
}

// Load reads, expands and validates the configuration file.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables (credentials live in the environment)
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.normalize()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// normalize fills unset fields with defaults before validation.
func (c *Config) normalize() {
	if c.Schedule.CheckInterval == "" {
		c.Schedule.CheckInterval = defaultCheckInterval
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = defaultTimezone
	}
	if c.Instrument.StrikeStep == 0 {
		c.Instrument.StrikeStep = defaultStrikeStep
	}
	if c.Instrument.LotSize == 0 {
		c.Instrument.LotSize = defaultLotSize
	}
	if c.Instrument.ExpiryWeekday == 0 {
		c.Instrument.ExpiryWeekday = int(time.Thursday)
	}
	if c.Entry.MinConfidence == 0 {
		c.Entry.MinConfidence = defaultMinConfidence
	}
	if c.Exit.TimeExitDTE == 0 {
		c.Exit.TimeExitDTE = defaultTimeExitDTE
	}
	if c.Exit.MidweekWeekday == 0 {
		c.Exit.MidweekWeekday = int(time.Wednesday)
	}
	if c.Exit.MidweekCutoff == "" {
		c.Exit.MidweekCutoff = "14:00"
	}
	if c.Exit.TrailingMethod == "" {
		c.Exit.TrailingMethod = "spot_move"
	}
	if c.Telegram.ConfirmTimeout == "" {
		c.Telegram.ConfirmTimeout = defaultConfirmTimeout
	}
	if c.Telegram.QueueSize == 0 {
		c.Telegram.QueueSize = defaultNotifyQueueSize
	}
	if c.Telegram.Mode == "" {
		c.Telegram.Mode = "AUTO"
	}
	if c.Storage.StatePath == "" {
		c.Storage.StatePath = ".runtime/state.json"
	}
	if c.Storage.JournalPath == "" {
		c.Storage.JournalPath = ".runtime/trades.jsonl"
	}
	if c.Backtest.RiskFreeRate == 0 {
		c.Backtest.RiskFreeRate = 0.06
	}
	if c.Backtest.DefaultIV == 0 {
		c.Backtest.DefaultIV = 0.18
	}
}

// Validate checks that all configuration values are valid and consistent.
// Any error here is fatal at startup: the bot must not trade on a bad config.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if c.Instrument.Symbol == "" {
		return fmt.Errorf("instrument.symbol is required")
	}
	if c.Instrument.LotSize <= 0 {
		return fmt.Errorf("instrument.lot_size must be > 0")
	}
	if c.Instrument.StrikeStep <= 0 {
		return fmt.Errorf("instrument.strike_step must be > 0")
	}
	if c.Instrument.ExpiryWeekday < 0 || c.Instrument.ExpiryWeekday > 6 {
		return fmt.Errorf("instrument.expiry_weekday must be in [0,6]")
	}

	// Regime thresholds
	if c.Regime.ADXTrending <= c.Regime.ADXRanging {
		return fmt.Errorf("regime.adx_trending (%.1f) must be > regime.adx_ranging (%.1f)",
			c.Regime.ADXTrending, c.Regime.ADXRanging)
	}
	if c.Regime.VIXVolatile <= 0 {
		return fmt.Errorf("regime.vix_volatile must be > 0")
	}
	if c.Regime.ATRPercentileHigh <= 0 || c.Regime.ATRPercentileHigh > 100 {
		return fmt.Errorf("regime.atr_percentile_high must be in (0,100]")
	}

	// Entry: the DTE window is the strategy's edge and must stay tight.
	if c.Entry.DTEMin <= 0 || c.Entry.DTEMax <= 0 || c.Entry.DTEMin > c.Entry.DTEMax {
		return fmt.Errorf("entry dte range [%d,%d] must have 0 < min <= max",
			c.Entry.DTEMin, c.Entry.DTEMax)
	}
	if c.Entry.DTEMax > 30 {
		return fmt.Errorf("entry.dte_max (%d) exceeds allowed bound 30", c.Entry.DTEMax)
	}
	if c.Entry.StrikeDistanceMin <= 0 || c.Entry.StrikeDistanceMax < c.Entry.StrikeDistanceMin {
		return fmt.Errorf("entry strike distance range [%d,%d] invalid",
			c.Entry.StrikeDistanceMin, c.Entry.StrikeDistanceMax)
	}
	if c.Entry.RSIMax <= 0 || c.Entry.RSIMax > 100 {
		return fmt.Errorf("entry.rsi_max must be in (0,100]")
	}
	if c.Entry.IVPercentileMax <= 0 || c.Entry.IVPercentileMax > 100 {
		return fmt.Errorf("entry.iv_percentile_max must be in (0,100]")
	}
	if c.Entry.MinConfidence < 0 || c.Entry.MinConfidence > 100 {
		return fmt.Errorf("entry.min_confidence must be in [0,100]")
	}
	if c.Entry.EMAPeriod <= 0 {
		return fmt.Errorf("entry.ema_period must be > 0")
	}

	// Exit
	if c.Exit.ProfitTargetPct <= 0 {
		return fmt.Errorf("exit.profit_target_pct must be > 0")
	}
	if c.Exit.PartialExitPct <= 0 || c.Exit.PartialExitPct >= 1 {
		return fmt.Errorf("exit.partial_exit_pct must be in (0,1)")
	}
	if c.Exit.StopLossPct <= 0 || c.Exit.StopLossPct >= 1 {
		return fmt.Errorf("exit.stop_loss_pct must be in (0,1)")
	}
	if c.Exit.TimeExitDTE < 0 {
		return fmt.Errorf("exit.time_exit_dte must be >= 0")
	}
	if c.Exit.IVCrushThreshold <= 0 || c.Exit.IVCrushThreshold >= 1 {
		return fmt.Errorf("exit.iv_crush_threshold must be in (0,1)")
	}
	if c.Exit.TrailingMethod != "spot_move" && c.Exit.TrailingMethod != "atr" {
		return fmt.Errorf("exit.trailing_method must be 'spot_move' or 'atr'")
	}
	if _, err := parseClock(c.Exit.MidweekCutoff); err != nil {
		return fmt.Errorf("exit.midweek_cutoff invalid: %w", err)
	}

	// Condor
	if c.Condor.TargetDistance < c.Instrument.StrikeStep {
		return fmt.Errorf("condor.target_distance must be >= strike step")
	}
	if c.Condor.WingWidth < c.Instrument.StrikeStep {
		return fmt.Errorf("condor.wing_width must be >= strike step")
	}
	if c.Condor.MinCreditPerIC <= 0 {
		return fmt.Errorf("condor.min_credit_per_ic must be > 0")
	}
	if c.Condor.MinOTMDistance <= 0 || c.Condor.MaxOTMDistance <= c.Condor.MinOTMDistance {
		return fmt.Errorf("condor otm distance range [%.0f,%.0f] invalid",
			c.Condor.MinOTMDistance, c.Condor.MaxOTMDistance)
	}

	// Risk
	if c.Risk.Capital <= 0 {
		return fmt.Errorf("risk.capital must be > 0")
	}
	if c.Risk.MaxCapitalPerTrade <= 0 || c.Risk.MaxCapitalPerTrade > 1 {
		return fmt.Errorf("risk.max_capital_per_trade_base must be in (0,1]")
	}
	if c.Risk.MaxCapitalPerTrade2 < c.Risk.MaxCapitalPerTrade || c.Risk.MaxCapitalPerTrade2 > 1 {
		return fmt.Errorf("risk.max_capital_per_trade_max must be in [base,1]")
	}
	if c.Risk.MaxLossPerTrade <= 0 {
		return fmt.Errorf("risk.max_loss_per_trade must be > 0")
	}
	if c.Risk.MaxDailyLoss < c.Risk.MaxLossPerTrade {
		return fmt.Errorf("risk.max_daily_loss (%.0f) must be >= max_loss_per_trade (%.0f)",
			c.Risk.MaxDailyLoss, c.Risk.MaxLossPerTrade)
	}
	if c.Risk.MaxWeeklyLoss < c.Risk.MaxDailyLoss {
		return fmt.Errorf("risk.max_weekly_loss (%.0f) must be >= max_daily_loss (%.0f)",
			c.Risk.MaxWeeklyLoss, c.Risk.MaxDailyLoss)
	}
	if c.Risk.MaxPositions <= 0 {
		return fmt.Errorf("risk.max_positions must be > 0")
	}
	if c.Risk.WeekendMaxCapital <= 0 || c.Risk.WeekendMaxCapital > 1 {
		return fmt.Errorf("risk.weekend_max_capital must be in (0,1]")
	}
	if c.Risk.EventMaxCapital <= 0 || c.Risk.EventMaxCapital > 1 {
		return fmt.Errorf("risk.event_max_capital must be in (0,1]")
	}

	// Broker
	if c.Broker.Mode != "paper" {
		return fmt.Errorf("broker.mode %q not supported (only 'paper' ships in-tree)", c.Broker.Mode)
	}

	// Schedule
	if _, err := time.ParseDuration(c.Schedule.CheckInterval); err != nil {
		return fmt.Errorf("schedule.check_interval invalid: %w", err)
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone invalid: %w", err)
	}
	start, err1 := parseClock(c.Schedule.TradingStart)
	end, err2 := parseClock(c.Schedule.TradingEnd)
	if err1 != nil || err2 != nil || !start.Before(end) {
		return fmt.Errorf("schedule trading window invalid (start/end parse/order)")
	}

	// Telegram
	if c.Telegram.Mode != "AUTO" && c.Telegram.Mode != "CONFIRM" {
		return fmt.Errorf("telegram.mode must be 'AUTO' or 'CONFIRM'")
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required when telegram.enabled")
	}
	if _, err := time.ParseDuration(c.Telegram.ConfirmTimeout); err != nil {
		return fmt.Errorf("telegram.confirm_timeout invalid: %w", err)
	}
	if c.Telegram.QueueSize <= 0 {
		return fmt.Errorf("telegram.queue_size must be > 0")
	}

	return nil
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// CheckInterval returns the configured polling interval.
func (c *Config) CheckInterval() time.Duration {
	d, err := time.ParseDuration(c.Schedule.CheckInterval)
	if err != nil {
		return time.Minute
	}
	return d
}

// Location returns the configured market timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		// Fallback for minimal containers without tzdata
		return time.FixedZone("IST", 5*3600+1800)
	}
	return loc
}

// ConfirmTimeout returns the manual-confirmation timeout duration.
func (c *Config) ConfirmTimeout() time.Duration {
	d, err := time.ParseDuration(c.Telegram.ConfirmTimeout)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// IsWithinTradingHours checks if the given time falls within the configured
// window on a weekday.
func (c *Config) IsWithinTradingHours(now time.Time) bool {
	loc := c.Location()
	today := now.In(loc)

	if today.Weekday() == time.Saturday || today.Weekday() == time.Sunday {
		return false
	}

	startClock, err1 := parseClock(c.Schedule.TradingStart)
	endClock, err2 := parseClock(c.Schedule.TradingEnd)
	if err1 != nil || err2 != nil {
		// Safe defaults if misconfigured
		startClock = time.Date(0, 1, 1, 9, 15, 0, 0, time.UTC)
		endClock = time.Date(0, 1, 1, 15, 30, 0, 0, time.UTC)
	}
	start := time.Date(today.Year(), today.Month(), today.Day(),
		startClock.Hour(), startClock.Minute(), 0, 0, loc)
	end := time.Date(today.Year(), today.Month(), today.Day(),
		endClock.Hour(), endClock.Minute(), 0, 0, loc)

	// Inclusive start, exclusive end
	return !today.Before(start) && today.Before(end)
}

// MidweekCutoffClock returns the parsed midweek-exit cutoff time.
func (c *Config) MidweekCutoffClock() (hour, minute int) {
	t, err := parseClock(c.Exit.MidweekCutoff)
	if err != nil {
		return 14, 0
	}
	return t.Hour(), t.Minute()
}

func parseClock(s string) (time.Time, error) {
	return time.Parse("15:04", s)
}
