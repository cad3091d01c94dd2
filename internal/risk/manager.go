// Package risk enforces capital allocation, loss limits and the kill switch.
package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mchlabs/niftybot/internal/config"
)

// EventCalendar answers whether a given day carries scheduled event risk
// (budget, major policy announcements) that warrants reduced exposure.
type EventCalendar interface {
	IsEventDay(day time.Time) bool
}

// StaticCalendar is an EventCalendar over a fixed list of dates.
type StaticCalendar struct {
	days map[string]struct{}
}

// NewStaticCalendar builds a calendar from explicit dates. Time-of-day is
// ignored; each entry marks its whole calendar day.
func NewStaticCalendar(days ...time.Time) *StaticCalendar {
	c := &StaticCalendar{days: make(map[string]struct{}, len(days))}
	for _, d := range days {
		c.days[d.Format("2006-01-02")] = struct{}{}
	}
	return c
}

// DefaultCalendar returns a calendar carrying the Union Budget day for the
// given year.
func DefaultCalendar(year int) *StaticCalendar {
	return NewStaticCalendar(time.Date(year, time.February, 1, 0, 0, 0, 0, time.UTC))
}

// IsEventDay reports whether day is on the calendar.
func (c *StaticCalendar) IsEventDay(day time.Time) bool {
	_, ok := c.days[day.Format("2006-01-02")]
	return ok
}

// Status is a snapshot of the manager's internal counters.
type Status struct {
	DailyLoss       float64 `json:"daily_loss"`
	WeeklyLoss      float64 `json:"weekly_loss"`
	CurrentExposure float64 `json:"current_exposure"`
	OpenPositions   int     `json:"open_positions"`
	TradingHalted   bool    `json:"trading_halted"`
	HaltReason      string  `json:"halt_reason,omitempty"`
}

// Manager owns pre-trade validation and running loss accounting. Loss
// counters only ever grow within their window; they reset lazily when a new
// day (or a new Monday-anchored week) is first observed.
type Manager struct {
	mu       sync.Mutex
	cfg      config.RiskConfig
	calendar EventCalendar
	logger   zerolog.Logger

	dailyLoss  float64
	weeklyLoss float64
	exposure   float64
	openCount  int

	lossDay  string // YYYY-MM-DD the daily counter belongs to
	lossWeek string // Monday date the weekly counter belongs to
}

// NewManager creates a risk manager. A nil calendar means no event days.
func NewManager(cfg config.RiskConfig, calendar EventCalendar, logger zerolog.Logger) *Manager {
	if calendar == nil {
		calendar = NewStaticCalendar()
	}
	return &Manager{
		cfg:      cfg,
		calendar: calendar,
		logger:   logger.With().Str("component", "risk").Logger(),
	}
}

// PositionSize returns the capital budget for a new trade at the given
// confidence. The scorer's size multiplier scales the allocation before the
// weekend and event-day caps, so the gap-risk caps stay binding.
func (m *Manager) PositionSize(confidence, multiplier float64, now time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	alloc := m.cfg.MaxCapitalPerTrade
	switch {
	case confidence >= 85:
		alloc = m.cfg.MaxCapitalPerTrade2
	case confidence >= 70:
		alloc = m.cfg.MaxCapitalPerTrade + (m.cfg.MaxCapitalPerTrade2-m.cfg.MaxCapitalPerTrade)/2
	}
	if multiplier > 0 {
		alloc *= multiplier
	}

	// Friday entries carry two days of gap risk into Monday.
	if now.Weekday() == time.Friday && m.cfg.WeekendMaxCapital < alloc {
		alloc = m.cfg.WeekendMaxCapital
	}
	if m.calendar.IsEventDay(now) && m.cfg.EventMaxCapital < alloc {
		alloc = m.cfg.EventMaxCapital
	}

	return m.cfg.Capital * alloc
}

// ValidateEntry runs all pre-trade gates for a candidate position. value is
// the premium outlay, maxTradeLoss the worst case given the planned stop.
func (m *Manager) ValidateEntry(value, maxTradeLoss float64, now time.Time) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollWindows(now)

	if m.dailyLoss >= m.cfg.MaxDailyLoss {
		return false, fmt.Sprintf("daily loss limit hit: %.0f >= %.0f", m.dailyLoss, m.cfg.MaxDailyLoss)
	}
	if m.weeklyLoss >= m.cfg.MaxWeeklyLoss {
		return false, fmt.Sprintf("weekly loss limit hit: %.0f >= %.0f", m.weeklyLoss, m.cfg.MaxWeeklyLoss)
	}
	if m.openCount >= m.cfg.MaxPositions {
		return false, fmt.Sprintf("Max positions reached: %d/%d", m.openCount, m.cfg.MaxPositions)
	}
	if maxTradeLoss > m.cfg.MaxLossPerTrade {
		return false, fmt.Sprintf("trade risk %.0f exceeds per-trade limit %.0f", maxTradeLoss, m.cfg.MaxLossPerTrade)
	}
	if m.exposure+value > m.cfg.Capital {
		return false, fmt.Sprintf("exposure %.0f + %.0f would exceed capital %.0f", m.exposure, value, m.cfg.Capital)
	}
	return true, ""
}

// RecordEntry books a filled entry into the exposure and position counters.
func (m *Manager) RecordEntry(value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exposure += value
	m.openCount++
}

// RecordExit releases exposure and, for losing trades, accrues the loss into
// the daily and weekly counters. Profits never reduce the counters.
func (m *Manager) RecordExit(releasedValue, pnl float64, closed bool, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollWindows(now)

	m.exposure -= releasedValue
	if m.exposure < 0 {
		m.exposure = 0
	}
	if closed && m.openCount > 0 {
		m.openCount--
	}
	if pnl < 0 {
		m.dailyLoss += -pnl
		m.weeklyLoss += -pnl
		m.logger.Warn().
			Float64("pnl", pnl).
			Float64("daily_loss", m.dailyLoss).
			Float64("weekly_loss", m.weeklyLoss).
			Msg("loss recorded")
	}
}

// ShouldCloseAll is the kill switch: when a loss window is blown, everything
// open gets flattened and no new entries are allowed.
func (m *Manager) ShouldCloseAll(now time.Time) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollWindows(now)

	if m.dailyLoss >= m.cfg.MaxDailyLoss {
		return true, fmt.Sprintf("daily loss %.0f breached limit %.0f", m.dailyLoss, m.cfg.MaxDailyLoss)
	}
	if m.weeklyLoss >= m.cfg.MaxWeeklyLoss {
		return true, fmt.Sprintf("weekly loss %.0f breached limit %.0f", m.weeklyLoss, m.cfg.MaxWeeklyLoss)
	}
	return false, ""
}

// MaxAdditionalRisk returns the largest loss a new trade may risk without
// blowing the per-trade limit or either loss window.
func (m *Manager) MaxAdditionalRisk(now time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollWindows(now)

	remaining := math.Min(m.cfg.MaxDailyLoss-m.dailyLoss, m.cfg.MaxWeeklyLoss-m.weeklyLoss)
	remaining = math.Min(remaining, m.cfg.MaxLossPerTrade)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Status returns a snapshot of the counters for reporting.
func (m *Manager) Status(now time.Time) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollWindows(now)

	halted, reason := false, ""
	if m.dailyLoss >= m.cfg.MaxDailyLoss {
		halted, reason = true, "daily loss limit"
	} else if m.weeklyLoss >= m.cfg.MaxWeeklyLoss {
		halted, reason = true, "weekly loss limit"
	}
	return Status{
		DailyLoss:       m.dailyLoss,
		WeeklyLoss:      m.weeklyLoss,
		CurrentExposure: m.exposure,
		OpenPositions:   m.openCount,
		TradingHalted:   halted,
		HaltReason:      reason,
	}
}

// rollWindows lazily resets the loss counters when a new day or week is first
// observed. Callers must hold the mutex.
func (m *Manager) rollWindows(now time.Time) {
	day := now.Format("2006-01-02")
	if day != m.lossDay {
		m.lossDay = day
		m.dailyLoss = 0
	}

	week := mondayOf(now).Format("2006-01-02")
	if week != m.lossWeek {
		m.lossWeek = week
		m.weeklyLoss = 0
	}
}

// mondayOf returns the Monday of now's week.
func mondayOf(now time.Time) time.Time {
	offset := (int(now.Weekday()) + 6) % 7
	return now.AddDate(0, 0, -offset)
}
