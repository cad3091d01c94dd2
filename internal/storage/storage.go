// Package storage persists runtime state and the trade journal as JSON on
// disk. State writes are atomic (temp file then rename) so a crash mid-write
// never leaves a corrupt state file.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mchlabs/niftybot/internal/models"
	"github.com/mchlabs/niftybot/internal/strategy"
)

// RuntimeState is everything the bot needs to resume after a restart.
type RuntimeState struct {
	Mode        string             `json:"mode"` // flat | active
	LastEntryTS *time.Time         `json:"last_entry_ts"`
	LastExitTS  *time.Time         `json:"last_exit_ts"`
	TradesDate  string             `json:"trades_date"` // day the counter belongs to
	TradesToday int                `json:"trades_today"`
	Positions   []*models.Position `json:"positions"`
	Condor      *CondorRecord      `json:"condor,omitempty"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// CondorRecord tracks one open iron condor across restarts, including a
// partially-completed close so no leg's exposure is ever forgotten.
type CondorRecord struct {
	Condor      *strategy.IronCondor `json:"condor"`
	EntryCredit float64              `json:"entry_credit"` // per unit
	EntryTime   time.Time            `json:"entry_time"`
	LegClosed   []bool               `json:"leg_closed,omitempty"`
	CloseDebit  float64              `json:"close_debit,omitempty"` // per unit, accumulated
	CloseReason string               `json:"close_reason,omitempty"`
}

// Closing reports whether a close has been started on this condor.
func (r *CondorRecord) Closing() bool { return r.CloseReason != "" }

// NewRuntimeState returns a fresh flat state.
func NewRuntimeState() *RuntimeState {
	return &RuntimeState{Mode: "flat"}
}

// RecordEntry bumps the daily trade counter, resetting it on the first trade
// of a new day.
func (s *RuntimeState) RecordEntry(now time.Time) {
	day := now.Format("2006-01-02")
	if s.TradesDate != day {
		s.TradesDate = day
		s.TradesToday = 0
	}
	s.TradesToday++
	s.Mode = "active"
	ts := now
	s.LastEntryTS = &ts
}

// RecordExit stamps the exit time and flips to flat when nothing stays open.
func (s *RuntimeState) RecordExit(now time.Time, stillOpen int) {
	ts := now
	s.LastExitTS = &ts
	if stillOpen == 0 {
		s.Mode = "flat"
	}
}

// TradeRecord is one line in the append-only trade journal.
type TradeRecord struct {
	Timestamp  time.Time         `json:"timestamp"`
	PositionID string            `json:"position_id"`
	Action     models.ExitAction `json:"action,omitempty"`
	Side       models.OrderSide  `json:"side"`
	Strike     float64           `json:"strike"`
	OptionType models.OptionType `json:"option_type"`
	Quantity   int               `json:"quantity"`
	Premium    float64           `json:"premium"`
	PnL        float64           `json:"pnl,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

// Interface is the persistence surface used by the orchestrator.
type Interface interface {
	Load() (*RuntimeState, error)
	Save(state *RuntimeState) error
	AppendTrade(rec TradeRecord) error
}

var _ Interface = (*JSONStore)(nil)

// JSONStore implements Interface on the local filesystem.
type JSONStore struct {
	mu          sync.RWMutex
	statePath   string
	journalPath string
}

// NewJSONStore creates the store and its parent directories.
func NewJSONStore(statePath, journalPath string) (*JSONStore, error) {
	for _, p := range []string{statePath, journalPath} {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("creating storage directory: %w", err)
			}
		}
	}
	return &JSONStore{statePath: statePath, journalPath: journalPath}, nil
}

// Load reads the state file, returning a fresh flat state when none exists.
func (s *JSONStore) Load() (*RuntimeState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.statePath)
	if errors.Is(err, os.ErrNotExist) {
		return NewRuntimeState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var state RuntimeState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}
	return &state, nil
}

// Save writes the state atomically: marshal to a temp file in the same
// directory, fsync, then rename over the old file.
func (s *JSONStore) Save(state *RuntimeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	dir := filepath.Dir(s.statePath)
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // best-effort cleanup on the error paths

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck,gosec
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck,gosec
		return fmt.Errorf("syncing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.statePath); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// AppendTrade appends one JSON line to the trade journal.
func (s *JSONStore) AppendTrade(rec TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling trade record: %w", err)
	}

	f, err := os.OpenFile(s.journalPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640) // #nosec G304
	if err != nil {
		return fmt.Errorf("opening trade journal: %w", err)
	}
	defer f.Close() //nolint:errcheck

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending trade record: %w", err)
	}
	return nil
}
