package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/mchlabs/niftybot/internal/models"
	"github.com/mchlabs/niftybot/internal/pricing"
)

var _ Provider = (*CSVFeed)(nil)

// csvColumns is the required header, in order.
var csvColumns = []string{
	"timestamp", "spot", "vix", "adx", "di_plus", "di_minus",
	"rsi", "ema", "atr", "atr_percentile", "iv_percentile",
}

// CSVFeed replays historical indicator rows for backtesting. Each Snapshot
// call consumes one row; quotes are Black-Scholes at the row's VIX.
type CSVFeed struct {
	mu       sync.Mutex
	rows     []models.MarketSnapshot
	idx      int
	riskFree float64
	current  models.MarketSnapshot
}

// NewCSVFeed loads the whole file up front so a malformed row fails the
// backtest at startup, not halfway through.
func NewCSVFeed(path string, riskFree float64) (*CSVFeed, error) {
	f, err := os.Open(path) // #nosec G304 -- user-supplied backtest data path
	if err != nil {
		return nil, fmt.Errorf("opening data file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if len(header) != len(csvColumns) {
		return nil, fmt.Errorf("expected %d columns, got %d", len(csvColumns), len(header))
	}
	for i, want := range csvColumns {
		if header[i] != want {
			return nil, fmt.Errorf("column %d: expected %q, got %q", i, want, header[i])
		}
	}

	var rows []models.MarketSnapshot
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		snap, err := parseRow(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, snap)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("data file %s has no rows", path)
	}
	return &CSVFeed{rows: rows, riskFree: riskFree}, nil
}

func parseRow(record []string) (models.MarketSnapshot, error) {
	ts, err := time.Parse(time.RFC3339, record[0])
	if err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("timestamp: %w", err)
	}
	vals := make([]float64, len(record)-1)
	for i, s := range record[1:] {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return models.MarketSnapshot{}, fmt.Errorf("column %s: %w", csvColumns[i+1], err)
		}
		vals[i] = v
	}
	return models.MarketSnapshot{
		Timestamp:     ts,
		Spot:          vals[0],
		VIX:           vals[1],
		ADX:           vals[2],
		DIPlus:        vals[3],
		DIMinus:       vals[4],
		RSI:           vals[5],
		EMA:           vals[6],
		ATR:           vals[7],
		ATRPercentile: vals[8],
		IVPercentile:  vals[9],
	}, nil
}

// IsMarketOpen reports whether replay rows remain.
func (f *CSVFeed) IsMarketOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.idx < len(f.rows)
}

// Snapshot returns the next row, or ErrFeedExhausted at end of data.
func (f *CSVFeed) Snapshot(_ context.Context) (models.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.rows) {
		return models.MarketSnapshot{}, ErrFeedExhausted
	}
	f.current = f.rows[f.idx]
	f.idx++
	return f.current, nil
}

// Remaining returns how many rows are left to replay.
func (f *CSVFeed) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows) - f.idx
}

// OptionQuote prices off the most recently replayed row.
func (f *CSVFeed) OptionQuote(strike float64, optType models.OptionType, expiry time.Time) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current.Timestamp.IsZero() {
		return 0, false
	}
	t := expiry.Sub(f.current.Timestamp).Hours() / 24 / 365
	if t <= 0 {
		return 0, false
	}
	vol := f.current.VIX / 100
	return pricing.Price(f.current.Spot, strike, t, f.riskFree, vol, optType), true
}
