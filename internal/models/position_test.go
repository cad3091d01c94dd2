package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPosition(t *testing.T) *Position {
	t.Helper()
	expiry := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	p := NewPosition("POS_20260302100000_001", "NIFTY", 23650, expiry, OptionCall, 150, 2)
	require.NoError(t, p.MarkFilled(180, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)))
	return p
}

func TestPositionLifecycle(t *testing.T) {
	p := newTestPosition(t)
	assert.Equal(t, StatusActive, p.Status)
	assert.Equal(t, 180.0, p.EntryPremium)
	require.NoError(t, p.ValidateState())

	pnl, err := p.ApplyPartialExit(75, 315)
	require.NoError(t, err)
	assert.InDelta(t, (315.0-180.0)*75, pnl, 1e-9)
	assert.Equal(t, StatusPartialExit, p.Status)
	assert.True(t, p.PartialExitDone)
	assert.Equal(t, 180.0, p.StopLoss, "stop should ratchet to breakeven")
	require.NoError(t, p.ValidateState())

	pnl, err = p.ApplyFullExit(290, "trailing stop", time.Date(2026, 3, 4, 11, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.InDelta(t, (290.0-180.0)*75, pnl, 1e-9)
	assert.Equal(t, StatusClosed, p.Status)
	assert.Equal(t, 0, p.RemainingQuantity)
	require.NoError(t, p.ValidateState())
}

func TestQuantityConservation(t *testing.T) {
	p := newTestPosition(t)

	_, err := p.ApplyPartialExit(75, 300)
	require.NoError(t, err)
	assert.Equal(t, p.Quantity, p.RemainingQuantity+p.PartialExitQuantity)
	require.NoError(t, p.ValidateState())

	// Corrupt and verify the invariant check catches it.
	p.RemainingQuantity++
	assert.Error(t, p.ValidateState())
}

func TestPartialExitRejectsBadQuantities(t *testing.T) {
	tests := []struct {
		name string
		qty  int
	}{
		{"zero", 0},
		{"negative", -75},
		{"equal to remaining", 150},
		{"more than remaining", 225},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPosition(t)
			_, err := p.ApplyPartialExit(tt.qty, 300)
			assert.Error(t, err)
			assert.Equal(t, 150, p.RemainingQuantity, "rejected exit must not mutate")
		})
	}
}

func TestExpiryNeverChanges(t *testing.T) {
	p := newTestPosition(t)
	expiry := p.Expiry

	_, err := p.ApplyPartialExit(75, 300)
	require.NoError(t, err)
	assert.Equal(t, expiry, p.Expiry)

	_, err = p.ApplyFullExit(290, "done", time.Now())
	require.NoError(t, err)
	assert.Equal(t, expiry, p.Expiry, "nothing in the lifecycle may move expiry")
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to  PositionStatus
		condition string
		ok        bool
	}{
		{StatusPending, StatusActive, ConditionOrderFilled, true},
		{StatusPending, StatusFailed, ConditionOrderFailed, true},
		{StatusActive, StatusPartialExit, ConditionProfitPartial, true},
		{StatusActive, StatusClosed, ConditionFullExit, true},
		{StatusPartialExit, StatusClosed, ConditionFullExit, true},
		{StatusClosed, StatusActive, ConditionOrderFilled, false},
		{StatusFailed, StatusActive, ConditionOrderFilled, false},
		{StatusPartialExit, StatusActive, ConditionOrderFilled, false},
		{StatusPending, StatusClosed, ConditionFullExit, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to, tt.condition),
			"%s -> %s (%s)", tt.from, tt.to, tt.condition)
	}
}

func TestMarkFailed(t *testing.T) {
	p := NewPosition("POS_X", "NIFTY", 23650, time.Now().AddDate(0, 0, 12), OptionPut, 75, 1)
	require.NoError(t, p.MarkFailed("order rejected"))
	assert.Equal(t, StatusFailed, p.Status)
	assert.True(t, p.Status.Terminal())
	assert.False(t, p.Status.Open())
}

func TestDTE(t *testing.T) {
	p := newTestPosition(t)
	now := time.Date(2026, 3, 9, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, 3, p.DTE(now))
	assert.Equal(t, 0, p.DTE(p.Expiry.AddDate(0, 0, 2)), "past expiry floors at 0")
}

func TestUnrealizedPnL(t *testing.T) {
	p := newTestPosition(t)
	p.UpdateUnrealized(200)
	assert.InDelta(t, 20.0*150, p.UnrealizedPnL, 1e-9)
}
