package models

import "fmt"

// PositionStatus represents the lifecycle state of a position.
type PositionStatus string

const (
	// StatusPending means the entry order was submitted but not yet filled.
	StatusPending PositionStatus = "pending"
	// StatusActive means the position is open and under management.
	StatusActive PositionStatus = "active"
	// StatusPartialExit means part of the position was exited at the profit
	// target; the remainder trails behind a ratcheted stop.
	StatusPartialExit PositionStatus = "partial_exit"
	// StatusClosed means the position is fully exited.
	StatusClosed PositionStatus = "closed"
	// StatusFailed means the entry order was rejected or never filled.
	StatusFailed PositionStatus = "failed"
)

// StatusTransition defines a valid lifecycle transition.
type StatusTransition struct {
	From      PositionStatus
	To        PositionStatus
	Condition string
}

// Transition conditions.
const (
	ConditionOrderFilled   = "order_filled"
	ConditionOrderFailed   = "order_failed"
	ConditionProfitPartial = "profit_partial"
	ConditionFullExit      = "full_exit"
)

// ValidTransitions is the complete lifecycle graph. No transition returns to
// an earlier state, and nothing in the graph (or anywhere else) alters a
// position's expiry: positions are never rolled.
var ValidTransitions = []StatusTransition{
	{StatusPending, StatusActive, ConditionOrderFilled},
	{StatusPending, StatusFailed, ConditionOrderFailed},
	{StatusActive, StatusPartialExit, ConditionProfitPartial},
	{StatusActive, StatusClosed, ConditionFullExit},
	{StatusPartialExit, StatusClosed, ConditionFullExit},
}

// CanTransition reports whether moving between the two statuses under the
// given condition is permitted by the lifecycle graph.
func CanTransition(from, to PositionStatus, condition string) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to && t.Condition == condition {
			return true
		}
	}
	return false
}

// Terminal returns true for statuses with no outgoing transitions.
func (s PositionStatus) Terminal() bool {
	return s == StatusClosed || s == StatusFailed
}

// Open returns true if the status carries live market exposure.
func (s PositionStatus) Open() bool {
	return s == StatusActive || s == StatusPartialExit
}

// Valid returns true if the PositionStatus is one of the defined constants.
func (s PositionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusPartialExit, StatusClosed, StatusFailed:
		return true
	default:
		return false
	}
}

// transition validates and applies a status change on the position.
func (p *Position) transition(to PositionStatus, condition string) error {
	if !CanTransition(p.Status, to, condition) {
		return fmt.Errorf("position %s: invalid transition %s -> %s (%s)",
			p.ID, p.Status, to, condition)
	}
	p.Status = to
	return nil
}
