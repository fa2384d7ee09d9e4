package domain

import (
	"math"
	"time"
)

// Direction is the side of a signal's exposure.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// PositionStatus tracks how an open position was (or was not yet) resolved.
type PositionStatus string

const (
	PositionStatusActive    PositionStatus = "active"
	PositionStatusTPHit     PositionStatus = "tp_hit"
	PositionStatusSLHit     PositionStatus = "sl_hit"
	PositionStatusBreakeven PositionStatus = "breakeven"
)

// Terminal reports whether the status permits no further automatic mutation.
func (s PositionStatus) Terminal() bool {
	return s != PositionStatusActive
}

// TakeProfit is one partial take-profit target of a signal. ClosePercent is
// the share of the original risk closed when the target triggers.
type TakeProfit struct {
	Price        float64
	ClosePercent float64
}

// Signal is the trade setup a position was opened from: pair, direction,
// entry, stop, and one or more take-profit targets.
type Signal struct {
	ID        string
	Pair      string
	Category  Category
	Direction Direction
	Entry     float64
	Stop      float64
	Targets   []TakeProfit
	Live      bool
	CreatedAt time.Time
}

// Breakeven reports whether the stop has been moved onto the entry price, in
// which case a stop touch closes the remainder as neither win nor loss.
func (s Signal) Breakeven() bool {
	return s.Stop == s.Entry
}

// Position is the open exposure tracked for a signal. RemainingRisk is the
// percentage (0-100) of the original risk still open; it only decreases, and
// once it reaches 0 or Status leaves active no further automatic mutation
// occurs.
type Position struct {
	ID            string
	SignalID      string
	Signal        Signal
	RemainingRisk float64
	HitTargets    []int
	Status        PositionStatus
	OpenedAt      time.Time
	ClosedPrice   *float64
	ClosedAt      *time.Time
}

// TargetHit reports whether the target at index idx has already triggered.
func (p Position) TargetHit(idx int) bool {
	for _, h := range p.HitTargets {
		if h == idx {
			return true
		}
	}
	return false
}

// PositionTransition is the atomic state change the trigger evaluator
// commits: status, remaining risk, the target that fired (if any), and the
// closing snapshot. ExpectedRisk is the optimistic precondition; a store
// that finds a different remaining risk must apply nothing.
type PositionTransition struct {
	PositionID   string
	ExpectedRisk float64
	NewRisk      float64
	HitTarget    int // index of the triggered target, -1 for stop/breakeven
	Status       PositionStatus
	Price        float64
	At           time.Time
}

// ClosureNotice is the fire-and-forget notification request emitted after a
// position reaches a terminal status. Delivery failures never roll the
// closure back.
type ClosureNotice struct {
	Pair             string
	Direction        Direction
	Entry            float64
	Stop             float64
	Target           float64
	ClosingPrice     float64
	ClosedAt         time.Time
	RealizedMultiple float64
}

// RealizedMultiple computes the risk/reward multiple realized by closing at
// price, relative to the entry-to-stop distance. When the stop sits on the
// entry the distance degenerates, so a synthetic one-unit distance keeps the
// ratio finite.
func RealizedMultiple(entry, stop, price float64) float64 {
	risk := math.Abs(entry - stop)
	if risk == 0 {
		risk = 1
	}
	return math.Abs(price-entry) / risk
}
