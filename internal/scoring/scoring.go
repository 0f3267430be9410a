// Package scoring decides table-tennis sets from their point scores.
package scoring

import (
	"github.com/match-engine/internal/domain"
)

const (
	// PointsToWin is the minimum score that can close a set
	PointsToWin = 11
	// WinningMargin is the lead required to close a set
	WinningMargin = 2
)

// Outcome is the state of a set after a score
type Outcome int

const (
	StillPlaying Outcome = iota
	AWins
	BWins
)

func (o Outcome) String() string {
	switch o {
	case AWins:
		return "a_wins"
	case BWins:
		return "b_wins"
	default:
		return "still_playing"
	}
}

// Side returns the winning side, or SideNone while the set is open.
func (o Outcome) Side() domain.Side {
	switch o {
	case AWins:
		return domain.SideA
	case BWins:
		return domain.SideB
	}
	return domain.SideNone
}

// Decided reports whether the set has a winner.
func (o Outcome) Decided() bool {
	return o != StillPlaying
}

// DecideSet applies the 11-point, win-by-two rule. Deuce has no upper bound.
func DecideSet(scoreA, scoreB int) (Outcome, error) {
	if scoreA < 0 || scoreB < 0 {
		return StillPlaying, domain.ErrInvalidScore
	}

	switch {
	case scoreA >= PointsToWin && scoreA-scoreB >= WinningMargin:
		return AWins, nil
	case scoreB >= PointsToWin && scoreB-scoreA >= WinningMargin:
		return BWins, nil
	default:
		return StillPlaying, nil
	}
}

// Requirement returns how many more points each side needs to close the set
// if the opponent scores nothing further. Both are zero once the set is decided.
func Requirement(scoreA, scoreB int) (domain.SetRequirement, error) {
	outcome, err := DecideSet(scoreA, scoreB)
	if err != nil {
		return domain.SetRequirement{}, err
	}
	if outcome.Decided() {
		return domain.SetRequirement{}, nil
	}
	return domain.SetRequirement{
		NeedA: pointsNeeded(scoreA, scoreB),
		NeedB: pointsNeeded(scoreB, scoreA),
	}, nil
}

func pointsNeeded(own, other int) int {
	target := max(PointsToWin, other+WinningMargin)
	return target - own
}
