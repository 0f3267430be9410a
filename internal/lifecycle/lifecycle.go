// Package lifecycle holds the match state machine.
//
// Functions here mutate the *domain.Match they are given and never touch a
// store. The session coordinator persists the result.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/match-engine/internal/domain"
	"github.com/match-engine/internal/scoring"
)

// Transition describes what a recorded set did to its match
type Transition struct {
	Started   bool
	Completed bool
	Winner    domain.Side
}

// ValidateBestOf accepts positive odd set counts only.
func ValidateBestOf(bestOf int) error {
	if bestOf <= 0 || bestOf%2 == 0 {
		return fmt.Errorf("best of %d: %w", bestOf, domain.ErrInvalidFormat)
	}
	return nil
}

// SetsToWin returns the number of decided sets a side needs to take the match.
func SetsToWin(bestOf int) int {
	return (bestOf + 1) / 2
}

// CheckRecordable rejects sets for matches that are no longer active.
func CheckRecordable(status domain.MatchStatus) error {
	if !status.Active() {
		return fmt.Errorf("status %s: %w", status, domain.ErrMatchNotActive)
	}
	return nil
}

// Winner returns the side that reached the set threshold, or SideNone.
func Winner(m *domain.Match) domain.Side {
	need := SetsToWin(m.BestOf)
	switch {
	case m.SetsWonA >= need:
		return domain.SideA
	case m.SetsWonB >= need:
		return domain.SideB
	}
	return domain.SideNone
}

// ApplySet folds the outcome of a set into the match counters.
// The first recorded score moves a PENDING match to IN_PROGRESS, decided or not.
func ApplySet(m *domain.Match, outcome scoring.Outcome, now time.Time) (Transition, error) {
	if err := CheckRecordable(m.Status); err != nil {
		return Transition{}, err
	}
	if Winner(m) != domain.SideNone {
		return Transition{}, fmt.Errorf("match %s already reached its set threshold: %w", m.ID, domain.ErrMatchNotActive)
	}

	var t Transition
	if m.Status == domain.MatchStatusPending {
		m.Status = domain.MatchStatusInProgress
		started := now
		m.StartedAt = &started
		t.Started = true
	}

	switch outcome.Side() {
	case domain.SideA:
		m.SetsWonA++
	case domain.SideB:
		m.SetsWonB++
	default:
		return t, nil
	}

	if w := Winner(m); w != domain.SideNone {
		t.Completed = true
		t.Winner = w
	}
	return t, nil
}

// Complete fixes the winner and rating deltas of a match that reached its threshold.
func Complete(m *domain.Match, deltaA, deltaB int, now time.Time) error {
	if err := CheckRecordable(m.Status); err != nil {
		return err
	}
	side := Winner(m)
	if side == domain.SideNone {
		return fmt.Errorf("match %s has %d-%d sets, needs %d: %w",
			m.ID, m.SetsWonA, m.SetsWonB, SetsToWin(m.BestOf), domain.ErrMatchNotActive)
	}

	winner := m.PlayerID(side)
	completed := now
	m.Status = domain.MatchStatusCompleted
	m.WinnerID = &winner
	m.DeltaA = &deltaA
	m.DeltaB = &deltaB
	m.CompletedAt = &completed
	return nil
}

// Cancel abandons an active match.
func Cancel(m *domain.Match, now time.Time) error {
	if err := CheckRecordable(m.Status); err != nil {
		return err
	}
	cancelled := now
	m.Status = domain.MatchStatusCancelled
	m.CancelledAt = &cancelled
	return nil
}

// NextSetNumber returns the set number that may be submitted next.
func NextSetNumber(sets []domain.Set) int {
	next := 1
	for _, s := range sets {
		if s.Decided && s.Number >= next {
			next = s.Number + 1
		}
	}
	return next
}

// CheckSequence accepts a new set only when it directly follows the last
// decided set and no other set is still open.
func CheckSequence(sets []domain.Set, setNumber int) error {
	next := NextSetNumber(sets)
	if setNumber != next {
		return fmt.Errorf("got set %d, expected %d: %w", setNumber, next, domain.ErrInvalidSetSequence)
	}
	for _, s := range sets {
		if !s.Decided && s.Number != setNumber {
			return fmt.Errorf("set %d is still open: %w", s.Number, domain.ErrInvalidSetSequence)
		}
	}
	return nil
}
