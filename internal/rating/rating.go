// Package rating computes ELO-style MR changes.
package rating

import "math"

const (
	// KFactor bounds the change of a single match
	KFactor = 32

	// WinExperience and LossExperience are granted on every completed match
	WinExperience  = 30
	LossExperience = 10

	experiencePerLevel = 100
)

// ExpectedScore returns the probability that a player rated r beats one rated opponent.
func ExpectedScore(r, opponent int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(opponent-r)/400.0))
}

// ComputeDeltas returns the rating change of the winner and the loser.
// Inputs must be the ratings snapshotted at match start, never live values.
func ComputeDeltas(winner, loser int) (deltaWinner, deltaLoser int) {
	expected := ExpectedScore(winner, loser)
	// math.Round rounds half away from zero
	deltaWinner = int(math.Round(KFactor * (1 - expected)))
	return deltaWinner, -deltaWinner
}

// Experience returns the experience granted for a completed match.
func Experience(won bool) int {
	if won {
		return WinExperience
	}
	return LossExperience
}

// Level derives a player level from accumulated experience.
func Level(experience int) int {
	if experience < 0 {
		experience = 0
	}
	return 1 + experience/experiencePerLevel
}
