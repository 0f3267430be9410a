package scoring

import (
	"testing"

	"github.com/match-engine/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecideSet(t *testing.T) {
	tests := []struct {
		name   string
		scoreA int
		scoreB int
		want   Outcome
	}{
		{name: "11-9 a wins", scoreA: 11, scoreB: 9, want: AWins},
		{name: "10-9 still playing", scoreA: 10, scoreB: 9, want: StillPlaying},
		{name: "15-13 deuce a wins", scoreA: 15, scoreB: 13, want: AWins},
		{name: "15-14 deuce continues", scoreA: 15, scoreB: 14, want: StillPlaying},
		{name: "9-11 b wins", scoreA: 9, scoreB: 11, want: BWins},
		{name: "11-0 a wins", scoreA: 11, scoreB: 0, want: AWins},
		{name: "0-0 still playing", scoreA: 0, scoreB: 0, want: StillPlaying},
		{name: "10-10 still playing", scoreA: 10, scoreB: 10, want: StillPlaying},
		{name: "11-10 still playing", scoreA: 11, scoreB: 10, want: StillPlaying},
		{name: "30-28 long deuce", scoreA: 30, scoreB: 28, want: AWins},
		{name: "12-14 b wins deuce", scoreA: 12, scoreB: 14, want: BWins},
		{name: "9-7 under threshold", scoreA: 9, scoreB: 7, want: StillPlaying},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecideSet(tt.scoreA, tt.scoreB)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecideSet_InvalidScore(t *testing.T) {
	for _, scores := range [][2]int{{-1, 0}, {0, -1}, {-5, -5}} {
		_, err := DecideSet(scores[0], scores[1])
		assert.ErrorIs(t, err, domain.ErrInvalidScore)
	}
}

func TestDecideSet_Property(t *testing.T) {
	for a := 0; a <= 25; a++ {
		for b := 0; b <= 25; b++ {
			got, err := DecideSet(a, b)
			require.NoError(t, err)

			diff := a - b
			if diff < 0 {
				diff = -diff
			}
			if max(a, b) >= 11 && diff >= 2 {
				want := AWins
				if b > a {
					want = BWins
				}
				assert.Equal(t, want, got, "%d-%d", a, b)
			} else {
				assert.Equal(t, StillPlaying, got, "%d-%d", a, b)
			}
		}
	}
}

func TestRequirement(t *testing.T) {
	tests := []struct {
		name   string
		scoreA int
		scoreB int
		want   domain.SetRequirement
	}{
		{name: "fresh set", scoreA: 0, scoreB: 0, want: domain.SetRequirement{NeedA: 11, NeedB: 11}},
		{name: "game point a", scoreA: 10, scoreB: 5, want: domain.SetRequirement{NeedA: 1, NeedB: 7}},
		{name: "deuce", scoreA: 10, scoreB: 10, want: domain.SetRequirement{NeedA: 2, NeedB: 2}},
		{name: "advantage b", scoreA: 12, scoreB: 13, want: domain.SetRequirement{NeedA: 3, NeedB: 1}},
		{name: "decided", scoreA: 11, scoreB: 3, want: domain.SetRequirement{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Requirement(tt.scoreA, tt.scoreB)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOutcomeSide(t *testing.T) {
	assert.Equal(t, domain.SideA, AWins.Side())
	assert.Equal(t, domain.SideB, BWins.Side())
	assert.Equal(t, domain.SideNone, StillPlaying.Side())
	assert.Equal(t, "still_playing", StillPlaying.String())
}
