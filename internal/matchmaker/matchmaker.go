// Package matchmaker shortlists opponents for a player from a snapshot of the
// player pool and a presence view.
package matchmaker

import (
	"math"
	"math/rand"

	"github.com/elliotchance/pie/v2"

	"github.com/match-engine/internal/domain"
)

const earthRadiusKm = 6371.0

// DefaultLimit is used when Criteria.Limit is not positive.
const DefaultLimit = 10

// Criteria narrows the candidate pool
type Criteria struct {
	RatingWindow  int
	MaxDistanceKm float64
	Limit         int
}

// PresenceView reports the current status of a player
type PresenceView interface {
	Status(playerID string) domain.PresenceStatus
}

// Candidate is one shortlisted opponent
type Candidate struct {
	Player     domain.Player         `json:"player"`
	RatingGap  int                   `json:"rating_gap"`
	DistanceKm *float64              `json:"distance_km,omitempty"`
	Status     domain.PresenceStatus `json:"status"`
	Fallback   bool                  `json:"fallback"`
}

// FindCandidates returns opponents for requester drawn from pool.
//
// Players within the rating window (and distance, when both locations are
// known) are shuffled inside their presence tier. When nobody qualifies the
// whole pool is returned ranked by rating so that the result is never empty
// while another player exists.
func FindCandidates(requester domain.Player, pool []domain.Player, criteria Criteria, presence PresenceView, rng *rand.Rand) ([]Candidate, error) {
	others := pie.Filter(pool, func(p domain.Player) bool {
		return p.ID != requester.ID
	})
	if len(others) == 0 {
		return nil, domain.ErrNoCandidatesAvailable
	}

	limit := criteria.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	candidates := pie.Map(others, func(p domain.Player) Candidate {
		return newCandidate(requester, p, presence)
	})

	matching := pie.Filter(candidates, func(c Candidate) bool {
		if criteria.MaxDistanceKm > 0 && c.DistanceKm != nil && *c.DistanceKm > criteria.MaxDistanceKm {
			return false
		}
		return abs(c.RatingGap) <= criteria.RatingWindow
	})

	if len(matching) > 0 {
		if rng != nil {
			rng.Shuffle(len(matching), func(i, j int) {
				matching[i], matching[j] = matching[j], matching[i]
			})
		}
		return truncate(byPresence(matching), limit), nil
	}

	fallback := pie.SortUsing(candidates, func(a, b Candidate) bool {
		if a.Player.Rating != b.Player.Rating {
			return a.Player.Rating > b.Player.Rating
		}
		return a.Player.ID < b.Player.ID
	})
	fallback = pie.Map(fallback, func(c Candidate) Candidate {
		c.Fallback = true
		return c
	})
	return truncate(byPresence(fallback), limit), nil
}

func newCandidate(requester, p domain.Player, presence PresenceView) Candidate {
	c := Candidate{
		Player:    p,
		RatingGap: p.Rating - requester.Rating,
		Status:    domain.PresenceOffline,
	}
	if presence != nil {
		c.Status = presence.Status(p.ID)
	}
	c.Player.Status = c.Status
	if requester.Location != nil && p.Location != nil {
		d := Haversine(*requester.Location, *p.Location)
		c.DistanceKm = &d
	}
	return c
}

// byPresence groups candidates online first, then away, then offline,
// keeping the existing order inside each group.
func byPresence(candidates []Candidate) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, status := range []domain.PresenceStatus{domain.PresenceOnline, domain.PresenceAway, domain.PresenceOffline} {
		out = append(out, pie.Filter(candidates, func(c Candidate) bool {
			return tier(c.Status) == status
		})...)
	}
	return out
}

func tier(s domain.PresenceStatus) domain.PresenceStatus {
	if s.Valid() {
		return s
	}
	return domain.PresenceOffline
}

func truncate(candidates []Candidate, limit int) []Candidate {
	if len(candidates) > limit {
		return candidates[:limit]
	}
	return candidates
}

// Haversine returns the great-circle distance between two points in kilometres.
func Haversine(a, b domain.Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
