package domain

import "time"

// DefaultRating is the MR assigned to new players.
const DefaultRating = 1000

// PresenceStatus is the best-effort online state of a player
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

// Valid reports whether s is one of the known statuses.
func (s PresenceStatus) Valid() bool {
	switch s {
	case PresenceOnline, PresenceAway, PresenceOffline:
		return true
	}
	return false
}

// Location is a WGS84 coordinate
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Player represents a player in the system
type Player struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	City        string         `json:"city,omitempty"`
	Rating      int            `json:"rating"`
	Experience  int            `json:"experience"`
	Level       int            `json:"level"`
	Location    *Location      `json:"location,omitempty"`
	Status      PresenceStatus `json:"status,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// UpsertPlayerRequest represents a request to register or update a player profile
type UpsertPlayerRequest struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	City        string    `json:"city,omitempty"`
	Location    *Location `json:"location,omitempty"`
}

// PlayerFilter narrows the candidate pool read from the store
type PlayerFilter struct {
	City  string
	Limit int
	// NearRating orders players by distance from this rating instead of
	// by rating descending, so the limit keeps the closest opponents.
	NearRating *int
}

// PresenceRecord is the last known presence of a player
type PresenceRecord struct {
	PlayerID string         `json:"player_id"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"last_seen"`
}

// RatingHistoryEntry is one applied rating change
type RatingHistoryEntry struct {
	PlayerID     string    `json:"player_id"`
	MatchID      string    `json:"match_id"`
	RatingBefore int       `json:"rating_before"`
	RatingAfter  int       `json:"rating_after"`
	Delta        int       `json:"delta"`
	CreatedAt    time.Time `json:"created_at"`
}

// PresenceRequest represents an explicit presence change
type PresenceRequest struct {
	Status PresenceStatus `json:"status"`
}
