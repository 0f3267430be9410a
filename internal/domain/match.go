package domain

import (
	"time"
)

// MatchKind decides whether a match affects ratings
type MatchKind string

const (
	MatchKindRanked   MatchKind = "RANKED"
	MatchKindFriendly MatchKind = "FRIENDLY"
)

// Valid reports whether k is a known kind.
func (k MatchKind) Valid() bool {
	return k == MatchKindRanked || k == MatchKindFriendly
}

// MatchStatus represents where a match is in its lifecycle
type MatchStatus string

const (
	MatchStatusPending    MatchStatus = "PENDING"
	MatchStatusInProgress MatchStatus = "IN_PROGRESS"
	MatchStatusCompleted  MatchStatus = "COMPLETED"
	MatchStatusCancelled  MatchStatus = "CANCELLED"
)

// Active reports whether sets may still be recorded.
func (s MatchStatus) Active() bool {
	return s == MatchStatusPending || s == MatchStatusInProgress
}

// Side identifies one of the two players of a match
type Side string

const (
	SideNone Side = ""
	SideA    Side = "A"
	SideB    Side = "B"
)

// Match represents one contest between exactly two players
type Match struct {
	ID               string      `json:"id"`
	PlayerAID        string      `json:"player_a_id"`
	PlayerBID        string      `json:"player_b_id"`
	Kind             MatchKind   `json:"kind"`
	BestOf           int         `json:"best_of"`
	Status           MatchStatus `json:"status"`
	RatingAStart     int         `json:"rating_a_start"`
	RatingBStart     int         `json:"rating_b_start"`
	SetsWonA         int         `json:"sets_won_a"`
	SetsWonB         int         `json:"sets_won_b"`
	WinnerID         *string     `json:"winner_id"`
	DeltaA           *int        `json:"delta_a"`
	DeltaB           *int        `json:"delta_b"`
	ChallengeID      *string     `json:"challenge_id,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	StartedAt        *time.Time  `json:"started_at"`
	CompletedAt      *time.Time  `json:"completed_at"`
	CancelledAt      *time.Time  `json:"cancelled_at,omitempty"`
	RatingsAppliedAt *time.Time  `json:"ratings_applied_at,omitempty"`
}

// PlayerID returns the identity playing on side.
func (m *Match) PlayerID(side Side) string {
	switch side {
	case SideA:
		return m.PlayerAID
	case SideB:
		return m.PlayerBID
	}
	return ""
}

// HasPlayer reports whether playerID takes part in the match.
func (m *Match) HasPlayer(playerID string) bool {
	return playerID != "" && (m.PlayerAID == playerID || m.PlayerBID == playerID)
}

// Set is one game within a match
type Set struct {
	MatchID    string    `json:"match_id"`
	Number     int       `json:"set_number"`
	ScoreA     int       `json:"score_a"`
	ScoreB     int       `json:"score_b"`
	Decided    bool      `json:"decided"`
	Winner     Side      `json:"winner,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// SameScore reports whether other carries identical points.
func (s Set) SameScore(other Set) bool {
	return s.ScoreA == other.ScoreA && s.ScoreB == other.ScoreB
}

// SetRequirement is how many points each side still needs to close a live set
type SetRequirement struct {
	NeedA int `json:"need_a"`
	NeedB int `json:"need_b"`
}

// MatchState is the full observable state of a match
type MatchState struct {
	Match       Match           `json:"match"`
	Sets        []Set           `json:"sets"`
	SetsToWin   int             `json:"sets_to_win"`
	NextSet     int             `json:"next_set"`
	Requirement *SetRequirement `json:"requirement,omitempty"`
}

// OpenMatchRequest represents a request to open a match
type OpenMatchRequest struct {
	PlayerAID   string    `json:"player_a_id"`
	PlayerBID   string    `json:"player_b_id"`
	Kind        MatchKind `json:"kind"`
	BestOf      int       `json:"best_of"`
	ChallengeID string    `json:"challenge_id,omitempty"`
}

// SetSubmission represents a set score sent by a client or scoreboard
type SetSubmission struct {
	MatchID   string `json:"match_id"`
	SetNumber int    `json:"set_number"`
	ScoreA    int    `json:"score_a"`
	ScoreB    int    `json:"score_b"`
}

// RatingApplication is the pending transfer of a completed match's deltas onto live player rows
type RatingApplication struct {
	MatchID     string     `json:"match_id"`
	PlayerAID   string     `json:"player_a_id"`
	PlayerBID   string     `json:"player_b_id"`
	DeltaA      int        `json:"delta_a"`
	DeltaB      int        `json:"delta_b"`
	ExperienceA int        `json:"experience_a"`
	ExperienceB int        `json:"experience_b"`
	Attempts    int        `json:"attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	AppliedAt   *time.Time `json:"applied_at,omitempty"`
}

// EventType names a match state change
type EventType string

const (
	EventMatchOpened    EventType = "match_opened"
	EventSetRecorded    EventType = "set_recorded"
	EventMatchCompleted EventType = "match_completed"
	EventMatchCancelled EventType = "match_cancelled"
	EventRatingsApplied EventType = "ratings_applied"
)

// MatchEvent is published to the topic of its match after every state change
type MatchEvent struct {
	Type      EventType `json:"type"`
	MatchID   string    `json:"match_id"`
	Match     Match     `json:"match"`
	Set       *Set      `json:"set,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
