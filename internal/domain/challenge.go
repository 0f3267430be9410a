package domain

import "time"

// ChallengeStatus represents the state of a pairing proposal
type ChallengeStatus string

const (
	ChallengeStatusPending   ChallengeStatus = "PENDING"
	ChallengeStatusAccepted  ChallengeStatus = "ACCEPTED"
	ChallengeStatusDeclined  ChallengeStatus = "DECLINED"
	ChallengeStatusExpired   ChallengeStatus = "EXPIRED"
	ChallengeStatusCancelled ChallengeStatus = "CANCELLED"
)

// Challenge is a proposal from one player to another to start a match
type Challenge struct {
	ID           string          `json:"id"`
	ChallengerID string          `json:"challenger_id"`
	ChallengedID string          `json:"challenged_id"`
	Kind         MatchKind       `json:"kind"`
	BestOf       int             `json:"best_of"`
	Status       ChallengeStatus `json:"status"`
	ExpiresAt    time.Time       `json:"expires_at"`
	MatchID      *string         `json:"match_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	RespondedAt  *time.Time      `json:"responded_at,omitempty"`
}

// ExpiredAt reports whether a pending challenge is past its expiry at now.
func (c *Challenge) ExpiredAt(now time.Time) bool {
	return c.Status == ChallengeStatusPending && !now.Before(c.ExpiresAt)
}

// CreateChallengeRequest represents a request to challenge another player
type CreateChallengeRequest struct {
	ChallengerID string        `json:"challenger_id"`
	ChallengedID string        `json:"challenged_id"`
	Kind         MatchKind     `json:"kind"`
	BestOf       int           `json:"best_of"`
	TTL          time.Duration `json:"-"`
	TTLSeconds   int           `json:"ttl_seconds,omitempty"`
}

// ChallengeResponse represents a player answering a challenge
type ChallengeResponse struct {
	PlayerID string `json:"player_id"`
}

// AcceptedChallenge is the result of accepting a challenge
type AcceptedChallenge struct {
	Challenge Challenge `json:"challenge"`
	Match     Match     `json:"match"`
}
