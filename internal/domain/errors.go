package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrInvalidScore          = errors.New("invalid set score")
	ErrInvalidFormat         = errors.New("invalid match format")
	ErrMatchNotActive        = errors.New("match is not active")
	ErrInvalidSetSequence    = errors.New("set submitted out of sequence")
	ErrSetConflict           = errors.New("set already recorded with different scores")
	ErrNoCandidatesAvailable = errors.New("no candidates available")

	ErrMatchNotFound           = errors.New("match not found")
	ErrPlayerNotFound          = errors.New("player not found")
	ErrChallengeNotFound       = errors.New("challenge not found")
	ErrChallengeExpired        = errors.New("challenge expired")
	ErrChallengeNotPending     = errors.New("challenge is no longer pending")
	ErrNotChallengeParticipant = errors.New("player is not allowed to act on this challenge")
	ErrSamePlayer              = errors.New("a player cannot face themselves")

	// ErrSetExists is returned by stores when (match_id, set_number) is already taken.
	ErrSetExists = errors.New("set already exists")

	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalError  = errors.New("internal server error")
)

// DecodeError classifies a failure to decode a set submission or any other
// JSON request. A score that is not a whole number is ErrInvalidScore; any
// other malformed input is ErrInvalidRequest.
func DecodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && (typeErr.Field == "score_a" || typeErr.Field == "score_b") {
		return fmt.Errorf("%s is %s: %w", typeErr.Field, typeErr.Value, ErrInvalidScore)
	}
	return ErrInvalidRequest
}

// SetConflictError carries the stored set that a differing submission collided with.
type SetConflictError struct {
	Existing  Set
	Submitted Set
}

func (e *SetConflictError) Error() string {
	return fmt.Sprintf("set %d already recorded as %d-%d, got %d-%d",
		e.Existing.Number, e.Existing.ScoreA, e.Existing.ScoreB, e.Submitted.ScoreA, e.Submitted.ScoreB)
}

// Is makes errors.Is(err, ErrSetConflict) hold for conflict details.
func (e *SetConflictError) Is(target error) bool {
	return target == ErrSetConflict
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrMatchNotFound) ||
		errors.Is(err, ErrPlayerNotFound) ||
		errors.Is(err, ErrChallengeNotFound)
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidScore):
		return "invalid_score"
	case errors.Is(err, ErrInvalidFormat):
		return "invalid_format"
	case errors.Is(err, ErrMatchNotActive):
		return "match_not_active"
	case errors.Is(err, ErrInvalidSetSequence):
		return "invalid_set_sequence"
	case errors.Is(err, ErrSetConflict):
		return "set_conflict"
	case errors.Is(err, ErrNoCandidatesAvailable):
		return "no_candidates_available"
	case errors.Is(err, ErrMatchNotFound):
		return "match_not_found"
	case errors.Is(err, ErrPlayerNotFound):
		return "player_not_found"
	case errors.Is(err, ErrChallengeNotFound):
		return "challenge_not_found"
	case errors.Is(err, ErrChallengeExpired):
		return "challenge_expired"
	case errors.Is(err, ErrChallengeNotPending):
		return "challenge_not_pending"
	case errors.Is(err, ErrNotChallengeParticipant):
		return "not_challenge_participant"
	case errors.Is(err, ErrSamePlayer):
		return "same_player"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return "internal_error"
	}
}

// UserMessage explains a rejected operation in words a player understands.
func UserMessage(err error) string {
	var conflict *SetConflictError
	if errors.As(err, &conflict) {
		return fmt.Sprintf("set %d was already recorded differently by your opponent (%d-%d)",
			conflict.Existing.Number, conflict.Existing.ScoreA, conflict.Existing.ScoreB)
	}

	switch {
	case errors.Is(err, ErrInvalidScore):
		return "scores must be whole numbers of zero or more"
	case errors.Is(err, ErrInvalidFormat):
		return "a match must be played as best of an odd number of sets"
	case errors.Is(err, ErrMatchNotActive):
		return "this match is already finished or cancelled, refresh to see the result"
	case errors.Is(err, ErrInvalidSetSequence):
		return "this set is out of order, refresh the match and submit again"
	case errors.Is(err, ErrSetConflict):
		return "this set was already recorded differently by your opponent"
	case errors.Is(err, ErrNoCandidatesAvailable):
		return "no opponents are available right now, try again later"
	case errors.Is(err, ErrChallengeExpired):
		return "this challenge has expired"
	case errors.Is(err, ErrChallengeNotPending):
		return "this challenge was already answered"
	case errors.Is(err, ErrNotChallengeParticipant):
		return "you cannot respond to this challenge"
	case errors.Is(err, ErrSamePlayer):
		return "you cannot play against yourself"
	case IsNotFoundError(err), errors.Is(err, ErrInvalidRequest):
		return err.Error()
	default:
		return ErrInternalError.Error()
	}
}
