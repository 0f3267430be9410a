package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/match-engine/internal/domain"
)

// CreateChallenge invites another player to a match
func (h *Handler) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateChallengeRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	challenge, err := h.challenges.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeCreated(w, challenge)
}

// GetChallenge returns a challenge
func (h *Handler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	challenge, err := h.challenges.Get(r.Context(), chi.URLParam(r, "challengeID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, challenge)
}

// AcceptChallenge accepts a challenge and opens its match
func (h *Handler) AcceptChallenge(w http.ResponseWriter, r *http.Request) {
	var req domain.ChallengeResponse
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	accepted, err := h.challenges.Accept(r.Context(), chi.URLParam(r, "challengeID"), req.PlayerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeCreated(w, accepted)
}

// DeclineChallenge turns a challenge down
func (h *Handler) DeclineChallenge(w http.ResponseWriter, r *http.Request) {
	h.respondToChallenge(w, r, h.challenges.Decline)
}

// CancelChallenge withdraws a challenge
func (h *Handler) CancelChallenge(w http.ResponseWriter, r *http.Request) {
	h.respondToChallenge(w, r, h.challenges.Cancel)
}

func (h *Handler) respondToChallenge(
	w http.ResponseWriter,
	r *http.Request,
	respond func(ctx context.Context, challengeID, playerID string) (*domain.Challenge, error),
) {
	var req domain.ChallengeResponse
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	challenge, err := respond(r.Context(), chi.URLParam(r, "challengeID"), req.PlayerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, challenge)
}
