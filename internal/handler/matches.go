package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/match-engine/internal/domain"
)

// OpenMatch creates a match between two players
func (h *Handler) OpenMatch(w http.ResponseWriter, r *http.Request) {
	var req domain.OpenMatchRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	state, err := h.matches.OpenMatch(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeCreated(w, state)
}

// GetMatch returns the current state of a match
func (h *Handler) GetMatch(w http.ResponseWriter, r *http.Request) {
	state, err := h.matches.GetMatch(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, state)
}

// RecordSet submits the final score of a set
func (h *Handler) RecordSet(w http.ResponseWriter, r *http.Request) {
	var sub domain.SetSubmission
	if err := decode(r, &sub); err != nil {
		h.writeError(w, r, err)
		return
	}
	sub.MatchID = chi.URLParam(r, "matchID")

	state, err := h.matches.RecordSet(r.Context(), sub)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, state)
}

// FinalizeMatch completes a match whose winner is decided
func (h *Handler) FinalizeMatch(w http.ResponseWriter, r *http.Request) {
	state, err := h.matches.Finalize(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, state)
}

// CancelMatch abandons an active match
func (h *Handler) CancelMatch(w http.ResponseWriter, r *http.Request) {
	state, err := h.matches.CancelMatch(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, state)
}
