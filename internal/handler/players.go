package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/match-engine/internal/domain"
	"github.com/match-engine/internal/service"
)

// UpsertPlayer registers a player or updates its profile
func (h *Handler) UpsertPlayer(w http.ResponseWriter, r *http.Request) {
	var req domain.UpsertPlayerRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	player, err := h.players.UpsertPlayer(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, player)
}

// GetPlayer returns a player with level and presence
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	player, err := h.players.GetPlayer(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, player)
}

// SetPresence records an explicit presence change
func (h *Handler) SetPresence(w http.ResponseWriter, r *http.Request) {
	var req domain.PresenceRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	rec, err := h.players.SetPresence(r.Context(), chi.URLParam(r, "playerID"), req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, rec)
}

// FindCandidates returns suggested opponents for a player
func (h *Handler) FindCandidates(w http.ResponseWriter, r *http.Request) {
	window, err := queryInt(r, "rating_window")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	distance, err := queryFloat(r, "max_distance_km")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	q := service.CandidateQuery{
		RatingWindow:  window,
		MaxDistanceKm: distance,
		City:          r.URL.Query().Get("city"),
	}
	if limit != nil {
		q.Limit = *limit
	}

	candidates, err := h.players.FindCandidates(r.Context(), chi.URLParam(r, "playerID"), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, candidates)
}

// RatingHistory returns the latest rating changes of a player
func (h *Handler) RatingHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	n := 0
	if limit != nil {
		n = *limit
	}

	entries, err := h.players.RatingHistory(r.Context(), chi.URLParam(r, "playerID"), n)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, entries)
}
