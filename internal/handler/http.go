package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/match-engine/internal/domain"
	"github.com/match-engine/internal/service"
	"github.com/match-engine/internal/websocket"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services bundles the application services exposed over HTTP
type Services struct {
	Matches    *service.MatchService
	Players    *service.PlayerService
	Challenges *service.ChallengeService
}

// Handler provides HTTP handlers for the match API
type Handler struct {
	matches    *service.MatchService
	players    *service.PlayerService
	challenges *service.ChallengeService
	hub        *websocket.Hub
	store      Pinger
	gatherer   prometheus.Gatherer
	logger     *slog.Logger
}

// NewHandler creates a new HTTP handler. gatherer may be nil to disable /metrics.
func NewHandler(svc Services, hub *websocket.Hub, store Pinger, gatherer prometheus.Gatherer, logger *slog.Logger) *Handler {
	return &Handler{
		matches:    svc.Matches,
		players:    svc.Players,
		challenges: svc.Challenges,
		hub:        hub,
		store:      store,
		gatherer:   gatherer,
		logger:     logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/players", func(r chi.Router) {
			r.Post("/", h.UpsertPlayer)
			r.Route("/{playerID}", func(r chi.Router) {
				r.Get("/", h.GetPlayer)
				r.Put("/presence", h.SetPresence)
				r.Get("/candidates", h.FindCandidates)
				r.Get("/history", h.RatingHistory)
			})
		})

		r.Route("/matches", func(r chi.Router) {
			r.Post("/", h.OpenMatch)
			r.Route("/{matchID}", func(r chi.Router) {
				r.Get("/", h.GetMatch)
				r.Post("/sets", h.RecordSet)
				r.Post("/finalize", h.FinalizeMatch)
				r.Post("/cancel", h.CancelMatch)
			})
		})

		r.Route("/challenges", func(r chi.Router) {
			r.Post("/", h.CreateChallenge)
			r.Route("/{challengeID}", func(r chi.Router) {
				r.Get("/", h.GetChallenge)
				r.Post("/accept", h.AcceptChallenge)
				r.Post("/decline", h.DeclineChallenge)
				r.Post("/cancel", h.CancelChallenge)
			})
		})

		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeCreated writes a 201 JSON response
func (h *Handler) writeCreated(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError maps a domain error to its status and player-facing message
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.Code(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   domain.UserMessage(err),
		Code:    code,
	})
}

func statusFor(code string) int {
	switch code {
	case "invalid_score", "invalid_format", "invalid_request", "same_player":
		return http.StatusBadRequest
	case "not_challenge_participant":
		return http.StatusForbidden
	case "match_not_found", "player_not_found", "challenge_not_found", "no_candidates_available":
		return http.StatusNotFound
	case "match_not_active", "invalid_set_sequence", "set_conflict", "challenge_not_pending":
		return http.StatusConflict
	case "challenge_expired":
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body, reporting malformed input as an invalid request
// and a fractional score as an invalid score
func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.DecodeError(err)
	}
	return nil
}

func queryInt(r *http.Request, key string) (*int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, domain.ErrInvalidRequest
	}
	return &v, nil
}

func queryFloat(r *http.Request, key string) (*float64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, domain.ErrInvalidRequest
	}
	return &v, nil
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
		"watched_matches":   h.hub.GetTopicCount(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck reports ready once the store answers
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Error:   "store unavailable",
		})
		return
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}
