package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/match-engine/internal/domain"
	"github.com/match-engine/internal/metrics"
)

// Message types
const (
	MessageTypeSnapshot     = "snapshot"
	MessageTypeSubscribe    = "subscribe"
	MessageTypeUnsubscribe  = "unsubscribe"
	MessageTypeSubscribed   = "subscribed"
	MessageTypeUnsubscribed = "unsubscribed"
	MessageTypeHeartbeat    = "heartbeat"
	MessageTypeRecordSet    = "record_set"
	MessageTypeSetAccepted  = "set_accepted"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeError        = "error"
)

// ErrBroadcastQueueFull is returned when the hub cannot take more events
var ErrBroadcastQueueFull = errors.New("broadcast queue full")

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	MatchID   string      `json:"match_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorData is the payload of an error message
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Matches is the match access needed by connected clients
type Matches interface {
	GetMatch(ctx context.Context, matchID string) (*domain.MatchState, error)
	RecordSet(ctx context.Context, sub domain.SetSubmission) (*domain.MatchState, error)
}

// Presence receives heartbeats and disconnects of identified clients
type Presence interface {
	Touch(ctx context.Context, playerID string) error
	SetStatus(ctx context.Context, playerID string, status domain.PresenceStatus) error
}

// Hub maintains the set of active clients and fans match events out to the
// clients subscribed to each match
type Hub struct {
	// Subscribed clients by match ID
	clients map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu sync.RWMutex

	matches  Matches
	presence Presence
	metrics  metrics.MatchMetrics
	logger   *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client  *Client
	matchID string
	done    chan struct{}
}

// NewHub creates a new Hub
func NewHub(matches Matches, presence Presence, m metrics.MatchMetrics, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		matches:     matches,
		presence:    presence,
		metrics:     m,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			total := len(h.allClients)
			h.mu.Unlock()
			h.metrics.WebsocketConnections(total)
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for matchID, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, matchID)
						}
					}
				}
				close(client.send)
			}
			total := len(h.allClients)
			h.mu.Unlock()
			h.metrics.WebsocketConnections(total)
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[req.matchID]; !ok {
				h.clients[req.matchID] = make(map[*Client]bool)
			}
			h.clients[req.matchID][req.client] = true
			h.mu.Unlock()
			close(req.done)
			h.logger.Debug("client subscribed", "client_id", req.client.id, "match_id", req.matchID)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.matchID]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.matchID)
				}
			}
			h.mu.Unlock()
			close(req.done)
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "match_id", req.matchID)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to the clients subscribed to its match
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	for client := range h.clients[message.MatchID] {
		select {
		case client.send <- data:
		default:
			// Client's buffer is full, skip
			h.logger.Warn("client buffer full, skipping", "client_id", client.id, "match_id", message.MatchID)
		}
	}
}

// Publish queues a match event for the subscribers of its match
func (h *Hub) Publish(_ context.Context, event domain.MatchEvent) error {
	message := &Message{
		Type:      string(event.Type),
		MatchID:   event.MatchID,
		Data:      event,
		Timestamp: event.Timestamp,
	}

	select {
	case h.broadcast <- message:
		return nil
	default:
		return fmt.Errorf("match %s: %w", event.MatchID, ErrBroadcastQueueFull)
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Subscribe adds a client to a match topic and waits until it is in effect
func (h *Hub) Subscribe(client *Client, matchID string) {
	h.request(h.subscribe, client, matchID)
}

// Unsubscribe removes a client from a match topic
func (h *Hub) Unsubscribe(client *Client, matchID string) {
	h.request(h.unsubscribe, client, matchID)
}

func (h *Hub) request(ch chan *subscriptionRequest, client *Client, matchID string) {
	req := &subscriptionRequest{client: client, matchID: matchID, done: make(chan struct{})}
	select {
	case ch <- req:
	case <-h.ctx.Done():
		return
	}
	select {
	case <-req.done:
	case <-h.ctx.Done():
	}
}

// GetSubscriberCount returns the number of subscribers for a match
func (h *Hub) GetSubscriberCount(matchID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[matchID])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}

// GetTopicCount returns the number of matches with at least one subscriber
func (h *Hub) GetTopicCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
