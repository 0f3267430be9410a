package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/match-engine/internal/domain"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	// Upper bound for a store call made on behalf of a client
	requestTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	// Player announced through heartbeats, read and written by readPump only
	playerID string
}

// ClientMessage represents a message from the client
type ClientMessage struct {
	Type      string `json:"type"`
	MatchID   string `json:"match_id,omitempty"`
	PlayerID  string `json:"player_id,omitempty"`
	SetNumber int    `json:"set_number,omitempty"`
	ScoreA    int    `json:"score_a,omitempty"`
	ScoreB    int    `json:"score_b,omitempty"`
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		logger: logger.With("client_id", id),
	}
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
		c.goOffline()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket error", "error", err)
			}
			break
		}

		var clientMsg ClientMessage
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			c.logger.Warn("invalid message format", "error", err)
			if err := domain.DecodeError(err); errors.Is(err, domain.ErrInvalidScore) {
				c.sendError(clientMsg.MatchID, domain.Code(err), domain.UserMessage(err))
				continue
			}
			c.sendError("", "invalid_request", "invalid message format")
			continue
		}

		c.handleMessage(&clientMsg)
	}
}

// handleMessage processes incoming client messages
func (c *Client) handleMessage(msg *ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe:
		if msg.MatchID == "" {
			c.sendError("", "invalid_request", "match_id required for subscribe")
			return
		}
		c.subscribe(msg.MatchID)

	case MessageTypeUnsubscribe:
		if msg.MatchID != "" {
			c.hub.Unsubscribe(c, msg.MatchID)
			c.sendAck(MessageTypeUnsubscribed, msg.MatchID, map[string]string{"status": "ok"})
		}

	case MessageTypeHeartbeat:
		c.heartbeat(msg.PlayerID)

	case MessageTypeRecordSet:
		c.recordSet(msg)

	case MessageTypePing:
		c.sendPong()

	default:
		c.logger.Debug("unknown message type", "type", msg.Type)
	}
}

// subscribe joins the match topic before reading the snapshot so no event
// published after the snapshot is missed
func (c *Client) subscribe(matchID string) {
	c.hub.Subscribe(c, matchID)

	ctx, cancel := context.WithTimeout(c.hub.ctx, requestTimeout)
	defer cancel()

	state, err := c.hub.matches.GetMatch(ctx, matchID)
	if err != nil {
		c.hub.Unsubscribe(c, matchID)
		c.sendError(matchID, domain.Code(err), domain.UserMessage(err))
		return
	}

	c.sendAck(MessageTypeSubscribed, matchID, map[string]string{"status": "ok"})
	c.sendAck(MessageTypeSnapshot, matchID, state)
}

func (c *Client) heartbeat(playerID string) {
	if c.hub.presence == nil || playerID == "" {
		return
	}
	if c.playerID != "" && c.playerID != playerID {
		c.goOffline()
	}
	c.playerID = playerID

	ctx, cancel := context.WithTimeout(c.hub.ctx, requestTimeout)
	defer cancel()
	if err := c.hub.presence.Touch(ctx, playerID); err != nil {
		c.sendError("", domain.Code(err), domain.UserMessage(err))
	}
}

func (c *Client) recordSet(msg *ClientMessage) {
	if msg.MatchID == "" {
		c.sendError("", "invalid_request", "match_id required for record_set")
		return
	}

	ctx, cancel := context.WithTimeout(c.hub.ctx, requestTimeout)
	defer cancel()

	state, err := c.hub.matches.RecordSet(ctx, domain.SetSubmission{
		MatchID:   msg.MatchID,
		SetNumber: msg.SetNumber,
		ScoreA:    msg.ScoreA,
		ScoreB:    msg.ScoreB,
	})
	if err != nil {
		c.sendError(msg.MatchID, domain.Code(err), domain.UserMessage(err))
		return
	}
	c.sendAck(MessageTypeSetAccepted, msg.MatchID, state)
}

func (c *Client) goOffline() {
	if c.hub.presence == nil || c.playerID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := c.hub.presence.SetStatus(ctx, c.playerID, domain.PresenceOffline); err != nil {
		c.logger.Warn("failed to mark player offline", "player_id", c.playerID, "error", err)
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current WebSocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) enqueue(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal message", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// sendError sends an error message to the client
func (c *Client) sendError(matchID, code, message string) {
	c.enqueue(Message{
		Type:      MessageTypeError,
		MatchID:   matchID,
		Data:      ErrorData{Code: code, Message: message},
		Timestamp: time.Now(),
	})
}

// sendAck sends a reply tied to a match
func (c *Client) sendAck(msgType, matchID string, data interface{}) {
	c.enqueue(Message{
		Type:      msgType,
		MatchID:   matchID,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// sendPong sends a pong response
func (c *Client) sendPong() {
	c.enqueue(Message{
		Type:      MessageTypePong,
		Timestamp: time.Now(),
	})
}

// ServeWs handles WebSocket requests from peers
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)

	go client.writePump()
	go client.readPump()

	logger.Debug("new websocket connection", "client_id", client.id)
}
