package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"workchat-backend/internal/middleware"
	redisrepo "workchat-backend/internal/repository/redis"
	"workchat-backend/pkg/logger"
	"workchat-backend/pkg/metrics"
	"workchat-backend/pkg/response"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// MembershipChecker verifies that a user may subscribe to a conversation
type MembershipChecker interface {
	VerifyMembership(ctx context.Context, conversationID, userID, tenantID uuid.UUID) error
}

// Heartbeater keeps the connected identity's presence alive
type Heartbeater interface {
	Heartbeat(ctx context.Context, userID, tenantID uuid.UUID) error
}

// Hub fans conversation events from Redis Pub/Sub out to connected
// WebSocket clients. One subscription per conversation is shared by all
// local clients watching it; other gateway instances hold their own.
type Hub struct {
	pubsub   *redisrepo.PubSubRepository
	members  MembershipChecker
	presence Heartbeater
	metrics  *metrics.Metrics

	mu            sync.RWMutex
	conversations map[uuid.UUID]map[*Client]bool
	cancels       map[uuid.UUID]context.CancelFunc

	register   chan *Client
	unregister chan *Client
	broadcast  chan *redisrepo.Event
}

// Client is one connected WebSocket session bound to a conversation
type Client struct {
	hub            *Hub
	conn           *websocket.Conn
	send           chan []byte
	userID         uuid.UUID
	tenantID       uuid.UUID
	conversationID uuid.UUID
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin policy is enforced by the CORS layer in front.
	},
}

// NewHub creates a new hub and starts its dispatch loop
func NewHub(pubsub *redisrepo.PubSubRepository, members MembershipChecker, presence Heartbeater, m *metrics.Metrics) *Hub {
	hub := &Hub{
		pubsub:        pubsub,
		members:       members,
		presence:      presence,
		metrics:       m,
		conversations: make(map[uuid.UUID]map[*Client]bool),
		cancels:       make(map[uuid.UUID]context.CancelFunc),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		broadcast:     make(chan *redisrepo.Event, 256),
	}

	go hub.run()

	return hub
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.conversations[client.conversationID] == nil {
				h.conversations[client.conversationID] = make(map[*Client]bool)

				ctx, cancel := context.WithCancel(context.Background())
				h.cancels[client.conversationID] = cancel
				go h.subscribe(ctx, client.conversationID)
			}
			h.conversations[client.conversationID][client] = true
			h.mu.Unlock()

			if h.metrics != nil {
				h.metrics.WSConnections.Inc()
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.conversations[client.conversationID]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)

					if h.metrics != nil {
						h.metrics.WSConnections.Dec()
					}

					if len(clients) == 0 {
						delete(h.conversations, client.conversationID)
						if cancel, ok := h.cancels[client.conversationID]; ok {
							cancel()
							delete(h.cancels, client.conversationID)
						}
					}
				}
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for client := range h.conversations[event.ConversationID] {
				select {
				case client.send <- data:
				default:
					// Slow consumer; drop the connection rather than the hub.
					close(client.send)
					delete(h.conversations[event.ConversationID], client)
					if h.metrics != nil {
						h.metrics.WSConnections.Dec()
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribe pumps one conversation's Redis channel into the local broadcast
func (h *Hub) subscribe(ctx context.Context, conversationID uuid.UUID) {
	sub := h.pubsub.Subscribe(ctx, conversationID)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event redisrepo.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logger.Warn("failed to unmarshal pubsub event", zap.Error(err))
				continue
			}
			h.broadcast <- &event
		}
	}
}

// ServeWS upgrades an authenticated request to a WebSocket subscription
// GET /v1/ws?conversation_id=
func (h *Hub) ServeWS(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	conversationID, err := uuid.Parse(c.Query("conversation_id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation_id")
		return
	}

	if err := h.members.VerifyMembership(c.Request.Context(), conversationID, identity.UserID, identity.TenantID); err != nil {
		response.FromError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:            h,
		conn:           conn,
		send:           make(chan []byte, 256),
		userID:         identity.UserID,
		tenantID:       identity.TenantID,
		conversationID: conversationID,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump drains the connection. Inbound frames are heartbeats only; all
// mutations go through the HTTP API so one code path owns validation.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("websocket closed", zap.Error(err))
			}
			return
		}

		if c.hub.presence != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.hub.presence.Heartbeat(ctx, c.userID, c.tenantID); err != nil {
				logger.Warn("heartbeat failed", zap.Error(err))
			}
			cancel()
		}
	}
}

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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
