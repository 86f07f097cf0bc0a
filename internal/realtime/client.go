package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/teamloop/backend/internal/events"
	"github.com/teamloop/backend/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// inboundMessage is the client-to-server control envelope. Only PING is
// recognized; anything else is ignored.
type inboundMessage struct {
	Type string `json:"type"`
}

// Client represents a single WebSocket connection joined to one
// organization's room. Owned by the Hub for its lifetime; never persisted.
type Client struct {
	ID     string
	OrgID  uuid.UUID
	UserID uuid.UUID
	Role   models.Role
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger
}

// TokenVerifier resolves an access token to connection identity.
type TokenVerifier func(token string) (userID, orgID uuid.UUID, role models.Role, err error)

// ServeWs verifies the access token from the query string, upgrades the
// connection, joins the org room, and runs the client pumps. Verification
// failure yields a plain-text 401 with no upgrade.
func ServeWs(hub *Hub, logger *zap.Logger, verify TokenVerifier) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.String(http.StatusUnauthorized, "missing token")
			return
		}
		userID, orgID, role, err := verify(token)
		if err != nil {
			c.String(http.StatusUnauthorized, "invalid or expired token")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:     uuid.New().String(),
			OrgID:  orgID,
			UserID: userID,
			Role:   role,
			hub:    hub,
			conn:   conn,
			send:   make(chan []byte, 256),
			logger: logger,
		}
		hub.Join(client)
		client.enqueue(events.Connected())

		go client.writePump()
		client.readPump()
	}
}

// enqueue serializes an event onto this client's send buffer only.
func (c *Client) enqueue(evt events.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Leave(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // malformed inbound is silently ignored
		}
		switch msg.Type {
		case "PING":
			c.enqueue(events.Pong())
		default:
			// ignore
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
