package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/OpenMachineSim/internal/auth"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the authentication message
	authWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Send channel buffer size
	sendBufferSize = 256
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
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	logger      *zap.Logger
	permissions []auth.Permission

	// nil streams every point
	mu     sync.RWMutex
	points map[string]bool
}

type clientMessage struct {
	Type   string   `json:"type"`
	Token  string   `json:"token,omitempty"`
	Points []string `json:"points,omitempty"`
}

func (c *Client) remoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *Client) wants(point string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.points == nil || c.points[point]
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)

	if c.hub.validator != nil && !c.authenticate() {
		// writePump flushes the reply and closes the connection
		return
	}

	registered := false
	defer func() {
		if registered {
			select {
			case c.hub.unregister <- c:
			case <-c.hub.done:
			}
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	select {
	case c.hub.register <- c:
		registered = true
	case <-c.hub.done:
		return
	}

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.remoteAddr()))
			}
			return
		}
		c.handleMessage(msg)
	}
}

// authenticate requires the first message to carry a valid token. On
// failure the reason is flushed by writePump before the connection closes.
func (c *Client) authenticate() bool {
	c.conn.SetReadDeadline(time.Now().Add(authWait))

	var msg clientMessage
	if err := c.conn.ReadJSON(&msg); err != nil {
		close(c.send)
		return false
	}

	if msg.Type != "auth" || msg.Token == "" {
		c.reply(MessageTypeAuthFailed, map[string]string{"reason": "First message must be authentication"})
		close(c.send)
		return false
	}

	permissions, err := c.hub.validator.ValidateToken(msg.Token)
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remote_addr", c.remoteAddr()))
		c.reply(MessageTypeAuthFailed, map[string]string{"reason": "Invalid or expired token"})
		close(c.send)
		return false
	}

	c.permissions = permissions
	c.reply(MessageTypeAuthSuccess, map[string]interface{}{"permissions": permissions})
	c.logger.Info("WebSocket client authenticated",
		zap.String("remote_addr", c.remoteAddr()),
		zap.Any("permissions", permissions))
	return true
}

func (c *Client) handleMessage(msg clientMessage) {
	switch msg.Type {
	case "subscribe":
		c.mu.Lock()
		if len(msg.Points) == 0 {
			c.points = nil
		} else {
			c.points = make(map[string]bool, len(msg.Points))
			for _, p := range msg.Points {
				c.points[p] = true
			}
		}
		c.mu.Unlock()
		c.reply(MessageTypeSubscribed, map[string]interface{}{"points": msg.Points})

	default:
		c.logger.Debug("Ignoring client message",
			zap.String("remote_addr", c.remoteAddr()),
			zap.String("type", msg.Type))
	}
}

// reply queues a direct answer to this client only. The hub may have
// closed c.send already when it dropped the client.
func (c *Client) reply(msgType MessageType, data interface{}) {
	payload, err := json.Marshal(NewMessage(msgType, data))
	if err != nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	select {
	case c.send <- payload:
	default:
	}
}

// writePump handles writing messages to the WebSocket connection
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
				// Hub closed the channel
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

// ServeWs handles WebSocket upgrade requests
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: hub.logger,
	}

	go client.writePump()
	go client.readPump()
}
