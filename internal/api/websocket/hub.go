package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/KevinKickass/OpenMachineSim/internal/auth"
	"github.com/KevinKickass/OpenMachineSim/internal/scheduler"
	"go.uber.org/zap"
)

// TokenValidator checks the token sent in a client's first message.
type TokenValidator interface {
	ValidateToken(token string) ([]auth.Permission, error)
}

// Hub maintains active WebSocket clients and broadcasts messages
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Inbound messages to broadcast
	broadcast chan Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Mutex for thread-safe operations
	mu sync.RWMutex

	// Logger
	logger *zap.Logger

	// Token validator, nil when authentication is disabled
	validator TokenValidator
}

// NewHub creates a new Hub instance. A nil validator lets clients stream
// without authenticating.
func NewHub(logger *zap.Logger, validator TokenValidator) *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger,
		validator:  validator,
	}
}

// Run starts the hub's main event loop. It returns when ctx is cancelled,
// after closing every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	h.logger.Info("WebSocket Hub started")

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket Hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client registered",
				zap.String("remote_addr", client.remoteAddr()),
				zap.Int("total_clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("WebSocket client unregistered",
					zap.String("remote_addr", client.remoteAddr()),
					zap.Int("total_clients", len(h.clients)))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error("Failed to marshal broadcast message",
					zap.Error(err))
				continue
			}

			point := message.point()
			h.mu.Lock()
			for client := range h.clients {
				if point != "" && !client.wants(point) {
					continue
				}
				select {
				case client.send <- data:
				default:
					// Client send channel full - unregister slow/dead client
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("Client send buffer full, unregistering",
						zap.String("remote_addr", client.remoteAddr()))
				}
			}
			h.mu.Unlock()
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Hub broadcast channel full, message dropped",
			zap.String("message_type", string(msg.Type)))
	}
}

// Publish streams a committed scheduler tick. A full broadcast queue drops
// the message rather than failing the tick.
func (h *Hub) Publish(u scheduler.Update) error {
	h.Broadcast(pointMessage(MessageTypePointValue, u))
	return nil
}

// PublishWrite streams a value accepted from a client write.
func (h *Hub) PublishWrite(u scheduler.Update) {
	h.Broadcast(pointMessage(MessageTypePointWritten, u))
}

func pointMessage(t MessageType, u scheduler.Update) Message {
	return NewPointValueMessage(t, PointValueData{
		Point:           u.Point,
		NodeID:          u.Address.String(),
		Value:           u.Sample.Value,
		SourceTimestamp: u.Sample.Timestamp,
		Status:          u.Sample.Status.String(),
	})
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
