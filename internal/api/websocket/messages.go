package websocket

import "time"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Point messages
	MessageTypePointValue   MessageType = "point_value"
	MessageTypePointWritten MessageType = "point_written"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"

	// Client session messages
	MessageTypeAuthSuccess MessageType = "auth_success"
	MessageTypeAuthFailed  MessageType = "auth_failed"
	MessageTypeSubscribed  MessageType = "subscribed"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// PointValueData carries one committed point value.
type PointValueData struct {
	Point           string      `json:"point"`
	NodeID          string      `json:"node_id"`
	Value           interface{} `json:"value"`
	SourceTimestamp time.Time   `json:"source_timestamp"`
	Status          string      `json:"status"`
}

// SystemStatusData represents a lifecycle state change
type SystemStatusData struct {
	State    string `json:"state"`
	Previous string `json:"previous_state,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewPointValueMessage(msgType MessageType, data PointValueData) Message {
	return NewMessage(msgType, data)
}

func NewSystemStatusMessage(state, previous string) Message {
	return NewMessage(MessageTypeSystemStatus, SystemStatusData{
		State:    state,
		Previous: previous,
	})
}

// point returns the point a message is about, "" for broadcast-to-all
// messages.
func (m Message) point() string {
	if d, ok := m.Data.(PointValueData); ok {
		return d.Point
	}
	return ""
}
