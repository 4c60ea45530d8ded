// Package events defines the messages pushed over the entitlement websocket.
package events

import (
	"time"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// MessageTypeEntitlement carries an entitlement.AccessState.
	MessageTypeEntitlement MessageType = "entitlement:state"

	MessageTypeError MessageType = "error"
)

// WebSocketMessage is the envelope of every pushed message.
type WebSocketMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// NewMessage stamps data with the current time.
func NewMessage(t MessageType, data interface{}) WebSocketMessage {
	return WebSocketMessage{Type: t, Timestamp: time.Now().UTC(), Data: data}
}
