package websocket

import (
	"time"

	"github.com/KevinKickass/factoryctrl/internal/controlloop"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeDecision     MessageType = "decision"
	MessageTypeWriteFailure MessageType = "write_failure"
	MessageTypeLoopState    MessageType = "loop_state"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewEventMessage converts a control loop event into a broadcast message.
func NewEventMessage(e controlloop.Event) Message {
	msgType := MessageTypeLoopState
	switch e.Kind {
	case controlloop.EventDecision:
		msgType = MessageTypeDecision
	case controlloop.EventWriteFailure:
		msgType = MessageTypeWriteFailure
	}

	return Message{
		Type:      msgType,
		Timestamp: e.Timestamp,
		Data:      e,
	}
}
