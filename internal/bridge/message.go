// Package bridge receives messages from the background push context and
// applies them to the foreground state: history, emergency alerts and the
// notifications panel.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message types.
const (
	TypePushNotification = "PUSH_NOTIFICATION"
	TypeOpenPanel        = "OPEN_NOTIFICATIONS_PANEL"
)

var ErrUnknownMessage = errors.New("unknown bridge message type")

// Payload is the notification carried by a PUSH_NOTIFICATION message.
type Payload struct {
	Title     string `json:"title"`
	Message   string `json:"message"`
	Type      string `json:"type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Message is the envelope exchanged with the background context.
// Notification is set only for PUSH_NOTIFICATION.
type Message struct {
	Type         string   `json:"type"`
	Notification *Payload `json:"notification,omitempty"`
}

// PushNotification builds a PUSH_NOTIFICATION message.
func PushNotification(p Payload) Message {
	return Message{Type: TypePushNotification, Notification: &p}
}

// OpenPanel builds an OPEN_NOTIFICATIONS_PANEL message.
func OpenPanel() Message { return Message{Type: TypeOpenPanel} }

// Decode parses and validates one wire message.
func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("decode bridge message: %w", err)
	}
	switch m.Type {
	case TypePushNotification:
		if m.Notification == nil {
			return Message{}, fmt.Errorf("%s without notification", TypePushNotification)
		}
	case TypeOpenPanel:
		m.Notification = nil
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
	return m, nil
}
