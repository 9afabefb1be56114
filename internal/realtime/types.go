// Package realtime fans out state-change events to connected admin sessions
// over websockets.
package realtime

import (
	"encoding/json"

	"github.com/strefethen/hotel-hub-go/internal/db"
)

// Server to client message types. Broadcast events use their own type names.
const (
	TypeConnectionEstablished   = "connection_established"
	TypePong                    = "pong"
	TypeSubscriptionConfirmed   = "subscription_confirmed"
	TypeUnsubscriptionConfirmed = "unsubscription_confirmed"
	TypeError                   = "error"
)

// Client to server message types.
const (
	TypePing        = "ping"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
)

// Eviction reasons recorded in metrics and logs.
const (
	reasonBufferFull = "buffer_full"
	reasonWriteError = "write_error"
	reasonStale      = "stale"
	reasonClosed     = "closed"
	reasonShutdown   = "shutdown"
)

// IncomingMessage is a client request.
type IncomingMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// topicData is the payload of subscribe and unsubscribe requests.
type topicData struct {
	Topic  string   `json:"topic"`
	Topics []string `json:"topics"`
}

func (d topicData) all() []string {
	topics := make([]string, 0, len(d.Topics)+1)
	if d.Topic != "" {
		topics = append(topics, d.Topic)
	}
	for _, topic := range d.Topics {
		if topic != "" {
			topics = append(topics, topic)
		}
	}
	return topics
}

// OutgoingMessage is every server frame.
type OutgoingMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

func newMessage(messageType string, data any) OutgoingMessage {
	return OutgoingMessage{
		Type:      messageType,
		Data:      data,
		Timestamp: db.NowISO(),
	}
}
