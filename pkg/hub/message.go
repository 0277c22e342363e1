// Package hub fans JSON events out to websocket subscribers using a
// channel-based register/unregister/broadcast loop.
package hub

import "time"

// Message is one frame queued for every subscriber.
type Message struct {
	Data []byte
}

// Envelope is the frame shape used for plain text notices.
type Envelope struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// NewEnvelope builds an Envelope stamped with the current time.
func NewEnvelope(kind, msg string) Envelope {
	return Envelope{Type: kind, Message: msg, Timestamp: time.Now().UnixMilli()}
}
