// Package hub fans analysis results out to dashboard websocket clients
// using the channel-based broadcast pattern.
package hub

import (
	"encoding/json"
	"time"
)

// Message types.
const (
	TypeResult = "result"
	TypeStatus = "status"
)

// Envelope is the JSON frame sent to clients.
type Envelope struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// Message is one encoded frame to be broadcast.
type Message struct {
	Type string
	Data []byte
}

// NewMessage encodes v inside an Envelope of the given type.
func NewMessage(typ string, v any) (Message, error) {
	data, err := json.Marshal(Envelope{Type: typ, Time: time.Now().UTC(), Data: v})
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Data: data}, nil
}
