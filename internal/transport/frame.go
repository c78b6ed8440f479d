package transport

import "encoding/json"

// Frame operations exchanged with the websocket gateway.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpPublish     = "publish"
	OpMessage     = "message"
	OpError       = "error"
)

// Frame is the JSON envelope carried by each websocket text message.
type Frame struct {
	Op      string          `json:"op"`
	Topic   string          `json:"topic,omitempty"`
	Sub     string          `json:"sub,omitempty"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}
