// Package model defines the chat data structures shared by the session
// layer, the transports and the gateway.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformed is returned when an inbound payload cannot be decoded.
var ErrMalformed = errors.New("malformed chat payload")

// MessageType tells the UI how to render Content.
type MessageType string

const (
	TypeText  MessageType = "TEXT"
	TypeImage MessageType = "IMAGE"
)

// UserID is a user identifier. Customer and admin ids are numeric on some
// backends, so the decoder accepts both JSON strings and numbers.
type UserID string

func (u *UserID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*u = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*u = UserID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("user id must be a string or a number: %w", err)
	}
	*u = UserID(n.String())
	return nil
}

func (u UserID) String() string { return string(u) }

// ChatMessage represents a message for the chat application, used for both
// broker payloads and websocket frames.
type ChatMessage struct {
	// ID is generated by the sending client. Messages without one are never
	// deduplicated.
	ID             string      `json:"id,omitempty"`
	ConversationID string      `json:"conversationId"`
	SenderID       UserID      `json:"senderId"`
	RecipientID    UserID      `json:"recipientId"`
	SenderName     string      `json:"senderName,omitempty"`
	SenderAvatar   string      `json:"senderAvatar,omitempty"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	Timestamp      string      `json:"timestamp"`
}

// HasID reports whether the message participates in deduplication.
func (m ChatMessage) HasID() bool {
	return m.ID != ""
}

// Time parses Timestamp. The zero time is returned for missing or
// unparseable values.
func (m ChatMessage) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, m.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// IsEmpty reports whether there is nothing worth publishing.
func (m ChatMessage) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == ""
}

// FormatTimestamp renders t the way Timestamp expects it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Encode serializes a message to its JSON wire form.
func Encode(m ChatMessage) ([]byte, error) {
	if m.Type == "" {
		m.Type = TypeText
	}
	p, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("could not encode payload to JSON: %w", err)
	}
	return p, nil
}

// Decode parses a JSON wire payload. A payload without a conversation id
// is not a chat message. Errors wrap ErrMalformed.
func Decode(data []byte) (ChatMessage, error) {
	var m ChatMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return ChatMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.ConversationID == "" {
		return ChatMessage{}, fmt.Errorf("%w: conversation id is missing", ErrMalformed)
	}
	if m.Type == "" {
		m.Type = TypeText
	}
	return m, nil
}

// Identity is the settled user identity supplied by the auth collaborator.
// Name and Avatar are stamped onto outbound messages as a snapshot.
type Identity struct {
	UserID string
	Name   string
	Avatar string
	// Token is handed to the transport handshake, if the transport
	// authenticates.
	Token string
}

// numericID reports whether id is a base-10 integer.
func numericID(id string) (int64, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	return n, err == nil
}
