package model

import (
	"errors"
	"fmt"
	"strings"
)

const conversationSeparator = "_"

var ErrInvalidConversation = errors.New("invalid conversation key")

// ConversationKey builds the canonical key for a two-party conversation.
// Ids are ordered numerically when both are integers and lexically
// otherwise, so both participants always derive the same key.
func ConversationKey(a, b string) string {
	low, high := a, b
	if lessID(b, a) {
		low, high = b, a
	}
	return low + conversationSeparator + high
}

func lessID(a, b string) bool {
	na, okA := numericID(a)
	nb, okB := numericID(b)
	if okA && okB {
		return na < nb
	}
	return a < b
}

// ParseConversationKey splits a key into its two participant ids.
func ParseConversationKey(key string) (string, string, error) {
	low, high, ok := strings.Cut(key, conversationSeparator)
	if !ok || low == "" || high == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidConversation, key)
	}
	return low, high, nil
}

// Participant reports whether userID is one of the two parties of key.
func Participant(key, userID string) bool {
	low, high, err := ParseConversationKey(key)
	if err != nil {
		return false
	}
	return userID == low || userID == high
}

// Peer returns the other party of key as seen by self. An empty string is
// returned when self is not a participant.
func Peer(key, self string) string {
	low, high, err := ParseConversationKey(key)
	if err != nil {
		return ""
	}
	switch self {
	case low:
		return high
	case high:
		return low
	}
	return ""
}
