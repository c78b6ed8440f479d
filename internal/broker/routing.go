// Package broker maps chat topics onto NATS subjects and carries the NATS
// transport and the JetStream bridge used by the gateway.
package broker

import (
	"strings"

	"github.com/johndosdos/supportchat/internal/model"
)

// Topics use slashes; NATS subjects use dots. Everything the session layer
// sees is a topic.
var (
	TopicPrefix     = "messages/"
	SendDestination = "app/chat"

	StreamName     = "CHAT"
	SubjectInbound = "messages.>"
)

// Topic derives the inbound topic of a conversation.
func Topic(conversationID string) string {
	return TopicPrefix + conversationID
}

// ConversationFromTopic is the inverse of Topic.
func ConversationFromTopic(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, TopicPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Subject converts a topic to the NATS subject carrying it.
func Subject(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}

// TopicFromSubject converts a NATS subject back to a topic. Only the known
// prefixes are rewritten so ids containing dots survive the round trip.
func TopicFromSubject(subject string) string {
	if rest, ok := strings.CutPrefix(subject, Subject(TopicPrefix)); ok {
		return TopicPrefix + rest
	}
	if subject == Subject(SendDestination) {
		return SendDestination
	}
	return subject
}

// RouteByConversation sends frames published to SendDestination to the
// topic of the conversation named inside the payload. The server does the
// same thing; the in-memory broker uses it to stand in for one.
func RouteByConversation(topic string, data []byte) (string, bool) {
	if topic != SendDestination {
		return "", false
	}
	m, err := model.Decode(data)
	if err != nil || m.ConversationID == "" {
		return "", false
	}
	return Topic(m.ConversationID), true
}
