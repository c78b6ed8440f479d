package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/johndosdos/supportchat/internal/broker"
	"github.com/johndosdos/supportchat/internal/metrics"
	"github.com/johndosdos/supportchat/internal/model"
	"github.com/johndosdos/supportchat/internal/transport"
)

type SendStatus int

const (
	// Skipped means there was nothing to send.
	Skipped SendStatus = iota
	Sent
	Rejected
	// Queued means the message waits in the outbox for the next connect.
	Queued
)

func (s SendStatus) String() string {
	switch s {
	case Skipped:
		return metrics.SendSkipped
	case Sent:
		return metrics.SendSent
	case Rejected:
		return metrics.SendRejected
	case Queued:
		return metrics.SendQueued
	default:
		return "unknown"
	}
}

// Draft is an outbound message before the session stamps identity, id and
// time onto it.
type Draft struct {
	// ConversationID defaults to the active conversation.
	ConversationID string
	// RecipientID defaults to the other participant of the conversation.
	RecipientID string
	Content     string
	Type        model.MessageType
}

type SendResult struct {
	Status  SendStatus
	Message model.ChatMessage
	Err     error
}

// Send publishes d while connected. Otherwise it is rejected, or queued
// when the outbox is enabled.
func (s *Session) Send(ctx context.Context, d Draft) SendResult {
	s.mu.Lock()
	if s.identity == nil {
		s.mu.Unlock()
		return s.reject(model.ChatMessage{}, ErrNotActive)
	}
	identity := *s.identity
	conversationID := d.ConversationID
	if conversationID == "" {
		conversationID = s.conversation
	}
	s.mu.Unlock()

	m := model.ChatMessage{
		ConversationID: conversationID,
		SenderID:       model.UserID(identity.UserID),
		RecipientID:    model.UserID(d.RecipientID),
		SenderName:     identity.Name,
		SenderAvatar:   identity.Avatar,
		Content:        d.Content,
		Type:           d.Type,
		Timestamp:      model.FormatTimestamp(s.clock.Now()),
	}
	if m.Type == "" {
		m.Type = model.TypeText
	}

	if m.IsEmpty() {
		s.metrics.IncSend(Skipped.String())
		return SendResult{Status: Skipped, Message: m}
	}
	if conversationID == "" {
		return s.reject(m, ErrNoConversation)
	}
	if m.RecipientID == "" {
		m.RecipientID = model.UserID(model.Peer(conversationID, identity.UserID))
	}
	m.ID = uuid.NewString()

	if s.limiter != nil && !s.limiter.AllowN(s.clock.Now(), 1) {
		return s.reject(m, ErrRateLimited)
	}

	s.mu.Lock()
	conn := s.conn.Conn()
	if s.cfg.OutboxSize > 0 && (conn == nil || s.flushing || len(s.outbox) > 0) {
		if len(s.outbox) >= s.cfg.OutboxSize {
			s.mu.Unlock()
			return s.reject(m, ErrOutboxFull)
		}
		s.outbox = append(s.outbox, m)
		flush := conn != nil && !s.flushing
		s.mu.Unlock()

		s.metrics.IncSend(Queued.String())
		s.logger.Debug("message queued", "message_id", m.ID, "conversation_id", m.ConversationID)
		if flush {
			s.flushOutbox()
		}
		return SendResult{Status: Queued, Message: m}
	}
	s.mu.Unlock()

	if conn == nil {
		return s.reject(m, ErrNotConnected)
	}
	if err := s.publish(ctx, conn, m); err != nil {
		return s.reject(m, err)
	}

	s.metrics.IncSend(Sent.String())
	return SendResult{Status: Sent, Message: m}
}

func (s *Session) reject(m model.ChatMessage, err error) SendResult {
	s.metrics.IncSend(Rejected.String())
	s.logger.Warn("message not sent",
		"error", err,
		"conversation_id", m.ConversationID)
	return SendResult{Status: Rejected, Message: m, Err: err}
}

func (s *Session) publish(ctx context.Context, conn transport.Conn, m model.ChatMessage) error {
	data, err := model.Encode(m)
	if err != nil {
		return err
	}

	// Marked before publishing: the broker may route the echo back before
	// Publish returns.
	if s.cfg.LocalEcho {
		s.ledger.MarkSeen(m.ID)
	}

	if err := conn.Publish(ctx, broker.SendDestination, m.ID, data); err != nil {
		return fmt.Errorf("failed to publish to [%s]: %w", broker.SendDestination, err)
	}

	if s.cfg.LocalEcho {
		s.deliver(m)
	}
	return nil
}

// flushOutbox publishes queued messages in order. A failed publish puts the
// rest back at the head of the outbox for the next connect.
func (s *Session) flushOutbox() {
	s.mu.Lock()
	if s.flushing || len(s.outbox) == 0 {
		s.mu.Unlock()
		return
	}
	s.flushing = true

	for len(s.outbox) > 0 {
		conn := s.conn.Conn()
		if conn == nil {
			break
		}
		m := s.outbox[0]
		s.outbox = s.outbox[1:]
		s.mu.Unlock()

		err := s.publish(context.Background(), conn, m)

		s.mu.Lock()
		if err != nil {
			s.logger.Warn("failed to flush outbox",
				"error", err,
				"message_id", m.ID,
				"pending", len(s.outbox)+1)
			if s.identity != nil {
				s.outbox = append([]model.ChatMessage{m}, s.outbox...)
			}
			break
		}
		s.metrics.IncSend(Sent.String())
	}

	s.flushing = false
	s.mu.Unlock()
}
