package session

import (
	"context"

	"github.com/johndosdos/supportchat/internal/model"
)

// handleFrame runs on the transport's delivery goroutine for every frame
// received on the active conversation's topic.
func (s *Session) handleFrame(data []byte) {
	m, err := model.Decode(data)
	if err != nil {
		s.metrics.IncMalformed()
		s.logger.Warn("discarding malformed message", "error", err)
		return
	}

	// Deactivate resets the ledger under mu, so an id admitted here always
	// belongs to the current activation.
	s.mu.Lock()
	active := s.identity != nil
	fresh := active && s.ledger.Admit(m.ID)
	s.mu.Unlock()
	if !active {
		return
	}

	if !fresh {
		s.metrics.IncDuplicate()
		s.logger.Debug("duplicate message dropped", "message_id", m.ID)
		return
	}

	s.metrics.IncDelivered()
	s.deliver(m)
}

// deliver hands m to callbacks and streams, then updates the preview.
func (s *Session) deliver(m model.ChatMessage) {
	s.mu.Lock()
	var owner, open string
	if s.identity != nil {
		owner = s.identity.UserID
	}
	open = s.conversation
	fns := make([]func(model.ChatMessage), 0, len(s.onMessage))
	for _, fn := range s.onMessage {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(m)
	}

	s.streamMu.Lock()
	for _, ch := range s.streams {
		select {
		case ch <- m:
		default:
			s.logger.Warn("stream full, dropping message", "message_id", m.ID)
		}
	}
	s.streamMu.Unlock()

	if s.previews == nil || owner == "" || m.ConversationID == "" {
		return
	}

	p := model.PreviewFor(owner, m)
	unread := m.ConversationID != open && m.SenderID.String() != owner
	if err := s.previews.Upsert(context.Background(), owner, p, unread); err != nil {
		s.logger.Warn("failed to update conversation preview",
			"error", err,
			"conversation_id", m.ConversationID)
	}
}
