// Package preview keeps the per-owner conversation list summaries that
// sessions update as messages are delivered.
package preview

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/johndosdos/supportchat/internal/model"
)

var ErrNotFound = errors.New("preview: not found")

// Store receives preview updates from sessions.
type Store interface {
	// Upsert merges p into owner's preview for p.ID. Empty Name and Avatar
	// leave the stored values untouched.
	Upsert(ctx context.Context, owner string, p model.ConversationPreview, incrementUnread bool) error
	ResetUnread(ctx context.Context, owner, conversationID string) error
}

// MemoryStore is a Store held in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]map[string]model.ConversationPreview
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]map[string]model.ConversationPreview)}
}

func (s *MemoryStore) Upsert(_ context.Context, owner string, p model.ConversationPreview, incrementUnread bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byConv, ok := s.items[owner]
	if !ok {
		byConv = make(map[string]model.ConversationPreview)
		s.items[owner] = byConv
	}

	cur := byConv[p.ID]
	byConv[p.ID] = merge(cur, p, incrementUnread)
	return nil
}

func (s *MemoryStore) ResetUnread(_ context.Context, owner, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.items[owner][conversationID]
	if !ok {
		return nil
	}
	p.UnreadCount = 0
	s.items[owner][conversationID] = p
	return nil
}

func (s *MemoryStore) Get(owner, conversationID string) (model.ConversationPreview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.items[owner][conversationID]
	if !ok {
		return model.ConversationPreview{}, ErrNotFound
	}
	return p, nil
}

// List returns owner's previews, most recent first.
func (s *MemoryStore) List(owner string) []model.ConversationPreview {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.ConversationPreview, 0, len(s.items[owner]))
	for _, p := range s.items[owner] {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b model.ConversationPreview) int {
		return parseTime(b.Time).Compare(parseTime(a.Time))
	})
	return out
}

func merge(cur, p model.ConversationPreview, incrementUnread bool) model.ConversationPreview {
	cur.ID = p.ID
	cur.LastMessage = p.LastMessage
	cur.Time = p.Time
	if p.SenderID != "" {
		cur.SenderID = p.SenderID
	}
	if p.Name != "" {
		cur.Name = p.Name
	}
	if p.Avatar != "" {
		cur.Avatar = p.Avatar
	}
	if p.IsOnline {
		cur.IsOnline = true
	}
	if incrementUnread {
		cur.UnreadCount++
	}
	return cur
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
