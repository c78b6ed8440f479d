package preview

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/johndosdos/supportchat/internal/model"
)

const (
	fieldSenderID    = "senderId"
	fieldName        = "name"
	fieldAvatar      = "avatar"
	fieldLastMessage = "lastMessage"
	fieldTime        = "time"
	fieldUnread      = "unreadCount"
	fieldOnline      = "isOnline"
)

// RedisStore keeps one hash per owner and conversation, plus a sorted set
// per owner indexing conversations by last message time.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "chat"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) previewKey(owner, conversationID string) string {
	return fmt.Sprintf("%s:preview:%s:%s", s.prefix, owner, conversationID)
}

func (s *RedisStore) indexKey(owner string) string {
	return fmt.Sprintf("%s:previews:%s", s.prefix, owner)
}

func (s *RedisStore) Upsert(ctx context.Context, owner string, p model.ConversationPreview, incrementUnread bool) error {
	fields := map[string]any{
		fieldLastMessage: p.LastMessage,
		fieldTime:        p.Time,
	}
	if p.SenderID != "" {
		fields[fieldSenderID] = p.SenderID
	}
	if p.Name != "" {
		fields[fieldName] = p.Name
	}
	if p.Avatar != "" {
		fields[fieldAvatar] = p.Avatar
	}
	if p.IsOnline {
		fields[fieldOnline] = "1"
	}

	key := s.previewKey(owner, p.ID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		if incrementUnread {
			pipe.HIncrBy(ctx, key, fieldUnread, 1)
		}
		pipe.ZAdd(ctx, s.indexKey(owner), redis.Z{
			Score:  float64(parseTime(p.Time).UnixMilli()),
			Member: p.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert preview [%s] for user [%s]: %w", p.ID, owner, err)
	}
	return nil
}

func (s *RedisStore) ResetUnread(ctx context.Context, owner, conversationID string) error {
	key := s.previewKey(owner, conversationID)
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to reset unread count [%s]: %w", conversationID, err)
	}
	if n == 0 {
		return nil
	}
	if err := s.client.HSet(ctx, key, fieldUnread, 0).Err(); err != nil {
		return fmt.Errorf("failed to reset unread count [%s]: %w", conversationID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, owner, conversationID string) (model.ConversationPreview, error) {
	vals, err := s.client.HGetAll(ctx, s.previewKey(owner, conversationID)).Result()
	if err != nil {
		return model.ConversationPreview{}, fmt.Errorf("failed to load preview [%s]: %w", conversationID, err)
	}
	if len(vals) == 0 {
		return model.ConversationPreview{}, ErrNotFound
	}
	return fromHash(conversationID, vals), nil
}

// List returns owner's previews, most recent first.
func (s *RedisStore) List(ctx context.Context, owner string) ([]model.ConversationPreview, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(owner), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list previews for user [%s]: %w", owner, err)
	}

	out := make([]model.ConversationPreview, 0, len(ids))
	for _, id := range ids {
		p, err := s.Get(ctx, owner, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func fromHash(id string, vals map[string]string) model.ConversationPreview {
	unread, _ := strconv.Atoi(vals[fieldUnread])
	return model.ConversationPreview{
		ID:          id,
		SenderID:    vals[fieldSenderID],
		Name:        vals[fieldName],
		Avatar:      vals[fieldAvatar],
		LastMessage: vals[fieldLastMessage],
		Time:        vals[fieldTime],
		UnreadCount: unread,
		IsOnline:    vals[fieldOnline] == "1",
	}
}
