// Package session is the entry point the chat UI talks to. A Session owns
// one broker connection for the signed-in user, keeps the open
// conversation subscribed, filters redelivered messages and publishes
// outbound sends.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/johndosdos/supportchat/internal/clock"
	"github.com/johndosdos/supportchat/internal/connection"
	"github.com/johndosdos/supportchat/internal/dedup"
	"github.com/johndosdos/supportchat/internal/metrics"
	"github.com/johndosdos/supportchat/internal/model"
	"github.com/johndosdos/supportchat/internal/preview"
	"github.com/johndosdos/supportchat/internal/subscription"
	"github.com/johndosdos/supportchat/internal/transport"
)

var (
	ErrNoIdentity     = errors.New("session: identity has no user id")
	ErrNotActive      = errors.New("session: not activated")
	ErrNoConversation = errors.New("session: no conversation selected")
	ErrNotConnected   = errors.New("session: not connected")
	ErrRateLimited    = errors.New("session: send rate exceeded")
	ErrOutboxFull     = errors.New("session: outbox full")
)

type Config struct {
	Connection connection.Config

	DedupCapacity  int
	DedupRetention time.Duration

	// OutboxSize enables queueing of sends made while disconnected. Zero
	// rejects them instead.
	OutboxSize int

	// SendLimit sends are allowed per SendWindow. Zero disables throttling.
	SendLimit  int
	SendWindow time.Duration

	// LocalEcho delivers sent messages to local callbacks right away and
	// suppresses the copy the broker routes back.
	LocalEcho bool
}

func DefaultConfig() Config {
	return Config{
		Connection:    connection.DefaultConfig(),
		DedupCapacity: dedup.DefaultCapacity,
	}
}

type Option func(*Session)

func WithConfig(cfg Config) Option {
	return func(s *Session) { s.cfg = cfg }
}

func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithPreviewStore makes the session project delivered messages into
// store.
func WithPreviewStore(store preview.Store) Option {
	return func(s *Session) { s.previews = store }
}

type Session struct {
	cfg      Config
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
	previews preview.Store

	conn    *connection.Manager
	subs    *subscription.Manager
	ledger  *dedup.Ledger
	limiter *rate.Limiter

	subMu sync.Mutex // serializes subscription swaps

	mu           sync.Mutex
	identity     *model.Identity
	conversation string
	connected    bool
	outbox       []model.ChatMessage
	flushing     bool
	nextID       int
	onMessage    map[int]func(model.ChatMessage)
	onConnected  map[int]func(bool)

	streamMu  sync.Mutex
	streamSeq int
	streams   map[int]chan model.ChatMessage
}

func New(dialer transport.Dialer, opts ...Option) *Session {
	s := &Session{
		cfg:         DefaultConfig(),
		clock:       clock.Real(),
		logger:      slog.Default(),
		onMessage:   make(map[int]func(model.ChatMessage)),
		onConnected: make(map[int]func(bool)),
		streams:     make(map[int]chan model.ChatMessage),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.conn = connection.NewManager(dialer, s.cfg.Connection,
		connection.WithClock(s.clock),
		connection.WithLogger(s.logger),
		connection.WithMetrics(s.metrics))
	s.conn.Observe(s.handleTransition)

	s.subs = subscription.NewManager(s.logger, s.metrics)
	s.ledger = dedup.New(
		dedup.WithCapacity(s.cfg.DedupCapacity),
		dedup.WithRetention(s.cfg.DedupRetention),
		dedup.WithClock(s.clock))

	if s.cfg.SendLimit > 0 && s.cfg.SendWindow > 0 {
		every := s.cfg.SendWindow / time.Duration(s.cfg.SendLimit)
		s.limiter = rate.NewLimiter(rate.Every(every), s.cfg.SendLimit)
	}
	return s
}

// Activate signs identity in and, once a conversation is known, connects.
// Activating the user that is already active only switches conversation.
// A different user replaces the current one with a fresh connection and
// ledger.
func (s *Session) Activate(identity model.Identity, conversationID string) error {
	if identity.UserID == "" {
		return ErrNoIdentity
	}

	s.mu.Lock()
	cur := s.identity
	s.mu.Unlock()

	if cur != nil {
		if cur.UserID == identity.UserID {
			if conversationID == "" {
				return nil
			}
			return s.SetActiveConversation(conversationID)
		}
		s.Deactivate()
	}

	s.mu.Lock()
	id := identity
	s.identity = &id
	s.conversation = conversationID
	s.mu.Unlock()

	s.logger.Info("session activated",
		"user_id", identity.UserID,
		"conversation_id", conversationID)

	if conversationID != "" {
		s.conn.Start(credentials(identity))
	}
	return nil
}

// SetActiveConversation moves the subscription to conversationID and marks
// it read.
func (s *Session) SetActiveConversation(conversationID string) error {
	if conversationID == "" {
		return ErrNoConversation
	}

	s.mu.Lock()
	if s.identity == nil {
		s.mu.Unlock()
		return ErrNotActive
	}
	identity := *s.identity
	s.conversation = conversationID
	s.mu.Unlock()

	s.MarkRead(conversationID)

	switch s.conn.State() {
	case connection.Connected:
		s.resubscribe()
	case connection.Idle, connection.Closed:
		s.conn.Start(credentials(identity))
	}
	return nil
}

// MarkRead clears the unread count of conversationID in the preview store.
func (s *Session) MarkRead(conversationID string) {
	s.mu.Lock()
	identity := s.identity
	s.mu.Unlock()

	if identity == nil || s.previews == nil {
		return
	}
	if err := s.previews.ResetUnread(context.Background(), identity.UserID, conversationID); err != nil {
		s.logger.Warn("failed to reset unread count",
			"error", err,
			"conversation_id", conversationID)
	}
}

// Deactivate unsubscribes, closes the connection and cancels any pending
// reconnect. Identity, conversation, outbox and ledger are cleared.
func (s *Session) Deactivate() {
	s.mu.Lock()
	if s.identity == nil {
		s.mu.Unlock()
		return
	}
	userID := s.identity.UserID
	s.identity = nil
	s.conversation = ""
	s.outbox = nil
	s.ledger.Reset()
	s.mu.Unlock()

	s.subMu.Lock()
	s.subs.Unsubscribe(s.subs.Active())
	s.subMu.Unlock()

	s.conn.Stop()

	s.logger.Info("session deactivated", "user_id", userID)
}

// Seed records the ids of messages the caller already shows, typically a
// history backlog, so live redelivery of them is suppressed.
func (s *Session) Seed(backlog []model.ChatMessage) {
	for _, m := range backlog {
		s.ledger.MarkSeen(m.ID)
	}
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Session) State() connection.State {
	return s.conn.State()
}

// ActiveConversation returns the conversation the session is bound to.
func (s *Session) ActiveConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversation
}

// OnMessage registers fn for every delivered message. The returned func
// unregisters it.
func (s *Session) OnMessage(fn func(model.ChatMessage)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.onMessage[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.onMessage, id)
	}
}

// OnConnectedChange registers fn for changes of Connected.
func (s *Session) OnConnectedChange(fn func(bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.onConnected[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.onConnected, id)
	}
}

// Stream returns a channel receiving delivered messages. When the channel
// is full, messages are dropped for that stream. The returned func closes
// the channel.
func (s *Session) Stream(buffer int) (<-chan model.ChatMessage, func()) {
	ch := make(chan model.ChatMessage, buffer)

	s.streamMu.Lock()
	id := s.streamSeq
	s.streamSeq++
	s.streams[id] = ch
	s.streamMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.streamMu.Lock()
			defer s.streamMu.Unlock()
			delete(s.streams, id)
			close(ch)
		})
	}
}

func (s *Session) handleTransition(ev connection.Event) {
	switch ev.To {
	case connection.Connected:
		s.subMu.Lock()
		s.subs.Attach(ev.Conn)
		s.subMu.Unlock()

		s.setConnected(true)
		s.resubscribe()
	case connection.Disconnected, connection.Closed:
		s.subMu.Lock()
		s.subs.Detach()
		s.subMu.Unlock()

		s.setConnected(false)
	}
}

func (s *Session) setConnected(v bool) {
	s.mu.Lock()
	if s.connected == v {
		s.mu.Unlock()
		return
	}
	s.connected = v
	fns := make([]func(bool), 0, len(s.onConnected))
	for _, fn := range s.onConnected {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// resubscribe binds the subscription to the current target conversation
// and then drains the outbox.
func (s *Session) resubscribe() {
	s.subMu.Lock()
	s.mu.Lock()
	target := s.conversation
	active := s.identity != nil
	s.mu.Unlock()

	if !active || target == "" {
		s.subMu.Unlock()
		return
	}
	if h := s.subs.Active(); h != nil && h.ConversationID == target {
		s.subMu.Unlock()
		return
	}

	_, err := s.subs.Subscribe(target, s.handleFrame)
	s.subMu.Unlock()
	if err != nil {
		s.logger.Warn("failed to subscribe to conversation",
			"error", err,
			"conversation_id", target)
		return
	}

	s.logger.Debug("subscribed to conversation", "conversation_id", target)
	s.flushOutbox()
}

func credentials(identity model.Identity) transport.Credentials {
	return transport.Credentials{UserID: identity.UserID, Token: identity.Token}
}
