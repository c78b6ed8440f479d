// Package subscription keeps at most one live topic subscription per
// connection and swaps it when the active conversation changes.
package subscription

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/johndosdos/supportchat/internal/broker"
	"github.com/johndosdos/supportchat/internal/metrics"
	"github.com/johndosdos/supportchat/internal/transport"
)

var ErrNotConnected = errors.New("subscription: no live connection")

// Handle identifies one subscription made through a Manager.
type Handle struct {
	ConversationID string
	Topic          string

	sub transport.Subscription
	gen uint64
}

// Manager binds the active conversation to its broker topic on the current
// connection. Frames delivered for a handle that has since been replaced
// are dropped, and a switch waits for frames already being handled, so no
// frame of the old topic is handled once Subscribe returns. Handlers must
// not call back into the Manager.
type Manager struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	conn   transport.Conn
	active *Handle
	gen    uint64

	// deliverMu is held for reading while a frame is handled.
	deliverMu sync.RWMutex
	current   uint64 // generation allowed to deliver
}

func NewManager(logger *slog.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger, metrics: m}
}

// Attach makes conn the connection future subscriptions go through. Any
// handle from a previous connection is forgotten.
func (m *Manager) Attach(conn transport.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conn = conn
	m.active = nil
	m.bumpLocked()
}

// Detach forgets the connection and the active handle. The transport is
// already gone, so nothing is unsubscribed.
func (m *Manager) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conn = nil
	m.active = nil
	m.bumpLocked()
}

// Subscribe replaces the active subscription with one for conversationID.
// The previous handle is unsubscribed best-effort first.
func (m *Manager) Subscribe(conversationID string, onMessage transport.Handler) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return nil, ErrNotConnected
	}

	if prev := m.active; prev != nil {
		m.active = nil
		m.unsubscribe(prev)
	}

	gen := m.bumpLocked()
	topic := broker.Topic(conversationID)
	guarded := func(data []byte) {
		m.deliverMu.RLock()
		defer m.deliverMu.RUnlock()
		if m.current != gen {
			return
		}
		onMessage(data)
	}

	sub, err := m.conn.Subscribe(topic, guarded)
	if err != nil {
		m.metrics.IncSubscriptionError()
		return nil, fmt.Errorf("failed to subscribe to [%s]: %w", topic, err)
	}

	h := &Handle{ConversationID: conversationID, Topic: topic, sub: sub, gen: gen}
	m.active = h
	return h, nil
}

// Unsubscribe drops h. Errors are logged and swallowed.
func (m *Manager) Unsubscribe(h *Handle) {
	if h == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == h {
		m.active = nil
		m.bumpLocked()
	}
	m.unsubscribe(h)
}

// Active returns the current handle, or nil.
func (m *Manager) Active() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Manager) unsubscribe(h *Handle) {
	if err := h.sub.Unsubscribe(); err != nil {
		m.metrics.IncSubscriptionError()
		m.logger.Warn("failed to unsubscribe",
			"error", err,
			"topic", h.Topic)
	}
}

func (m *Manager) bumpLocked() uint64 {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.gen++
	m.current = m.gen
	return m.gen
}
