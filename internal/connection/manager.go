// Package connection owns the lifecycle of a session's broker connection:
// connect, drop detection, delayed reconnect and explicit close.
package connection

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/johndosdos/supportchat/internal/clock"
	"github.com/johndosdos/supportchat/internal/metrics"
	"github.com/johndosdos/supportchat/internal/transport"
)

const (
	DefaultReconnectDelay = 5000 * time.Millisecond
	DefaultDialTimeout    = 10 * time.Second
)

type Config struct {
	// ReconnectDelay is the wait between a drop and the next attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay enables exponential backoff when greater than
	// ReconnectDelay. The delay doubles after each failed attempt up to
	// this ceiling and resets once connected.
	MaxReconnectDelay time.Duration
	DialTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		ReconnectDelay: DefaultReconnectDelay,
		DialTimeout:    DefaultDialTimeout,
	}
}

type Option func(*Manager)

func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// Manager runs the connection state machine:
//
//	Idle -> Connecting -> Connected -> Disconnected -> Connecting ...
//	any active state -> Closed (Stop)
//
// Reconnects are retried forever while started. Every transition is
// reported to observers in order; observers run outside the manager's
// lock and may call back into it.
type Manager struct {
	dialer  transport.Dialer
	cfg     Config
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	backoff backoff.BackOff

	mu         sync.Mutex
	state      State
	creds      transport.Credentials
	conn       transport.Conn
	gen        uint64 // bumped by Start and Stop; stale callbacks compare against it
	timer      *clock.Timer
	cancelDial context.CancelFunc
	observers  []func(Event)
	pending    []Event
	draining   bool
}

func NewManager(dialer transport.Dialer, cfg Config, opts ...Option) *Manager {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}

	m := &Manager{
		dialer: dialer,
		cfg:    cfg,
		clock:  clock.Real(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.backoff = newBackOff(cfg)
	return m
}

func newBackOff(cfg Config) backoff.BackOff {
	if cfg.MaxReconnectDelay <= cfg.ReconnectDelay {
		return backoff.NewConstantBackOff(cfg.ReconnectDelay)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.ReconnectDelay
	b.MaxInterval = cfg.MaxReconnectDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Observe registers fn for every subsequent transition.
func (m *Manager) Observe(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Conn returns the live connection, or nil unless Connected.
func (m *Manager) Conn() transport.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected {
		return nil
	}
	return m.conn
}

// Start begins connecting with creds. It is a no-op while the manager is
// already connecting, connected or waiting to reconnect.
func (m *Manager) Start(creds transport.Credentials) {
	m.mu.Lock()
	switch m.state {
	case Connecting, Connected, Disconnected:
		m.mu.Unlock()
		return
	}

	m.creds = creds
	m.gen++
	m.backoff.Reset()
	m.connectLocked(m.gen)
	m.mu.Unlock()

	m.flush()
}

// Stop closes the connection and cancels any pending reconnect. The manager
// stays Closed until Start is called again.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.state == Idle || m.state == Closed {
		m.mu.Unlock()
		return
	}

	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	conn := m.conn
	m.conn = nil
	m.setStateLocked(Event{To: Closed})
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			m.logger.Warn("failed to close connection", "error", err)
		}
	}
	m.flush()
}

func (m *Manager) connectLocked(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
	m.cancelDial = cancel
	m.setStateLocked(Event{To: Connecting})

	go m.dial(ctx, cancel, gen, m.creds)
}

func (m *Manager) dial(ctx context.Context, cancel context.CancelFunc, gen uint64, creds transport.Credentials) {
	conn, err := m.dialer.Dial(ctx, creds)
	cancel()

	m.mu.Lock()
	if gen != m.gen || m.state != Connecting {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	m.cancelDial = nil

	if err != nil {
		m.logger.Warn("failed to connect to broker",
			"error", err,
			"user_id", creds.UserID)
		m.scheduleReconnectLocked(gen, err)
		m.mu.Unlock()
		m.flush()
		return
	}

	m.conn = conn
	m.backoff.Reset()
	m.setStateLocked(Event{To: Connected, Conn: conn})
	m.mu.Unlock()

	m.logger.Info("connected to broker", "user_id", creds.UserID)
	m.flush()

	go m.watch(gen, conn)
}

// watch waits for conn to drop and schedules a reconnect.
func (m *Manager) watch(gen uint64, conn transport.Conn) {
	<-conn.Done()

	m.mu.Lock()
	if gen != m.gen || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil

	cause := conn.Err()
	if cause == nil {
		cause = transport.ErrClosed
	}
	m.logger.Warn("broker connection lost", "error", cause)
	m.scheduleReconnectLocked(gen, cause)
	m.mu.Unlock()

	m.flush()
}

func (m *Manager) scheduleReconnectLocked(gen uint64, cause error) {
	m.setStateLocked(Event{To: Disconnected, Err: cause})

	delay := m.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = m.cfg.ReconnectDelay
	}
	m.timer = m.clock.AfterFunc(delay, func() { m.reconnect(gen) })
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != Disconnected {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.metrics.IncReconnect()
	m.connectLocked(gen)
	m.mu.Unlock()

	m.flush()
}

func (m *Manager) setStateLocked(ev Event) {
	ev.From = m.state
	m.state = ev.To
	m.pending = append(m.pending, ev)
	m.metrics.IncStateTransition(ev.To.String())
}

// flush delivers queued events. Only one goroutine drains at a time; a
// reentrant or concurrent caller leaves its events to the active drainer,
// which keeps delivery in transition order.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true

	for len(m.pending) > 0 {
		events := m.pending
		m.pending = nil
		observers := slices.Clone(m.observers)
		m.mu.Unlock()

		for _, ev := range events {
			for _, fn := range observers {
				fn(ev)
			}
		}

		m.mu.Lock()
	}

	m.draining = false
	m.mu.Unlock()
}
