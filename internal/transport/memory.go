package transport

import (
	"context"
	"slices"
	"sync"
)

// Compile-time interface check.
var _ Conn = (*memoryConn)(nil)

// Published records one Publish call seen by a MemoryBroker.
type Published struct {
	Topic string
	MsgID string
	Data  []byte
}

// RouteFunc maps a published frame onto the topic it should be delivered
// to. Returning false drops the frame after recording it.
type RouteFunc func(topic string, data []byte) (string, bool)

// MemoryBroker is an in-process broker. Every Conn dialed from it shares the
// same topic space. Deliveries run synchronously on the caller's goroutine,
// which keeps tests deterministic.
type MemoryBroker struct {
	mu           sync.Mutex
	conns        map[*memoryConn]struct{}
	route        RouteFunc
	dialErr      error
	subErr       error
	unsubErr     error
	dials        []Credentials
	published    []Published
	unsubscribed []string
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{conns: make(map[*memoryConn]struct{})}
}

// SetRouter installs a RouteFunc that redelivers published frames, the way
// a server routes sends onto per-conversation topics.
func (b *MemoryBroker) SetRouter(route RouteFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.route = route
}

// FailDials makes subsequent dials fail with err. Pass nil to restore.
func (b *MemoryBroker) FailDials(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialErr = err
}

// FailSubscriptions makes Subscribe and Unsubscribe fail. Pass nil to
// restore.
func (b *MemoryBroker) FailSubscriptions(subErr, unsubErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subErr = subErr
	b.unsubErr = unsubErr
}

func (b *MemoryBroker) Dialer() Dialer {
	return DialerFunc(b.dial)
}

func (b *MemoryBroker) dial(ctx context.Context, creds Credentials) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials = append(b.dials, creds)
	if b.dialErr != nil {
		return nil, b.dialErr
	}

	c := &memoryConn{
		broker: b,
		subs:   make(map[*memorySub]struct{}),
		done:   make(chan struct{}),
	}
	b.conns[c] = struct{}{}
	return c, nil
}

// Dials returns the credentials of every dial attempt so far.
func (b *MemoryBroker) Dials() []Credentials {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.dials)
}

// Published returns every frame published so far.
func (b *MemoryBroker) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.published)
}

// Unsubscribed returns the topics of every successful Unsubscribe call.
func (b *MemoryBroker) Unsubscribed() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.unsubscribed)
}

// Subscribers returns the number of live subscriptions on topic.
func (b *MemoryBroker) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlersLocked(topic))
}

// Conns returns the number of live connections.
func (b *MemoryBroker) Conns() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// Deliver sends data to every subscriber of topic and returns how many
// handlers ran.
func (b *MemoryBroker) Deliver(topic string, data []byte) int {
	b.mu.Lock()
	handlers := b.handlersLocked(topic)
	b.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
	return len(handlers)
}

// Disconnect drops every live connection as if the network failed.
func (b *MemoryBroker) Disconnect(cause error) {
	b.mu.Lock()
	conns := make([]*memoryConn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.shutdown(cause)
	}
}

func (b *MemoryBroker) handlersLocked(topic string) []Handler {
	var handlers []Handler
	for c := range b.conns {
		for s := range c.subs {
			if s.topic == topic {
				handlers = append(handlers, s.handler)
			}
		}
	}
	return handlers
}

type memoryConn struct {
	broker *MemoryBroker
	subs   map[*memorySub]struct{} // guarded by broker.mu
	done   chan struct{}
	err    error
	closed bool
}

type memorySub struct {
	conn    *memoryConn
	topic   string
	handler Handler
}

func (c *memoryConn) Subscribe(topic string, h Handler) (Subscription, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.broker.subErr != nil {
		return nil, c.broker.subErr
	}

	s := &memorySub{conn: c, topic: topic, handler: h}
	c.subs[s] = struct{}{}
	return s, nil
}

func (c *memoryConn) Publish(ctx context.Context, topic, msgID string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b := c.broker
	b.mu.Lock()
	if c.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.published = append(b.published, Published{Topic: topic, MsgID: msgID, Data: slices.Clone(data)})
	route := b.route
	b.mu.Unlock()

	if route != nil {
		if target, ok := route(topic, data); ok {
			b.Deliver(target, data)
		}
	}
	return nil
}

func (c *memoryConn) Done() <-chan struct{} { return c.done }

func (c *memoryConn) Err() error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	return c.err
}

func (c *memoryConn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *memoryConn) shutdown(cause error) {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.err = cause
	clear(c.subs)
	delete(b.conns, c)
	close(c.done)
}

func (s *memorySub) Topic() string { return s.topic }

func (s *memorySub) Unsubscribe() error {
	b := s.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.unsubErr != nil {
		return b.unsubErr
	}
	if _, ok := s.conn.subs[s]; !ok {
		return nil
	}
	delete(s.conn.subs, s)
	b.unsubscribed = append(b.unsubscribed, s.topic)
	return nil
}
