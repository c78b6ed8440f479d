package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultReadLimit    = 512 * 1024
)

// WebsocketDialer connects to the chat gateway over a websocket and speaks
// the JSON Frame protocol.
type WebsocketDialer struct {
	URL          string
	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

func (d *WebsocketDialer) Dial(ctx context.Context, creds Credentials) (Conn, error) {
	target, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url %q: %v", ErrHandshake, d.URL, err)
	}

	header := http.Header{}
	if creds.Token != "" {
		header.Set("Authorization", "Bearer "+creds.Token)
	} else if creds.UserID != "" {
		// Gateways running without a JWT secret identify users by query.
		q := target.Query()
		q.Set("userid", creds.UserID)
		target.RawQuery = q.Encode()
	}

	c, _, err := websocket.Dial(ctx, target.String(), &websocket.DialOptions{
		HTTPHeader: header,
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	readLimit := d.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	c.SetReadLimit(readLimit)

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	connCtx, cancel := context.WithCancel(context.Background())
	wc := &wsConn{
		conn:         c,
		ctx:          connCtx,
		cancel:       cancel,
		logger:       logger.With("user_id", creds.UserID),
		writeTimeout: valueOr(d.WriteTimeout, defaultWriteTimeout),
		subs:         make(map[string]*wsSub),
		done:         make(chan struct{}),
	}

	go wc.readLoop()
	go wc.keepalive(valueOr(d.PingInterval, defaultPingInterval))

	return wc, nil
}

func valueOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

type wsConn struct {
	conn         *websocket.Conn
	ctx          context.Context
	cancel       context.CancelFunc
	logger       *slog.Logger
	writeTimeout time.Duration

	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[string]*wsSub
	closed bool
	err    error
	done   chan struct{}
}

type wsSub struct {
	conn    *wsConn
	id      string
	topic   string
	handler Handler
}

func (c *wsConn) Subscribe(topic string, h Handler) (Subscription, error) {
	s := &wsSub{conn: c, id: uuid.NewString(), topic: topic, handler: h}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.subs[s.id] = s
	c.mu.Unlock()

	err := c.writeFrame(c.ctx, Frame{Op: OpSubscribe, Topic: topic, Sub: s.id})
	if err != nil {
		c.mu.Lock()
		delete(c.subs, s.id)
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to subscribe to [%s]: %w", topic, err)
	}

	return s, nil
}

func (c *wsConn) Publish(ctx context.Context, topic, msgID string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("publish to [%s]: payload is not valid JSON", topic)
	}
	err := c.writeFrame(ctx, Frame{Op: OpPublish, Topic: topic, ID: msgID, Payload: data})
	if err != nil {
		return fmt.Errorf("failed to publish to [%s]: %w", topic, err)
	}
	return nil
}

func (c *wsConn) Done() <-chan struct{} { return c.done }

func (c *wsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	// The read loop consumes the peer's close frame and finishes the
	// handshake; it calls shutdown once Read fails.
	err := c.conn.Close(websocket.StatusNormalClosure, "session closed")
	c.shutdown(nil)
	if err != nil && websocket.CloseStatus(err) == -1 {
		c.logger.Debug("websocket close handshake incomplete", "error", err)
	}
	return nil
}

func (c *wsConn) writeFrame(ctx context.Context, f Frame) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	p, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("could not encode frame: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(writeCtx, websocket.MessageText, p)
}

// readLoop dispatches inbound frames until the connection ends. Handlers run
// on this goroutine so frames are delivered in order.
func (c *wsConn) readLoop() {
	var cause error
	defer func() {
		c.shutdown(cause)
		c.conn.CloseNow()
	}()

	for {
		msgType, p, err := c.conn.Read(c.ctx)
		if err != nil {
			c.mu.Lock()
			local := c.closed
			c.mu.Unlock()
			if !local {
				cause = err
				status := websocket.CloseStatus(err)
				if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
					c.logger.Warn("websocket read failed", "error", err)
				}
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		var f Frame
		if err := json.Unmarshal(p, &f); err != nil {
			c.logger.Warn("discarding malformed frame", "error", err)
			continue
		}

		switch f.Op {
		case OpMessage:
			if h := c.handlerFor(f); h != nil {
				h(f.Payload)
			}
		case OpError:
			c.logger.Warn("gateway reported an error",
				"error", f.Error,
				"topic", f.Topic,
				"sub", f.Sub)
		}
	}
}

func (c *wsConn) handlerFor(f Frame) Handler {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.subs[f.Sub]; ok {
		return s.handler
	}
	return nil
}

func (c *wsConn) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.logger.Warn("failed to send ping signal", "error", err)
				c.conn.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}

func (c *wsConn) shutdown(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return
	default:
	}

	c.closed = true
	if cause != nil {
		c.err = cause
	}
	clear(c.subs)
	c.cancel()
	close(c.done)
}

func (s *wsSub) Topic() string { return s.topic }

func (s *wsSub) Unsubscribe() error {
	c := s.conn
	c.mu.Lock()
	_, ok := c.subs[s.id]
	delete(c.subs, s.id)
	c.mu.Unlock()
	if !ok {
		return nil
	}

	return c.writeFrame(c.ctx, Frame{Op: OpUnsubscribe, Topic: s.topic, Sub: s.id})
}
