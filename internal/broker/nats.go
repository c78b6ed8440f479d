package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/johndosdos/supportchat/internal/transport"
)

// Compile-time interface checks.
var (
	_ transport.Dialer = (*NATSDialer)(nil)
	_ transport.Conn   = (*natsConn)(nil)
)

const defaultConnectTimeout = 5 * time.Second

// NATSDialer connects a chat session straight to NATS. Client-side
// reconnects are disabled: the connection manager decides when to redial.
type NATSDialer struct {
	URL string
	// Options are appended after the defaults, e.g. nats.UserCredentials.
	Options []nats.Option
	Logger  *slog.Logger
}

func (d *NATSDialer) Dial(ctx context.Context, creds transport.Credentials) (transport.Conn, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	timeout := defaultConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	c := &natsConn{
		logger: logger.With("user_id", creds.UserID),
		done:   make(chan struct{}),
	}

	opts := []nats.Option{
		nats.Name("supportchat-" + creds.UserID),
		nats.Timeout(timeout),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.setErr(err)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.shutdown()
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			c.logger.Warn("nats async error", "error", err, "subject", subject)
		}),
	}
	if creds.Token != "" {
		opts = append(opts, nats.Token(creds.Token))
	}
	opts = append(opts, d.Options...)

	type result struct {
		nc  *nats.Conn
		err error
	}
	ch := make(chan result, 1)
	go func() {
		nc, err := nats.Connect(d.URL, opts...)
		ch <- result{nc, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("%w: failed to connect to nats: %v", transport.ErrHandshake, r.err)
		}
		c.nc = r.nc
		return c, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.nc != nil {
				r.nc.Close()
			}
		}()
		return nil, fmt.Errorf("%w: %v", transport.ErrHandshake, ctx.Err())
	}
}

type natsConn struct {
	nc     *nats.Conn
	logger *slog.Logger

	mu    sync.Mutex
	err   error
	local bool
	done  chan struct{}
}

type natsSub struct {
	topic string
	sub   *nats.Subscription
}

func (c *natsConn) Subscribe(topic string, h transport.Handler) (transport.Subscription, error) {
	sub, err := c.nc.Subscribe(Subject(topic), func(msg *nats.Msg) {
		h(msg.Data)
	})
	if err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return nil, transport.ErrClosed
		}
		return nil, fmt.Errorf("failed to subscribe to [%s]: %w", topic, err)
	}
	return &natsSub{topic: topic, sub: sub}, nil
}

func (c *natsConn) Publish(ctx context.Context, topic, msgID string, data []byte) error {
	msg := &nats.Msg{
		Subject: Subject(topic),
		Data:    data,
		Header:  nats.Header{},
	}
	if msgID != "" {
		msg.Header.Set(nats.MsgIdHdr, msgID)
	}

	if err := c.nc.PublishMsg(msg); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return transport.ErrClosed
		}
		return fmt.Errorf("failed to publish to [%s]: %w", msg.Subject, err)
	}
	// Surface a dead socket now instead of on the next publish.
	if err := c.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush publish to [%s]: %w", msg.Subject, err)
	}
	return nil
}

func (c *natsConn) Done() <-chan struct{} { return c.done }

func (c *natsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local {
		return nil
	}
	if c.err == nil {
		return transport.ErrClosed
	}
	return c.err
}

func (c *natsConn) Close() error {
	c.mu.Lock()
	c.local = true
	c.mu.Unlock()

	c.nc.Close()
	return nil
}

func (c *natsConn) setErr(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *natsConn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (s *natsSub) Topic() string { return s.topic }

func (s *natsSub) Unsubscribe() error {
	if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("failed to unsubscribe from [%s]: %w", s.topic, err)
	}
	return nil
}
