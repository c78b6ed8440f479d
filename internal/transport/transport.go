// Package transport defines the bidirectional broker connection the chat
// session runs on, along with an in-memory broker for tests and a
// websocket client for the gateway.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by operations on a connection that has been
	// closed or dropped.
	ErrClosed = errors.New("transport: connection closed")
	// ErrHandshake wraps failures to establish a connection.
	ErrHandshake = errors.New("transport: handshake failed")
)

// Handler receives one frame payload. Handlers are invoked in the order
// the transport delivers frames, on a goroutine owned by the transport.
type Handler func(data []byte)

// Credentials are presented during the transport handshake.
type Credentials struct {
	UserID string
	Token  string
}

// Subscription is an active topic subscription.
type Subscription interface {
	Topic() string
	Unsubscribe() error
}

// Conn is a live broker connection.
type Conn interface {
	Subscribe(topic string, h Handler) (Subscription, error)
	// Publish sends data to topic. msgID identifies the message for
	// broker-side deduplication where the broker supports it.
	Publish(ctx context.Context, topic, msgID string, data []byte) error
	// Done is closed once the connection is gone, whether by Close or by
	// the peer.
	Done() <-chan struct{}
	// Err reports why Done was closed. It is nil after a local Close.
	Err() error
	Close() error
}

// Dialer establishes connections.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, creds Credentials) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, creds Credentials) (Conn, error) {
	return f(ctx, creds)
}
