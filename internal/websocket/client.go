package websocket

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/time/rate"

	"github.com/johndosdos/supportchat/internal/transport"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

type Client struct {
	UserID     string
	conn       *websocket.Conn
	Hub        *Hub
	Send       chan transport.Frame
	messageLim *rate.Limiter
	logger     *slog.Logger

	subs map[string]string // sub id -> topic, owned by the hub goroutine
}

func NewClient(conn *websocket.Conn, userID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		conn:   conn,
		Send:   make(chan transport.Frame, 64),
		UserID: userID,
		logger: logger.With("user_id", userID),
		subs:   make(map[string]string),
	}
}

func (c *Client) SetMessageLimiter(requests int, window time.Duration) {
	if requests <= 0 || window <= 0 {
		c.messageLim = nil
		return
	}
	l := rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests)
	c.messageLim = l
}

// trySend queues f without blocking. It must only be called while Send is
// known to be open: from the hub goroutine, or from the read loop before
// it unregisters.
func (c *Client) trySend(f transport.Frame) bool {
	select {
	case c.Send <- f:
		return true
	default:
		return false
	}
}

// WriteMessage writes queued frames to the websocket and keeps the
// connection alive with pings.
func (c *Client) WriteMessage(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case f, ok := <-c.Send:
			// We don't want to continue processing when the channel has already been
			// closed.
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}

			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := wsjson.Write(writeCtx, c.conn, f)
			cancel()
			if err != nil {
				c.logger.WarnContext(ctx, "failed to write frame",
					"error", err,
					"op", f.Op)
				c.conn.CloseNow()
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.logger.WarnContext(ctx, "failed to send ping signal", "error", err)
				c.conn.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}

		case <-ctx.Done():
			c.conn.Close(websocket.StatusGoingAway, "context cancelled")
			return
		}
	}
}
