package websocket

import (
	"context"
	"encoding/json"

	"github.com/coder/websocket"

	"github.com/johndosdos/supportchat/internal/broker"
	"github.com/johndosdos/supportchat/internal/transport"
)

// ReadMessage reads the incoming data from the websocket stream. It blocks
// until the connection ends and unregisters the client on return.
func (c *Client) ReadMessage(ctx context.Context) {
	defer func() {
		select {
		case c.Hub.Unregister <- c:
		case <-c.Hub.Stopped():
		}
		c.conn.CloseNow()
	}()

	for {
		msgType, p, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway &&
				ctx.Err() == nil {
				c.logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		// The app only supports text format for now...
		if msgType != websocket.MessageText {
			continue
		}

		var f transport.Frame
		if err := json.Unmarshal(p, &f); err != nil {
			c.logger.Warn("failed to process frame from client", "error", err)
			c.trySend(transport.Frame{Op: transport.OpError, Error: "malformed frame"})
			continue
		}

		if !c.dispatch(ctx, f) {
			return
		}
	}
}

// dispatch hands f to the hub. It reports false once the hub is gone.
func (c *Client) dispatch(ctx context.Context, f transport.Frame) bool {
	switch f.Op {
	case transport.OpSubscribe, transport.OpUnsubscribe:
		if f.Sub == "" || (f.Op == transport.OpSubscribe && f.Topic == "") {
			c.trySend(transport.Frame{Op: transport.OpError, Topic: f.Topic, Error: "subscription needs a topic and an id"})
			return true
		}
		req := SubscriptionRequest{Client: c, Sub: f.Sub}
		if f.Op == transport.OpSubscribe {
			req.Topic = f.Topic
		}
		return forwardTo(ctx, c.Hub.Stopped(), c.Hub.Subscriptions, req)

	case transport.OpPublish:
		if f.Topic != broker.SendDestination {
			c.trySend(transport.Frame{Op: transport.OpError, Topic: f.Topic, ID: f.ID, Error: "publishing is only allowed to " + broker.SendDestination})
			return true
		}
		if c.messageLim != nil && !c.messageLim.Allow() {
			c.logger.Warn("client rate limit exceeded")
			c.trySend(transport.Frame{Op: transport.OpError, Topic: f.Topic, ID: f.ID, Error: "rate limit exceeded"})
			return true
		}
		return forwardTo(ctx, c.Hub.Stopped(), c.Hub.ClientMsg, Inbound{Client: c, Frame: f})

	default:
		c.trySend(transport.Frame{Op: transport.OpError, Error: "unknown op " + f.Op})
		return true
	}
}

func forwardTo[T any](ctx context.Context, stopped <-chan struct{}, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-stopped:
		return false
	case <-ctx.Done():
		return false
	}
}
