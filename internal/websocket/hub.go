package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/johndosdos/supportchat/internal/broker"
	"github.com/johndosdos/supportchat/internal/metrics"
	"github.com/johndosdos/supportchat/internal/model"
	"github.com/johndosdos/supportchat/internal/transport"
)

var (
	ErrForbidden = errors.New("not a participant of this conversation")
	ErrEmpty     = errors.New("message has no content")
)

type sanitizer interface {
	Sanitize(s string) string
}

// Backend carries routed messages to every gateway instance. Messages
// published through it come back on Hub.BrokerMsg.
type Backend interface {
	Publish(ctx context.Context, topic, msgID string, data []byte) error
}

type Registration struct {
	Client *Client
	Done   chan struct{}
}

// SubscriptionRequest asks the hub to bind (or, with an empty Topic,
// unbind) a client subscription id.
type SubscriptionRequest struct {
	Client *Client
	Sub    string
	Topic  string
}

// Inbound is a publish frame received from a client.
type Inbound struct {
	Client *Client
	Frame  transport.Frame
}

// Hub routes sends onto conversation topics and fans deliveries out to
// subscribed clients. All of its state is owned by the Run goroutine.
type Hub struct {
	backend   Backend
	logger    *slog.Logger
	metrics   *metrics.Metrics
	agents    map[string]struct{}
	sanitizer sanitizer

	clients map[*Client]struct{}
	topics  map[string]map[*Client]struct{}

	Register      chan Registration
	Unregister    chan *Client
	// Subscriptions and ClientMsg are unbuffered so everything a client
	// sent is handled before its Unregister.
	Subscriptions chan SubscriptionRequest
	ClientMsg     chan Inbound
	BrokerMsg     chan broker.Delivery
	// RelayMsg carries sends from clients attached to the broker directly.
	RelayMsg      chan broker.Delivery

	stopped chan struct{}
}

type HubOption func(*Hub)

func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) { h.logger = l }
}

func WithMetrics(m *metrics.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// WithAgents lists the user ids allowed into every conversation.
func WithAgents(ids ...string) HubOption {
	return func(h *Hub) {
		for _, id := range ids {
			if id != "" {
				h.agents[id] = struct{}{}
			}
		}
	}
}

// NewHub returns a new instance of Hub. A nil backend delivers routed
// messages straight back to this hub's clients.
func NewHub(backend Backend, opts ...HubOption) *Hub {
	h := &Hub{
		backend:       backend,
		logger:        slog.Default(),
		agents:        make(map[string]struct{}),
		sanitizer:     bluemonday.StrictPolicy(),
		clients:       make(map[*Client]struct{}),
		topics:        make(map[string]map[*Client]struct{}),
		Register:      make(chan Registration),
		Unregister:    make(chan *Client),
		Subscriptions: make(chan SubscriptionRequest),
		ClientMsg:     make(chan Inbound),
		BrokerMsg:     make(chan broker.Delivery, 1024),
		RelayMsg:      make(chan broker.Delivery, 1024),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Stopped is closed once Run returns.
func (h *Hub) Stopped() <-chan struct{} {
	return h.stopped
}

// Run manages incoming and outgoing hub traffic.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case reg := <-h.Register:
			client := reg.Client
			h.clients[client] = struct{}{}
			client.Hub = h
			h.metrics.SetGatewayClients(len(h.clients))
			close(reg.Done)

		case client := <-h.Unregister:
			if _, ok := h.clients[client]; !ok {
				continue
			}
			for sub, topic := range client.subs {
				delete(client.subs, sub)
				h.removeFromTopic(topic, client)
			}
			delete(h.clients, client)
			close(client.Send)
			h.metrics.SetGatewayClients(len(h.clients))

		case req := <-h.Subscriptions:
			if req.Topic == "" {
				h.unsubscribe(req.Client, req.Sub)
				continue
			}
			h.subscribe(req.Client, req.Sub, req.Topic)

		case in := <-h.ClientMsg:
			if _, ok := h.clients[in.Client]; !ok {
				continue
			}
			if err := h.route(ctx, in.Client.UserID, in.Frame.ID, in.Frame.Payload); err != nil {
				h.logger.Warn("rejected message from client",
					"error", err,
					"user_id", in.Client.UserID)
				in.Client.trySend(transport.Frame{Op: transport.OpError, Topic: in.Frame.Topic, ID: in.Frame.ID, Error: err.Error()})
			}

		case d := <-h.RelayMsg:
			if err := h.route(ctx, "", d.MsgID, d.Data); err != nil {
				h.logger.Warn("rejected relayed message", "error", err)
			}

		case d := <-h.BrokerMsg:
			h.fanOut(d)

		case <-ctx.Done():
			h.logger.Info("hub stopped", "reason", ctx.Err())
			return
		}
	}
}

func (h *Hub) allowed(userID, conversationID string) bool {
	if _, ok := h.agents[userID]; ok {
		return true
	}
	return model.Participant(conversationID, userID)
}

func (h *Hub) subscribe(c *Client, sub, topic string) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	conversationID, ok := broker.ConversationFromTopic(topic)
	if !ok || !h.allowed(c.UserID, conversationID) {
		h.logger.Warn("subscription refused",
			"user_id", c.UserID,
			"topic", topic)
		c.trySend(transport.Frame{Op: transport.OpError, Topic: topic, Sub: sub, Error: ErrForbidden.Error()})
		return
	}

	if prev, ok := c.subs[sub]; ok {
		delete(c.subs, sub)
		h.removeFromTopic(prev, c)
	}
	c.subs[sub] = topic

	members, ok := h.topics[topic]
	if !ok {
		members = make(map[*Client]struct{})
		h.topics[topic] = members
	}
	members[c] = struct{}{}
}

func (h *Hub) unsubscribe(c *Client, sub string) {
	topic, ok := c.subs[sub]
	if !ok {
		return
	}
	delete(c.subs, sub)
	h.removeFromTopic(topic, c)
}

// removeFromTopic drops c from topic unless another of its subscriptions
// still points there.
func (h *Hub) removeFromTopic(topic string, c *Client) {
	for _, t := range c.subs {
		if t == topic {
			return
		}
	}

	members := h.topics[topic]
	delete(members, c)
	if len(members) == 0 {
		delete(h.topics, topic)
	}
}

// route validates a send and publishes it on its conversation topic. When
// senderID is set, the message is stamped with it and the sender must be
// allowed into the conversation.
func (h *Hub) route(ctx context.Context, senderID, msgID string, payload []byte) error {
	m, err := model.Decode(payload)
	if err != nil {
		return err
	}

	if senderID != "" {
		if m.SenderID != "" && m.SenderID.String() != senderID {
			return fmt.Errorf("sender [%s] does not match connection user [%s]", m.SenderID, senderID)
		}
		m.SenderID = model.UserID(senderID)
	}
	if !h.allowed(m.SenderID.String(), m.ConversationID) {
		return ErrForbidden
	}

	// We need to sanitize incoming messages to prevent XSS. Image content
	// is a URL and is left for the client to validate.
	if m.Type == model.TypeText {
		m.Content = h.sanitizer.Sanitize(m.Content)
	}
	m.SenderName = h.sanitizer.Sanitize(m.SenderName)
	if m.IsEmpty() {
		return ErrEmpty
	}

	if m.ID == "" {
		m.ID = msgID
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp == "" {
		m.Timestamp = model.FormatTimestamp(time.Now())
	}

	data, err := model.Encode(m)
	if err != nil {
		return err
	}

	topic := broker.Topic(m.ConversationID)
	if h.backend == nil {
		h.fanOut(broker.Delivery{Topic: topic, MsgID: m.ID, Data: data})
	} else if err := h.backend.Publish(ctx, topic, m.ID, data); err != nil {
		return err
	}

	h.metrics.IncRouted()
	return nil
}

func (h *Hub) fanOut(d broker.Delivery) {
	for client := range h.topics[d.Topic] {
		for sub, topic := range client.subs {
			if topic != d.Topic {
				continue
			}
			f := transport.Frame{Op: transport.OpMessage, Topic: d.Topic, Sub: sub, ID: d.MsgID, Payload: d.Data}
			if !client.trySend(f) {
				h.metrics.IncDropped()
				h.logger.Warn("skipping message payload - channel full or client slow",
					"user_id", client.UserID,
					"topic", d.Topic)
			}
		}
	}
}
