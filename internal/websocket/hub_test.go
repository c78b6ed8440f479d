package websocket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/supportchat/internal/broker"
	"github.com/johndosdos/supportchat/internal/metrics"
	"github.com/johndosdos/supportchat/internal/model"
	"github.com/johndosdos/supportchat/internal/transport"
)

type recordingBackend struct {
	mu        sync.Mutex
	published []broker.Delivery
}

func (b *recordingBackend) Publish(_ context.Context, topic, msgID string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, broker.Delivery{Topic: topic, MsgID: msgID, Data: data})
	return nil
}

func (b *recordingBackend) all() []broker.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broker.Delivery(nil), b.published...)
}

func newTestClient(h *Hub, userID string, buffer int) *Client {
	c := NewClient(nil, userID, nil)
	c.Send = make(chan transport.Frame, buffer)
	h.clients[c] = struct{}{}
	c.Hub = h
	return c
}

func encode(t *testing.T, m model.ChatMessage) []byte {
	t.Helper()
	p, err := model.Encode(m)
	require.NoError(t, err)
	return p
}

func TestRouteLoopback(t *testing.T) {
	h := NewHub(nil)
	agent := newTestClient(h, "1", 4)
	customer := newTestClient(h, "7", 4)

	h.subscribe(agent, "a1", "messages/1_7")
	h.subscribe(customer, "c1", "messages/1_7")

	err := h.route(context.Background(), "7", "m1", encode(t, model.ChatMessage{ConversationID: "1_7", Content: "Hi"}))
	require.NoError(t, err)

	for c, sub := range map[*Client]string{agent: "a1", customer: "c1"} {
		require.Len(t, c.Send, 1)
		f := <-c.Send
		assert.Equal(t, transport.OpMessage, f.Op)
		assert.Equal(t, sub, f.Sub)
		assert.Equal(t, "m1", f.ID)
	}
}

func TestRouteValidation(t *testing.T) {
	h := NewHub(nil, WithAgents("1"))
	ctx := context.Background()

	tests := []struct {
		name    string
		sender  string
		msg     string
		wantErr error
	}{
		{"malformed", "7", `{"conversationId":`, model.ErrMalformed},
		{"no conversation", "7", `{"content":"hi"}`, model.ErrMalformed},
		{"not a participant", "8", `{"conversationId":"1_7","content":"hi"}`, ErrForbidden},
		{"empty after sanitizing", "7", `{"conversationId":"1_7","content":"<script>x</script>"}`, ErrEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.route(ctx, tt.sender, "", []byte(tt.msg))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.NoError(t, h.route(ctx, "1", "", []byte(`{"conversationId":"2_9","content":"hi"}`)), "agents reach any conversation")
}

func TestSubscribeSwapAndUnsubscribe(t *testing.T) {
	h := NewHub(nil)
	c := newTestClient(h, "7", 8)

	h.subscribe(c, "s1", "messages/1_7")
	h.subscribe(c, "s2", "messages/1_7")
	h.unsubscribe(c, "s1")
	assert.Contains(t, h.topics, "messages/1_7", "s2 still points at the topic")

	h.fanOut(broker.Delivery{Topic: "messages/1_7", MsgID: "m1", Data: []byte(`{}`)})
	require.Len(t, c.Send, 1)
	assert.Equal(t, "s2", (<-c.Send).Sub)

	h.unsubscribe(c, "s2")
	assert.NotContains(t, h.topics, "messages/1_7")
	h.fanOut(broker.Delivery{Topic: "messages/1_7", MsgID: "m2", Data: []byte(`{}`)})
	assert.Empty(t, c.Send)

	h.subscribe(c, "s3", "messages/1_8")
	f := <-c.Send
	assert.Equal(t, transport.OpError, f.Op)
	assert.Equal(t, "s3", f.Sub)
	assert.Empty(t, c.subs)
}

func TestSlowClientDropped(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	h := NewHub(nil, WithMetrics(m))
	slow := newTestClient(h, "7", 1)
	h.subscribe(slow, "s1", "messages/1_7")

	d := broker.Delivery{Topic: "messages/1_7", MsgID: "m1", Data: []byte(`{}`)}
	h.fanOut(d)
	h.fanOut(d)

	assert.Len(t, slow.Send, 1)
	assert.Equal(t, 1.0, promtest.ToFloat64(m.GatewayDropped))
}

func TestRunWithBackend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := &recordingBackend{}
	h := NewHub(backend)
	go h.Run(ctx)

	c := NewClient(nil, "7", nil)
	reg := Registration{Client: c, Done: make(chan struct{})}
	h.Register <- reg
	<-reg.Done

	h.Subscriptions <- SubscriptionRequest{Client: c, Sub: "s1", Topic: "messages/1_7"}
	h.ClientMsg <- Inbound{Client: c, Frame: transport.Frame{Op: transport.OpPublish, Topic: broker.SendDestination, ID: "m1",
		Payload: encode(t, model.ChatMessage{ConversationID: "1_7", Content: "Hi"})}}

	require.Eventually(t, func() bool { return len(backend.all()) == 1 }, time.Second, 5*time.Millisecond)
	pub := backend.all()[0]
	assert.Equal(t, "messages/1_7", pub.Topic)
	assert.Equal(t, "m1", pub.MsgID)
	assert.Empty(t, c.Send, "with a backend, delivery waits for the broker")

	h.BrokerMsg <- pub
	select {
	case f := <-c.Send:
		assert.Equal(t, "s1", f.Sub)
		assert.JSONEq(t, string(pub.Data), string(f.Payload))
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}

	// NATS-native sends have no connection user to check against.
	h.RelayMsg <- broker.Delivery{Topic: broker.SendDestination, MsgID: "m2",
		Data: encode(t, model.ChatMessage{ConversationID: "1_7", SenderID: "1", Content: "hello"})}
	require.Eventually(t, func() bool { return len(backend.all()) == 2 }, time.Second, 5*time.Millisecond)

	h.Unregister <- c
	_, ok := <-c.Send
	assert.False(t, ok)

	cancel()
	<-h.Stopped()
}
