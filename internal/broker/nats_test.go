package broker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/supportchat/internal/transport"
)

func natsURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("TEST_NATS_URL not set")
	}
	return url
}

func TestNATSDialerRoundTrip(t *testing.T) {
	d := &NATSDialer{URL: natsURL(t)}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := d.Dial(ctx, transport.Credentials{UserID: "7"})
	require.NoError(t, err)
	defer sub.Close()
	pub, err := d.Dial(ctx, transport.Credentials{UserID: "1"})
	require.NoError(t, err)
	defer pub.Close()

	topic := Topic("test-" + uuid.NewString())
	got := make(chan []byte, 1)
	s, err := sub.Subscribe(topic, func(data []byte) { got <- data })
	require.NoError(t, err)
	assert.Equal(t, topic, s.Topic())
	require.NoError(t, sub.(*natsConn).nc.Flush())

	require.NoError(t, pub.Publish(ctx, topic, "m1", []byte(`{"id":"m1"}`)))
	select {
	case data := <-got:
		assert.JSONEq(t, `{"id":"m1"}`, string(data))
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}

	require.NoError(t, s.Unsubscribe())
	require.NoError(t, pub.Close())
	select {
	case <-pub.Done():
	case <-ctx.Done():
		t.Fatal("Done not closed after Close")
	}
	assert.NoError(t, pub.Err())
	assert.ErrorIs(t, pub.Publish(ctx, topic, "", nil), transport.ErrClosed)
}

func TestBridgeCoreDeliveries(t *testing.T) {
	nc, err := nats.Connect(natsURL(t))
	require.NoError(t, err)
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, err := NewBridge(ctx, nc, false, nil)
	require.NoError(t, err)

	out := make(chan Delivery, 1)
	require.NoError(t, b.Deliveries(ctx, out))
	require.NoError(t, nc.Flush())

	topic := Topic("test-" + uuid.NewString())
	require.NoError(t, b.Publish(ctx, topic, "m2", []byte("payload")))

	select {
	case d := <-out:
		assert.Equal(t, topic, d.Topic)
		assert.Equal(t, "m2", d.MsgID)
		assert.Equal(t, []byte("payload"), d.Data)
	case <-ctx.Done():
		t.Fatal("delivery not received")
	}
}
