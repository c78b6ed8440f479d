package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBrokerDeliver(t *testing.T) {
	b := NewMemoryBroker()
	conn, err := b.Dialer().Dial(context.Background(), Credentials{UserID: "7"})
	require.NoError(t, err)

	var got []string
	sub, err := conn.Subscribe("messages/1_7", func(data []byte) { got = append(got, string(data)) })
	require.NoError(t, err)
	assert.Equal(t, "messages/1_7", sub.Topic())

	assert.Equal(t, 1, b.Deliver("messages/1_7", []byte(`"a"`)))
	assert.Equal(t, 0, b.Deliver("messages/2_7", []byte(`"b"`)))
	assert.Equal(t, []string{`"a"`}, got)

	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 0, b.Deliver("messages/1_7", []byte(`"c"`)))
	assert.Equal(t, []string{"messages/1_7"}, b.Unsubscribed())
}

func TestMemoryBrokerRouting(t *testing.T) {
	b := NewMemoryBroker()
	b.SetRouter(func(topic string, data []byte) (string, bool) {
		return "routed/" + topic, true
	})

	conn, err := b.Dialer().Dial(context.Background(), Credentials{})
	require.NoError(t, err)

	var got int
	_, err = conn.Subscribe("routed/app/chat", func([]byte) { got++ })
	require.NoError(t, err)

	require.NoError(t, conn.Publish(context.Background(), "app/chat", "m1", []byte(`{}`)))
	assert.Equal(t, 1, got)

	published := b.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "m1", published[0].MsgID)
}

func TestMemoryBrokerDisconnect(t *testing.T) {
	b := NewMemoryBroker()
	conn, err := b.Dialer().Dial(context.Background(), Credentials{})
	require.NoError(t, err)

	cause := errors.New("network unreachable")
	b.Disconnect(cause)

	select {
	case <-conn.Done():
	default:
		t.Fatal("conn.Done() should be closed after Disconnect")
	}
	assert.ErrorIs(t, conn.Err(), cause)
	assert.ErrorIs(t, conn.Publish(context.Background(), "app/chat", "", []byte(`{}`)), ErrClosed)
	assert.Equal(t, 0, b.Conns())

	_, err = conn.Subscribe("x", func([]byte) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryBrokerFailDials(t *testing.T) {
	b := NewMemoryBroker()
	b.FailDials(ErrHandshake)

	_, err := b.Dialer().Dial(context.Background(), Credentials{UserID: "7", Token: "t"})
	assert.ErrorIs(t, err, ErrHandshake)
	assert.Equal(t, []Credentials{{UserID: "7", Token: "t"}}, b.Dials())
}
