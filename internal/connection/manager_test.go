package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/supportchat/internal/clock"
	"github.com/johndosdos/supportchat/internal/transport"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) observe(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.To)
	}
	return out
}

func (r *recorder) count(s State) int {
	n := 0
	for _, st := range r.states() {
		if st == s {
			n++
		}
	}
	return n
}

func newTestManager(t *testing.T, dialer transport.Dialer, cfg Config) (*Manager, *clock.FakeClock, *recorder) {
	t.Helper()

	c := clock.Fake(time.Unix(0, 0))
	m := NewManager(dialer, cfg, WithClock(c))
	rec := &recorder{}
	m.Observe(rec.observe)
	t.Cleanup(m.Stop)
	return m, c, rec
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, waitFor, tick,
		"state never reached %s (now %s)", want, m.State())
}

func TestStartConnects(t *testing.T) {
	b := transport.NewMemoryBroker()
	m, _, rec := newTestManager(t, b.Dialer(), DefaultConfig())

	assert.Equal(t, Idle, m.State())
	assert.Nil(t, m.Conn())

	m.Start(transport.Credentials{UserID: "7", Token: "tok"})
	waitState(t, m, Connected)

	assert.NotNil(t, m.Conn())
	assert.Equal(t, []State{Connecting, Connected}, rec.states())
	assert.Equal(t, []transport.Credentials{{UserID: "7", Token: "tok"}}, b.Dials())

	// Already running: no second dial.
	m.Start(transport.Credentials{UserID: "7"})
	assert.Len(t, b.Dials(), 1)
}

func TestReconnectAfterDrop(t *testing.T) {
	b := transport.NewMemoryBroker()
	m, c, rec := newTestManager(t, b.Dialer(), DefaultConfig())

	m.Start(transport.Credentials{UserID: "7"})
	waitState(t, m, Connected)

	cause := errors.New("connection reset by peer")
	b.Disconnect(cause)
	waitState(t, m, Disconnected)

	c.Advance(4999 * time.Millisecond)
	assert.Equal(t, Disconnected, m.State())
	assert.Equal(t, 1, rec.count(Connecting))

	c.Advance(time.Millisecond)
	assert.Equal(t, 2, rec.count(Connecting), "reconnect must start without a new Start call")
	waitState(t, m, Connected)
	assert.Len(t, b.Dials(), 2)

	rec.mu.Lock()
	var dropErr error
	for _, ev := range rec.events {
		if ev.To == Disconnected {
			dropErr = ev.Err
		}
	}
	rec.mu.Unlock()
	assert.ErrorIs(t, dropErr, cause)
}

func TestHandshakeFailureRetries(t *testing.T) {
	b := transport.NewMemoryBroker()
	b.FailDials(transport.ErrHandshake)
	m, c, rec := newTestManager(t, b.Dialer(), DefaultConfig())

	m.Start(transport.Credentials{UserID: "7"})
	waitState(t, m, Disconnected)

	b.FailDials(nil)
	c.Advance(DefaultReconnectDelay)
	waitState(t, m, Connected)

	assert.Equal(t, []State{Connecting, Disconnected, Connecting, Connected}, rec.states())
}

func TestStopCancelsPendingReconnect(t *testing.T) {
	b := transport.NewMemoryBroker()
	m, c, rec := newTestManager(t, b.Dialer(), DefaultConfig())

	m.Start(transport.Credentials{UserID: "7"})
	waitState(t, m, Connected)
	b.Disconnect(errors.New("gone"))
	waitState(t, m, Disconnected)
	require.Equal(t, 1, c.Pending())

	m.Stop()
	assert.Equal(t, Closed, m.State())
	assert.Equal(t, 0, c.Pending())

	c.Advance(10 * DefaultReconnectDelay)
	assert.Equal(t, Closed, m.State())
	assert.Equal(t, 1, rec.count(Connecting))
	assert.Len(t, b.Dials(), 1)
}

func TestStopClosesConnection(t *testing.T) {
	b := transport.NewMemoryBroker()
	m, _, rec := newTestManager(t, b.Dialer(), DefaultConfig())

	m.Start(transport.Credentials{UserID: "7"})
	waitState(t, m, Connected)

	m.Stop()
	assert.Equal(t, 0, b.Conns())
	assert.Equal(t, []State{Connecting, Connected, Closed}, rec.states())

	// Closed is terminal until the next Start.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Closed, m.State())

	m.Start(transport.Credentials{UserID: "8"})
	waitState(t, m, Connected)
	assert.Equal(t, "8", b.Dials()[1].UserID)
}

func TestStopDuringDial(t *testing.T) {
	b := transport.NewMemoryBroker()
	release := make(chan struct{})
	dialed := make(chan struct{})
	dialer := transport.DialerFunc(func(ctx context.Context, creds transport.Credentials) (transport.Conn, error) {
		close(dialed)
		<-release
		return b.Dialer().Dial(context.Background(), creds)
	})
	m, _, rec := newTestManager(t, dialer, DefaultConfig())

	m.Start(transport.Credentials{UserID: "7"})
	<-dialed
	m.Stop()
	close(release)

	require.Eventually(t, func() bool { return len(b.Dials()) == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return b.Conns() == 0 }, waitFor, tick,
		"a dial finishing after Stop must be closed")
	assert.Equal(t, Closed, m.State())
	assert.Equal(t, []State{Connecting, Closed}, rec.states())
}

func TestExponentialBackoff(t *testing.T) {
	b := transport.NewMemoryBroker()
	b.FailDials(transport.ErrHandshake)
	cfg := Config{ReconnectDelay: 5 * time.Second, MaxReconnectDelay: 20 * time.Second}
	m, c, _ := newTestManager(t, b.Dialer(), cfg)

	m.Start(transport.Credentials{UserID: "7"})

	attempts := 1
	for _, delay := range []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 20 * time.Second} {
		require.Eventually(t, func() bool {
			return m.State() == Disconnected && c.Pending() == 1 && len(b.Dials()) == attempts
		}, waitFor, tick)

		c.Advance(delay - time.Millisecond)
		assert.Len(t, b.Dials(), attempts, "retried before %s", delay)

		c.Advance(time.Millisecond)
		attempts++
		require.Eventually(t, func() bool { return len(b.Dials()) == attempts }, waitFor, tick)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "unknown", State(42).String())
}
