package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/johndosdos/supportchat/internal/metrics"
	"github.com/johndosdos/supportchat/internal/model"
	"github.com/johndosdos/supportchat/internal/session"
	"github.com/johndosdos/supportchat/internal/transport"
)

// Params shape one load run. Sessions are paired up so that every pair
// shares a conversation.
type Params struct {
	Pairs    int
	Messages int
	Interval time.Duration
	// Settle is how long to wait for subscriptions after every session
	// reports connected, and for stragglers after the last send.
	Settle  time.Duration
	Session session.Config
	// Token mints a handshake token for a user. Nil sends none.
	Token func(userID string) (string, error)
	// Replay, when set, redelivers everything sent so far and returns how
	// many frames it pushed. Replayed frames must not reach the UI.
	Replay func() int
}

type Report struct {
	Sessions  int
	Sent      int
	Rejected  int
	Expected  int64
	Delivered int64
	Replayed  int
	Elapsed   time.Duration
}

// Extra counts deliveries beyond one per participant per message.
func (r Report) Extra() int64 {
	if r.Delivered > r.Expected {
		return r.Delivered - r.Expected
	}
	return 0
}

func (r Report) String() string {
	return fmt.Sprintf("sessions=%d sent=%d rejected=%d delivered=%d/%d extra=%d replayed=%d elapsed=%s",
		r.Sessions, r.Sent, r.Rejected, r.Delivered, r.Expected, r.Extra(), r.Replayed, r.Elapsed.Round(time.Millisecond))
}

func userID(i int) string {
	return strconv.Itoa(100 + i)
}

// Run drives the sessions through dialer and reports what arrived.
func Run(ctx context.Context, dialer transport.Dialer, p Params, m *metrics.Metrics, logger *slog.Logger) (Report, error) {
	if p.Pairs <= 0 || p.Messages <= 0 {
		return Report{}, errors.New("pairs and messages must be positive")
	}

	var delivered atomic.Int64
	sessions := make([]*session.Session, 0, 2*p.Pairs)
	defer func() {
		for _, s := range sessions {
			s.Deactivate()
		}
	}()

	start := time.Now()
	for i := 0; i < 2*p.Pairs; i++ {
		self := userID(i)
		peer := userID(i ^ 1)

		identity := model.Identity{UserID: self, Name: "load-" + self}
		if p.Token != nil {
			token, err := p.Token(self)
			if err != nil {
				return Report{}, fmt.Errorf("token for %s: %w", self, err)
			}
			identity.Token = token
		}

		s := session.New(dialer,
			session.WithConfig(p.Session),
			session.WithLogger(logger.With("user_id", self)),
			session.WithMetrics(m))
		s.OnMessage(func(model.ChatMessage) { delivered.Add(1) })
		sessions = append(sessions, s)

		if err := s.Activate(identity, model.ConversationKey(self, peer)); err != nil {
			return Report{}, err
		}
	}

	if err := waitConnected(ctx, sessions); err != nil {
		return Report{}, err
	}
	if err := sleep(ctx, p.Settle); err != nil {
		return Report{}, err
	}

	var sent, rejected atomic.Int64
	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < p.Messages; n++ {
				res := s.Send(ctx, session.Draft{Content: fmt.Sprintf("message %d from %s", n, userID(i))})
				if res.Status == session.Sent {
					sent.Add(1)
				} else {
					rejected.Add(1)
					logger.Debug("send not delivered", "user_id", userID(i), "status", res.Status, "error", res.Err)
				}
				if sleep(ctx, p.Interval) != nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	report := Report{
		Sessions: len(sessions),
		Sent:     int(sent.Load()),
		Rejected: int(rejected.Load()),
	}
	// Both participants receive every message, the sender included.
	report.Expected = 2 * int64(report.Sent)

	waitDelivered(ctx, &delivered, report.Expected, p.Settle)
	if p.Replay != nil {
		report.Replayed = p.Replay()
		_ = sleep(ctx, p.Settle)
	}

	report.Delivered = delivered.Load()
	report.Elapsed = time.Since(start)
	return report, nil
}

func waitConnected(ctx context.Context, sessions []*session.Session) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		ready := 0
		for _, s := range sessions {
			if s.Connected() {
				ready++
			}
		}
		if ready == len(sessions) {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%d of %d sessions connected: %w", ready, len(sessions), ctx.Err())
		case <-ticker.C:
		}
	}
}

func waitDelivered(ctx context.Context, delivered *atomic.Int64, want int64, grace time.Duration) {
	deadline := time.Now().Add(grace)
	for delivered.Load() < want && time.Now().Before(deadline) {
		if sleep(ctx, 10*time.Millisecond) != nil {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
