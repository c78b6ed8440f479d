package broker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Bridge connects the gateway to NATS. Routed messages are published on
// per-conversation subjects and delivered back for fan-out; sends from
// clients that talk to NATS directly arrive on the send subject.
type Bridge struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	logger *slog.Logger
}

// NewBridge wraps nc. With useJetStream, messages are persisted in
// StreamName and deduplicated by message id on the server.
func NewBridge(ctx context.Context, nc *nats.Conn, useJetStream bool, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{nc: nc, logger: logger}
	if !useJetStream {
		return b, nil
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream instance: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectInbound},
		MaxBytes: 1 << 30, // 1GB max storage
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream: %w", err)
	}

	b.js = js
	b.stream = stream
	return b, nil
}

// Publish sends a routed message to the subject of topic.
func (b *Bridge) Publish(ctx context.Context, topic, msgID string, data []byte) error {
	if b.js != nil {
		_, err := Publisher(ctx, b.js, topic, msgID, data)
		return err
	}

	msg := &nats.Msg{Subject: Subject(topic), Data: data, Header: nats.Header{}}
	if msgID != "" {
		msg.Header.Set(nats.MsgIdHdr, msgID)
	}
	if err := b.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to [%s]: %w", msg.Subject, err)
	}
	return nil
}

// Deliveries feeds every message published on SubjectInbound into out
// until ctx is done.
func (b *Bridge) Deliveries(ctx context.Context, out chan<- Delivery) error {
	if b.stream != nil {
		return Subscriber(ctx, b.stream, out, b.logger)
	}
	return b.subscribeCore(ctx, SubjectInbound, out)
}

// Sends feeds messages published by NATS-native clients to the send
// destination into out until ctx is done.
func (b *Bridge) Sends(ctx context.Context, out chan<- Delivery) error {
	return b.subscribeCore(ctx, Subject(SendDestination), out)
}

func (b *Bridge) subscribeCore(ctx context.Context, subject string, out chan<- Delivery) error {
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		d := Delivery{Topic: TopicFromSubject(msg.Subject), Data: msg.Data}
		if msg.Header != nil {
			d.MsgID = msg.Header.Get(nats.MsgIdHdr)
		}
		select {
		case out <- d:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to [%s]: %w", subject, err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Debug("unsubscribe on shutdown", "error", err, "subject", subject)
		}
	}()
	return nil
}
