package broker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// Delivery is one frame received from the broker.
type Delivery struct {
	Topic string
	MsgID string
	Data  []byte
}

// Publisher publishes payload to the stream subject for topic. msgID is
// used as the JetStream deduplication id; an empty one gets a fresh UUID.
func Publisher(ctx context.Context, js jetstream.JetStream, topic, msgID string, payload []byte) (uint64, error) {
	if js == nil {
		return 0, fmt.Errorf("jetstream interface is nil")
	}
	if ctx == nil {
		return 0, fmt.Errorf("context is nil")
	}
	if msgID == "" {
		msgID = uuid.NewString()
	}

	subject := Subject(topic)
	pubAck, err := js.Publish(ctx,
		subject,
		payload,
		jetstream.WithMsgID(msgID),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to publish to stream [%s]: %w", subject, err)
	}

	return pubAck.Sequence, nil
}

// Subscriber consumes new messages on SubjectInbound from stream and hands
// them to deliveries until ctx is done.
func Subscriber(ctx context.Context, stream jetstream.Stream, deliveries chan<- Delivery, logger *slog.Logger) error {
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: SubjectInbound,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create or update consumer: %w", err)
	}

	consumeHandler := func(msg jetstream.Msg) {
		d := Delivery{
			Topic: TopicFromSubject(msg.Subject()),
			Data:  msg.Data(),
		}
		if h := msg.Headers(); h != nil {
			d.MsgID = h.Get(jetstream.MsgIDHeader)
		}

		select {
		case deliveries <- d:
			if err := msg.Ack(); err != nil {
				logger.Warn("failed to ack message", "error", err, "topic", d.Topic)
			}
		case <-ctx.Done():
			// Leave it unacked; the server redelivers to the next consumer.
		}
	}

	optErrHandler := jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		logger.Warn("consumer error", "error", err)
	})

	consumeCtx, err := consumer.Consume(consumeHandler, optErrHandler)
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}

	go func(ctx context.Context, consumeCtx jetstream.ConsumeContext) {
		<-ctx.Done()
		consumeCtx.Drain()
	}(ctx, consumeCtx)

	return nil
}
