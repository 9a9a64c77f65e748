package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/snapconnect/persona-engine/internal/model"
)

// AckFunc acknowledges one delivered event. Call it only after the
// event's effects are persisted; an unacked event is redelivered.
type AckFunc func() error

// Stream is the pull interface the listener consumes: a lazy, infinite,
// restartable sequence of MessageCreated events.
type Stream interface {
	Next(ctx context.Context) (*model.MessageCreated, AckFunc, error)
}

// Subscription is a durable JetStream pull consumer over the message
// stream. Restarting with the same durable name resumes after the last
// acked event; delivery is at-least-once.
type Subscription struct {
	consumer jetstream.Consumer
	log      interface {
		Warn(msg string, fields ...zap.Field)
	}
}

// Subscribe creates (or resumes) the durable consumer.
func Subscribe(ctx context.Context, client *Client, durable string) (*Subscription, error) {
	consumer, err := client.JetStream().CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: SubjectPrefix + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckWait:       2 * time.Minute,
		MaxDeliver:    -1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	return &Subscription{consumer: consumer, log: client.log}, nil
}

// Next blocks until an event arrives or ctx is done. Malformed payloads
// are acked and skipped so a poison message cannot wedge the stream.
func (s *Subscription) Next(ctx context.Context) (*model.MessageCreated, AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		batch, err := s.consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, nil, err
			}
			// Transient fetch failure; back off briefly and re-poll.
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for msg := range batch.Messages() {
			var event model.MessageCreated
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				if s.log != nil {
					s.log.Warn("dropping malformed change event",
						zap.String("subject", msg.Subject()),
						zap.Error(err),
					)
				}
				_ = msg.Ack()
				continue
			}
			m := msg
			return &event, func() error { return m.Ack() }, nil
		}
		// Empty batch after max wait; poll again.
	}
}
