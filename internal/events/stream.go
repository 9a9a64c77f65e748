package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/snapconnect/persona-engine/internal/model"
)

const (
	// StreamName is the name of the message change stream.
	StreamName = "MESSAGES"

	// SubjectPrefix is the prefix for message-created subjects.
	SubjectPrefix = "messages.created"

	// RegistryUpdatedSubject carries persona registry invalidation
	// events published by the external admin process.
	RegistryUpdatedSubject = "registry.personas.updated"
)

// MessageSubject returns the subject a receiver's created-message events
// are published on.
func MessageSubject(receiverID string) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, receiverID)
}

// Publisher emits MessageCreated events. It satisfies the store's
// Notifier contract.
type Publisher struct {
	client *Client
}

// NewPublisher creates a publisher over an established client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// EnsureStream ensures the message stream exists with proper configuration.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	js := p.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Description: "Message created change events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// MessageCreated publishes one change event for a persisted insert. The
// message id doubles as the publish dedupe id, so a retried publish never
// stores a second copy.
func (p *Publisher) MessageCreated(ctx context.Context, msg *model.Message) error {
	sender := msg.SenderID
	event := model.MessageCreated{
		MessageID:         msg.ID,
		SenderID:          &sender,
		ReceiverID:        msg.ReceiverID,
		Content:           msg.Content,
		Kind:              msg.Kind,
		IsSyntheticSender: msg.IsSyntheticSender,
		SentAt:            msg.SentAt,
	}

	data, err := json.Marshal(&event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = p.client.JetStream().Publish(ctx, MessageSubject(msg.ReceiverID), data,
		jetstream.WithMsgID(msg.ID))
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
