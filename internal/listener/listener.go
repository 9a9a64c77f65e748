// Package listener consumes the message change stream, filters events
// addressed to personas, and drives the reactive reply path.
package listener

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/snapconnect/persona-engine/internal/conversation"
	"github.com/snapconnect/persona-engine/internal/events"
	"github.com/snapconnect/persona-engine/internal/model"
	"github.com/snapconnect/persona-engine/internal/retry"
	"github.com/snapconnect/persona-engine/pkg/logger"
	"github.com/snapconnect/persona-engine/pkg/metrics"
)

// Registry resolves receiver ids to personas.
type Registry interface {
	Get(ctx context.Context, id string) (*model.Persona, error)
}

// Generator drafts persona replies.
type Generator interface {
	Generate(ctx context.Context, persona *model.Persona, history conversation.Context, hint string) (string, error)
	Fallback(persona *model.Persona) string
}

// Outbound persists persona replies.
type Outbound interface {
	InsertOutbound(ctx context.Context, personaID, receiverID, content string) (*model.Message, error)
}

// FallbackMode decides what happens when generation is exhausted.
type FallbackMode string

const (
	// FallbackReply sends the persona's canned line.
	FallbackReply FallbackMode = "reply"
	// FallbackSkip acks the event without replying.
	FallbackSkip FallbackMode = "skip"
)

// Config wires a Listener.
type Config struct {
	Stream       events.Stream
	Registry     Registry
	Builder      *conversation.Builder
	Generator    Generator
	Outbound     Outbound
	Policy       retry.Policy
	Fallback     FallbackMode
	DedupeWindow time.Duration

	// Semaphore bounds in-flight generations; shared with the
	// scheduler so the backend sees one global limit.
	Semaphore chan struct{}

	Log *logger.Logger
}

// Listener is the single logical consumer of the change stream.
type Listener struct {
	cfg    Config
	dedupe *deduper
	pairs  *pairExecutor
}

// New creates a listener.
func New(cfg Config) *Listener {
	if cfg.Fallback == "" {
		cfg.Fallback = FallbackReply
	}
	return &Listener{
		cfg:    cfg,
		dedupe: newDeduper(cfg.DedupeWindow),
		pairs:  newPairExecutor(),
	}
}

// Run consumes events until ctx is done, then waits for in-flight
// handlers to finish. Per-event failures never stop the loop.
func (l *Listener) Run(ctx context.Context) error {
	log := l.cfg.Log
	log.Info("inbound trigger listener started")

	for {
		event, ack, err := l.cfg.Stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn("change stream error", zap.Error(err))
			continue
		}
		l.dispatch(ctx, event, ack)
	}

	l.pairs.Wait()
	log.Info("inbound trigger listener stopped")
	return ctx.Err()
}

// dispatch filters and deduplicates one event, then enqueues it on the
// pair's FIFO queue. Events we will never act on are acked immediately.
func (l *Listener) dispatch(ctx context.Context, event *model.MessageCreated, ack events.AckFunc) {
	log := l.cfg.Log

	senderID, synthetic, ok := event.NormalizeSender(nil)
	if !ok {
		log.Warn("dropping event with unresolvable sender", zap.String("message_id", event.MessageID))
		metrics.EventsTotal.WithLabelValues("malformed").Inc()
		l.ack(ack, event.MessageID)
		return
	}

	persona, err := l.cfg.Registry.Get(ctx, event.ReceiverID)
	if errors.Is(err, model.ErrPersonaNotFound) {
		metrics.EventsTotal.WithLabelValues("not_persona").Inc()
		l.ack(ack, event.MessageID)
		return
	}
	if err != nil {
		// Registry unavailable: leave unacked so the stream redelivers.
		log.Warn("registry lookup failed", zap.String("message_id", event.MessageID), zap.Error(err))
		return
	}

	// Persona-to-persona events would loop forever; drop them.
	if synthetic || l.isPersona(ctx, senderID) {
		metrics.EventsTotal.WithLabelValues("persona_sender").Inc()
		l.ack(ack, event.MessageID)
		return
	}

	if l.dedupe.Seen(event.MessageID) {
		metrics.EventsTotal.WithLabelValues("duplicate").Inc()
		l.ack(ack, event.MessageID)
		return
	}

	metrics.EventsTotal.WithLabelValues("accepted").Inc()
	l.pairs.Submit(pairKey(persona.ID, senderID), func() {
		l.reply(ctx, persona, senderID, event.MessageID, ack)
	})
}

// reply runs the Context Builder → Response Generator → persist path for
// one accepted event, then acks it. Failures before the reply is
// persisted release the dedupe slot and leave the event unacked so
// redelivery can retry.
func (l *Listener) reply(ctx context.Context, persona *model.Persona, humanID, messageID string, ack events.AckFunc) {
	log := l.cfg.Log.WithPair(persona.ID, humanID)

	select {
	case l.cfg.Semaphore <- struct{}{}:
	case <-ctx.Done():
		l.dedupe.Forget(messageID)
		return
	}
	metrics.GenerationsInFlight.Inc()
	defer func() {
		metrics.GenerationsInFlight.Dec()
		<-l.cfg.Semaphore
	}()

	history, err := l.cfg.Builder.Build(ctx, persona.ID, humanID)
	if err != nil {
		log.Warn("context build failed", zap.Error(err))
		l.dedupe.Forget(messageID)
		return
	}

	var content string
	err = l.cfg.Policy.Do(ctx, func(ctx context.Context) error {
		var genErr error
		content, genErr = l.cfg.Generator.Generate(ctx, persona, history, "")
		return genErr
	})
	if err != nil {
		if l.cfg.Fallback == FallbackSkip {
			log.Warn("generation exhausted, skipping reply", zap.Error(err))
			metrics.RepliesTotal.WithLabelValues("reactive", "skipped").Inc()
			l.ack(ack, messageID)
			return
		}
		log.Warn("generation exhausted, sending fallback reply", zap.Error(err))
		content = l.cfg.Generator.Fallback(persona)
	}

	reply, err := l.cfg.Outbound.InsertOutbound(ctx, persona.ID, humanID, content)
	if err != nil {
		log.Error("failed to persist reply", zap.Error(err))
		metrics.RepliesTotal.WithLabelValues("reactive", "failed").Inc()
		l.dedupe.Forget(messageID)
		return
	}

	metrics.RepliesTotal.WithLabelValues("reactive", "sent").Inc()
	log.Info("persona reply sent",
		zap.String("message_id", reply.ID),
		zap.String("in_reply_to", messageID),
	)
	l.ack(ack, messageID)
}

func (l *Listener) isPersona(ctx context.Context, id string) bool {
	_, err := l.cfg.Registry.Get(ctx, id)
	return err == nil
}

func (l *Listener) ack(ack events.AckFunc, messageID string) {
	if err := ack(); err != nil {
		l.cfg.Log.Warn("ack failed", zap.String("message_id", messageID), zap.Error(err))
	}
}
