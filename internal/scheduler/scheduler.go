// Package scheduler runs the proactive outreach loop: on a fixed
// interval it evaluates every (persona, human) pair against the
// registered triggers and originates messages, using the outreach log to
// suppress repeats.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/snapconnect/persona-engine/internal/conversation"
	"github.com/snapconnect/persona-engine/internal/model"
	"github.com/snapconnect/persona-engine/internal/retry"
	"github.com/snapconnect/persona-engine/pkg/logger"
	"github.com/snapconnect/persona-engine/pkg/metrics"
)

// Store is the slice of the store adapter the scheduler needs.
type Store interface {
	ActivitySource
	ListHumans(ctx context.Context) ([]model.Participant, error)
	HasRecentOutreach(ctx context.Context, personaID, humanID string, kind model.TriggerKind, window time.Duration, global bool) (bool, error)
	AppendOutreach(ctx context.Context, entry *model.OutreachEntry) error
}

// Registry lists personas eligible for outreach.
type Registry interface {
	ListAvailable(ctx context.Context) ([]model.Persona, error)
}

// Generator drafts outreach messages.
type Generator interface {
	Generate(ctx context.Context, persona *model.Persona, history conversation.Context, hint string) (string, error)
}

// Outbound persists outreach messages.
type Outbound interface {
	InsertOutbound(ctx context.Context, personaID, receiverID, content string) (*model.Message, error)
}

// Config wires a Scheduler.
type Config struct {
	Store     Store
	Registry  Registry
	Builder   *conversation.Builder
	Generator Generator
	Outbound  Outbound
	Policy    retry.Policy
	Triggers  []Trigger

	Interval       time.Duration
	Cooldown       time.Duration
	CooldownGlobal bool

	// Semaphore bounds in-flight generations, shared with the listener.
	Semaphore chan struct{}

	Log *logger.Logger
}

// Scheduler owns its candidate evaluation state and tick loop; no global
// singleton, one instance per process.
type Scheduler struct {
	cfg  Config
	cron *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. Interval defaults to 5m, cooldown to 24h.
func New(cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 24 * time.Hour
	}
	return &Scheduler{
		cfg:  cfg,
		cron: cron.New(cron.WithLocation(time.UTC)),
	}
}

// Start begins ticking in the background until Stop or parent ctx
// cancellation.
func (s *Scheduler) Start(parent context.Context) error {
	s.ctx, s.cancel = context.WithCancel(parent)

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.Interval), func() {
		s.Tick(s.ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.cfg.Log.Info("outreach scheduler started", zap.Duration("interval", s.cfg.Interval))
	return nil
}

// Stop halts ticking and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	s.cfg.Log.Info("outreach scheduler stopped")
}

// Tick evaluates every candidate pair once. Exported so tests and tools
// can drive a tick directly. One candidate's failure never aborts the
// rest.
func (s *Scheduler) Tick(ctx context.Context) {
	log := s.cfg.Log

	personas, err := s.cfg.Registry.ListAvailable(ctx)
	if err != nil {
		log.Warn("tick skipped: listing personas failed", zap.Error(err))
		metrics.SchedulerTicksTotal.WithLabelValues("skipped").Inc()
		return
	}
	humans, err := s.cfg.Store.ListHumans(ctx)
	if err != nil {
		log.Warn("tick skipped: listing humans failed", zap.Error(err))
		metrics.SchedulerTicksTotal.WithLabelValues("skipped").Inc()
		return
	}

	for _, persona := range personas {
		for _, human := range humans {
			if ctx.Err() != nil {
				return
			}
			s.evaluate(ctx, persona, human)
		}
	}
	metrics.SchedulerTicksTotal.WithLabelValues("completed").Inc()
}

// evaluate runs the pair through each trigger in order and sends at most
// one outreach message per pair per tick.
func (s *Scheduler) evaluate(ctx context.Context, persona model.Persona, human model.Participant) {
	log := s.cfg.Log.WithPair(persona.ID, human.ID)

	for _, trigger := range s.cfg.Triggers {
		kind := trigger.Kind()

		eligible, hint, err := trigger.Eligible(ctx, persona, human)
		if err != nil {
			log.Warn("trigger evaluation failed", zap.String("trigger", string(kind)), zap.Error(err))
			continue
		}
		if !eligible {
			continue
		}

		suppressed, err := s.cfg.Store.HasRecentOutreach(ctx, persona.ID, human.ID, kind, s.cfg.Cooldown, s.cfg.CooldownGlobal)
		if err != nil {
			log.Warn("cooldown lookup failed", zap.String("trigger", string(kind)), zap.Error(err))
			continue
		}
		if suppressed {
			metrics.OutreachTotal.WithLabelValues(string(kind), "cooldown").Inc()
			continue
		}

		if s.reach(ctx, persona, human, kind, hint) {
			return
		}
	}
}

// reach originates one message for the candidate. Generation failures are
// always a skip here; unsolicited fallback spam is worse than silence.
func (s *Scheduler) reach(ctx context.Context, persona model.Persona, human model.Participant, kind model.TriggerKind, hint string) bool {
	log := s.cfg.Log.WithPair(persona.ID, human.ID)

	select {
	case s.cfg.Semaphore <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	metrics.GenerationsInFlight.Inc()
	defer func() {
		metrics.GenerationsInFlight.Dec()
		<-s.cfg.Semaphore
	}()

	history, err := s.cfg.Builder.Build(ctx, persona.ID, human.ID)
	if err != nil {
		log.Warn("context build failed", zap.Error(err))
		metrics.OutreachTotal.WithLabelValues(string(kind), "failed").Inc()
		return false
	}

	var content string
	err = s.cfg.Policy.Do(ctx, func(ctx context.Context) error {
		var genErr error
		content, genErr = s.cfg.Generator.Generate(ctx, &persona, history, hint)
		return genErr
	})
	if err != nil {
		log.Warn("outreach generation failed", zap.String("trigger", string(kind)), zap.Error(err))
		metrics.OutreachTotal.WithLabelValues(string(kind), "failed").Inc()
		return false
	}

	msg, err := s.cfg.Outbound.InsertOutbound(ctx, persona.ID, human.ID, content)
	if err != nil {
		log.Error("failed to persist outreach message", zap.Error(err))
		metrics.OutreachTotal.WithLabelValues(string(kind), "failed").Inc()
		return false
	}

	if err := s.cfg.Store.AppendOutreach(ctx, &model.OutreachEntry{
		PersonaID: persona.ID,
		HumanID:   human.ID,
		MessageID: msg.ID,
		Trigger:   kind,
	}); err != nil {
		// The message is already sent; log and move on rather than
		// double-sending on a retried append.
		log.Error("failed to append outreach log entry", zap.Error(err))
	}

	metrics.OutreachTotal.WithLabelValues(string(kind), "sent").Inc()
	log.Info("outreach message sent",
		zap.String("trigger", string(kind)),
		zap.String("message_id", msg.ID),
	)
	return true
}
