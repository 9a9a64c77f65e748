package scheduler

import (
	"context"
	"time"

	"github.com/snapconnect/persona-engine/internal/model"
)

// ActivitySource reports the most recent message between a pair.
type ActivitySource interface {
	LastActivityBetween(ctx context.Context, a, b string) (time.Time, error)
}

// Trigger is a named condition that makes a (persona, human) pair
// eligible for outreach, with a prompt hint for the generator.
type Trigger interface {
	Kind() model.TriggerKind
	Eligible(ctx context.Context, persona model.Persona, human model.Participant) (eligible bool, hint string, err error)
}

// InactivityTrigger re-engages a conversation that has gone quiet for
// longer than the configured window.
type InactivityTrigger struct {
	Source ActivitySource
	Window time.Duration
	now    func() time.Time
}

// NewInactivityTrigger creates the trigger with the given quiet window.
func NewInactivityTrigger(source ActivitySource, window time.Duration) *InactivityTrigger {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &InactivityTrigger{Source: source, Window: window, now: time.Now}
}

func (t *InactivityTrigger) Kind() model.TriggerKind { return model.TriggerInactivity }

func (t *InactivityTrigger) Eligible(ctx context.Context, persona model.Persona, human model.Participant) (bool, string, error) {
	last, err := t.Source.LastActivityBetween(ctx, persona.ID, human.ID)
	if err != nil {
		return false, "", err
	}
	// A pair with no history belongs to the check-in trigger.
	if last.IsZero() {
		return false, "", nil
	}
	if t.now().Sub(last) < t.Window {
		return false, "", nil
	}
	hint := "The conversation has gone quiet for a while. Reach out with a short, friendly message that picks things back up naturally."
	return true, hint, nil
}

// CheckInTrigger makes first contact with a human the persona has never
// talked to.
type CheckInTrigger struct {
	Source ActivitySource
}

// NewCheckInTrigger creates the first-contact trigger.
func NewCheckInTrigger(source ActivitySource) *CheckInTrigger {
	return &CheckInTrigger{Source: source}
}

func (t *CheckInTrigger) Kind() model.TriggerKind { return model.TriggerCheckIn }

func (t *CheckInTrigger) Eligible(ctx context.Context, persona model.Persona, human model.Participant) (bool, string, error) {
	last, err := t.Source.LastActivityBetween(ctx, persona.ID, human.ID)
	if err != nil {
		return false, "", err
	}
	if !last.IsZero() {
		return false, "", nil
	}
	hint := "You have never talked to this person before. Introduce yourself in one or two casual sentences and ask a light opening question."
	return true, hint, nil
}
