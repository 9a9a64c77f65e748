package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/snapconnect/persona-engine/internal/conversation"
	"github.com/snapconnect/persona-engine/internal/model"
	"github.com/snapconnect/persona-engine/internal/retry"
	"github.com/snapconnect/persona-engine/pkg/logger"
)

type fakeStore struct {
	mu       sync.Mutex
	humans   []model.Participant
	last     map[string]time.Time
	recent   map[string]bool
	appended []*model.OutreachEntry
}

func newFakeStore(humans ...model.Participant) *fakeStore {
	return &fakeStore{
		humans: humans,
		last:   map[string]time.Time{},
		recent: map[string]bool{},
	}
}

func (f *fakeStore) LastActivityBetween(ctx context.Context, a, b string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last[a+"|"+b], nil
}

func (f *fakeStore) ListHumans(ctx context.Context) ([]model.Participant, error) {
	return f.humans, nil
}

func (f *fakeStore) HasRecentOutreach(ctx context.Context, personaID, humanID string, kind model.TriggerKind, window time.Duration, global bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if global {
		return f.recent[personaID+"|"+humanID], nil
	}
	return f.recent[personaID+"|"+humanID+"|"+string(kind)], nil
}

func (f *fakeStore) AppendOutreach(ctx context.Context, entry *model.OutreachEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, entry)
	return nil
}

type fakeRegistry struct {
	personas []model.Persona
}

func (r *fakeRegistry) ListAvailable(ctx context.Context) ([]model.Persona, error) {
	return r.personas, nil
}

type fakeGenerator struct {
	mu    sync.Mutex
	reply string
	err   error
	hints []string
}

func (g *fakeGenerator) Generate(ctx context.Context, persona *model.Persona, history conversation.Context, hint string) (string, error) {
	g.mu.Lock()
	g.hints = append(g.hints, hint)
	g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

type fakeOutbound struct {
	mu      sync.Mutex
	inserts []string // receiver ids
	failFor map[string]bool
}

func (o *fakeOutbound) InsertOutbound(ctx context.Context, personaID, receiverID, content string) (*model.Message, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failFor[receiverID] {
		return nil, &model.StorageUnavailable{Op: "insert message", Err: errors.New("db gone")}
	}
	o.inserts = append(o.inserts, receiverID)
	return &model.Message{ID: "out-" + receiverID, SenderID: personaID, ReceiverID: receiverID, IsSyntheticSender: true}, nil
}

type emptyFetcher struct{}

func (emptyFetcher) FetchConversation(ctx context.Context, a, b string, limit int) ([]model.Message, error) {
	return nil, nil
}

func newTestScheduler(store *fakeStore, gen *fakeGenerator, out *fakeOutbound, triggers []Trigger) *Scheduler {
	return New(Config{
		Store: store,
		Registry: &fakeRegistry{personas: []model.Persona{{
			ID: "persona-coach", Username: "coach_alex", Archetype: model.ArchetypeCoach,
			Traits: map[string]model.TraitValue{"tone": "upbeat"},
		}}},
		Builder:   conversation.NewBuilder(emptyFetcher{}, 10),
		Generator: gen,
		Outbound:  out,
		Policy:    retry.Policy{MaxAttempts: 1},
		Triggers:  triggers,
		Semaphore: make(chan struct{}, 2),
		Log:       logger.NewNop(),
	})
}

func TestTick_CheckInSendsAndLogsOutreach(t *testing.T) {
	store := newFakeStore(model.Participant{ID: "user-dana", Username: "dana"})
	gen := &fakeGenerator{reply: "Hey Dana, I'm Alex!"}
	out := &fakeOutbound{}

	s := newTestScheduler(store, gen, out, []Trigger{NewCheckInTrigger(store)})
	s.Tick(context.Background())

	assert.Equal(t, []string{"user-dana"}, out.inserts)
	if assert.Len(t, store.appended, 1) {
		entry := store.appended[0]
		assert.Equal(t, "persona-coach", entry.PersonaID)
		assert.Equal(t, "user-dana", entry.HumanID)
		assert.Equal(t, model.TriggerCheckIn, entry.Trigger)
		assert.Equal(t, "out-user-dana", entry.MessageID)
	}
	// The trigger hint must reach the generator.
	if assert.Len(t, gen.hints, 1) {
		assert.Contains(t, gen.hints[0], "never talked")
	}
}

func TestTick_CooldownSuppresses(t *testing.T) {
	store := newFakeStore(model.Participant{ID: "user-dana", Username: "dana"})
	store.recent["persona-coach|user-dana|checkin"] = true
	gen := &fakeGenerator{reply: "hey"}
	out := &fakeOutbound{}

	s := newTestScheduler(store, gen, out, []Trigger{NewCheckInTrigger(store)})
	s.Tick(context.Background())

	assert.Empty(t, out.inserts)
	assert.Empty(t, store.appended)
	assert.Empty(t, gen.hints)
}

func TestTick_GenerationFailureSendsNothing(t *testing.T) {
	store := newFakeStore(model.Participant{ID: "user-dana", Username: "dana"})
	gen := &fakeGenerator{err: errors.New("backend down")}
	out := &fakeOutbound{}

	s := newTestScheduler(store, gen, out, []Trigger{NewCheckInTrigger(store)})
	s.Tick(context.Background())

	// Unsolicited fallback spam is worse than silence: no insert, no log
	// entry.
	assert.Empty(t, out.inserts)
	assert.Empty(t, store.appended)
}

func TestTick_OneCandidateFailureDoesNotAbortOthers(t *testing.T) {
	store := newFakeStore(
		model.Participant{ID: "user-dana", Username: "dana"},
		model.Participant{ID: "user-sam", Username: "sam"},
	)
	gen := &fakeGenerator{reply: "hey"}
	out := &fakeOutbound{failFor: map[string]bool{"user-dana": true}}

	s := newTestScheduler(store, gen, out, []Trigger{NewCheckInTrigger(store)})
	s.Tick(context.Background())

	assert.Equal(t, []string{"user-sam"}, out.inserts)
	assert.Len(t, store.appended, 1)
}

type alwaysTrigger struct {
	kind model.TriggerKind
}

func (a alwaysTrigger) Kind() model.TriggerKind { return a.kind }

func (a alwaysTrigger) Eligible(ctx context.Context, persona model.Persona, human model.Participant) (bool, string, error) {
	return true, "hint", nil
}

func TestTick_AtMostOneSendPerPairPerTick(t *testing.T) {
	store := newFakeStore(model.Participant{ID: "user-dana", Username: "dana"})
	gen := &fakeGenerator{reply: "hey"}
	out := &fakeOutbound{}

	s := newTestScheduler(store, gen, out, []Trigger{
		alwaysTrigger{kind: model.TriggerCheckIn},
		alwaysTrigger{kind: model.TriggerInactivity},
	})
	s.Tick(context.Background())

	assert.Len(t, out.inserts, 1)
	assert.Len(t, store.appended, 1)
}

type failingTrigger struct{}

func (failingTrigger) Kind() model.TriggerKind { return model.TriggerInactivity }

func (failingTrigger) Eligible(ctx context.Context, persona model.Persona, human model.Participant) (bool, string, error) {
	return false, "", errors.New("activity lookup failed")
}

func TestTick_TriggerErrorFallsThroughToNextTrigger(t *testing.T) {
	store := newFakeStore(model.Participant{ID: "user-dana", Username: "dana"})
	gen := &fakeGenerator{reply: "hey"}
	out := &fakeOutbound{}

	s := newTestScheduler(store, gen, out, []Trigger{
		failingTrigger{},
		NewCheckInTrigger(store),
	})
	s.Tick(context.Background())

	assert.Equal(t, []string{"user-dana"}, out.inserts)
}
