package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/snapconnect/persona-engine/internal/model"
	"github.com/snapconnect/persona-engine/pkg/logger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, logger.NewNop())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()

	coach := &model.Persona{
		ID:          "persona-coach",
		Username:    "coach_alex",
		DisplayName: "Coach Alex",
		Archetype:   model.ArchetypeCoach,
		Traits:      map[string]model.TraitValue{"tone": "enthusiastic"},
	}
	if err := s.SavePersona(ctx, coach); err != nil {
		t.Fatalf("SavePersona() failed: %v", err)
	}

	for _, h := range []model.Participant{
		{ID: "user-dana", Username: "dana", DisplayName: "Dana"},
		{ID: "user-sam", Username: "sam", DisplayName: "Sam"},
	} {
		h := h
		if err := s.SaveHuman(ctx, &h); err != nil {
			t.Fatalf("SaveHuman() failed: %v", err)
		}
	}

	return s
}

func TestInsertMessage_Basic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	msg, err := s.InsertMessage(ctx, model.Draft{
		SenderID:   "user-dana",
		ReceiverID: "persona-coach",
		Content:    "Hi",
	})
	if err != nil {
		t.Fatalf("InsertMessage() failed: %v", err)
	}

	if msg.ID == "" {
		t.Error("message id not assigned")
	}
	if msg.SentAt.IsZero() {
		t.Error("sent_at not assigned")
	}
	if msg.Kind != model.KindText {
		t.Errorf("kind = %q, want %q", msg.Kind, model.KindText)
	}

	stored, err := s.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage() failed: %v", err)
	}
	if stored.Content != "Hi" {
		t.Errorf("content = %q, want %q", stored.Content, "Hi")
	}
	if stored.ExpiresAt != nil {
		t.Error("fresh message must not carry expires_at")
	}
}

func TestInsertMessage_Validation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		draft model.Draft
	}{
		{"self send", model.Draft{SenderID: "user-dana", ReceiverID: "user-dana", Content: "hi"}},
		{"missing receiver", model.Draft{SenderID: "user-dana", ReceiverID: "ghost", Content: "hi"}},
		{"empty sender", model.Draft{ReceiverID: "persona-coach", Content: "hi"}},
		{"synthetic non-persona sender", model.Draft{SenderID: "user-sam", ReceiverID: "user-dana", Content: "hi", IsSyntheticSender: true}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.InsertMessage(ctx, tc.draft)
			var verr *model.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestInsertMessage_NotifiesOnce(t *testing.T) {
	s := openTestStore(t)
	notifier := &captureNotifier{}
	s.SetNotifier(notifier)

	_, err := s.InsertMessage(context.Background(), model.Draft{
		SenderID:   "user-dana",
		ReceiverID: "persona-coach",
		Content:    "Hi",
	})
	if err != nil {
		t.Fatalf("InsertMessage() failed: %v", err)
	}

	if got := notifier.count(); got != 1 {
		t.Errorf("notifier called %d times, want 1", got)
	}
}

func TestMarkViewed_HumanSenderGetsExactExpiry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	frozen := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return frozen }

	msg, err := s.InsertMessage(ctx, model.Draft{
		SenderID:   "user-dana",
		ReceiverID: "persona-coach",
		Content:    "Hi",
	})
	if err != nil {
		t.Fatalf("InsertMessage() failed: %v", err)
	}

	const expiry = 10 * time.Second
	if err := s.MarkViewed(ctx, msg.ID, "persona-coach", expiry); err != nil {
		t.Fatalf("MarkViewed() failed: %v", err)
	}

	stored, err := s.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage() failed: %v", err)
	}
	if !stored.Viewed {
		t.Fatal("viewed = false, want true")
	}
	if stored.ViewedAt == nil || !stored.ViewedAt.Equal(frozen) {
		t.Errorf("viewed_at = %v, want %v", stored.ViewedAt, frozen)
	}
	want := frozen.Add(expiry)
	if stored.ExpiresAt == nil || !stored.ExpiresAt.Equal(want) {
		t.Errorf("expires_at = %v, want %v", stored.ExpiresAt, want)
	}
}

func TestMarkViewed_SyntheticSenderNeverExpires(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	msg, err := s.InsertMessage(ctx, model.Draft{
		SenderID:          "persona-coach",
		ReceiverID:        "user-dana",
		Content:           "Hey Dana!",
		IsSyntheticSender: true,
	})
	if err != nil {
		t.Fatalf("InsertMessage() failed: %v", err)
	}

	if err := s.MarkViewed(ctx, msg.ID, "user-dana", 10*time.Second); err != nil {
		t.Fatalf("MarkViewed() failed: %v", err)
	}

	stored, err := s.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage() failed: %v", err)
	}
	if !stored.Viewed {
		t.Error("viewed = false, want true")
	}
	if stored.ExpiresAt != nil {
		t.Errorf("expires_at = %v, want nil for synthetic sender", stored.ExpiresAt)
	}
}

func TestMarkViewed_AuthorizationAndIdempotence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	msg, err := s.InsertMessage(ctx, model.Draft{
		SenderID:   "user-dana",
		ReceiverID: "persona-coach",
		Content:    "Hi",
	})
	if err != nil {
		t.Fatalf("InsertMessage() failed: %v", err)
	}

	err = s.MarkViewed(ctx, msg.ID, "user-sam", 10*time.Second)
	var aerr *model.AuthorizationError
	if !errors.As(err, &aerr) {
		t.Fatalf("err = %v, want AuthorizationError", err)
	}

	stored, err := s.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage() failed: %v", err)
	}
	if stored.Viewed || stored.ViewedAt != nil || stored.ExpiresAt != nil {
		t.Error("rejected MarkViewed must not mutate any field")
	}

	if err := s.MarkViewed(ctx, msg.ID, "persona-coach", 10*time.Second); err != nil {
		t.Fatalf("MarkViewed() failed: %v", err)
	}
	first, _ := s.GetMessage(ctx, msg.ID)

	if err := s.MarkViewed(ctx, msg.ID, "persona-coach", 10*time.Second); err != nil {
		t.Fatalf("second MarkViewed() failed: %v", err)
	}
	second, _ := s.GetMessage(ctx, msg.ID)

	if !first.ViewedAt.Equal(*second.ViewedAt) || !first.ExpiresAt.Equal(*second.ExpiresAt) {
		t.Error("second MarkViewed must not change viewed_at or expires_at")
	}
}

func TestFetchConversation_LimitAndExpiry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	clock := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	// Three human messages and one synthetic reply, spaced a second apart.
	var human []*model.Message
	for i := 0; i < 3; i++ {
		msg, err := s.InsertMessage(ctx, model.Draft{
			SenderID:   "user-dana",
			ReceiverID: "persona-coach",
			Content:    "msg",
		})
		if err != nil {
			t.Fatalf("InsertMessage() failed: %v", err)
		}
		human = append(human, msg)
		clock = clock.Add(time.Second)
	}
	synthetic, err := s.InsertMessage(ctx, model.Draft{
		SenderID:          "persona-coach",
		ReceiverID:        "user-dana",
		Content:           "reply",
		IsSyntheticSender: true,
	})
	if err != nil {
		t.Fatalf("InsertMessage() failed: %v", err)
	}

	msgs, err := s.FetchConversation(ctx, "persona-coach", "user-dana", 2)
	if err != nil {
		t.Fatalf("FetchConversation() failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (limit)", len(msgs))
	}
	if msgs[0].ID != synthetic.ID {
		t.Errorf("newest-first order broken: first = %s, want %s", msgs[0].ID, synthetic.ID)
	}

	// Expire the oldest human message, view the synthetic one, then jump
	// past every expiry.
	if err := s.MarkViewed(ctx, human[0].ID, "persona-coach", 10*time.Second); err != nil {
		t.Fatalf("MarkViewed() failed: %v", err)
	}
	if err := s.MarkViewed(ctx, synthetic.ID, "user-dana", 10*time.Second); err != nil {
		t.Fatalf("MarkViewed() failed: %v", err)
	}
	clock = clock.Add(time.Hour)

	msgs, err = s.FetchConversation(ctx, "user-dana", "persona-coach", 10)
	if err != nil {
		t.Fatalf("FetchConversation() failed: %v", err)
	}
	for _, m := range msgs {
		if m.ID == human[0].ID {
			t.Error("expired human message leaked into conversation")
		}
	}
	found := false
	for _, m := range msgs {
		if m.ID == synthetic.ID {
			found = true
		}
	}
	if !found {
		t.Error("synthetic message must always be included regardless of age")
	}
}

func TestPurgeExpired_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	clock := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	msg, err := s.InsertMessage(ctx, model.Draft{
		SenderID:   "user-dana",
		ReceiverID: "persona-coach",
		Content:    "Hi",
	})
	if err != nil {
		t.Fatalf("InsertMessage() failed: %v", err)
	}
	reply, err := s.InsertMessage(ctx, model.Draft{
		SenderID:          "persona-coach",
		ReceiverID:        "user-dana",
		Content:           "Hey!",
		IsSyntheticSender: true,
	})
	if err != nil {
		t.Fatalf("InsertMessage() failed: %v", err)
	}

	if err := s.MarkViewed(ctx, msg.ID, "persona-coach", 10*time.Second); err != nil {
		t.Fatalf("MarkViewed() failed: %v", err)
	}
	clock = clock.Add(time.Minute)

	n, err := s.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("first purge deleted %d rows, want 1", n)
	}

	n, err = s.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("second PurgeExpired() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("second purge deleted %d rows, want 0", n)
	}

	if _, err := s.GetMessage(ctx, reply.ID); err != nil {
		t.Errorf("synthetic reply must survive the purge: %v", err)
	}
}

func TestSetExpiry_RefusesSyntheticRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	msg, err := s.InsertMessage(ctx, model.Draft{
		SenderID:          "persona-coach",
		ReceiverID:        "user-dana",
		Content:           "Hey!",
		IsSyntheticSender: true,
	})
	if err != nil {
		t.Fatalf("InsertMessage() failed: %v", err)
	}

	if err := s.SetExpiry(ctx, msg.ID, time.Now().Add(time.Minute)); err == nil {
		t.Fatal("SetExpiry accepted a synthetic-sender row")
	}
	stored, _ := s.GetMessage(ctx, msg.ID)
	if stored.ExpiresAt != nil {
		t.Error("synthetic row gained an expires_at")
	}
}

type captureNotifier struct {
	mu sync.Mutex
	n  int
}

func (c *captureNotifier) MessageCreated(ctx context.Context, msg *model.Message) error {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return nil
}

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
