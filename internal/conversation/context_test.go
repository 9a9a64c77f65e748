package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/snapconnect/persona-engine/internal/model"
)

type fakeFetcher struct {
	msgs  []model.Message
	err   error
	limit int
}

func (f *fakeFetcher) FetchConversation(ctx context.Context, a, b string, limit int) ([]model.Message, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.Message, len(f.msgs))
	copy(out, f.msgs)
	return out, nil
}

func TestBuild_ReversesToChronological(t *testing.T) {
	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	// Newest-first, as the store adapter returns them.
	fetcher := &fakeFetcher{msgs: []model.Message{
		{ID: "m3", SentAt: base.Add(2 * time.Second)},
		{ID: "m2", SentAt: base.Add(time.Second)},
		{ID: "m1", SentAt: base},
	}}

	got, err := NewBuilder(fetcher, 5).Build(context.Background(), "persona-coach", "user-dana")
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}

	want := []string{"m1", "m2", "m3"}
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: id = %s, want %s", i, got[i].ID, id)
		}
	}
	if fetcher.limit != 5 {
		t.Errorf("fetch limit = %d, want 5", fetcher.limit)
	}
}

func TestBuild_EmptyHistoryIsNotAnError(t *testing.T) {
	got, err := NewBuilder(&fakeFetcher{}, 5).Build(context.Background(), "a", "b")
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d messages, want 0", len(got))
	}
}

func TestBuild_DefaultWindow(t *testing.T) {
	fetcher := &fakeFetcher{}
	if _, err := NewBuilder(fetcher, 0).Build(context.Background(), "a", "b"); err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	if fetcher.limit != DefaultWindow {
		t.Errorf("fetch limit = %d, want DefaultWindow (%d)", fetcher.limit, DefaultWindow)
	}
}

func TestBuild_PropagatesFetchError(t *testing.T) {
	wantErr := errors.New("db gone")
	_, err := NewBuilder(&fakeFetcher{err: wantErr}, 5).Build(context.Background(), "a", "b")
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}
