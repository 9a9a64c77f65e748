// Package conversation builds the bounded, request-scoped context handed
// to the response generator.
package conversation

import (
	"context"

	"github.com/snapconnect/persona-engine/internal/model"
)

// Fetcher is the slice of the store adapter the builder needs.
type Fetcher interface {
	FetchConversation(ctx context.Context, a, b string, limit int) ([]model.Message, error)
}

// Context is the ephemeral history between exactly two participants,
// oldest-first, rebuilt on every generation request.
type Context []model.Message

// Builder assembles conversation contexts with a fixed window size.
type Builder struct {
	fetcher Fetcher
	window  int
}

// DefaultWindow is the context size used when none is configured.
const DefaultWindow = 10

// NewBuilder creates a builder. A non-positive window falls back to
// DefaultWindow.
func NewBuilder(fetcher Fetcher, window int) *Builder {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Builder{fetcher: fetcher, window: window}
}

// Build fetches the newest messages between the pair and reverses them to
// chronological order, the required input order for coherent generation.
// Zero history yields an empty context, not an error.
func (b *Builder) Build(ctx context.Context, a, bID string) (Context, error) {
	msgs, err := b.fetcher.FetchConversation(ctx, a, bID, b.window)
	if err != nil {
		return nil, err
	}

	// Adapter returns newest-first; flip in place.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return Context(msgs), nil
}
