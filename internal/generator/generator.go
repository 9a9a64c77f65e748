// Package generator turns persona traits plus conversation context into
// an in-character reply via the generation backend. It persists nothing;
// persistence is the caller's responsibility.
package generator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/snapconnect/persona-engine/internal/conversation"
	"github.com/snapconnect/persona-engine/internal/llm"
	"github.com/snapconnect/persona-engine/internal/model"
	"github.com/snapconnect/persona-engine/pkg/metrics"
)

var tracer = otel.Tracer("github.com/snapconnect/persona-engine/internal/generator")

// Generator drafts persona replies with a bounded timeout.
type Generator struct {
	client  llm.Client
	model   string
	timeout time.Duration
}

// New creates a generator. An empty model uses the provider default; a
// non-positive timeout defaults to 20s.
func New(client llm.Client, modelName string, timeout time.Duration) *Generator {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Generator{client: client, model: modelName, timeout: timeout}
}

// Generate produces one reply for the persona given the chronological
// history and an optional trigger hint. Failures come back as
// *model.GenerationError with the retryable flag set per classification.
func (g *Generator) Generate(ctx context.Context, persona *model.Persona, history conversation.Context, hint string) (string, error) {
	ctx, span := tracer.Start(ctx, "generator.generate", trace.WithAttributes(
		attribute.String("persona.id", persona.ID),
		attribute.String("persona.archetype", string(persona.Archetype)),
		attribute.Int("context.messages", len(history)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := &llm.CompletionRequest{
		Model:       g.model,
		System:      systemPrompt(persona, hint),
		Messages:    chatMessages(persona, history),
		MaxTokens:   512,
		Temperature: 0.8,
	}

	start := time.Now()
	resp, err := g.client.Complete(ctx, req)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		metrics.RecordGeneration(g.client.Name(), "error", elapsed)
		span.RecordError(err)
		return "", &model.GenerationError{Retryable: llm.Retryable(err), Err: err}
	}

	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		metrics.RecordGeneration(g.client.Name(), "empty", elapsed)
		return "", &model.GenerationError{Retryable: true, Err: fmt.Errorf("backend returned empty reply")}
	}

	metrics.RecordGeneration(g.client.Name(), "success", elapsed)
	return reply, nil
}

// Fallback returns the persona-appropriate canned reply used when
// generation is exhausted and the engine is configured to reply anyway.
func (g *Generator) Fallback(persona *model.Persona) string {
	if line, ok := fallbackLines[persona.Archetype]; ok {
		return line
	}
	return "Hey! Sorry, I got distracted for a second — what were you saying?"
}

var fallbackLines = map[model.Archetype]string{
	model.ArchetypeCoach:    "Hey! My brain needed a quick rest day — tell me that again?",
	model.ArchetypeFoodie:   "Sorry, I was elbow-deep in a recipe! What did I miss?",
	model.ArchetypeExplorer: "Lost signal out on the trail for a moment — say that again?",
	model.ArchetypeArtist:   "I zoned out sketching, my bad! What were you saying?",
	model.ArchetypeMentor:   "Apologies, I lost my train of thought. Could you repeat that?",
}

var styleDirectives = map[model.Archetype]string{
	model.ArchetypeCoach:    "Be motivational and encouraging, but never pushy. Celebrate small wins.",
	model.ArchetypeFoodie:   "Be warm and sensory. Get excited about ingredients, flavors, and places to eat.",
	model.ArchetypeExplorer: "Be adventurous and curious. Suggest things to see and do nearby.",
	model.ArchetypeArtist:   "Be imaginative and expressive. Notice beauty in small details.",
	model.ArchetypeMentor:   "Be calm, thoughtful, and specific. Ask one good question at a time.",
}

func systemPrompt(persona *model.Persona, hint string) string {
	var b strings.Builder
	name := persona.DisplayName
	if name == "" {
		name = persona.Username
	}
	fmt.Fprintf(&b, "You are %s, a friend chatting inside the SnapConnect app.\n", name)
	if directive, ok := styleDirectives[persona.Archetype]; ok {
		b.WriteString(directive)
		b.WriteString("\n")
	}

	if len(persona.Traits) > 0 {
		b.WriteString("\nYour personality:\n")
		keys := make([]string, 0, len(persona.Traits))
		for k := range persona.Traits {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %v\n", k, persona.Traits[k])
		}
	}

	b.WriteString("\nKeep replies short and conversational, like a chat message. Never break character or mention being an AI.")

	if hint != "" {
		b.WriteString("\n\n")
		b.WriteString(hint)
	}

	return b.String()
}

// chatMessages serializes the history from the persona's point of view:
// its own messages are assistant turns, everything else is the user.
// Backends require the conversation to open with a user turn, so any
// leading persona messages are folded into context the same way an empty
// history is handled: with a neutral opener.
func chatMessages(persona *model.Persona, history conversation.Context) []llm.ChatMessage {
	msgs := make([]llm.ChatMessage, 0, len(history)+1)
	for _, m := range history {
		role := "user"
		if m.SenderID == persona.ID {
			role = "assistant"
		}
		content := m.Content
		if content == "" && m.Kind == model.KindMedia {
			content = "[sent a snap]"
		}
		msgs = append(msgs, llm.ChatMessage{Role: role, Content: content})
	}

	if len(msgs) == 0 || msgs[0].Role != "user" {
		opener := llm.ChatMessage{Role: "user", Content: "(Start or continue the conversation naturally.)"}
		msgs = append([]llm.ChatMessage{opener}, msgs...)
	}
	return msgs
}
