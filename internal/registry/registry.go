// Package registry is the read-only persona catalog. Personas change
// rarely, so the whole set is cached process-wide and invalidated only by
// explicit registry-update events from the external admin process.
package registry

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/snapconnect/persona-engine/internal/events"
	"github.com/snapconnect/persona-engine/internal/model"
	"github.com/snapconnect/persona-engine/pkg/logger"
)

// Source loads persona rows from the underlying store.
type Source interface {
	GetPersona(ctx context.Context, id string) (*model.Persona, error)
	ListPersonas(ctx context.Context) ([]model.Persona, error)
}

// Registry caches the persona catalog.
type Registry struct {
	source Source
	log    *logger.Logger

	mu     sync.RWMutex
	cache  map[string]model.Persona
	loaded bool
}

// New creates a registry over the given source. The cache fills lazily on
// first use.
func New(source Source, log *logger.Logger) *Registry {
	return &Registry{
		source: source,
		log:    log,
		cache:  make(map[string]model.Persona),
	}
}

// Get resolves a persona by id. Human participants and unknown ids both
// yield model.ErrPersonaNotFound; once the cache is warm a miss is
// authoritative until the next invalidation.
func (r *Registry) Get(ctx context.Context, id string) (*model.Persona, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	p, ok := r.cache[id]
	r.mu.RUnlock()

	if !ok {
		return nil, model.ErrPersonaNotFound
	}
	return &p, nil
}

// ListAvailable returns personas eligible for conversation: a username
// and a non-empty trait set.
func (r *Registry) ListAvailable(ctx context.Context) ([]model.Persona, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.Persona
	for _, p := range r.cache {
		if p.Available() {
			out = append(out, p)
		}
	}
	return out, nil
}

// Invalidate drops the cache; the next read reloads from the source.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.loaded = false
	r.cache = make(map[string]model.Persona)
	r.mu.Unlock()
}

// WatchInvalidation subscribes to registry-update events and invalidates
// on each one. Returns the drain function.
func (r *Registry) WatchInvalidation(conn *nats.Conn) (func(), error) {
	sub, err := conn.Subscribe(events.RegistryUpdatedSubject, func(_ *nats.Msg) {
		r.log.Info("persona registry invalidated by admin event")
		r.Invalidate()
	})
	if err != nil {
		return nil, err
	}
	return func() { _ = sub.Drain() }, nil
}

func (r *Registry) ensureLoaded(ctx context.Context) error {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if loaded {
		return nil
	}

	personas, err := r.source.ListPersonas(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return nil
	}
	r.cache = make(map[string]model.Persona, len(personas))
	for _, p := range personas {
		r.cache[p.ID] = p
	}
	r.loaded = true
	r.log.Debug("persona registry loaded", zap.Int("personas", len(personas)))
	return nil
}
