package registry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/maestro-sys/maestro/pkg/events"
	"github.com/maestro-sys/maestro/pkg/log"
	"github.com/maestro-sys/maestro/pkg/metrics"
	"github.com/maestro-sys/maestro/pkg/types"
)

type entry struct {
	component  types.Component
	descriptor types.Descriptor
}

// Registry holds the set of known components, their declared capabilities,
// and current lifecycle state. It is the single writer of descriptors; every
// read returns a point-in-time copy so callers can never mutate registry
// state directly. All mutations publish events on the router so the health
// monitor and scheduler never poll synchronously.
type Registry struct {
	logger zerolog.Logger
	router *events.Router

	mu           sync.RWMutex
	entries      map[string]*entry
	capabilities map[string]map[string]struct{}
}

// New creates an empty registry publishing on the given router
func New(router *events.Router) *Registry {
	return &Registry{
		logger:       log.WithSubsystem("registry"),
		router:       router,
		entries:      make(map[string]*entry),
		capabilities: make(map[string]map[string]struct{}),
	}
}

// Register adds a component. Fails with ErrDuplicateComponent if the id is
// already registered.
func (r *Registry) Register(c types.Component) error {
	id := c.ID()

	r.mu.Lock()
	if _, exists := r.entries[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrDuplicateComponent, id)
	}

	now := time.Now()
	caps := append([]string(nil), c.Capabilities()...)
	r.entries[id] = &entry{
		component: c,
		descriptor: types.Descriptor{
			ID:            id,
			Name:          c.Name(),
			Capabilities:  caps,
			Lifecycle:     types.LifecycleRegistered,
			RegisteredAt:  now,
			LastHeartbeat: now,
		},
	}
	for _, cap := range caps {
		if r.capabilities[cap] == nil {
			r.capabilities[cap] = make(map[string]struct{})
		}
		r.capabilities[cap][id] = struct{}{}
	}
	count := len(r.entries)
	r.mu.Unlock()

	metrics.ComponentsRegistered.Set(float64(count))
	r.logger.Info().
		Str("component_id", id).
		Str("name", c.Name()).
		Int("capabilities", len(caps)).
		Msg("component registered")

	r.router.Publish(events.Event{
		Topic:  events.TopicComponentRegistered,
		Source: id,
		Fields: map[string]string{
			"name":         c.Name(),
			"capabilities": strings.Join(caps, ","),
		},
	})
	return nil
}

// Deregister removes a component. Fails with ErrUnknownComponent if absent.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	e, exists := r.entries[id]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrUnknownComponent, id)
	}
	delete(r.entries, id)
	for _, cap := range e.descriptor.Capabilities {
		delete(r.capabilities[cap], id)
		if len(r.capabilities[cap]) == 0 {
			delete(r.capabilities, cap)
		}
	}
	count := len(r.entries)
	r.mu.Unlock()

	metrics.ComponentsRegistered.Set(float64(count))
	r.logger.Info().Str("component_id", id).Msg("component deregistered")

	r.router.Publish(events.Event{
		Topic:  events.TopicComponentLifecycle,
		Source: id,
		Fields: map[string]string{"lifecycle": string(types.LifecycleUnregistered)},
	})
	return nil
}

// Heartbeat updates the component's last-seen time. Idempotent.
func (r *Registry) Heartbeat(id string) error {
	r.mu.Lock()
	e, exists := r.entries[id]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrUnknownComponent, id)
	}
	e.descriptor.LastHeartbeat = time.Now()
	r.mu.Unlock()

	r.router.Publish(events.Event{
		Topic:  events.TopicComponentHeartbeat,
		Source: id,
	})
	return nil
}

// SetLifecycle transitions a component's lifecycle state and publishes the
// change. No-op if the state is unchanged.
func (r *Registry) SetLifecycle(id string, state types.Lifecycle) error {
	r.mu.Lock()
	e, exists := r.entries[id]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrUnknownComponent, id)
	}
	if e.descriptor.Lifecycle == state {
		r.mu.Unlock()
		return nil
	}
	e.descriptor.Lifecycle = state
	r.mu.Unlock()

	r.logger.Debug().
		Str("component_id", id).
		Str("lifecycle", string(state)).
		Msg("lifecycle changed")

	r.router.Publish(events.Event{
		Topic:  events.TopicComponentLifecycle,
		Source: id,
		Fields: map[string]string{"lifecycle": string(state)},
	})
	return nil
}

// Get returns a copy of the component's descriptor
func (r *Registry) Get(id string) (types.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, exists := r.entries[id]
	if !exists {
		return types.Descriptor{}, fmt.Errorf("%w: %s", types.ErrUnknownComponent, id)
	}
	return *e.descriptor.Clone(), nil
}

// Component returns the registered implementation for execution
func (r *Registry) Component(id string) (types.Component, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, exists := r.entries[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownComponent, id)
	}
	return e.component, nil
}

// List returns point-in-time descriptor copies, optionally filtered to
// components declaring the given capability.
func (r *Registry) List(capabilityFilter ...string) []types.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids map[string]struct{}
	if len(capabilityFilter) > 0 && capabilityFilter[0] != "" {
		ids = r.capabilities[capabilityFilter[0]]
		if ids == nil {
			return nil
		}
	}

	out := make([]types.Descriptor, 0, len(r.entries))
	for id, e := range r.entries {
		if ids != nil {
			if _, ok := ids[id]; !ok {
				continue
			}
		}
		out = append(out, *e.descriptor.Clone())
	}
	return out
}

// ComponentsByCapability returns the ids of components declaring the tag
func (r *Registry) ComponentsByCapability(tag string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.capabilities[tag]))
	for id := range r.capabilities[tag] {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of registered components
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
