package events

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/maestro-sys/maestro/pkg/log"
	"github.com/maestro-sys/maestro/pkg/metrics"
	"github.com/maestro-sys/maestro/pkg/types"
)

// Topic represents the type of orchestration event
type Topic string

const (
	TopicComponentRegistered Topic = "component.registered"
	TopicComponentLifecycle  Topic = "component.lifecycle"
	TopicComponentHeartbeat  Topic = "component.heartbeat"
	TopicComponentDegraded   Topic = "component.degraded"
	TopicComponentIsolated   Topic = "component.isolated"
	TopicComponentRecovered  Topic = "component.recovered"
	TopicHealthCheckFailed   Topic = "health.check.failed"
	TopicStateDiff           Topic = "state.diff"
	TopicPipelineStarted     Topic = "pipeline.started"
	TopicPipelineCompleted   Topic = "pipeline.completed"
	TopicPipelineFailed      Topic = "pipeline.failed"
	TopicPipelineCancelled   Topic = "pipeline.cancelled"
	TopicProblemSubmitted    Topic = "problem.submitted"
	TopicProblemResolved     Topic = "problem.resolved"
	TopicProblemUnresolved   Topic = "problem.unresolved"
	TopicRouterError         Topic = "router.error"
)

// Event is one orchestration event. The payload is discriminated: exactly
// one of the typed pointers is set for topics that carry structured data,
// and Fields carries auxiliary string context.
type Event struct {
	ID        string
	Topic     Topic
	Source    string
	Timestamp time.Time
	Fields    map[string]string

	Diff   *types.StateDiff
	Ticket *types.Ticket
	Run    *types.RunResult
	Health *types.HealthRecord
}

// Handler processes one delivered event
type Handler func(Event)

// Subscription is a cancellable registration of a handler against a topic
// pattern
type Subscription struct {
	pattern string
	handler Handler
	ch      chan Event
	done    chan struct{}
	once    sync.Once
	router  *Router
}

// Cancel removes the subscription. Events already queued for this
// subscriber are drained and discarded.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.router.remove(s)
		close(s.done)
	})
}

// Router is the typed publish/subscribe bus all subsystems communicate
// through. Publish never blocks the caller; each subscriber drains its own
// buffered channel on a dedicated goroutine, so delivery order from a single
// publisher is preserved per subscriber while a slow subscriber can never
// stall the publisher or its siblings.
type Router struct {
	logger     zerolog.Logger
	mu         sync.RWMutex
	subs       []*Subscription
	bufferSize int
	closed     bool
}

// Option customizes router behavior
type Option func(*Router)

// WithBufferSize overrides the per-subscriber channel buffer (default 64)
func WithBufferSize(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.bufferSize = n
		}
	}
}

// NewRouter creates a new event router
func NewRouter(opts ...Option) *Router {
	r := &Router{
		logger:     log.WithSubsystem("events"),
		bufferSize: 64,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers a handler for every event whose topic matches the
// pattern. Patterns are an exact topic, a "prefix.*" wildcard, or "*" for
// all topics. Subscribers registered after publication never see past
// events.
func (r *Router) Subscribe(pattern string, handler Handler) *Subscription {
	sub := &Subscription{
		pattern: pattern,
		handler: handler,
		ch:      make(chan Event, r.bufferSize),
		done:    make(chan struct{}),
		router:  r,
	}

	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()

	go r.deliver(sub)
	return sub
}

// Publish fans out the event to every matching subscriber. Non-blocking: a
// subscriber whose buffer is full misses the event, which is counted and
// logged rather than stalling the publisher.
func (r *Router) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	metrics.EventsPublishedTotal.WithLabelValues(string(event.Topic)).Inc()

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	for _, sub := range r.subs {
		if !matches(sub.pattern, event.Topic) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			metrics.EventsDroppedTotal.WithLabelValues(string(event.Topic)).Inc()
			r.logger.Warn().
				Str("topic", string(event.Topic)).
				Str("pattern", sub.pattern).
				Msg("subscriber buffer full, event dropped")
		}
	}
}

// Close cancels all subscriptions and rejects further publishes
func (r *Router) Close() {
	r.mu.Lock()
	r.closed = true
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { close(sub.done) })
	}
}

// SubscriberCount returns the number of active subscriptions
func (r *Router) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func (r *Router) deliver(sub *Subscription) {
	for {
		select {
		case <-sub.done:
			return
		case event := <-sub.ch:
			r.invoke(sub, event)
		}
	}
}

// invoke runs the handler with panic isolation. A panicking handler must
// not prevent delivery to other subscribers and is reported as a
// router.error event rather than propagated to the publisher.
func (r *Router) invoke(sub *Subscription, event Event) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.RouterHandlerPanicsTotal.Inc()
			r.logger.Error().
				Str("topic", string(event.Topic)).
				Interface("panic", rec).
				Msg("subscriber handler panicked")

			// A panic while handling router.error is only counted,
			// never republished, so a broken error subscriber cannot
			// loop the router.
			if event.Topic != TopicRouterError {
				r.Publish(Event{
					Topic:  TopicRouterError,
					Source: event.Source,
					Fields: map[string]string{
						"failed_topic": string(event.Topic),
						"failed_event": event.ID,
					},
				})
			}
		}
	}()

	sub.handler(event)
}

func (r *Router) remove(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.subs {
		if s == sub {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return
		}
	}
}

func matches(pattern string, topic Topic) bool {
	if pattern == "*" || pattern == string(topic) {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(string(topic), prefix+".")
	}
	return false
}
