/*
Package events provides the typed publish/subscribe bus all Maestro
subsystems communicate through.

No subsystem calls another subsystem's logic directly: registration, health
transitions, state diffs, pipeline outcomes, and problem escalations all flow
as events over the Router. Every topic belongs to a closed set of constants
and every event carries a discriminated payload (one typed pointer plus an
auxiliary string-field map), keeping the contract type-safe.

# Architecture

	┌─────────────────────── EVENT ROUTER ───────────────────────┐
	│                                                             │
	│  Publisher ──► match(pattern, topic) per subscription       │
	│                     │                                       │
	│                     ▼ non-blocking send                     │
	│  Subscriber channel (buffered, drop on full)                │
	│                     │                                       │
	│                     ▼ dedicated drain goroutine             │
	│  Handler (panic-isolated, order-preserving)                 │
	└─────────────────────────────────────────────────────────────┘

# Delivery Guarantees

  - Publish is non-blocking from the caller's perspective
  - Events from a single publisher arrive at each subscriber in publish
    order (one drain goroutine per subscription)
  - Delivery order across different subscribers for one publish is
    unspecified
  - No persistence or replay: a subscriber registered after publication
    never sees the past event
  - A full subscriber buffer drops the event for that subscriber only,
    counted in maestro_events_dropped_total

# Panic Isolation

A handler that panics must not prevent delivery to other subscribers and
must not propagate to the publisher. The router recovers the panic, counts
it, and republishes it as a router.error event carrying the failed topic and
event id. A panic while handling router.error itself is only counted, never
republished, so a broken error subscriber cannot loop the router.

# Patterns

Subscribe accepts an exact topic ("component.isolated"), a single-level
prefix wildcard ("component.*"), or the match-all pattern ("*").

# Usage

	router := events.NewRouter()
	defer router.Close()

	sub := router.Subscribe("pipeline.*", func(e events.Event) {
		fmt.Println(e.Topic, e.Run.Status)
	})
	defer sub.Cancel()

	router.Publish(events.Event{
		Topic:  events.TopicPipelineCompleted,
		Source: "pipeline-diagnostics",
		Run:    &result,
	})
*/
package events
