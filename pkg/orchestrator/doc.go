/*
Package orchestrator wires the coordination core together and owns its
lifecycle.

Construction is explicit dependency injection: New builds the event
router, registry, health monitor, diff engine, shared worker pool,
scheduler, and, when a reasoning service is provided, the problem-solving
broker. Nothing is global; external layers talk to the Orchestrator
handle or subscribe to the event stream.

# Event Loop

A single periodic audit timer drives both the health sweep and the
throttled diff sweep, so there is one heartbeat for the whole core
instead of per-component timers. Failed health checks trigger a warm
restart attempt; isolation itself is enforced at the breaker and needs no
orchestrator action.

# Hot Reload

The YAML configuration file is watched through fsnotify (on the parent
directory, since editors and config mounts replace files). A change is
debounced, reparsed, and validated as a whole; only a valid document is
swapped into the scheduler, monitor, diff engine, and broker. A bad
document leaves the running configuration untouched.

# Shutdown

Stop tears down outside-in: triggers stop first so nothing new is
scheduled, the broker finishes in-flight tickets, the worker pool drains,
and the router and audit archive close last so late events are still
delivered and archived.
*/
package orchestrator
