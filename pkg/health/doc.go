/*
Package health tracks component health and isolates failing components with
per-component circuit breakers.

The Monitor owns all breaker state; the scheduler only asks Allow before an
invocation and reports the outcome back with RecordSuccess or RecordFailure.
No other subsystem mutates health data, eliminating cross-subsystem locks.

# Circuit Breaker State Machine

Three states per component, created lazily on first execution:

	CLOSED ──(threshold consecutive failures)──► OPEN
	  ▲                                            │
	  │ trial success                              │ cooldown elapsed
	  │                                            ▼
	  └──────────────────────────────────── HALF_OPEN
	                 trial failure: back to OPEN, cooldown doubled
	                 (bounded by MaxCooldown)

CLOSED allows executions; each failure increments a counter, any success
resets it, and reaching the threshold (default 5) opens the breaker with a
cooldown deadline (default 60s). OPEN rejects executions immediately with
ErrCircuitOpen; no component code runs. HALF_OPEN admits exactly one trial
execution regardless of how many callers race: success closes the breaker
and resets the cooldown, failure reopens it with a doubled cooldown, and a
trial discarded without an outcome (a cancelled run) releases the slot to
the next caller.

# Coarse Health Derivation

Sweep, driven by the orchestrator's single audit timer, classifies every
registered component:

  - OPEN breaker ⇒ ISOLATED
  - silent for longer than the heartbeat window (default 30s) ⇒ DEGRADED,
    and a health.check.failed event is published
  - otherwise HEALTHY

Transitions publish component.isolated, component.degraded, and
component.recovered. Opening a breaker publishes the isolation immediately
(not at the next sweep) so the scheduler pulls the component out of pending
pipeline runs right away.

# Warm Restarts

WarmRestart is the bookkeeping side of the local remedy path: it resets the
breaker and failure streak, counts the restart, and moves the component back
to the registered lifecycle state. RestartsWithin exposes the rolling-window
restart count the diff engine consults before escalating a ticket.

# Configuration

Breaker thresholds and cooldowns are centrally configured with per-component
overrides (WithDefaults, WithOverride, SetOverrides on reload) rather than
hardcoded at call sites.
*/
package health
