/*
Package broker hands escalated problem tickets to the external reasoning
service and reports the outcome back onto the event stream.

Escalation is the last step of the remedy ladder: the health monitor and
diff engine spend warm restarts first, and only unresolved problems reach
the broker as tickets.

# Back-Pressure

At most Concurrency reasoning requests run at once; further accepted
tickets wait. Once pending tickets reach QueueDepth, Submit fails fast
with ErrBrokerOverloaded so callers degrade locally instead of queueing
unboundedly. A per-component cooldown window deduplicates escalation
storms: the same component is escalated at most once per window, repeats
are dropped.

# Resolution

Each ticket is retried against the service up to MaxAttempts times with
exponential backoff behind a shared rate limiter. Empty or malformed
responses count as retryable failures. Success publishes
problem.resolved with the proposed remedy; an exhausted budget publishes
problem.unresolved. Tickets stay queryable in memory for external
persistence layers; the broker itself persists nothing.
*/
package broker
