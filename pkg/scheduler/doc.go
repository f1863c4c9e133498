/*
Package scheduler executes declarative pipelines over registered
components.

A pipeline names an ordered set of stages, each bound to a component id
and marked critical or not, and runs them sequentially or in parallel.
Triggers bind pipelines to event topics or periodic intervals; manual
runs go through Run directly.

# Execution Model

Sequential pipelines thread each stage's output payload into the next
stage's input. Before every stage the component's circuit breaker is
consulted: an open breaker fails the run when the stage is critical and
skips the stage otherwise.

Parallel pipelines dispatch all eligible stages onto the shared worker
pool and merge their outputs. A critical failure marks the run FAILED but
siblings run to completion; their results are then discarded.

# Coalescing

At most one run per pipeline is in flight. A trigger firing while its
pipeline is busy is dropped and counted, never queued, so a slow pipeline
cannot build a backlog of stale runs.

# Failure Accounting

Every stage outcome feeds the health monitor: successes and failures move
the component's breaker, and timeouts count as failures with the result
discarded. Components that fail consecutive stages past the configured
budget are escalated to the problem-solving broker as a ticket. Stage
failure never crosses the pipeline boundary as an error; it is reported
structurally in the RunResult.

# Cancellation

Cancel is cooperative: the run context is cancelled, no new stages are
dispatched, and results of in-flight stages are discarded. The run
terminates as CANCELLED unless a critical failure already marked it
FAILED.
*/
package scheduler
