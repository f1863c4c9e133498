/*
Package metrics exposes Prometheus collectors for the Maestro core.

All collectors are package-level and registered in init, matching the rest of
the codebase's "import and increment" usage. The Handler function returns the
promhttp handler for cmd/maestro to mount.

# Collector Groups

Router:
  - maestro_events_published_total / maestro_events_dropped_total by topic
  - maestro_router_handler_panics_total

Health:
  - maestro_breaker_state (0 closed, 1 half-open, 2 open) per component
  - maestro_executions_rejected_total per component
  - maestro_component_health_state per component and state

Diff engine:
  - maestro_diff_checks_total vs maestro_diff_throttled_total (cache hits)
  - maestro_diffs_total by severity

Scheduler:
  - maestro_pipeline_runs_total by pipeline and terminal status
  - maestro_triggers_coalesced_total per pipeline
  - maestro_stage_duration_seconds and maestro_stage_outcomes_total

Broker:
  - maestro_tickets_total by terminal status
  - maestro_ticket_queue_depth
  - maestro_reasoning_request_duration_seconds

Failures that the core swallows for continuation purposes always increment one
of these counters or publish an event, so nothing is silently dropped.
*/
package metrics
