/*
Package types defines the shared data model of the Maestro coordination core.

All cross-subsystem entities live here: component descriptors and the
Component contract, typed state snapshots and diffs, health records, pipeline
definitions, run results, problem tickets, and the sentinel error taxonomy.
Subsystem packages depend on types; types depends on nothing but the standard
library.

# Entities

Descriptor:
  - Identity and declared capabilities of a registered component
  - Owned by pkg/registry (single writer); all reads are clones

StateSnapshot / StateDiff:
  - Immutable observations of component state and their classified
    divergence from expectation
  - Values use the typed Value container with a fixed per-component key
    vocabulary instead of free-form maps

HealthRecord:
  - Rolling execution outcome bookkeeping per component
  - Owned by pkg/health; read by the scheduler for eligibility

PipelineSpec / RunResult:
  - Declarative pipeline definitions and the structural per-stage outcome
    of each run

Ticket:
  - An escalated problem handed to the external reasoning service
  - Terminal once resolved or failed

# Error Taxonomy

Registry misuse (ErrDuplicateComponent, ErrUnknownComponent) surfaces
immediately at the call site. Execution errors (ErrCircuitOpen,
ErrStageTimeout, ErrStageFailed) are absorbed into health bookkeeping and
reported structurally in RunResult. ErrBrokerOverloaded is a back-pressure
signal. ErrExternalService is retried internally by the broker. Match with
errors.Is; no error is ever silently dropped.
*/
package types
