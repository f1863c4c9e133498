/*
Package diff detects drift between a component's expected state and its
observed snapshots.

The engine holds, per component, the latest observed StateSnapshot and an
expected-state descriptor (from configuration or a prior good snapshot).
Check compares the two and classifies divergence; the comparison is the
original's key-walk: every expected key is checked against the observed
snapshot, missing keys and value mismatches become mismatch entries, and
observed keys absent from expectation are flagged as unexpected.

# Severity Classification

  - CRITICAL: any diverged key is tagged critical in configuration
  - WARNING: any diverged key that is neither critical nor ignorable
  - INFO: only ignorable/volatile keys diverged (archived, never published)
  - fully equivalent snapshots produce no diff and no event at all

# Throttling

Checks for the same component inside the throttle interval (default 5s)
return the previously computed diff without recomputation, bounding cost
under bursty triggers. Comparisons counts actual computations so throttle
behavior is verifiable; cache hits increment maestro_diff_throttled_total.

# Escalation Path

A CRITICAL diff first spends the local remedy budget: warm restarts through
the health monitor, counted inside a rolling window. Once the budget is
exhausted the engine creates a problem ticket and hands it to the Escalator
(the problem-solving broker). Non-INFO diffs always publish state.diff
regardless of the remedy outcome.

Archived diffs are retrievable with Recent for external audit consumers;
they are delivered to subscribers exactly once via the router and never
re-delivered.
*/
package diff
