/*
Package log provides structured logging for Maestro using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with subsystem-specific child loggers and configurable log levels. All logs
include timestamps and support filtering by severity level for production
debugging.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Thread-safe for concurrent use from all Maestro packages

Configuration:
  - Level: debug/info/warn/error
  - Format: JSON or console (human readable)
  - Output: stdout, file, or custom writer

Child Loggers:
  - WithSubsystem("scheduler") tags every line with the owning subsystem
  - Entity identity (component_id, pipeline_id, ticket_id) is attached per
    event with Str fields at the call site

# Usage

Initialization (once, at startup):

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Subsystem loggers:

	logger := log.WithSubsystem("health")
	logger.Warn().
		Str("component_id", id).
		Int("consecutive_failures", n).
		Msg("breaker opened")

# Integration Points

Every Maestro subsystem creates its own child logger at construction time and
never writes to the global logger directly after Init. Tests that need quiet
output pass io.Discard as the Output writer.
*/
package log
