/*
Package config loads Maestro configuration from two sources.

Process-level settings (config path, metrics listen address, log level,
audit archive location) come from the environment, merged with a local
.env file when one exists; real environment variables win. Reasoning
provider credentials are read by pkg/reasoning from the same environment.

Everything that can change at runtime lives in the YAML document:
pipeline definitions with their triggers, per-component breaker
overrides, diff key classification, and broker/scheduler tunables. The
document is validated as a whole before any of it is applied, so a bad
reload never leaves the system half-configured. The orchestrator watches
the file and swaps the parsed result in atomically on change.

Unset fields inherit the package defaults of the subsystem they
configure; the converters here only override what the document names.
*/
package config
