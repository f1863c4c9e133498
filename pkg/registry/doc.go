/*
Package registry tracks the components known to the Maestro core.

The registry owns component descriptors: it is the single writer, and every
read hands out a point-in-time copy, so no caller can mutate registry state
directly. Cross-subsystem consumers (health monitor, scheduler) learn about
registrations, lifecycle transitions, and heartbeats from events on the
router rather than polling.

# Operations

  - Register: adds a component; duplicate ids fail with ErrDuplicateComponent
  - Deregister: removes a component; unknown ids fail with ErrUnknownComponent
  - Heartbeat: idempotent last-seen update, published as component.heartbeat
  - SetLifecycle: registered → running → stopped transitions, published as
    component.lifecycle
  - List / Get: snapshot copies, with optional capability filtering
  - Component: the live implementation handle, used only by the scheduler to
    invoke Execute

# Capability Index

Components declare capability tags at registration ("voice_recognition",
"state_management", ...). The registry maintains a reverse index so the
scheduler and external callers can resolve providers by capability without
scanning every descriptor.
*/
package registry
