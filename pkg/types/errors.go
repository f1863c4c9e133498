package types

import "errors"

// Error taxonomy for the coordination core. Callers match with errors.Is;
// wrapped variants carry component or pipeline identity in their message.
var (
	// ErrDuplicateComponent is returned by registration when the id exists.
	// Registry misuse, surfaced immediately to the caller.
	ErrDuplicateComponent = errors.New("duplicate component")

	// ErrUnknownComponent is returned for operations on an unregistered id
	ErrUnknownComponent = errors.New("unknown component")

	// ErrCircuitOpen rejects execution while a component's breaker is open.
	// Expected and recoverable; callers skip or back off.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrStageTimeout marks a stage that exceeded its execution deadline
	ErrStageTimeout = errors.New("stage timeout")

	// ErrStageFailed marks a stage whose component returned an error
	ErrStageFailed = errors.New("stage failed")

	// ErrBrokerOverloaded is the back-pressure signal when the ticket queue
	// is above its configured bound. Callers retry later.
	ErrBrokerOverloaded = errors.New("broker overloaded")

	// ErrExternalService wraps reasoning service failures. Retried
	// internally by the broker before a ticket is marked failed.
	ErrExternalService = errors.New("external service error")
)
