package types

import (
	"context"
	"time"
)

// Lifecycle represents the lifecycle state of a registered component
type Lifecycle string

const (
	LifecycleUnregistered Lifecycle = "unregistered"
	LifecycleRegistered   Lifecycle = "registered"
	LifecycleRunning      Lifecycle = "running"
	LifecycleStopped      Lifecycle = "stopped"
)

// Descriptor identifies a component known to the registry
type Descriptor struct {
	ID            string
	Name          string
	Capabilities  []string
	Lifecycle     Lifecycle
	RegisteredAt  time.Time
	LastHeartbeat time.Time
}

// Clone returns a deep copy so callers can never mutate registry state
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	c.Capabilities = append([]string(nil), d.Capabilities...)
	return &c
}

// ValueKind discriminates the typed state value container
type ValueKind int

const (
	KindString ValueKind = iota
	KindInt
	KindFloat
	KindBool
)

// Value is a typed state value. Components expose observable state as a
// fixed vocabulary of keys mapping to these values rather than free-form
// interface{} maps.
type Value struct {
	Kind  ValueKind
	Str   string
	Int   int64
	Float float64
	Bool  bool
}

func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }
func IntValue(i int64) Value     { return Value{Kind: KindInt, Int: i} }
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func BoolValue(b bool) Value     { return Value{Kind: KindBool, Bool: b} }

// Equal reports whether two values have the same kind and content
func (v Value) Equal(o Value) bool {
	return v.Kind == o.Kind && v.Str == o.Str && v.Int == o.Int &&
		v.Float == o.Float && v.Bool == o.Bool
}

// Payload carries typed key/value data between pipeline stages
type Payload map[string]Value

// Clone returns a copy of the payload
func (p Payload) Clone() Payload {
	c := make(Payload, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// Merge copies all entries of other into p, overwriting existing keys
func (p Payload) Merge(other Payload) {
	for k, v := range other {
		p[k] = v
	}
}

// StateSnapshot is an immutable observation of component state
type StateSnapshot struct {
	ComponentID string
	Version     uint64
	State       Payload
	CapturedAt  time.Time
}

// Clone returns a copy with its own state map
func (s StateSnapshot) Clone() StateSnapshot {
	c := s
	c.State = s.State.Clone()
	return c
}

// Severity classifies a state diff
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// MismatchKind describes how a key diverged between snapshots
type MismatchKind string

const (
	MismatchMissingKey    MismatchKind = "missing_key"
	MismatchValueMismatch MismatchKind = "value_mismatch"
	MismatchUnexpectedKey MismatchKind = "unexpected_key"
)

// Mismatch is one diverging key between expected and observed state
type Mismatch struct {
	Key      string
	Expected Value
	Observed Value
	Kind     MismatchKind
}

// StateDiff is the classified result of comparing an expected snapshot
// against an observed snapshot for one component
type StateDiff struct {
	ComponentID string
	Version     uint64
	Mismatches  []Mismatch
	Severity    Severity
	ComputedAt  time.Time
}

// HealthState is the coarse health classification of a component
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthIsolated HealthState = "isolated"
)

// HealthRecord tracks execution outcomes for one component
type HealthRecord struct {
	ComponentID         string
	ConsecutiveFailures int
	Successes           int
	Failures            int
	RestartCount        int
	LastSuccess         time.Time
	LastFailure         time.Time
	Status              HealthState
}

// PipelineMode selects how pipeline stages are dispatched
type PipelineMode string

const (
	ModeSequential PipelineMode = "sequential"
	ModeParallel   PipelineMode = "parallel"
)

// StageSpec declares one stage of a pipeline
type StageSpec struct {
	ComponentID string
	Critical    bool
}

// TriggerSpec binds a pipeline to an event topic or a periodic interval.
// Exactly one of Event or Interval is set; a pipeline with neither is
// manual-only.
type TriggerSpec struct {
	Event    string
	Interval time.Duration
}

// PipelineSpec is a declarative pipeline definition. Read-only after load;
// reloading replaces the whole set atomically.
type PipelineSpec struct {
	ID       string
	Mode     PipelineMode
	Stages   []StageSpec
	Triggers []TriggerSpec
}

// RunStatus is the terminal (or in-flight) status of a pipeline run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// StageStatus is the per-stage outcome within a pipeline run
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
	StageTimedOut  StageStatus = "timed_out"
	StageDiscarded StageStatus = "discarded"
)

// StageResult reports the outcome of a single stage execution
type StageResult struct {
	ComponentID string
	Status      StageStatus
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// RunResult reports the terminal status of a pipeline run plus the
// per-stage breakdown. Partial failure is communicated structurally here,
// never as an error across the pipeline boundary.
type RunResult struct {
	RunID      string
	PipelineID string
	Status     RunStatus
	Stages     []StageResult
	Output     Payload
	StartedAt  time.Time
	FinishedAt time.Time
}

// TicketStatus is the lifecycle state of a problem ticket
type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketInProgress TicketStatus = "in_progress"
	TicketResolved   TicketStatus = "resolved"
	TicketFailed     TicketStatus = "failed"
)

// Ticket is a unit of escalated, unresolved problem handed to the external
// reasoning service. Terminal once resolved or failed.
type Ticket struct {
	ID                string
	ComponentID       string
	Category          string
	Description       string
	Context           map[string]string
	AttemptedRemedies []string
	Status            TicketStatus
	Remedy            string
	CreatedAt         time.Time
	ResolvedAt        time.Time
}

// Component is the contract every feature unit implements to participate in
// orchestration. The core calls these methods and never inspects
// feature-specific internals.
type Component interface {
	ID() string
	Name() string
	Capabilities() []string

	Initialize(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Execute runs one unit of work. The input payload is threaded from the
	// previous stage in sequential pipelines.
	Execute(ctx context.Context, input Payload) (Payload, error)

	// CaptureState returns an immutable snapshot of observable state, or
	// false if the component does not expose state.
	CaptureState() (StateSnapshot, bool)

	Heartbeat()
	IsHealthy() bool
}

// Validator lets one component vet another's output before it is trusted
// downstream. Optional; implemented externally.
type Validator interface {
	Validate(componentID string, output Payload) ValidationResult
}

// ValidationResult is the outcome of a validation check
type ValidationResult struct {
	Valid   bool
	Details string
}
