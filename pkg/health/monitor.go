package health

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/maestro-sys/maestro/pkg/events"
	"github.com/maestro-sys/maestro/pkg/log"
	"github.com/maestro-sys/maestro/pkg/metrics"
	"github.com/maestro-sys/maestro/pkg/registry"
	"github.com/maestro-sys/maestro/pkg/types"
)

const defaultHeartbeatWindow = 30 * time.Second

// Monitor tracks execution outcomes and heartbeats per component and owns
// every circuit breaker. The scheduler asks Allow before invoking a
// component and reports the outcome back; the monitor derives coarse health
// (healthy/degraded/isolated) during the orchestrator's periodic sweep and
// publishes transitions so subscribers react without polling.
type Monitor struct {
	logger   zerolog.Logger
	router   *events.Router
	registry *registry.Registry

	defaults        BreakerConfig
	overrides       map[string]BreakerConfig
	heartbeatWindow time.Duration
	now             func() time.Time

	mu           sync.Mutex
	records      map[string]*types.HealthRecord
	breakers     map[string]*breaker
	restartTimes map[string][]time.Time
}

// Option customizes monitor behavior
type Option func(*Monitor)

// WithDefaults overrides the default breaker configuration
func WithDefaults(cfg BreakerConfig) Option {
	return func(m *Monitor) { m.defaults = cfg }
}

// WithOverride sets a per-component breaker configuration
func WithOverride(componentID string, cfg BreakerConfig) Option {
	return func(m *Monitor) { m.overrides[componentID] = cfg }
}

// WithHeartbeatWindow sets how long a component may stay silent before it
// is considered degraded
func WithHeartbeatWindow(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.heartbeatWindow = d
		}
	}
}

// WithClock overrides the time source, used by tests to drive cooldowns
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates a health monitor over the given registry
func NewMonitor(router *events.Router, reg *registry.Registry, opts ...Option) *Monitor {
	m := &Monitor{
		logger:          log.WithSubsystem("health"),
		router:          router,
		registry:        reg,
		defaults:        DefaultBreakerConfig(),
		overrides:       make(map[string]BreakerConfig),
		heartbeatWindow: defaultHeartbeatWindow,
		now:             time.Now,
		records:         make(map[string]*types.HealthRecord),
		breakers:        make(map[string]*breaker),
		restartTimes:    make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetDefaults replaces the default breaker configuration. Existing
// breakers keep their current configuration; the new defaults apply to
// breakers created afterwards.
func (m *Monitor) SetDefaults(cfg BreakerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaults = cfg
}

// SetOverrides replaces the per-component breaker overrides, used on config
// reload. Existing breakers keep their current configuration; overrides
// apply to breakers created afterwards.
func (m *Monitor) SetOverrides(overrides map[string]BreakerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides = make(map[string]BreakerConfig, len(overrides))
	for id, cfg := range overrides {
		m.overrides[id] = cfg
	}
}

// Allow reports whether the component may execute. Returns ErrCircuitOpen
// without running any component code while the breaker is open.
func (m *Monitor) Allow(componentID string) error {
	err := m.breakerFor(componentID).allow()
	if err != nil {
		metrics.ExecutionsRejectedTotal.WithLabelValues(componentID).Inc()
	}
	m.observeBreaker(componentID)
	return err
}

// ReleaseTrial returns an admitted HALF_OPEN trial slot without recording
// an outcome. Called when the execution was discarded (cancelled run) so
// the discarded trial neither closes nor reopens the breaker and the next
// caller is admitted instead.
func (m *Monitor) ReleaseTrial(componentID string) {
	m.breakerFor(componentID).abortTrial()
	m.observeBreaker(componentID)
}

// RecordSuccess notes a successful execution outcome
func (m *Monitor) RecordSuccess(componentID string) {
	closed := m.breakerFor(componentID).recordSuccess()

	m.mu.Lock()
	rec := m.recordLocked(componentID)
	rec.ConsecutiveFailures = 0
	rec.Successes++
	rec.LastSuccess = m.now()
	m.mu.Unlock()

	if closed {
		m.logger.Info().Str("component_id", componentID).Msg("breaker closed after trial success")
		m.transition(componentID, types.HealthHealthy)
	}
	m.observeBreaker(componentID)
}

// RecordFailure notes a failed execution outcome. Opens the breaker once
// the consecutive-failure threshold is reached and publishes the isolation
// immediately so pending pipeline runs drop the component without waiting
// for the next sweep.
func (m *Monitor) RecordFailure(componentID, reason string) {
	opened := m.breakerFor(componentID).recordFailure()

	m.mu.Lock()
	rec := m.recordLocked(componentID)
	rec.ConsecutiveFailures++
	rec.Failures++
	rec.LastFailure = m.now()
	streak := rec.ConsecutiveFailures
	m.mu.Unlock()

	m.logger.Warn().
		Str("component_id", componentID).
		Str("reason", reason).
		Int("consecutive_failures", streak).
		Msg("execution failure recorded")

	if opened {
		m.logger.Warn().Str("component_id", componentID).Msg("breaker opened")
		m.transition(componentID, types.HealthIsolated)
	}
	m.observeBreaker(componentID)
}

// WarmRestart is the local remedy for a misbehaving component: reset its
// breaker and failure streak and move it back to the registered lifecycle
// state so the next run re-initializes it.
func (m *Monitor) WarmRestart(componentID string) {
	m.breakerFor(componentID).reset()

	m.mu.Lock()
	rec := m.recordLocked(componentID)
	rec.ConsecutiveFailures = 0
	rec.RestartCount++
	restarts := rec.RestartCount
	m.restartTimes[componentID] = append(m.restartTimes[componentID], m.now())
	m.mu.Unlock()

	m.logger.Info().
		Str("component_id", componentID).
		Int("restart_count", restarts).
		Msg("warm restart")

	if err := m.registry.SetLifecycle(componentID, types.LifecycleRegistered); err != nil {
		m.logger.Warn().Err(err).Str("component_id", componentID).Msg("warm restart lifecycle update failed")
	}
	m.observeBreaker(componentID)
}

// Record returns a copy of the component's health record
func (m *Monitor) Record(componentID string) (types.HealthRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[componentID]
	if !ok {
		return types.HealthRecord{}, false
	}
	return *rec, true
}

// RestartsWithin counts warm restarts inside the rolling window ending
// now; the diff engine uses this as the local-remedy budget check before
// escalating.
func (m *Monitor) RestartsWithin(componentID string, window time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-window)
	times := m.restartTimes[componentID]
	kept := times[:0]
	for _, ts := range times {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	m.restartTimes[componentID] = kept
	return len(kept)
}

// State returns the component's current breaker state
func (m *Monitor) State(componentID string) BreakerState {
	return m.breakerFor(componentID).currentState()
}

// Sweep derives coarse health for every registered component from breaker
// state and heartbeat recency. Called from the orchestrator's single audit
// timer; never from per-component timers.
func (m *Monitor) Sweep() {
	now := m.now()
	for _, desc := range m.registry.List() {
		id := desc.ID
		state := m.breakerFor(id).currentState()
		heartbeatAge := now.Sub(desc.LastHeartbeat)

		var status types.HealthState
		switch {
		case state == BreakerOpen:
			status = types.HealthIsolated
		case heartbeatAge > m.heartbeatWindow:
			status = types.HealthDegraded
		default:
			status = types.HealthHealthy
		}

		m.mu.Lock()
		prev := m.recordLocked(id).Status
		m.mu.Unlock()

		// Edge-triggered: one failed-check event per degradation, not one
		// per sweep, so the remedy loop cannot restart a silent component
		// on every tick
		if status == types.HealthDegraded && prev != types.HealthDegraded {
			m.router.Publish(events.Event{
				Topic:  events.TopicHealthCheckFailed,
				Source: id,
				Fields: map[string]string{
					"heartbeat_age_ms": strconv.FormatInt(heartbeatAge.Milliseconds(), 10),
				},
			})
		}

		m.transition(id, status)
	}
}

// transition updates the stored status and publishes the matching event
// when it changed
func (m *Monitor) transition(componentID string, status types.HealthState) {
	m.mu.Lock()
	rec := m.recordLocked(componentID)
	prev := rec.Status
	rec.Status = status
	m.mu.Unlock()

	for _, s := range []types.HealthState{types.HealthHealthy, types.HealthDegraded, types.HealthIsolated} {
		v := 0.0
		if s == status {
			v = 1.0
		}
		metrics.ComponentHealthState.WithLabelValues(componentID, string(s)).Set(v)
	}

	if prev == status {
		return
	}

	var topic events.Topic
	switch status {
	case types.HealthIsolated:
		topic = events.TopicComponentIsolated
	case types.HealthDegraded:
		topic = events.TopicComponentDegraded
	default:
		if prev == "" {
			// First observation, nothing recovered from
			return
		}
		topic = events.TopicComponentRecovered
	}

	m.router.Publish(events.Event{
		Topic:  topic,
		Source: componentID,
		Fields: map[string]string{"previous": string(prev)},
	})
}

func (m *Monitor) breakerFor(componentID string) *breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[componentID]
	if !ok {
		cfg := m.defaults
		if override, exists := m.overrides[componentID]; exists {
			cfg = override
		}
		b = newBreaker(cfg, m.now)
		m.breakers[componentID] = b
	}
	return b
}

func (m *Monitor) recordLocked(componentID string) *types.HealthRecord {
	rec, ok := m.records[componentID]
	if !ok {
		rec = &types.HealthRecord{ComponentID: componentID}
		m.records[componentID] = rec
	}
	return rec
}

func (m *Monitor) observeBreaker(componentID string) {
	metrics.BreakerState.WithLabelValues(componentID).Set(float64(m.breakerFor(componentID).currentState()))
}
