package diff

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/maestro-sys/maestro/pkg/events"
	"github.com/maestro-sys/maestro/pkg/health"
	"github.com/maestro-sys/maestro/pkg/log"
	"github.com/maestro-sys/maestro/pkg/metrics"
	"github.com/maestro-sys/maestro/pkg/types"
)

const (
	defaultThrottleInterval = 5 * time.Second
	defaultRemedyBudget     = 3
	defaultRemedyWindow     = 10 * time.Minute
	archiveDepth            = 32
)

// Escalator receives tickets when local remedies are exhausted. Implemented
// by the problem-solving broker.
type Escalator interface {
	Submit(ticket *types.Ticket) error
}

// Config tunes comparison classification and throttling
type Config struct {
	// ThrottleInterval is the minimum time between recomputations for the
	// same component; checks inside the window return the cached diff.
	ThrottleInterval time.Duration

	// CriticalKeys marks state keys whose divergence makes a diff CRITICAL
	CriticalKeys map[string]bool

	// IgnorableKeys marks volatile keys whose divergence alone only
	// produces an INFO diff (timestamps, counters, ...)
	IgnorableKeys map[string]bool

	// RemedyBudget is how many warm restarts may be spent inside
	// RemedyWindow before a CRITICAL diff escalates to the broker
	RemedyBudget int
	RemedyWindow time.Duration
}

// DefaultConfig returns diff engine defaults
func DefaultConfig() Config {
	return Config{
		ThrottleInterval: defaultThrottleInterval,
		CriticalKeys:     map[string]bool{},
		IgnorableKeys:    map[string]bool{},
		RemedyBudget:     defaultRemedyBudget,
		RemedyWindow:     defaultRemedyWindow,
	}
}

// Engine compares expected-state descriptors against observed snapshots per
// component. Checks are throttled per component to bound cost under bursty
// triggers; severity-classified diffs are published on the router and
// archived for audit.
type Engine struct {
	logger    zerolog.Logger
	router    *events.Router
	monitor   *health.Monitor
	escalator Escalator

	mu          sync.Mutex
	cfg         Config
	observed    map[string]types.StateSnapshot
	expected    map[string]types.StateSnapshot
	lastCheck   map[string]time.Time
	lastDiff    map[string]*types.StateDiff
	archive     map[string][]types.StateDiff
	comparisons int
	now         func() time.Time
}

// Option customizes engine behavior
type Option func(*Engine)

// WithClock overrides the time source for tests
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithEscalator wires the broker path for exhausted local remedies
func WithEscalator(esc Escalator) Option {
	return func(e *Engine) { e.escalator = esc }
}

// NewEngine creates a diff engine
func NewEngine(router *events.Router, monitor *health.Monitor, cfg Config, opts ...Option) *Engine {
	if cfg.ThrottleInterval <= 0 {
		cfg.ThrottleInterval = defaultThrottleInterval
	}
	if cfg.RemedyBudget <= 0 {
		cfg.RemedyBudget = defaultRemedyBudget
	}
	if cfg.RemedyWindow <= 0 {
		cfg.RemedyWindow = defaultRemedyWindow
	}
	e := &Engine{
		logger:    log.WithSubsystem("diff"),
		router:    router,
		monitor:   monitor,
		cfg:       cfg,
		observed:  make(map[string]types.StateSnapshot),
		expected:  make(map[string]types.StateSnapshot),
		lastCheck: make(map[string]time.Time),
		lastDiff:  make(map[string]*types.StateDiff),
		archive:   make(map[string][]types.StateDiff),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetConfig replaces classification keys and throttle settings, used on
// config reload
func (e *Engine) SetConfig(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cfg.ThrottleInterval <= 0 {
		cfg.ThrottleInterval = defaultThrottleInterval
	}
	if cfg.RemedyBudget <= 0 {
		cfg.RemedyBudget = defaultRemedyBudget
	}
	if cfg.RemedyWindow <= 0 {
		cfg.RemedyWindow = defaultRemedyWindow
	}
	e.cfg = cfg
}

// Capture records the latest observed snapshot for a component. Superseded
// snapshots with an older version are discarded.
func (e *Engine) Capture(snapshot types.StateSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.observed[snapshot.ComponentID]; ok && prev.Version >= snapshot.Version {
		return
	}
	e.observed[snapshot.ComponentID] = snapshot.Clone()
	e.logger.Debug().
		Str("component_id", snapshot.ComponentID).
		Uint64("version", snapshot.Version).
		Msg("snapshot captured")
}

// SetExpected records the expected-state descriptor for a component,
// supplied by configuration or promoted from a prior good snapshot
func (e *Engine) SetExpected(snapshot types.StateSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expected[snapshot.ComponentID] = snapshot.Clone()
}

// Check compares expected against observed state for the component. Calls
// within the throttle interval return the previously computed diff without
// recomputation. Returns nil when the snapshots are fully equivalent or
// when either side is missing.
func (e *Engine) Check(componentID string) *types.StateDiff {
	e.mu.Lock()

	now := e.now()
	if last, ok := e.lastCheck[componentID]; ok && now.Sub(last) < e.cfg.ThrottleInterval {
		cached := e.lastDiff[componentID]
		e.mu.Unlock()
		metrics.DiffThrottledTotal.Inc()
		return cached
	}

	expected, hasExpected := e.expected[componentID]
	observed, hasObserved := e.observed[componentID]
	if !hasExpected || !hasObserved {
		e.mu.Unlock()
		return nil
	}

	e.lastCheck[componentID] = now
	e.comparisons++
	metrics.DiffChecksTotal.Inc()

	d := e.compare(expected, observed, now)
	e.lastDiff[componentID] = d
	if d != nil {
		bucket := append(e.archive[componentID], *d)
		if len(bucket) > archiveDepth {
			bucket = bucket[len(bucket)-archiveDepth:]
		}
		e.archive[componentID] = bucket
	}
	e.mu.Unlock()

	if d == nil {
		return nil
	}

	metrics.DiffsBySeverity.WithLabelValues(string(d.Severity)).Inc()
	e.logger.Info().
		Str("component_id", componentID).
		Str("severity", string(d.Severity)).
		Int("mismatches", len(d.Mismatches)).
		Msg("state diff detected")

	// INFO diffs are archived for audit but never published
	if d.Severity != types.SeverityInfo {
		e.router.Publish(events.Event{
			Topic:  events.TopicStateDiff,
			Source: componentID,
			Diff:   d,
			Fields: map[string]string{"severity": string(d.Severity)},
		})
	}

	if d.Severity == types.SeverityCritical {
		e.remedyOrEscalate(componentID, d)
	}
	return d
}

// SweepAll runs a throttled check for every component with an observed
// snapshot. Driven by the orchestrator's audit timer.
func (e *Engine) SweepAll() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.observed))
	for id := range e.observed {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.Check(id)
	}
}

// Recent returns archived diffs for the component, newest last
func (e *Engine) Recent(componentID string) []types.StateDiff {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]types.StateDiff(nil), e.archive[componentID]...)
}

// Comparisons returns how many comparisons were actually computed,
// exposed so throttling is verifiable
func (e *Engine) Comparisons() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.comparisons
}

// compare walks the expected keys (and flags unexpected observed keys) and
// classifies the result. Caller holds e.mu.
func (e *Engine) compare(expected, observed types.StateSnapshot, now time.Time) *types.StateDiff {
	var mismatches []types.Mismatch

	keys := make([]string, 0, len(expected.State))
	for k := range expected.State {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		want := expected.State[key]
		got, ok := observed.State[key]
		if !ok {
			mismatches = append(mismatches, types.Mismatch{
				Key:      key,
				Expected: want,
				Kind:     types.MismatchMissingKey,
			})
			continue
		}
		if !want.Equal(got) {
			mismatches = append(mismatches, types.Mismatch{
				Key:      key,
				Expected: want,
				Observed: got,
				Kind:     types.MismatchValueMismatch,
			})
		}
	}

	extra := make([]string, 0)
	for k := range observed.State {
		if _, ok := expected.State[k]; !ok {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		mismatches = append(mismatches, types.Mismatch{
			Key:      key,
			Observed: observed.State[key],
			Kind:     types.MismatchUnexpectedKey,
		})
	}

	if len(mismatches) == 0 {
		return nil
	}

	severity := types.SeverityInfo
	for _, m := range mismatches {
		if e.cfg.CriticalKeys[m.Key] {
			severity = types.SeverityCritical
			break
		}
		if !e.cfg.IgnorableKeys[m.Key] {
			severity = types.SeverityWarning
		}
	}

	return &types.StateDiff{
		ComponentID: observed.ComponentID,
		Version:     observed.Version,
		Mismatches:  mismatches,
		Severity:    severity,
		ComputedAt:  now,
	}
}

// remedyOrEscalate spends the warm-restart budget first; once the rolling
// window is exhausted the diff escalates as a problem ticket.
func (e *Engine) remedyOrEscalate(componentID string, d *types.StateDiff) {
	e.mu.Lock()
	budget := e.cfg.RemedyBudget
	window := e.cfg.RemedyWindow
	e.mu.Unlock()

	if e.monitor.RestartsWithin(componentID, window) < budget {
		e.logger.Warn().
			Str("component_id", componentID).
			Msg("critical diff, attempting warm restart")
		e.monitor.WarmRestart(componentID)
		return
	}

	if e.escalator == nil {
		e.logger.Error().
			Str("component_id", componentID).
			Msg("remedy budget exhausted and no escalation path configured")
		return
	}

	keys := make([]string, 0, len(d.Mismatches))
	for _, m := range d.Mismatches {
		keys = append(keys, m.Key)
	}

	ticket := &types.Ticket{
		ID:          uuid.New().String(),
		ComponentID: componentID,
		Category:    "state_mismatch",
		Description: fmt.Sprintf("critical state diff: %d field(s) diverged from expectation", len(d.Mismatches)),
		Context: map[string]string{
			"diverged_keys": fmt.Sprintf("%v", keys),
			"version":       fmt.Sprintf("%d", d.Version),
		},
		AttemptedRemedies: []string{
			fmt.Sprintf("warm restart x%d within remedy window", budget),
		},
		Status:    types.TicketOpen,
		CreatedAt: e.now(),
	}

	if err := e.escalator.Submit(ticket); err != nil {
		e.logger.Error().Err(err).
			Str("component_id", componentID).
			Msg("ticket escalation rejected")
	}
}
