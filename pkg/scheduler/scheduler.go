package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/maestro-sys/maestro/pkg/diff"
	"github.com/maestro-sys/maestro/pkg/events"
	"github.com/maestro-sys/maestro/pkg/health"
	"github.com/maestro-sys/maestro/pkg/log"
	"github.com/maestro-sys/maestro/pkg/metrics"
	"github.com/maestro-sys/maestro/pkg/registry"
	"github.com/maestro-sys/maestro/pkg/types"
	"github.com/maestro-sys/maestro/pkg/worker"
)

// ErrRunInFlight is returned by Run when the pipeline already has a run in
// flight; triggers hitting the same condition are dropped silently.
var ErrRunInFlight = errors.New("pipeline run already in flight")

// ErrUnknownPipeline is returned when no loaded pipeline matches the id.
var ErrUnknownPipeline = errors.New("unknown pipeline")

// ErrUnknownRun is returned by Cancel for an id with no active run.
var ErrUnknownRun = errors.New("unknown run")

const (
	defaultStageTimeout  = 30 * time.Second
	defaultFailureBudget = 3
)

// Escalator receives tickets for components failing stages past the
// budget. Implemented by the problem-solving broker.
type Escalator interface {
	Submit(ticket *types.Ticket) error
}

// Config tunes stage execution
type Config struct {
	// StageTimeout bounds a single Execute call; overruns count as
	// failures against the breaker and their results are discarded.
	StageTimeout time.Duration

	// FailureBudget is how many consecutive stage failures a component
	// may accumulate before a ticket is escalated.
	FailureBudget int
}

// DefaultConfig returns scheduler defaults
func DefaultConfig() Config {
	return Config{
		StageTimeout:  defaultStageTimeout,
		FailureBudget: defaultFailureBudget,
	}
}

// Scheduler executes declarative pipelines over registered components.
// Pipelines run sequentially or in parallel, gated per stage by the
// circuit breaker, with at most one concurrent run per pipeline.
type Scheduler struct {
	logger    zerolog.Logger
	router    *events.Router
	registry  *registry.Registry
	monitor   *health.Monitor
	engine    *diff.Engine
	pool      *worker.Pool
	validator types.Validator
	escalator Escalator
	now       func() time.Time

	mu          sync.Mutex
	cfg         Config
	pipelines   map[string]types.PipelineSpec
	inFlight    map[string]string
	runs        map[string]*runHandle
	failStreaks map[string]int
	subs        []*events.Subscription
	tickerStops []chan struct{}
	started     bool
}

type runHandle struct {
	pipelineID string
	cancel     context.CancelFunc
	cancelled  bool
}

// Option customizes scheduler behavior
type Option func(*Scheduler)

// WithValidator installs an output validation hook applied after every
// successful stage execution
func WithValidator(v types.Validator) Option {
	return func(s *Scheduler) { s.validator = v }
}

// WithEscalator wires the broker path for components failing past budget
func WithEscalator(esc Escalator) Option {
	return func(s *Scheduler) { s.escalator = esc }
}

// WithClock overrides the time source for tests
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler
func New(router *events.Router, reg *registry.Registry, monitor *health.Monitor, engine *diff.Engine, pool *worker.Pool, cfg Config, opts ...Option) *Scheduler {
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = defaultStageTimeout
	}
	if cfg.FailureBudget <= 0 {
		cfg.FailureBudget = defaultFailureBudget
	}
	s := &Scheduler{
		logger:      log.WithSubsystem("scheduler"),
		router:      router,
		registry:    reg,
		monitor:     monitor,
		engine:      engine,
		pool:        pool,
		cfg:         cfg,
		now:         time.Now,
		pipelines:   make(map[string]types.PipelineSpec),
		inFlight:    make(map[string]string),
		runs:        make(map[string]*runHandle),
		failStreaks: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the pipeline set atomically. Triggers for removed
// pipelines are torn down and new ones installed when the scheduler is
// started; runs already in flight finish under the old spec.
func (s *Scheduler) Load(specs []types.PipelineSpec) error {
	next := make(map[string]types.PipelineSpec, len(specs))
	for _, spec := range specs {
		if spec.ID == "" {
			return fmt.Errorf("pipeline with empty id")
		}
		if _, dup := next[spec.ID]; dup {
			return fmt.Errorf("duplicate pipeline id %q", spec.ID)
		}
		if spec.Mode != types.ModeSequential && spec.Mode != types.ModeParallel {
			return fmt.Errorf("pipeline %q: unknown mode %q", spec.ID, spec.Mode)
		}
		if len(spec.Stages) == 0 {
			return fmt.Errorf("pipeline %q: no stages", spec.ID)
		}
		for _, tr := range spec.Triggers {
			if (tr.Event == "") == (tr.Interval <= 0) {
				return fmt.Errorf("pipeline %q: trigger must set exactly one of event or interval", spec.ID)
			}
		}
		next[spec.ID] = spec
	}

	s.mu.Lock()
	s.pipelines = next
	restart := s.started
	s.mu.Unlock()

	if restart {
		s.teardownTriggers()
		s.installTriggers()
	}
	s.logger.Info().Int("pipelines", len(next)).Msg("pipeline set loaded")
	return nil
}

// SetConfig replaces stage timeout and failure budget, used on config
// reload. In-flight runs keep the timeout they started with.
func (s *Scheduler) SetConfig(cfg Config) {
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = defaultStageTimeout
	}
	if cfg.FailureBudget <= 0 {
		cfg.FailureBudget = defaultFailureBudget
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Start installs event and interval triggers for the loaded pipelines
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()
	s.installTriggers()
}

// Stop tears down triggers. In-flight runs are not cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()
	s.teardownTriggers()
}

// Pipelines returns the loaded pipeline specs
func (s *Scheduler) Pipelines() []types.PipelineSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.PipelineSpec, 0, len(s.pipelines))
	for _, spec := range s.pipelines {
		out = append(out, spec)
	}
	return out
}

// Run executes the pipeline synchronously and returns its result. At most
// one run per pipeline is in flight: a second call returns ErrRunInFlight
// without executing anything.
func (s *Scheduler) Run(ctx context.Context, pipelineID string, input types.Payload) (*types.RunResult, error) {
	s.mu.Lock()
	spec, ok := s.pipelines[pipelineID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownPipeline, pipelineID)
	}
	if _, busy := s.inFlight[pipelineID]; busy {
		s.mu.Unlock()
		return nil, ErrRunInFlight
	}
	cfg := s.cfg

	runID := uuid.New().String()
	runCtx, cancel := context.WithCancel(ctx)
	handle := &runHandle{pipelineID: pipelineID, cancel: cancel}
	s.inFlight[pipelineID] = runID
	s.runs[runID] = handle
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.inFlight, pipelineID)
		delete(s.runs, runID)
		s.mu.Unlock()
	}()

	result := &types.RunResult{
		RunID:      runID,
		PipelineID: pipelineID,
		Status:     types.RunRunning,
		Stages:     make([]types.StageResult, len(spec.Stages)),
		StartedAt:  s.now(),
	}
	for i, st := range spec.Stages {
		result.Stages[i] = types.StageResult{ComponentID: st.ComponentID, Status: types.StagePending}
	}

	s.logger.Info().
		Str("pipeline_id", pipelineID).
		Str("run_id", runID).
		Str("mode", string(spec.Mode)).
		Msg("pipeline run started")
	s.publishRun(events.TopicPipelineStarted, result)

	if spec.Mode == types.ModeParallel {
		s.runParallel(runCtx, spec, cfg, input, result)
	} else {
		s.runSequential(runCtx, spec, cfg, input, result)
	}

	if (s.cancelled(handle) || runCtx.Err() != nil) && result.Status != types.RunFailed {
		result.Status = types.RunCancelled
	}
	if result.Status == types.RunRunning {
		result.Status = types.RunCompleted
	}
	result.FinishedAt = s.now()

	metrics.PipelineRunsTotal.WithLabelValues(pipelineID, string(result.Status)).Inc()
	s.logger.Info().
		Str("pipeline_id", pipelineID).
		Str("run_id", runID).
		Str("status", string(result.Status)).
		Msg("pipeline run finished")

	switch result.Status {
	case types.RunCompleted:
		s.publishRun(events.TopicPipelineCompleted, result)
	case types.RunFailed:
		s.publishRun(events.TopicPipelineFailed, result)
	case types.RunCancelled:
		s.publishRun(events.TopicPipelineCancelled, result)
	}
	return result, nil
}

// Cancel requests cooperative cancellation of an in-flight run. No new
// stages are dispatched and in-flight stage results are discarded.
func (s *Scheduler) Cancel(runID string) error {
	s.mu.Lock()
	handle, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	handle.cancelled = true
	s.mu.Unlock()

	handle.cancel()
	s.logger.Info().Str("run_id", runID).Msg("run cancellation requested")
	return nil
}

func (s *Scheduler) cancelled(h *runHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return h.cancelled
}

func (s *Scheduler) runSequential(ctx context.Context, spec types.PipelineSpec, cfg Config, input types.Payload, result *types.RunResult) {
	current := input
	for i, stage := range spec.Stages {
		if ctx.Err() != nil {
			return
		}

		if err := s.monitor.Allow(stage.ComponentID); err != nil {
			if stage.Critical {
				result.Stages[i].Status = types.StageFailed
				result.Stages[i].Error = err.Error()
				result.Status = types.RunFailed
				s.logger.Warn().
					Str("component_id", stage.ComponentID).
					Str("run_id", result.RunID).
					Msg("critical stage rejected by open breaker")
				return
			}
			result.Stages[i].Status = types.StageSkipped
			metrics.StageOutcomesTotal.WithLabelValues(stage.ComponentID, string(types.StageSkipped)).Inc()
			continue
		}

		out, sr := s.executeStage(ctx, stage, cfg, current)
		result.Stages[i] = sr

		if ctx.Err() != nil && sr.Status != types.StageCompleted {
			result.Stages[i].Status = types.StageDiscarded
			return
		}

		switch sr.Status {
		case types.StageCompleted:
			if out != nil {
				current = out
			}
		default:
			if stage.Critical {
				result.Status = types.RunFailed
				return
			}
			// Non-critical failure: next stage sees the prior payload
		}
	}
	result.Output = current
}

func (s *Scheduler) runParallel(ctx context.Context, spec types.PipelineSpec, cfg Config, input types.Payload, result *types.RunResult) {
	type indexed struct {
		idx int
		out types.Payload
	}

	var wg sync.WaitGroup
	var resMu sync.Mutex
	outputs := make([]indexed, 0, len(spec.Stages))

	for i, stage := range spec.Stages {
		if ctx.Err() != nil {
			break
		}

		if err := s.monitor.Allow(stage.ComponentID); err != nil {
			if stage.Critical {
				result.Stages[i].Status = types.StageFailed
				result.Stages[i].Error = err.Error()
				result.Status = types.RunFailed
				continue
			}
			result.Stages[i].Status = types.StageSkipped
			metrics.StageOutcomesTotal.WithLabelValues(stage.ComponentID, string(types.StageSkipped)).Inc()
			continue
		}

		i, stage := i, stage
		wg.Add(1)
		run := func(context.Context) {
			defer wg.Done()
			out, sr := s.executeStage(ctx, stage, cfg, input)
			resMu.Lock()
			result.Stages[i] = sr
			if sr.Status == types.StageCompleted {
				outputs = append(outputs, indexed{idx: i, out: out})
			} else if stage.Critical {
				result.Status = types.RunFailed
			}
			resMu.Unlock()
		}
		// Pool saturation falls back to a plain goroutine so siblings of
		// a large pipeline still all run
		if err := s.pool.Submit(run); err != nil {
			go run(ctx)
		}
	}
	wg.Wait()

	if result.Status == types.RunFailed || ctx.Err() != nil {
		// Siblings finished but the run is void: their outputs are dropped
		for i := range result.Stages {
			if result.Stages[i].Status == types.StageCompleted {
				result.Stages[i].Status = types.StageDiscarded
			}
		}
		return
	}

	merged := types.Payload{}
	for _, o := range outputs {
		merged.Merge(o.out)
	}
	result.Output = merged
}

// executeStage runs a single stage against its component with the stage
// timeout, records the outcome with the health monitor, and feeds state
// snapshots to the diff engine.
func (s *Scheduler) executeStage(ctx context.Context, stage types.StageSpec, cfg Config, input types.Payload) (types.Payload, types.StageResult) {
	sr := types.StageResult{
		ComponentID: stage.ComponentID,
		Status:      types.StageRunning,
		StartedAt:   s.now(),
	}

	comp, err := s.registry.Component(stage.ComponentID)
	if err != nil {
		sr.Status = types.StageFailed
		sr.Error = err.Error()
		sr.FinishedAt = s.now()
		s.recordFailure(stage.ComponentID, "component not registered")
		return nil, sr
	}

	stageCtx, cancel := context.WithTimeout(ctx, cfg.StageTimeout)
	defer cancel()

	type outcome struct {
		out types.Payload
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := comp.Execute(stageCtx, input)
		done <- outcome{out: out, err: err}
	}()

	var out types.Payload
	select {
	case o := <-done:
		out, err = o.out, o.err
	case <-stageCtx.Done():
		// The goroutine's eventual result is discarded
		if ctx.Err() != nil {
			sr.Status = types.StageDiscarded
			sr.Error = ctx.Err().Error()
			sr.FinishedAt = s.now()
			// No outcome was recorded; return any HALF_OPEN trial slot the
			// admission check consumed so the breaker is not latched shut
			s.monitor.ReleaseTrial(stage.ComponentID)
			return nil, sr
		}
		sr.Status = types.StageTimedOut
		sr.Error = types.ErrStageTimeout.Error()
		sr.FinishedAt = s.now()
		s.recordFailure(stage.ComponentID, "stage timeout")
		return nil, sr
	}

	sr.FinishedAt = s.now()
	metrics.StageDuration.WithLabelValues(stage.ComponentID).Observe(sr.FinishedAt.Sub(sr.StartedAt).Seconds())

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			sr.Status = types.StageTimedOut
			sr.Error = types.ErrStageTimeout.Error()
			s.recordFailure(stage.ComponentID, "stage timeout")
		} else {
			sr.Status = types.StageFailed
			sr.Error = err.Error()
			s.recordFailure(stage.ComponentID, err.Error())
		}
		metrics.StageOutcomesTotal.WithLabelValues(stage.ComponentID, string(sr.Status)).Inc()
		return nil, sr
	}

	if s.validator != nil {
		if vr := s.validator.Validate(stage.ComponentID, out); !vr.Valid {
			sr.Status = types.StageFailed
			sr.Error = fmt.Sprintf("output validation failed: %s", vr.Details)
			s.recordFailure(stage.ComponentID, "output validation failed")
			metrics.StageOutcomesTotal.WithLabelValues(stage.ComponentID, string(sr.Status)).Inc()
			return nil, sr
		}
	}

	sr.Status = types.StageCompleted
	metrics.StageOutcomesTotal.WithLabelValues(stage.ComponentID, string(sr.Status)).Inc()
	s.monitor.RecordSuccess(stage.ComponentID)

	s.mu.Lock()
	s.failStreaks[stage.ComponentID] = 0
	s.mu.Unlock()

	if snap, ok := comp.CaptureState(); ok {
		s.engine.Capture(snap)
	}
	return out, sr
}

// recordFailure feeds the breaker and escalates a ticket once the
// consecutive stage-failure budget for the component is spent.
func (s *Scheduler) recordFailure(componentID, reason string) {
	s.monitor.RecordFailure(componentID, reason)

	s.mu.Lock()
	s.failStreaks[componentID]++
	streak := s.failStreaks[componentID]
	budget := s.cfg.FailureBudget
	if streak >= budget {
		s.failStreaks[componentID] = 0
	}
	s.mu.Unlock()

	if streak < budget || s.escalator == nil {
		return
	}

	ticket := &types.Ticket{
		ID:          uuid.New().String(),
		ComponentID: componentID,
		Category:    "stage_failure",
		Description: fmt.Sprintf("component failed %d consecutive pipeline stages, last error: %s", streak, reason),
		Context: map[string]string{
			"consecutive_failures": fmt.Sprintf("%d", streak),
		},
		AttemptedRemedies: []string{"breaker-gated retries across pipeline runs"},
		Status:            types.TicketOpen,
		CreatedAt:         s.now(),
	}
	if err := s.escalator.Submit(ticket); err != nil {
		s.logger.Error().Err(err).
			Str("component_id", componentID).
			Msg("stage failure escalation rejected")
	}
}

func (s *Scheduler) publishRun(topic events.Topic, result *types.RunResult) {
	snapshot := *result
	snapshot.Stages = append([]types.StageResult(nil), result.Stages...)
	s.router.Publish(events.Event{
		Topic:  topic,
		Source: result.PipelineID,
		Run:    &snapshot,
		Fields: map[string]string{"run_id": result.RunID},
	})
}

// installTriggers subscribes event triggers and starts interval tickers
// for every loaded pipeline. Caller must not hold s.mu.
func (s *Scheduler) installTriggers() {
	s.mu.Lock()
	specs := make([]types.PipelineSpec, 0, len(s.pipelines))
	for _, spec := range s.pipelines {
		specs = append(specs, spec)
	}
	s.mu.Unlock()

	var subs []*events.Subscription
	var stops []chan struct{}

	for _, spec := range specs {
		pipelineID := spec.ID
		for _, tr := range spec.Triggers {
			switch {
			case tr.Event != "":
				sub := s.router.Subscribe(tr.Event, func(e events.Event) {
					s.fireTrigger(pipelineID, types.Payload{})
				})
				subs = append(subs, sub)
			case tr.Interval > 0:
				stop := make(chan struct{})
				stops = append(stops, stop)
				go s.intervalLoop(pipelineID, tr.Interval, stop)
			}
		}
	}

	s.mu.Lock()
	s.subs = subs
	s.tickerStops = stops
	s.mu.Unlock()
}

func (s *Scheduler) teardownTriggers() {
	s.mu.Lock()
	subs := s.subs
	stops := s.tickerStops
	s.subs = nil
	s.tickerStops = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	for _, stop := range stops {
		close(stop)
	}
}

func (s *Scheduler) intervalLoop(pipelineID string, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.fireTrigger(pipelineID, types.Payload{})
		case <-stop:
			return
		}
	}
}

// fireTrigger starts a run unless one is already in flight, in which case
// the firing is coalesced
func (s *Scheduler) fireTrigger(pipelineID string, input types.Payload) {
	s.mu.Lock()
	_, busy := s.inFlight[pipelineID]
	s.mu.Unlock()
	if busy {
		metrics.TriggersCoalescedTotal.WithLabelValues(pipelineID).Inc()
		s.logger.Debug().Str("pipeline_id", pipelineID).Msg("trigger coalesced, run in flight")
		return
	}

	go func() {
		if _, err := s.Run(context.Background(), pipelineID, input); err != nil && !errors.Is(err, ErrRunInFlight) {
			s.logger.Error().Err(err).Str("pipeline_id", pipelineID).Msg("triggered run failed to start")
		}
	}()
}
