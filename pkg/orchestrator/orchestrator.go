package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/maestro-sys/maestro/pkg/audit"
	"github.com/maestro-sys/maestro/pkg/broker"
	"github.com/maestro-sys/maestro/pkg/config"
	"github.com/maestro-sys/maestro/pkg/diff"
	"github.com/maestro-sys/maestro/pkg/events"
	"github.com/maestro-sys/maestro/pkg/health"
	"github.com/maestro-sys/maestro/pkg/log"
	"github.com/maestro-sys/maestro/pkg/reasoning"
	"github.com/maestro-sys/maestro/pkg/registry"
	"github.com/maestro-sys/maestro/pkg/scheduler"
	"github.com/maestro-sys/maestro/pkg/types"
	"github.com/maestro-sys/maestro/pkg/worker"
)

const (
	defaultAuditInterval = 10 * time.Second
	defaultPoolSize      = 8
	defaultPoolDepth     = 64
	reloadDebounce       = 250 * time.Millisecond
)

// Options configures orchestrator construction
type Options struct {
	// ConfigPath is the YAML document watched for hot reload; empty
	// disables file configuration entirely
	ConfigPath string

	// AuditInterval is the single periodic timer driving health and diff
	// sweeps
	AuditInterval time.Duration

	// AuditDBPath enables the bolt event archive when non-empty
	AuditDBPath string

	// Reasoning is the external problem-solving service; nil disables
	// escalation (tickets are logged and dropped by a nil broker)
	Reasoning reasoning.Service

	// Validator is the optional stage output validation hook
	Validator types.Validator
}

// Orchestrator owns the coordination core: it wires the registry, event
// router, health monitor, diff engine, scheduler, and broker together,
// runs the audit timer, and applies configuration reloads.
type Orchestrator struct {
	logger zerolog.Logger
	opts   Options

	router  *events.Router
	reg     *registry.Registry
	monitor *health.Monitor
	engine  *diff.Engine
	pool    *worker.Pool
	sched   *scheduler.Scheduler
	brk     *broker.Broker
	archive *audit.Archive

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New constructs the orchestrator and wires all services. The initial
// configuration file, when set, is loaded before New returns so a bad
// document fails startup instead of the first reload.
func New(opts Options) (*Orchestrator, error) {
	if opts.AuditInterval <= 0 {
		opts.AuditInterval = defaultAuditInterval
	}

	o := &Orchestrator{
		logger: log.WithSubsystem("orchestrator"),
		opts:   opts,
		stopCh: make(chan struct{}),
	}

	o.router = events.NewRouter()
	o.reg = registry.New(o.router)
	o.monitor = health.NewMonitor(o.router, o.reg)
	o.pool = worker.NewPool("maestro", defaultPoolSize, defaultPoolDepth)

	if opts.Reasoning != nil {
		o.brk = broker.New(o.router, opts.Reasoning, o.pool, broker.DefaultConfig())
	}

	diffOpts := []diff.Option{}
	if o.brk != nil {
		diffOpts = append(diffOpts, diff.WithEscalator(o.brk))
	}
	o.engine = diff.NewEngine(o.router, o.monitor, diff.DefaultConfig(), diffOpts...)

	schedOpts := []scheduler.Option{}
	if o.brk != nil {
		schedOpts = append(schedOpts, scheduler.WithEscalator(o.brk))
	}
	if opts.Validator != nil {
		schedOpts = append(schedOpts, scheduler.WithValidator(opts.Validator))
	}
	o.sched = scheduler.New(o.router, o.reg, o.monitor, o.engine, o.pool, scheduler.DefaultConfig(), schedOpts...)

	if opts.AuditDBPath != "" {
		archive, err := audit.Open(opts.AuditDBPath)
		if err != nil {
			o.teardown()
			return nil, err
		}
		o.archive = archive
		archive.Attach(o.router)
	}

	if opts.ConfigPath != "" {
		doc, err := config.LoadFile(opts.ConfigPath)
		if err != nil {
			o.teardown()
			return nil, fmt.Errorf("initial config: %w", err)
		}
		if err := o.apply(doc); err != nil {
			o.teardown()
			return nil, err
		}
	}

	return o, nil
}

// Start begins trigger handling, the audit timer, the remedy event loop,
// and the config watch
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = true
	o.mu.Unlock()

	o.subscribeRemedies()
	o.sched.Start()

	o.wg.Add(1)
	go o.auditLoop()

	if o.opts.ConfigPath != "" {
		if err := o.watchConfig(); err != nil {
			o.logger.Warn().Err(err).Msg("config watch unavailable, hot reload disabled")
		}
	}

	o.logger.Info().Msg("orchestrator started")
	return nil
}

// Stop shuts the core down: triggers first so nothing new is scheduled,
// then the broker, the pool, and finally the router and archive.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = false
	o.mu.Unlock()

	close(o.stopCh)
	if o.watcher != nil {
		o.watcher.Close()
	}
	o.sched.Stop()
	o.wg.Wait()
	o.teardown()

	o.logger.Info().Msg("orchestrator stopped")
	return nil
}

func (o *Orchestrator) teardown() {
	if o.brk != nil {
		o.brk.Close()
	}
	o.pool.Stop()
	if o.archive != nil {
		if err := o.archive.Close(); err != nil {
			o.logger.Error().Err(err).Msg("audit archive close failed")
		}
	}
	o.router.Close()
}

// Register adds a component to the core
func (o *Orchestrator) Register(c types.Component) error {
	return o.reg.Register(c)
}

// Deregister removes a component from the core
func (o *Orchestrator) Deregister(id string) error {
	return o.reg.Deregister(id)
}

// Heartbeat records component liveness
func (o *Orchestrator) Heartbeat(id string) error {
	return o.reg.Heartbeat(id)
}

// Run triggers a pipeline manually
func (o *Orchestrator) Run(ctx context.Context, pipelineID string, input types.Payload) (*types.RunResult, error) {
	return o.sched.Run(ctx, pipelineID, input)
}

// Cancel requests cancellation of an in-flight run
func (o *Orchestrator) Cancel(runID string) error {
	return o.sched.Cancel(runID)
}

// Components lists registered component descriptors
func (o *Orchestrator) Components() []types.Descriptor {
	return o.reg.List()
}

// Health returns the health record for one component
func (o *Orchestrator) Health(id string) (types.HealthRecord, bool) {
	return o.monitor.Record(id)
}

// Tickets lists problem tickets, oldest first. Nil without a reasoning
// service.
func (o *Orchestrator) Tickets() []types.Ticket {
	if o.brk == nil {
		return nil
	}
	return o.brk.Tickets()
}

// Diffs returns archived state diffs for one component
func (o *Orchestrator) Diffs(id string) []types.StateDiff {
	return o.engine.Recent(id)
}

// Subscribe attaches an external consumer to the event stream
func (o *Orchestrator) Subscribe(pattern string, handler events.Handler) *events.Subscription {
	return o.router.Subscribe(pattern, handler)
}

// subscribeRemedies installs the remedy event loop: failed health checks
// attempt a warm restart, and critical state diffs are already routed by
// the diff engine itself.
func (o *Orchestrator) subscribeRemedies() {
	o.router.Subscribe(string(events.TopicHealthCheckFailed), func(e events.Event) {
		o.logger.Warn().Str("component_id", e.Source).Msg("health check failed, attempting warm restart")
		o.monitor.WarmRestart(e.Source)
	})

	o.router.Subscribe(string(events.TopicComponentIsolated), func(e events.Event) {
		// Scheduling already drops isolated components at the breaker;
		// this is the audit trail entry
		o.logger.Warn().Str("component_id", e.Source).Msg("component isolated from scheduling")
	})
}

// auditLoop is the single periodic timer: every tick sweeps health
// records and runs a throttled diff check across all components
func (o *Orchestrator) auditLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.opts.AuditInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.monitor.Sweep()
			o.engine.SweepAll()
		case <-o.stopCh:
			return
		}
	}
}

// watchConfig reloads the YAML document when it changes on disk. Editors
// and config mounts replace files rather than rewriting them, so the
// parent directory is watched and events are debounced.
func (o *Orchestrator) watchConfig() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(o.opts.ConfigPath)); err != nil {
		watcher.Close()
		return err
	}
	o.watcher = watcher

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		var debounce *time.Timer
		debounceCh := make(chan struct{}, 1)

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(o.opts.ConfigPath) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() {
					select {
					case debounceCh <- struct{}{}:
					default:
					}
				})
			case <-debounceCh:
				o.reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				o.logger.Error().Err(err).Msg("config watcher error")
			case <-o.stopCh:
				return
			}
		}
	}()
	return nil
}

// reload re-parses the document and swaps the new configuration in. A
// document that fails to parse or validate leaves the running
// configuration untouched.
func (o *Orchestrator) reload() {
	doc, err := config.LoadFile(o.opts.ConfigPath)
	if err != nil {
		o.logger.Error().Err(err).Str("path", o.opts.ConfigPath).Msg("config reload rejected")
		return
	}
	if err := o.apply(doc); err != nil {
		o.logger.Error().Err(err).Msg("config reload rejected")
		return
	}
	o.logger.Info().Str("path", o.opts.ConfigPath).Msg("configuration reloaded")
}

// apply swaps a validated document into every subsystem
func (o *Orchestrator) apply(doc *config.File) error {
	if err := o.sched.Load(doc.PipelineSpecs()); err != nil {
		return err
	}
	o.sched.SetConfig(doc.SchedulerConfigValue())
	o.monitor.SetDefaults(doc.BreakerDefaults())
	o.monitor.SetOverrides(doc.BreakerOverrides())
	o.engine.SetConfig(doc.DiffEngineConfig())
	if o.brk != nil {
		o.brk.SetConfig(doc.BrokerConfigValue())
	}
	return nil
}
