package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/maestro-sys/maestro/pkg/events"
	"github.com/maestro-sys/maestro/pkg/log"
	"github.com/maestro-sys/maestro/pkg/metrics"
	"github.com/maestro-sys/maestro/pkg/reasoning"
	"github.com/maestro-sys/maestro/pkg/types"
	"github.com/maestro-sys/maestro/pkg/worker"
)

const (
	defaultConcurrency    = 3
	defaultQueueDepth     = 16
	defaultMaxAttempts    = 3
	defaultCooldown       = 5 * time.Minute
	defaultRateInterval   = time.Second
	defaultRateBurst      = 1
	defaultBackoffInitial = 2 * time.Second
	defaultBackoffMax     = 30 * time.Second
)

// Config tunes escalation handling
type Config struct {
	// Concurrency bounds how many reasoning requests run at once
	Concurrency int

	// QueueDepth bounds accepted-but-not-finished tickets; beyond it
	// Submit fails fast with ErrBrokerOverloaded
	QueueDepth int

	// MaxAttempts is the retry budget per ticket against the service
	MaxAttempts int

	// Cooldown is the per-component window: the same component escalates
	// at most once inside it, later submissions are dropped
	Cooldown time.Duration

	// RateInterval/RateBurst shape the request rate against the service
	RateInterval time.Duration
	RateBurst    int

	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// DefaultConfig returns broker defaults
func DefaultConfig() Config {
	return Config{
		Concurrency:    defaultConcurrency,
		QueueDepth:     defaultQueueDepth,
		MaxAttempts:    defaultMaxAttempts,
		Cooldown:       defaultCooldown,
		RateInterval:   defaultRateInterval,
		RateBurst:      defaultRateBurst,
		BackoffInitial: defaultBackoffInitial,
		BackoffMax:     defaultBackoffMax,
	}
}

// Broker accepts escalated problem tickets and resolves them against the
// external reasoning service with bounded concurrency, retries, and
// per-component cooldown.
type Broker struct {
	logger  zerolog.Logger
	router  *events.Router
	service reasoning.Service
	pool    *worker.Pool
	limiter *rate.Limiter
	sema    chan struct{}
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	cfg            Config
	tickets        map[string]*types.Ticket
	pending        int
	lastEscalation map[string]time.Time
}

// Option customizes broker behavior
type Option func(*Broker)

// WithClock overrides the time source for tests
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// New creates a broker. The pool is the shared execution pool; the
// broker's own concurrency bound applies on top of the pool size.
func New(router *events.Router, service reasoning.Service, pool *worker.Pool, cfg Config, opts ...Option) *Broker {
	cfg = withDefaults(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		logger:         log.WithSubsystem("broker"),
		router:         router,
		service:        service,
		pool:           pool,
		limiter:        rate.NewLimiter(rate.Every(cfg.RateInterval), cfg.RateBurst),
		sema:           make(chan struct{}, cfg.Concurrency),
		now:            time.Now,
		ctx:            ctx,
		cancel:         cancel,
		cfg:            cfg,
		tickets:        make(map[string]*types.Ticket),
		lastEscalation: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func withDefaults(cfg Config) Config {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.RateInterval <= 0 {
		cfg.RateInterval = defaultRateInterval
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = defaultBackoffInitial
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}
	return cfg
}

// Submit accepts a ticket for resolution. The same component is accepted
// at most once per cooldown window; repeats inside it are dropped
// silently. A full queue fails fast with ErrBrokerOverloaded.
func (b *Broker) Submit(ticket *types.Ticket) error {
	b.mu.Lock()

	now := b.now()
	if last, ok := b.lastEscalation[ticket.ComponentID]; ok && now.Sub(last) < b.cfg.Cooldown {
		b.mu.Unlock()
		b.logger.Debug().
			Str("component_id", ticket.ComponentID).
			Str("ticket_id", ticket.ID).
			Msg("escalation inside cooldown window, dropped")
		return nil
	}

	if b.pending >= b.cfg.QueueDepth {
		b.mu.Unlock()
		return fmt.Errorf("%w: %d tickets pending", types.ErrBrokerOverloaded, b.cfg.QueueDepth)
	}

	stored := cloneTicket(ticket)
	stored.Status = types.TicketOpen
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	b.tickets[stored.ID] = stored
	b.lastEscalation[ticket.ComponentID] = now
	b.pending++
	metrics.TicketQueueDepth.Set(float64(b.pending))
	b.mu.Unlock()

	b.logger.Info().
		Str("ticket_id", stored.ID).
		Str("component_id", stored.ComponentID).
		Str("category", stored.Category).
		Msg("ticket accepted")
	b.publishTicket(events.TopicProblemSubmitted, cloneTicket(stored))

	b.wg.Add(1)
	if err := b.pool.Submit(func(context.Context) { b.process(stored.ID) }); err != nil {
		// Shared pool saturated: the ticket still runs, on its own goroutine
		go b.process(stored.ID)
	}
	return nil
}

// process resolves one ticket. Runs under the broker concurrency bound.
func (b *Broker) process(ticketID string) {
	defer b.wg.Done()

	select {
	case b.sema <- struct{}{}:
	case <-b.ctx.Done():
		b.finish(ticketID, types.TicketFailed, "")
		return
	}
	defer func() { <-b.sema }()

	b.mu.Lock()
	ticket, ok := b.tickets[ticketID]
	if !ok {
		b.mu.Unlock()
		return
	}
	ticket.Status = types.TicketInProgress
	problem := reasoning.ProblemFromTicket(ticket)
	cfg := b.cfg
	b.mu.Unlock()

	remedy, err := b.solve(problem, cfg)
	if err != nil {
		b.logger.Warn().Err(err).
			Str("ticket_id", ticketID).
			Str("component_id", problem.ComponentID).
			Msg("ticket unresolved")
		b.finish(ticketID, types.TicketFailed, "")
		return
	}
	b.finish(ticketID, types.TicketResolved, remedy)
}

// solve calls the reasoning service with rate limiting and exponential
// backoff. Every service error, including empty or malformed responses,
// is retryable until the attempt budget runs out.
func (b *Broker) solve(problem reasoning.Problem, cfg Config) (string, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.BackoffInitial
	policy.MaxInterval = cfg.BackoffMax
	policy.Reset()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := b.limiter.Wait(b.ctx); err != nil {
			return "", err
		}

		remedy, err := b.service.Solve(b.ctx, problem)
		if err == nil {
			return remedy, nil
		}
		lastErr = err

		b.logger.Debug().Err(err).
			Str("component_id", problem.ComponentID).
			Int("attempt", attempt).
			Msg("reasoning attempt failed")

		if attempt == cfg.MaxAttempts {
			break
		}
		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		select {
		case <-time.After(wait):
		case <-b.ctx.Done():
			return "", b.ctx.Err()
		}
	}
	return "", lastErr
}

// finish records the terminal ticket status and publishes the outcome
func (b *Broker) finish(ticketID string, status types.TicketStatus, remedy string) {
	b.mu.Lock()
	ticket, ok := b.tickets[ticketID]
	if !ok {
		b.mu.Unlock()
		return
	}
	ticket.Status = status
	ticket.Remedy = remedy
	ticket.ResolvedAt = b.now()
	b.pending--
	metrics.TicketQueueDepth.Set(float64(b.pending))
	snapshot := cloneTicket(ticket)
	b.mu.Unlock()

	metrics.TicketsTotal.WithLabelValues(string(status)).Inc()

	switch status {
	case types.TicketResolved:
		b.logger.Info().
			Str("ticket_id", ticketID).
			Str("component_id", snapshot.ComponentID).
			Msg("ticket resolved")
		b.publishTicket(events.TopicProblemResolved, snapshot)
	case types.TicketFailed:
		b.publishTicket(events.TopicProblemUnresolved, snapshot)
	}
}

// Tickets returns all tickets ordered by creation time, oldest first
func (b *Broker) Tickets() []types.Ticket {
	b.mu.Lock()
	out := make([]types.Ticket, 0, len(b.tickets))
	for _, t := range b.tickets {
		out = append(out, *cloneTicket(t))
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Ticket returns one ticket by id
func (b *Broker) Ticket(id string) (types.Ticket, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tickets[id]
	if !ok {
		return types.Ticket{}, false
	}
	return *cloneTicket(t), true
}

// SetConfig replaces broker tunables on config reload. Concurrency and
// queue depth stay fixed for the broker's lifetime.
func (b *Broker) SetConfig(cfg Config) {
	cfg = withDefaults(cfg)
	b.mu.Lock()
	cfg.Concurrency = b.cfg.Concurrency
	cfg.QueueDepth = b.cfg.QueueDepth
	b.cfg = cfg
	b.mu.Unlock()
	b.limiter.SetLimit(rate.Every(cfg.RateInterval))
	b.limiter.SetBurst(cfg.RateBurst)
}

// Close stops accepting work and waits for in-flight tickets to finish
// their current attempt
func (b *Broker) Close() {
	b.cancel()
	b.wg.Wait()
}

func (b *Broker) publishTicket(topic events.Topic, ticket *types.Ticket) {
	b.router.Publish(events.Event{
		Topic:  topic,
		Source: ticket.ComponentID,
		Ticket: ticket,
		Fields: map[string]string{"category": ticket.Category},
	})
}

func cloneTicket(t *types.Ticket) *types.Ticket {
	c := *t
	if t.Context != nil {
		c.Context = make(map[string]string, len(t.Context))
		for k, v := range t.Context {
			c.Context[k] = v
		}
	}
	c.AttemptedRemedies = append([]string(nil), t.AttemptedRemedies...)
	return &c
}
