package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/maestro-sys/maestro/pkg/log"
)

// ErrQueueFull is returned by Submit when the pending queue is at capacity.
var ErrQueueFull = errors.New("worker queue full")

// ErrPoolStopped is returned by Submit after Stop has been called.
var ErrPoolStopped = errors.New("worker pool stopped")

const (
	defaultSize       = 3
	defaultQueueDepth = 16
)

// Task is one unit of background work. The context is cancelled when the
// pool stops, so long tasks must watch it.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed set of goroutines with a bounded pending
// queue. Submission never blocks: callers get ErrQueueFull as the
// back-pressure signal instead.
type Pool struct {
	logger zerolog.Logger
	name   string

	queue  chan Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	started  bool
	stopped  bool
	inFlight int
}

// NewPool creates a pool with the given worker count and queue depth.
// Non-positive values fall back to defaults.
func NewPool(name string, size, queueDepth int) *Pool {
	if size <= 0 {
		size = defaultSize
	}
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		logger: log.WithSubsystem("worker").With().Str("pool", name).Logger(),
		name:   name,
		queue:  make(chan Task, queueDepth),
		ctx:    ctx,
		cancel: cancel,
	}
	p.start(size)
	return p
}

func (p *Pool) start(size int) {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()

	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.run()
	}
	p.logger.Debug().Int("workers", size).Msg("worker pool started")
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		select {
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.invoke(task)
		case <-p.ctx.Done():
			return
		}
	}
}

// invoke runs one task with panic isolation so a faulty task cannot take
// down its worker goroutine.
func (p *Pool) invoke(task Task) {
	p.mu.Lock()
	p.inFlight++
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("task panicked")
		}
	}()

	task(p.ctx)
}

// Submit enqueues a task. Returns ErrQueueFull when the queue is at
// capacity and ErrPoolStopped after Stop.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrPoolStopped
	}

	// Non-blocking send under the lock so Stop cannot close the queue
	// between the stopped check and the enqueue.
	select {
	case p.queue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of tasks waiting in the queue.
func (p *Pool) Pending() int {
	return len(p.queue)
}

// InFlight returns the number of tasks currently executing.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// Stop cancels the pool context and waits for workers to finish their
// current task. Queued tasks that have not started are abandoned.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.cancel()
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Debug().Msg("worker pool stopped")
}
