package health

import (
	"sync"
	"time"

	"github.com/maestro-sys/maestro/pkg/types"
)

// BreakerState represents the circuit breaker state machine position
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerHalfOpen:
		return "half_open"
	case BreakerOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes one component's circuit breaker
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the breaker
	Threshold int

	// Cooldown is the initial open duration before a trial is allowed
	Cooldown time.Duration

	// MaxCooldown bounds the doubling backoff on repeated trial failures
	MaxCooldown time.Duration
}

// DefaultBreakerConfig returns the breaker defaults
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:   5,
		Cooldown:    60 * time.Second,
		MaxCooldown: 10 * time.Minute,
	}
}

// breaker is the per-component failure-isolation state machine. One instance
// per component, created lazily on first execution; owned exclusively by the
// Monitor.
type breaker struct {
	mu            sync.Mutex
	cfg           BreakerConfig
	state         BreakerState
	failures      int
	cooldown      time.Duration
	deadline      time.Time
	trialInFlight bool
	now           func() time.Time
}

func newBreaker(cfg BreakerConfig, now func() time.Time) *breaker {
	return &breaker{
		cfg:      cfg,
		cooldown: cfg.Cooldown,
		now:      now,
	}
}

// allow reports whether an execution may proceed. While OPEN and inside the
// cooldown it returns ErrCircuitOpen without running any component code.
// Once the deadline passes the breaker becomes HALF_OPEN and admits exactly
// one trial execution regardless of how many callers attempt concurrently.
func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Before(b.deadline) {
			return types.ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.trialInFlight = true
		return nil
	case BreakerHalfOpen:
		if b.trialInFlight {
			return types.ErrCircuitOpen
		}
		b.trialInFlight = true
		return nil
	}
	return nil
}

// recordSuccess resets the failure counter in CLOSED state and closes the
// breaker after a successful HALF_OPEN trial. Returns true if the breaker
// transitioned out of isolation.
func (b *breaker) recordSuccess() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
		return false
	case BreakerHalfOpen:
		b.state = BreakerClosed
		b.failures = 0
		b.cooldown = b.cfg.Cooldown
		b.trialInFlight = false
		return true
	}
	return false
}

// recordFailure advances the state machine on a failed execution. Returns
// true if the breaker opened as a result.
func (b *breaker) recordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.cfg.Threshold {
			b.state = BreakerOpen
			b.deadline = b.now().Add(b.cooldown)
			return true
		}
		return false
	case BreakerHalfOpen:
		// Failed trial: reopen and double the cooldown for backoff
		b.state = BreakerOpen
		b.cooldown *= 2
		if b.cfg.MaxCooldown > 0 && b.cooldown > b.cfg.MaxCooldown {
			b.cooldown = b.cfg.MaxCooldown
		}
		b.deadline = b.now().Add(b.cooldown)
		b.trialInFlight = false
		return true
	}
	return false
}

// abortTrial releases the HALF_OPEN trial slot when the admitted execution
// was discarded before producing an outcome. The breaker stays HALF_OPEN so
// the next caller is admitted as the trial.
func (b *breaker) abortTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen {
		b.trialInFlight = false
	}
}

// reset forces the breaker back to CLOSED, clearing all failure history
func (b *breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.cooldown = b.cfg.Cooldown
	b.trialInFlight = false
}

// currentState returns the state, promoting OPEN to HALF_OPEN if the
// cooldown deadline has passed
func (b *breaker) currentState() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && !b.now().Before(b.deadline) {
		return BreakerHalfOpen
	}
	return b.state
}
