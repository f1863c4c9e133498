package worker

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-sys/maestro/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := NewPool("test", 2, 8)
	defer p.Stop()

	var count atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		err := p.Submit(func(ctx context.Context) {
			defer wg.Done()
			count.Add(1)
		})
		require.NoError(t, err)
	}
	wg.Wait()
	assert.Equal(t, int32(5), count.Load())
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool("test", 2, 16)
	defer p.Stop()

	var active, peak atomic.Int32
	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		err := p.Submit(func(ctx context.Context) {
			defer wg.Done()
			cur := active.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			<-release
			active.Add(-1)
		})
		require.NoError(t, err)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	p := NewPool("test", 1, 2)
	defer p.Stop()

	block := make(chan struct{})
	defer close(block)

	// Occupy the single worker, then fill the queue
	require.NoError(t, p.Submit(func(ctx context.Context) { <-block }))
	waitFor(t, func() bool { return p.InFlight() == 1 })
	require.NoError(t, p.Submit(func(ctx context.Context) {}))
	require.NoError(t, p.Submit(func(ctx context.Context) {}))

	err := p.Submit(func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestSubmitAfterStop(t *testing.T) {
	p := NewPool("test", 1, 2)
	p.Stop()

	err := p.Submit(func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestStopWaitsForInFlightTask(t *testing.T) {
	p := NewPool("test", 1, 2)

	var done atomic.Bool
	require.NoError(t, p.Submit(func(ctx context.Context) {
		time.Sleep(30 * time.Millisecond)
		done.Store(true)
	}))
	waitFor(t, func() bool { return p.InFlight() == 1 })

	p.Stop()
	assert.True(t, done.Load())
}

func TestTaskPanicDoesNotKillWorker(t *testing.T) {
	p := NewPool("test", 1, 4)
	defer p.Stop()

	require.NoError(t, p.Submit(func(ctx context.Context) { panic("boom") }))

	var ran atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, p.Submit(func(ctx context.Context) {
		defer wg.Done()
		ran.Store(true)
	}))
	wg.Wait()
	assert.True(t, ran.Load())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
