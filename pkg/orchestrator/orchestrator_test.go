package orchestrator

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-sys/maestro/pkg/events"
	"github.com/maestro-sys/maestro/pkg/log"
	"github.com/maestro-sys/maestro/pkg/reasoning"
	"github.com/maestro-sys/maestro/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

const testConfig = `
pipelines:
  - id: analysis
    mode: sequential
    stages:
      - component: doubler
        critical: true

scheduler:
  stage_timeout: 5s
  failure_budget: 1
`

// echoComponent doubles the "n" input key, or fails when told to
type echoComponent struct {
	id string

	mu   sync.Mutex
	fail bool
}

func (c *echoComponent) ID() string             { return c.id }
func (c *echoComponent) Name() string           { return c.id }
func (c *echoComponent) Capabilities() []string { return nil }

func (c *echoComponent) Initialize(context.Context) error { return nil }
func (c *echoComponent) Start(context.Context) error      { return nil }
func (c *echoComponent) Stop(context.Context) error       { return nil }

func (c *echoComponent) Execute(_ context.Context, input types.Payload) (types.Payload, error) {
	c.mu.Lock()
	fail := c.fail
	c.mu.Unlock()
	if fail {
		return nil, errors.New("synthetic failure")
	}
	out := input.Clone()
	if v, ok := out["n"]; ok {
		out["n"] = types.IntValue(v.Int * 2)
	}
	return out, nil
}

func (c *echoComponent) setFail(fail bool) {
	c.mu.Lock()
	c.fail = fail
	c.mu.Unlock()
}

func (c *echoComponent) CaptureState() (types.StateSnapshot, bool) {
	return types.StateSnapshot{}, false
}
func (c *echoComponent) Heartbeat()      {}
func (c *echoComponent) IsHealthy() bool { return true }

// staticService always answers with the same remedy
type staticService struct{ remedy string }

func (s *staticService) Solve(context.Context, reasoning.Problem) (string, error) {
	return s.remedy, nil
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "maestro.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func newTestOrchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	o, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, o.Start())
	t.Cleanup(func() { o.Stop() })
	return o
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
	t.Fatal("condition never met")
}

func TestRunPipelineFromConfigFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), testConfig)
	o := newTestOrchestrator(t, Options{ConfigPath: path})

	comp := &echoComponent{id: "doubler"}
	require.NoError(t, o.Register(comp))

	result, err := o.Run(context.Background(), "analysis", types.Payload{"n": types.IntValue(21)})
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, result.Status)
	assert.Equal(t, int64(42), result.Output["n"].Int)

	descs := o.Components()
	require.Len(t, descs, 1)
	assert.Equal(t, "doubler", descs[0].ID)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "pipelines:\n  - id: broken\n    mode: sideways\n")
	_, err := New(Options{ConfigPath: path})
	require.Error(t, err)
}

func TestReloadKeepsRunningConfigOnBadDocument(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, testConfig)
	o := newTestOrchestrator(t, Options{ConfigPath: path})

	comp := &echoComponent{id: "doubler"}
	require.NoError(t, o.Register(comp))

	require.NoError(t, os.WriteFile(path, []byte("pipelines: [misconfigured"), 0o644))
	o.reload()

	// The broken document was rejected; the loaded pipeline still runs
	result, err := o.Run(context.Background(), "analysis", types.Payload{"n": types.IntValue(1)})
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, result.Status)
}

func TestReloadSwapsPipelines(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, testConfig)
	o := newTestOrchestrator(t, Options{ConfigPath: path})

	comp := &echoComponent{id: "doubler"}
	require.NoError(t, o.Register(comp))

	updated := `
pipelines:
  - id: replay
    mode: sequential
    stages:
      - component: doubler
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	o.reload()

	_, err := o.Run(context.Background(), "analysis", nil)
	require.Error(t, err)

	result, err := o.Run(context.Background(), "replay", types.Payload{"n": types.IntValue(2)})
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, result.Status)
}

func TestHealthCheckFailureTriggersWarmRestart(t *testing.T) {
	o := newTestOrchestrator(t, Options{})

	comp := &echoComponent{id: "sensor"}
	require.NoError(t, o.Register(comp))

	o.router.Publish(events.Event{Topic: events.TopicHealthCheckFailed, Source: "sensor"})

	waitFor(t, func() bool {
		rec, ok := o.Health("sensor")
		return ok && rec.RestartCount == 1
	})
}

func TestRepeatedFailureEscalatesTicket(t *testing.T) {
	path := writeConfig(t, t.TempDir(), testConfig)
	o := newTestOrchestrator(t, Options{
		ConfigPath: path,
		Reasoning:  &staticService{remedy: "restart the doubler"},
	})

	comp := &echoComponent{id: "doubler"}
	require.NoError(t, o.Register(comp))
	comp.setFail(true)

	result, err := o.Run(context.Background(), "analysis", nil)
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, result.Status)

	waitFor(t, func() bool {
		tickets := o.Tickets()
		return len(tickets) == 1 && tickets[0].Status == types.TicketResolved
	})
	assert.Equal(t, "restart the doubler", o.Tickets()[0].Remedy)
}

func TestTicketsNilWithoutReasoningService(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	assert.Nil(t, o.Tickets())
}

func TestSubscribeDeliversPipelineEvents(t *testing.T) {
	path := writeConfig(t, t.TempDir(), testConfig)
	o := newTestOrchestrator(t, Options{ConfigPath: path})

	comp := &echoComponent{id: "doubler"}
	require.NoError(t, o.Register(comp))

	var mu sync.Mutex
	var topics []events.Topic
	o.Subscribe("pipeline.*", func(e events.Event) {
		mu.Lock()
		topics = append(topics, e.Topic)
		mu.Unlock()
	})

	_, err := o.Run(context.Background(), "analysis", nil)
	require.NoError(t, err)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(topics) >= 2
	})
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, events.TopicPipelineStarted, topics[0])
	assert.Equal(t, events.TopicPipelineCompleted, topics[1])
}

func TestAuditArchiveLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, testConfig)
	dbPath := filepath.Join(dir, "audit.db")

	o, err := New(Options{ConfigPath: path, AuditDBPath: dbPath})
	require.NoError(t, err)
	require.NoError(t, o.Start())

	comp := &echoComponent{id: "doubler"}
	require.NoError(t, o.Register(comp))
	_, err = o.Run(context.Background(), "analysis", nil)
	require.NoError(t, err)

	require.NoError(t, o.Stop())

	info, err := os.Stat(dbPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestStopIsIdempotent(t *testing.T) {
	o, err := New(Options{})
	require.NoError(t, err)
	require.NoError(t, o.Start())
	require.NoError(t, o.Stop())
	require.NoError(t, o.Stop())
}
