package diff

import (
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-sys/maestro/pkg/events"
	"github.com/maestro-sys/maestro/pkg/health"
	"github.com/maestro-sys/maestro/pkg/log"
	"github.com/maestro-sys/maestro/pkg/registry"
	"github.com/maestro-sys/maestro/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

type fakeEscalator struct {
	mu      sync.Mutex
	tickets []*types.Ticket
}

func (f *fakeEscalator) Submit(t *types.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets = append(f.tickets, t)
	return nil
}

func (f *fakeEscalator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickets)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func snapshot(id string, version uint64, state types.Payload) types.StateSnapshot {
	return types.StateSnapshot{
		ComponentID: id,
		Version:     version,
		State:       state,
		CapturedAt:  time.Now(),
	}
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *events.Router, *health.Monitor, *fakeEscalator, *clock) {
	t.Helper()
	router := events.NewRouter()
	t.Cleanup(router.Close)
	reg := registry.New(router)
	clk := &clock{t: time.Now()}
	mon := health.NewMonitor(router, reg, health.WithClock(clk.Now))
	esc := &fakeEscalator{}
	engine := NewEngine(router, mon, cfg, WithClock(clk.Now), WithEscalator(esc))
	return engine, router, mon, esc, clk
}

func TestEquivalentSnapshotsProduceNoDiff(t *testing.T) {
	engine, router, _, _, _ := newTestEngine(t, DefaultConfig())

	published := make(chan events.Event, 4)
	sub := router.Subscribe(string(events.TopicStateDiff), func(e events.Event) { published <- e })
	defer sub.Cancel()

	state := types.Payload{"temp": types.IntValue(70), "mode": types.StringValue("idle")}
	engine.SetExpected(snapshot("sensor", 1, state))
	engine.Capture(snapshot("sensor", 2, state.Clone()))

	d := engine.Check("sensor")
	assert.Nil(t, d)

	select {
	case <-published:
		t.Fatal("no event expected for equivalent snapshots")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMissingCriticalKeyIsCritical(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CriticalKeys = map[string]bool{"critical_flag": true}
	engine, _, _, _, _ := newTestEngine(t, cfg)

	engine.SetExpected(snapshot("sensor", 1, types.Payload{
		"temp":          types.IntValue(70),
		"critical_flag": types.BoolValue(true),
	}))
	engine.Capture(snapshot("sensor", 1, types.Payload{
		"temp": types.IntValue(70),
	}))

	d := engine.Check("sensor")
	require.NotNil(t, d)
	assert.Equal(t, types.SeverityCritical, d.Severity)
	require.Len(t, d.Mismatches, 1)
	assert.Equal(t, "critical_flag", d.Mismatches[0].Key)
	assert.Equal(t, types.MismatchMissingKey, d.Mismatches[0].Kind)
}

func TestMissingNonCriticalKeyIsWarning(t *testing.T) {
	engine, _, _, _, _ := newTestEngine(t, DefaultConfig())

	engine.SetExpected(snapshot("sensor", 1, types.Payload{
		"temp": types.IntValue(70),
		"mode": types.StringValue("active"),
	}))
	engine.Capture(snapshot("sensor", 1, types.Payload{
		"temp": types.IntValue(70),
	}))

	d := engine.Check("sensor")
	require.NotNil(t, d)
	assert.Equal(t, types.SeverityWarning, d.Severity)
}

func TestIgnorableOnlyMismatchIsInfoAndUnpublished(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IgnorableKeys = map[string]bool{"last_seen": true}
	engine, router, _, _, _ := newTestEngine(t, cfg)

	published := make(chan events.Event, 4)
	sub := router.Subscribe(string(events.TopicStateDiff), func(e events.Event) { published <- e })
	defer sub.Cancel()

	engine.SetExpected(snapshot("sensor", 1, types.Payload{
		"temp":      types.IntValue(70),
		"last_seen": types.IntValue(100),
	}))
	engine.Capture(snapshot("sensor", 1, types.Payload{
		"temp":      types.IntValue(70),
		"last_seen": types.IntValue(999),
	}))

	d := engine.Check("sensor")
	require.NotNil(t, d)
	assert.Equal(t, types.SeverityInfo, d.Severity)

	select {
	case <-published:
		t.Fatal("info diffs must not be published")
	case <-time.After(50 * time.Millisecond):
	}

	// Archived for audit even though unpublished
	assert.Len(t, engine.Recent("sensor"), 1)
}

func TestThrottleReturnsCachedDiff(t *testing.T) {
	engine, _, _, _, clk := newTestEngine(t, DefaultConfig())

	engine.SetExpected(snapshot("sensor", 1, types.Payload{"temp": types.IntValue(70)}))
	engine.Capture(snapshot("sensor", 1, types.Payload{"temp": types.IntValue(65)}))

	first := engine.Check("sensor")
	require.NotNil(t, first)
	require.Equal(t, 1, engine.Comparisons())

	// Same window: identical cached result, no recomputation
	second := engine.Check("sensor")
	assert.Same(t, first, second)
	assert.Equal(t, 1, engine.Comparisons())

	clk.Advance(6 * time.Second)
	third := engine.Check("sensor")
	require.NotNil(t, third)
	assert.Equal(t, 2, engine.Comparisons())
}

func TestStaleSnapshotVersionDiscarded(t *testing.T) {
	engine, _, _, _, _ := newTestEngine(t, DefaultConfig())

	engine.SetExpected(snapshot("sensor", 1, types.Payload{"temp": types.IntValue(70)}))
	engine.Capture(snapshot("sensor", 5, types.Payload{"temp": types.IntValue(70)}))
	engine.Capture(snapshot("sensor", 3, types.Payload{"temp": types.IntValue(0)}))

	d := engine.Check("sensor")
	assert.Nil(t, d)
}

func TestCriticalDiffSpendsRemedyBudgetThenEscalates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CriticalKeys = map[string]bool{"status": true}
	cfg.RemedyBudget = 2
	cfg.RemedyWindow = time.Hour
	engine, _, mon, esc, clk := newTestEngine(t, cfg)

	engine.SetExpected(snapshot("analyzer", 1, types.Payload{"status": types.StringValue("ok")}))

	for i := 0; i < 2; i++ {
		engine.Capture(snapshot("analyzer", uint64(i+1), types.Payload{"status": types.StringValue("error")}))
		d := engine.Check("analyzer")
		require.NotNil(t, d)
		require.Equal(t, types.SeverityCritical, d.Severity)
		clk.Advance(6 * time.Second)
	}
	assert.Equal(t, 0, esc.count())
	assert.Equal(t, 2, mon.RestartsWithin("analyzer", time.Hour))

	// Budget exhausted: next critical diff raises a ticket
	engine.Capture(snapshot("analyzer", 10, types.Payload{"status": types.StringValue("error")}))
	d := engine.Check("analyzer")
	require.NotNil(t, d)
	require.Equal(t, 1, esc.count())

	ticket := esc.tickets[0]
	assert.Equal(t, "analyzer", ticket.ComponentID)
	assert.Equal(t, "state_mismatch", ticket.Category)
	assert.Equal(t, types.TicketOpen, ticket.Status)
	assert.NotEmpty(t, ticket.AttemptedRemedies)
}

func TestSweepAllChecksEveryComponent(t *testing.T) {
	engine, _, _, _, _ := newTestEngine(t, DefaultConfig())

	for _, id := range []string{"a", "b", "c"} {
		engine.SetExpected(snapshot(id, 1, types.Payload{"k": types.IntValue(1)}))
		engine.Capture(snapshot(id, 1, types.Payload{"k": types.IntValue(2)}))
	}

	engine.SweepAll()
	assert.Equal(t, 3, engine.Comparisons())
	for _, id := range []string{"a", "b", "c"} {
		assert.Len(t, engine.Recent(id), 1)
	}
}
