package registry

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-sys/maestro/pkg/events"
	"github.com/maestro-sys/maestro/pkg/log"
	"github.com/maestro-sys/maestro/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

type fakeComponent struct {
	id   string
	name string
	caps []string
}

func (f *fakeComponent) ID() string             { return f.id }
func (f *fakeComponent) Name() string           { return f.name }
func (f *fakeComponent) Capabilities() []string { return f.caps }

func (f *fakeComponent) Initialize(context.Context) error { return nil }
func (f *fakeComponent) Start(context.Context) error      { return nil }
func (f *fakeComponent) Stop(context.Context) error       { return nil }

func (f *fakeComponent) Execute(_ context.Context, input types.Payload) (types.Payload, error) {
	return input, nil
}

func (f *fakeComponent) CaptureState() (types.StateSnapshot, bool) {
	return types.StateSnapshot{}, false
}

func (f *fakeComponent) Heartbeat()      {}
func (f *fakeComponent) IsHealthy() bool { return true }

func newTestRegistry() (*Registry, *events.Router) {
	router := events.NewRouter()
	return New(router), router
}

func TestRegisterAndGet(t *testing.T) {
	reg, router := newTestRegistry()
	defer router.Close()

	err := reg.Register(&fakeComponent{id: "voice-recognizer", name: "Voice Recognizer", caps: []string{"voice"}})
	require.NoError(t, err)

	desc, err := reg.Get("voice-recognizer")
	require.NoError(t, err)
	assert.Equal(t, "Voice Recognizer", desc.Name)
	assert.Equal(t, types.LifecycleRegistered, desc.Lifecycle)
	assert.False(t, desc.LastHeartbeat.IsZero())
	assert.Equal(t, 1, reg.Count())
}

func TestRegisterDuplicateFails(t *testing.T) {
	reg, router := newTestRegistry()
	defer router.Close()

	require.NoError(t, reg.Register(&fakeComponent{id: "a"}))
	err := reg.Register(&fakeComponent{id: "a"})
	assert.ErrorIs(t, err, types.ErrDuplicateComponent)
}

func TestDeregisterUnknownFails(t *testing.T) {
	reg, router := newTestRegistry()
	defer router.Close()

	err := reg.Deregister("ghost")
	assert.ErrorIs(t, err, types.ErrUnknownComponent)
}

func TestDeregisterRemovesCapabilityIndex(t *testing.T) {
	reg, router := newTestRegistry()
	defer router.Close()

	require.NoError(t, reg.Register(&fakeComponent{id: "a", caps: []string{"analysis"}}))
	require.NoError(t, reg.Deregister("a"))

	assert.Empty(t, reg.ComponentsByCapability("analysis"))
	assert.Equal(t, 0, reg.Count())
}

func TestHeartbeatUpdatesLastSeen(t *testing.T) {
	reg, router := newTestRegistry()
	defer router.Close()

	require.NoError(t, reg.Register(&fakeComponent{id: "a"}))
	before, _ := reg.Get("a")

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, reg.Heartbeat("a"))
	require.NoError(t, reg.Heartbeat("a")) // idempotent

	after, _ := reg.Get("a")
	assert.True(t, after.LastHeartbeat.After(before.LastHeartbeat))

	assert.ErrorIs(t, reg.Heartbeat("ghost"), types.ErrUnknownComponent)
}

func TestListReturnsSnapshotCopies(t *testing.T) {
	reg, router := newTestRegistry()
	defer router.Close()

	require.NoError(t, reg.Register(&fakeComponent{id: "a", caps: []string{"x"}}))

	listed := reg.List()
	require.Len(t, listed, 1)
	listed[0].Lifecycle = types.LifecycleStopped
	listed[0].Capabilities[0] = "mutated"

	desc, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, types.LifecycleRegistered, desc.Lifecycle)
	assert.Equal(t, []string{"x"}, desc.Capabilities)
}

func TestListWithCapabilityFilter(t *testing.T) {
	reg, router := newTestRegistry()
	defer router.Close()

	require.NoError(t, reg.Register(&fakeComponent{id: "a", caps: []string{"voice"}}))
	require.NoError(t, reg.Register(&fakeComponent{id: "b", caps: []string{"screen"}}))
	require.NoError(t, reg.Register(&fakeComponent{id: "c", caps: []string{"voice", "screen"}}))

	voice := reg.List("voice")
	assert.Len(t, voice, 2)

	none := reg.List("tutoring")
	assert.Empty(t, none)

	all := reg.List()
	assert.Len(t, all, 3)
}

func TestLifecycleEventsPublished(t *testing.T) {
	reg, router := newTestRegistry()
	defer router.Close()

	got := make(chan events.Event, 8)
	sub := router.Subscribe("component.*", func(e events.Event) { got <- e })
	defer sub.Cancel()

	require.NoError(t, reg.Register(&fakeComponent{id: "a", name: "A"}))
	require.NoError(t, reg.SetLifecycle("a", types.LifecycleRunning))
	require.NoError(t, reg.SetLifecycle("a", types.LifecycleRunning)) // no-op, no event
	require.NoError(t, reg.Deregister("a"))

	expectTopic := func(topic events.Topic) events.Event {
		select {
		case e := <-got:
			assert.Equal(t, topic, e.Topic)
			return e
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", topic)
			return events.Event{}
		}
	}

	expectTopic(events.TopicComponentRegistered)
	running := expectTopic(events.TopicComponentLifecycle)
	assert.Equal(t, string(types.LifecycleRunning), running.Fields["lifecycle"])
	gone := expectTopic(events.TopicComponentLifecycle)
	assert.Equal(t, string(types.LifecycleUnregistered), gone.Fields["lifecycle"])
}
