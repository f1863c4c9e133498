package audit

import (
	"io"
	"os"
	"path/filepath"
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

func newTestArchive(t *testing.T) (*Archive, *events.Router) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	a, err := Open(path)
	require.NoError(t, err)
	router := events.NewRouter()
	a.Attach(router)
	t.Cleanup(func() {
		router.Close()
		require.NoError(t, a.Close())
	})
	return a, router
}

func waitForEvents(t *testing.T, a *Archive, n int) []Entry {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := a.Events(0, 100)
		require.NoError(t, err)
		if len(entries) >= n {
			return entries
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("archive did not reach %d events before deadline", n)
	return nil
}

func TestArchivesEventsInOrder(t *testing.T) {
	a, router := newTestArchive(t)

	router.Publish(events.Event{Topic: events.TopicComponentRegistered, Source: "one"})
	router.Publish(events.Event{Topic: events.TopicComponentHeartbeat, Source: "one"})
	router.Publish(events.Event{Topic: events.TopicComponentLifecycle, Source: "two"})

	entries := waitForEvents(t, a, 3)
	assert.Equal(t, string(events.TopicComponentRegistered), entries[0].Topic)
	assert.Equal(t, string(events.TopicComponentHeartbeat), entries[1].Topic)
	assert.Equal(t, string(events.TopicComponentLifecycle), entries[2].Topic)
	assert.Less(t, entries[0].Seq, entries[1].Seq)
}

func TestEventsPagination(t *testing.T) {
	a, router := newTestArchive(t)

	for i := 0; i < 5; i++ {
		router.Publish(events.Event{Topic: events.TopicComponentHeartbeat, Source: "c"})
	}
	all := waitForEvents(t, a, 5)

	rest, err := a.Events(all[1].Seq, 100)
	require.NoError(t, err)
	assert.Len(t, rest, 3)
	assert.Equal(t, all[2].Seq, rest[0].Seq)
}

func TestDiffHistoryIndexedByComponent(t *testing.T) {
	a, router := newTestArchive(t)

	diff := &types.StateDiff{
		ComponentID: "sensor",
		Version:     3,
		Severity:    types.SeverityWarning,
		Mismatches: []types.Mismatch{
			{Key: "mode", Kind: types.MismatchValueMismatch},
		},
	}
	router.Publish(events.Event{Topic: events.TopicStateDiff, Source: "sensor", Diff: diff})
	router.Publish(events.Event{Topic: events.TopicStateDiff, Source: "other", Diff: &types.StateDiff{ComponentID: "other"}})

	waitForEvents(t, a, 2)

	history, err := a.DiffHistory("sensor")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, uint64(3), history[0].Version)
	assert.Equal(t, types.SeverityWarning, history[0].Severity)
}

func TestTicketHistoryIndexedByComponent(t *testing.T) {
	a, router := newTestArchive(t)

	ticket := &types.Ticket{
		ID:          "t1",
		ComponentID: "analyzer",
		Category:    "state_mismatch",
		Status:      types.TicketResolved,
		Remedy:      "reload configuration",
	}
	router.Publish(events.Event{Topic: events.TopicProblemResolved, Source: "analyzer", Ticket: ticket})

	waitForEvents(t, a, 1)

	history, err := a.TicketHistory("analyzer")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "reload configuration", history[0].Remedy)

	empty, err := a.TicketHistory("unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
