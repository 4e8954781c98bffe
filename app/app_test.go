package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MyJetTools/my-no-sql-server-sub000/db"
	"github.com/MyJetTools/my-no-sql-server-sub000/events"
	"github.com/MyJetTools/my-no-sql-server-sub000/persistence/storage/memory"
	"github.com/MyJetTools/my-no-sql-server-sub000/readers"
	"github.com/MyJetTools/my-no-sql-server-sub000/readers/wire"
	"github.com/MyJetTools/my-no-sql-server-sub000/settings"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	a := New(settings.Settings{Location: "test"}, memory.New())
	a.Core.Initialized.Set()
	return a
}

// waitFrames blocks until the session holds at least n frames.
func waitFrames(t *testing.T, session *readers.Session, n int) [][]byte {
	t.Helper()
	deadline := time.After(2 * time.Second)
	var frames [][]byte
	for len(frames) < n {
		select {
		case <-session.Wait():
			frames = append(frames, session.Dequeue()...)
		case <-deadline:
			t.Fatalf("timed out with %d of %d frames", len(frames), n)
		}
	}
	return frames
}

func TestSubscriberReceivesSnapshotThenDelta(t *testing.T) {
	a := newTestApp(t)
	a.StartDispatcher()
	defer a.Shutdown(context.Background())

	require.NoError(t, a.Core.CreateTableIfMissing("t-test", db.DefaultAttributes(1), events.ClientSource(events.Immediately), 1))
	body := []byte(`{"PartitionKey":"p1","RowKey":"r1","v":1}`)
	require.NoError(t, a.Core.InsertRow("t-test", body, events.ClientSource(events.Immediately), 2))

	session := a.Registry.Register(readers.KindTCP, "10.0.0.1")
	session.Subscribe("t-test")
	table, _ := a.DB.GetTable("t-test")
	a.Dispatcher.Push(events.TableFirstInit{
		EventBase:     events.NewEventBase("t-test", events.ClientSource(events.Immediately), 3),
		TargetSession: session.ID,
		Snapshot:      table.Snapshot(),
	})

	delta := []byte(`{"PartitionKey":"p2","RowKey":"r1","v":2}`)
	require.NoError(t, a.Core.InsertRow("t-test", delta, events.ClientSource(events.Immediately), 4))

	frames := waitFrames(t, session, 2)
	assert.Equal(t, wire.OpInitTable, frames[0][4])
	assert.Equal(t, wire.OpUpdateRows, frames[1][4])
}

// A write racing a fresh subscription must never reach the reader
// ahead of its InitTable: deltas queued before the snapshot marker are
// withheld, and the snapshot captured at delivery already contains
// them.
func TestSubscriberNeverSeesDeltaBeforeSnapshot(t *testing.T) {
	a := newTestApp(t)
	a.StartDispatcher()
	defer a.Shutdown(context.Background())

	require.NoError(t, a.Core.CreateTableIfMissing("t-test", db.DefaultAttributes(1), events.ClientSource(events.Immediately), 1))
	require.NoError(t, a.Core.InsertRow("t-test", []byte(`{"PartitionKey":"p1","RowKey":"r1","v":1}`), events.ClientSource(events.Immediately), 2))

	session := a.Registry.Register(readers.KindTCP, "10.0.0.1")
	session.Subscribe("t-test")

	// This write's delta is queued ahead of the snapshot marker.
	require.NoError(t, a.Core.InsertRow("t-test", []byte(`{"PartitionKey":"p2","RowKey":"r1","v":2}`), events.ClientSource(events.Immediately), 3))
	a.Dispatcher.Push(events.TableFirstInit{
		EventBase:     events.NewEventBase("t-test", events.ClientSource(events.Immediately), 4),
		TargetSession: session.ID,
	})
	require.NoError(t, a.Core.InsertRow("t-test", []byte(`{"PartitionKey":"p3","RowKey":"r1","v":3}`), events.ClientSource(events.Immediately), 5))

	frames := waitFrames(t, session, 2)
	require.Equal(t, wire.OpInitTable, frames[0][4])
	assert.Contains(t, string(frames[0]), `"PartitionKey":"p2"`)
	require.Equal(t, wire.OpUpdateRows, frames[1][4])
	assert.Contains(t, string(frames[1]), `"PartitionKey":"p3"`)
}

func TestFirstInitTargetsOneSession(t *testing.T) {
	a := newTestApp(t)
	a.StartDispatcher()
	defer a.Shutdown(context.Background())

	require.NoError(t, a.Core.CreateTableIfMissing("t-test", db.DefaultAttributes(1), events.ClientSource(events.Immediately), 1))

	target := a.Registry.Register(readers.KindTCP, "10.0.0.1")
	other := a.Registry.Register(readers.KindTCP, "10.0.0.2")
	target.Subscribe("t-test")
	other.Subscribe("t-test")

	table, _ := a.DB.GetTable("t-test")
	a.Dispatcher.Push(events.TableFirstInit{
		EventBase:     events.NewEventBase("t-test", events.ClientSource(events.Immediately), 2),
		TargetSession: target.ID,
		Snapshot:      table.Snapshot(),
	})

	frames := waitFrames(t, target, 1)
	assert.Equal(t, wire.OpInitTable, frames[0][4])
	assert.Equal(t, int64(0), other.PendingBytes())
}

func TestCompleteInitializationReleasesDeferredSnapshots(t *testing.T) {
	a := New(settings.Settings{}, memory.New())
	a.StartDispatcher()
	defer a.Shutdown(context.Background())

	_, _, err := a.DB.CreateTableIfMissing("t-test", db.DefaultAttributes(1), 1)
	require.NoError(t, err)

	session := a.Registry.Register(readers.KindTCP, "10.0.0.1")
	session.Subscribe("t-test")
	session.DeferFirstInit("t-test")
	session.Subscribe("gone")
	session.DeferFirstInit("gone")

	a.CompleteInitialization()

	// One InitTable for the live table, one TableNotFound for the
	// vanished one.
	frames := waitFrames(t, session, 2)
	ops := []byte{frames[0][4], frames[1][4]}
	assert.Contains(t, ops, wire.OpInitTable)
	assert.Contains(t, ops, wire.OpTableNotFound)
	assert.False(t, session.SubscribedTo("gone"))
}

func TestShutdownFlushesDirtyState(t *testing.T) {
	a := newTestApp(t)
	a.StartDispatcher()

	attributes := db.DefaultAttributes(1)
	attributes.Persist = true
	require.NoError(t, a.Core.CreateTableIfMissing("t-test", attributes, events.ClientSource(events.Min1), 1))
	body := []byte(`{"PartitionKey":"p1","RowKey":"r1","v":1}`)
	require.NoError(t, a.Core.InsertRow("t-test", body, events.ClientSource(events.Min1), 2))

	require.NoError(t, a.Shutdown(context.Background()))

	content, err := a.Backend.LoadFile(context.Background(), "t-test", "cDE=")
	require.NoError(t, err)
	assert.Contains(t, string(content), `"RowKey":"r1"`)
}
