package tcpserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MyJetTools/my-no-sql-server-sub000/db"
	"github.com/MyJetTools/my-no-sql-server-sub000/events"
	"github.com/MyJetTools/my-no-sql-server-sub000/ops"
	"github.com/MyJetTools/my-no-sql-server-sub000/readers"
	"github.com/MyJetTools/my-no-sql-server-sub000/readers/wire"
)

func newTestServer(t *testing.T) (*Server, *readers.Session) {
	t.Helper()
	core := ops.NewCore(db.New(), events.NewDispatcher())
	core.Initialized.Set()
	registry := readers.NewRegistry()
	server := NewServer(core, registry)
	session := registry.Register(readers.KindTCP, "10.0.0.1")
	return server, session
}

func decodeOne(t *testing.T, frames [][]byte) wire.Frame {
	t.Helper()
	require.Len(t, frames, 1)
	decoded := frames[0]
	require.GreaterOrEqual(t, len(decoded), 5)
	return wire.Frame{Op: decoded[4], Payload: decoded[5:]}
}

func clientFrame(t *testing.T, raw []byte) wire.Frame {
	t.Helper()
	require.GreaterOrEqual(t, len(raw), 5)
	return wire.Frame{Op: raw[4], Payload: raw[5:]}
}

func TestDispatchPing(t *testing.T) {
	server, session := newTestServer(t)

	require.True(t, server.dispatch(session, clientFrame(t, wire.Ping())))
	reply := decodeOne(t, session.Dequeue())
	assert.Equal(t, wire.OpPong, reply.Op)
}

func TestDispatchGreeting(t *testing.T) {
	server, session := newTestServer(t)

	require.True(t, server.dispatch(session, clientFrame(t, wire.Greeting("reader;1.0"))))
	assert.Equal(t, "reader", session.Name())
	assert.Equal(t, "1.0", session.Version())
}

func TestSubscribeUnknownTable(t *testing.T) {
	server, session := newTestServer(t)

	require.True(t, server.dispatch(session, clientFrame(t, wire.Subscribe("nope"))))
	reply := decodeOne(t, session.Dequeue())
	assert.Equal(t, wire.OpTableNotFound, reply.Op)
	assert.False(t, session.SubscribedTo("nope"))
}

func TestSubscribeQueuesFirstInit(t *testing.T) {
	server, session := newTestServer(t)
	_, _, err := server.Core.DB.CreateTableIfMissing("orders", db.DefaultAttributes(1), 1)
	require.NoError(t, err)

	require.True(t, server.dispatch(session, clientFrame(t, wire.Subscribe("orders"))))
	assert.True(t, session.SubscribedTo("orders"))
	assert.Equal(t, 1, server.Core.Dispatcher.Depth())

	// A duplicate subscribe queues nothing further.
	require.True(t, server.dispatch(session, clientFrame(t, wire.Subscribe("orders"))))
	assert.Equal(t, 1, server.Core.Dispatcher.Depth())
}

func TestSubscribeBeforeInitializationDefers(t *testing.T) {
	server, session := newTestServer(t)
	server.Core.Initialized.UnSet()

	require.True(t, server.dispatch(session, clientFrame(t, wire.Subscribe("orders"))))
	assert.True(t, session.SubscribedTo("orders"))
	assert.Equal(t, 0, server.Core.Dispatcher.Depth())
	assert.Equal(t, []string{"orders"}, session.TakeDeferredFirstInits())
}

func TestDispatchConfirmableCommand(t *testing.T) {
	server, session := newTestServer(t)
	_, _, err := server.Core.DB.CreateTableIfMissing("orders", db.DefaultAttributes(1), 1)
	require.NoError(t, err)

	raw := wire.UpdatePartitionsLastReadTime(42, "orders", []string{"p1"})
	require.True(t, server.dispatch(session, clientFrame(t, raw)))

	reply := decodeOne(t, session.Dequeue())
	assert.Equal(t, wire.OpConfirmation, reply.Op)
}

func TestDispatchCommandOnMissingTable(t *testing.T) {
	server, session := newTestServer(t)

	raw := wire.UpdatePartitionsLastReadTime(42, "nope", []string{"p1"})
	require.True(t, server.dispatch(session, clientFrame(t, raw)))

	reply := decodeOne(t, session.Dequeue())
	assert.Equal(t, wire.OpError, reply.Op)
}

func TestDispatchBadFrameDropsConnection(t *testing.T) {
	server, session := newTestServer(t)

	assert.False(t, server.dispatch(session, wire.Frame{Op: 250}))
	reply := decodeOne(t, session.Dequeue())
	assert.Equal(t, wire.OpError, reply.Op)
}
