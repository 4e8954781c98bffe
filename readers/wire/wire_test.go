package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MyJetTools/my-no-sql-server-sub000/db"
	"github.com/MyJetTools/my-no-sql-server-sub000/entity"
	"github.com/MyJetTools/my-no-sql-server-sub000/events"
)

// readAll decodes every frame in the buffer.
func readAll(t *testing.T, raw []byte) []Frame {
	t.Helper()
	reader := NewFrameReader(bytes.NewReader(raw))
	var frames []Frame
	for {
		frame, err := reader.Next()
		if err == io.EOF {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, frame)
	}
}

func TestPingFrameBytes(t *testing.T) {
	// u32 length = 1, then the opcode alone.
	assert.Equal(t, []byte{1, 0, 0, 0, OpPing}, Ping())
	assert.Equal(t, []byte{1, 0, 0, 0, OpPong}, Pong())
}

func TestSubscribeFrameBytes(t *testing.T) {
	// length=4+1, opcode, pascal "abc" (len byte + bytes).
	assert.Equal(t, []byte{5, 0, 0, 0, OpSubscribe, 3, 'a', 'b', 'c'}, Subscribe("abc"))
}

func TestConfirmationFrameBytes(t *testing.T) {
	// i64 confirmation id, little-endian.
	assert.Equal(t,
		[]byte{9, 0, 0, 0, OpConfirmation, 0x2A, 0, 0, 0, 0, 0, 0, 0},
		Confirmation(42))
}

func TestUpdateRowsFrameBytes(t *testing.T) {
	got := UpdateRows("t1", []byte(`[{"a":1}]`))
	expected := []byte{17, 0, 0, 0, OpUpdateRows,
		2, 't', '1', // pascal table
		9, 0, 0, 0, // u32 slice length
	}
	expected = append(expected, `[{"a":1}]`...)
	assert.Equal(t, expected, got)
}

func TestDeleteRowsFrameBytes(t *testing.T) {
	got := DeleteRows("t1", [][2]string{{"p1", "r1"}, {"p1", "r2"}})
	expected := []byte{20, 0, 0, 0, OpDeleteRows,
		2, 't', '1',
		2, 0, 0, 0, // u32 pair count
		2, 'p', '1', 2, 'r', '1',
		2, 'p', '1', 2, 'r', '2',
	}
	assert.Equal(t, expected, got)
}

func TestRowsExpirationFrameBytes(t *testing.T) {
	got := UpdateRowsExpirationTime(7, "t1", "p1", []string{"r1"}, 1_000_000)
	expected := []byte{30, 0, 0, 0, OpUpdateRowsExpirationTime,
		7, 0, 0, 0, 0, 0, 0, 0, // i64 confirmation id
		2, 't', '1',
		2, 'p', '1',
		1, 0, 0, 0, // u32 row-key count
		2, 'r', '1',
		0x40, 0x42, 0x0F, 0, 0, 0, 0, 0, // i64 expires micros
	}
	assert.Equal(t, expected, got)
}

func TestFrameReaderStream(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(Ping())
	stream.Write(Subscribe("orders"))
	stream.Write(Greeting("reader-1"))

	frames := readAll(t, stream.Bytes())
	require.Len(t, frames, 3)
	assert.Equal(t, OpPing, frames[0].Op)
	assert.Equal(t, OpSubscribe, frames[1].Op)
	assert.Equal(t, OpGreeting, frames[2].Op)
}

func TestFrameReaderRejectsOversize(t *testing.T) {
	raw := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	_, err := NewFrameReader(bytes.NewReader(raw)).Next()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestFrameReaderTruncatedBody(t *testing.T) {
	raw := Subscribe("orders")
	_, err := NewFrameReader(bytes.NewReader(raw[:len(raw)-2])).Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecodeRoundTrip(t *testing.T) {
	cases := [][]byte{
		Ping(),
		Greeting("my-app;1.2.3"),
		Subscribe("orders"),
		SubscribeAsNode("orders"),
		Unsubscribe("orders"),
		UpdatePartitionsLastReadTime(1, "orders", []string{"p1", "p2"}),
		UpdateRowsLastReadTime(2, "orders", "p1", []string{"r1"}),
		UpdatePartitionsExpirationTime(3, "orders", []string{"p1"}, NoExpiration),
		UpdateRowsExpirationTime(4, "orders", "p1", []string{"r1", "r2"}, 99),
	}
	for _, raw := range cases {
		frames := readAll(t, raw)
		require.Len(t, frames, 1)
		_, err := DecodeCommand(frames[0])
		require.NoError(t, err, "opcode %d", frames[0].Op)
	}
}

func TestDecodeSubscribe(t *testing.T) {
	frames := readAll(t, SubscribeAsNode("orders"))
	cmd, err := DecodeCommand(frames[0])
	require.NoError(t, err)
	sub, ok := cmd.(SubscribeCmd)
	require.True(t, ok)
	assert.Equal(t, "orders", sub.Table)
	assert.True(t, sub.AsNode)
}

func TestDecodeRowsExpiration(t *testing.T) {
	frames := readAll(t, UpdateRowsExpirationTime(11, "orders", "p1", []string{"r1", "r2"}, 77))
	cmd, err := DecodeCommand(frames[0])
	require.NoError(t, err)
	exp, ok := cmd.(RowsExpirationCmd)
	require.True(t, ok)
	assert.Equal(t, int64(11), exp.ConfirmationID)
	assert.Equal(t, "orders", exp.Table)
	assert.Equal(t, "p1", exp.PartitionKey)
	assert.Equal(t, []string{"r1", "r2"}, exp.RowKeys)
	assert.Equal(t, int64(77), exp.Expires)
}

func TestDecodeTruncatedPayload(t *testing.T) {
	full := UpdatePartitionsLastReadTime(5, "orders", []string{"p1", "p2"})
	frames := readAll(t, full)
	frame := frames[0]
	frame.Payload = frame.Payload[:len(frame.Payload)-2]
	_, err := DecodeCommand(frame)
	assert.Error(t, err)
}

func TestDecodeUnknownOpcode(t *testing.T) {
	_, err := DecodeCommand(Frame{Op: 200})
	assert.Error(t, err)
}

func wireRow(pk, rk, payload string) *db.Row {
	return db.NewRow(&entity.Parsed{
		PartitionKey: pk,
		RowKey:       rk,
		Raw:          []byte(payload),
	})
}

func TestEncodeInitTableOrdersPartitions(t *testing.T) {
	ev := events.TableFirstInit{
		EventBase: events.NewEventBase("orders", events.ClientSource(events.Immediately), 1),
		Snapshot: map[string][]*db.Row{
			"p2": {wireRow("p2", "r1", `{"k":"p2r1"}`)},
			"p1": {wireRow("p1", "r1", `{"k":"p1r1"}`), wireRow("p1", "r2", `{"k":"p1r2"}`)},
		},
	}

	frames := EncodeEventTCP(ev)
	require.Len(t, frames, 1)
	decoded := readAll(t, frames[0])
	require.Len(t, decoded, 1)
	assert.Equal(t, OpInitTable, decoded[0].Op)

	r := &payloadReader{buf: decoded[0].Payload}
	table, err := r.pascal()
	require.NoError(t, err)
	assert.Equal(t, "orders", table)
	body, err := r.slice()
	require.NoError(t, err)
	assert.Equal(t, `[{"k":"p1r1"},{"k":"p1r2"},{"k":"p2r1"}]`, string(body))
}

func TestEncodeDeleteRowsEvent(t *testing.T) {
	ev := events.DeleteRows{
		EventBase:         events.NewEventBase("orders", events.ClientSource(events.Immediately), 1),
		Rows:              map[string][]string{"p1": {"r1"}},
		DeletedPartitions: []string{"p2"},
	}

	frames := EncodeEventTCP(ev)
	require.Len(t, frames, 2)

	decoded := readAll(t, frames[0])
	assert.Equal(t, OpDeleteRows, decoded[0].Op)

	decoded = readAll(t, frames[1])
	require.Equal(t, OpInitPartition, decoded[0].Op)
	r := &payloadReader{buf: decoded[0].Payload}
	table, _ := r.pascal()
	pk, _ := r.pascal()
	body, err := r.slice()
	require.NoError(t, err)
	assert.Equal(t, "orders", table)
	assert.Equal(t, "p2", pk)
	assert.Equal(t, "[]", string(body))
}

func TestEncodeLongPollUpdateRows(t *testing.T) {
	ev := events.UpdateRows{
		EventBase: events.NewEventBase("orders", events.ClientSource(events.Immediately), 1),
		Rows:      map[string][]*db.Row{"p1": {wireRow("p1", "r1", `{"k":1}`)}},
	}

	raw := EncodeEventLongPoll(ev)
	header := `updateRows:{"tableName":"orders"}`
	expected := []byte{byte(len(header))}
	expected = append(expected, header...)
	expected = append(expected, 9, 0, 0, 0)
	expected = append(expected, `[{"k":1}]`...)
	assert.Equal(t, expected, raw)
}

func TestEncodeLongPollDeleteRows(t *testing.T) {
	ev := events.DeleteRows{
		EventBase:         events.NewEventBase("orders", events.ClientSource(events.Immediately), 1),
		Rows:              map[string][]string{"p1": {"r1", "r2"}},
		DeletedPartitions: []string{"p2"},
	}

	raw := EncodeEventLongPoll(ev)
	header := `deleteRows:{"tableName":"orders"}`
	require.Greater(t, len(raw), len(header)+5)
	body := raw[1+len(header)+4:]
	assert.JSONEq(t, `{"p1":["r1","r2"],"p2":[]}`, string(body))
}
