package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/MyJetTools/my-no-sql-server-sub000/db"
	"github.com/MyJetTools/my-no-sql-server-sub000/events"
)

// Long-poll frame kinds.
const (
	KindInitTable      = "initTable"
	KindInitPartitions = "initPartitions"
	KindUpdateRows     = "updateRows"
	KindDeleteRows     = "deleteRows"
)

// snapshotJSON renders a full table snapshot as one JSON array, in
// partition-key order then row-key order.
func snapshotJSON(snapshot map[string][]*db.Row) []byte {
	pks := make([]string, 0, len(snapshot))
	for pk := range snapshot {
		pks = append(pks, pk)
	}
	sort.Strings(pks)

	var buf bytes.Buffer
	buf.WriteByte('[')
	first := true
	for _, pk := range pks {
		for _, row := range snapshot[pk] {
			if !first {
				buf.WriteByte(',')
			}
			first = false
			buf.Write(row.Data)
		}
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

// EncodeEventTCP renders a sync event as the TCP frames pushed to one
// subscriber. A first-init event yields the same InitTable frame a
// routine snapshot does.
func EncodeEventTCP(ev events.SyncEvent) [][]byte {
	switch e := ev.(type) {
	case events.TableFirstInit:
		return [][]byte{InitTable(e.TableName(), snapshotJSON(e.Snapshot))}

	case events.InitTable:
		return [][]byte{InitTable(e.TableName(), snapshotJSON(e.Snapshot))}

	case events.InitPartitions:
		pks := make([]string, 0, len(e.Partitions))
		for pk := range e.Partitions {
			pks = append(pks, pk)
		}
		sort.Strings(pks)
		frames := make([][]byte, 0, len(pks))
		for _, pk := range pks {
			frames = append(frames, InitPartition(e.TableName(), pk, events.RowsToJSONArray(e.Partitions[pk])))
		}
		return frames

	case events.UpdateRows:
		var all []*db.Row
		for _, pk := range sortedKeys(e.Rows) {
			all = append(all, e.Rows[pk]...)
		}
		return [][]byte{UpdateRows(e.TableName(), events.RowsToJSONArray(all))}

	case events.DeleteRows:
		var keys [][2]string
		for _, pk := range sortedKeys(e.Rows) {
			for _, rk := range e.Rows[pk] {
				keys = append(keys, [2]string{pk, rk})
			}
		}
		// Frames for partitions dropped whole: an empty init.
		frames := make([][]byte, 0, len(e.DeletedPartitions)+1)
		if len(keys) > 0 {
			frames = append(frames, DeleteRows(e.TableName(), keys))
		}
		for _, pk := range e.DeletedPartitions {
			frames = append(frames, InitPartition(e.TableName(), pk, []byte("[]")))
		}
		return frames
	}
	// Attribute and table-deletion events carry nothing for readers.
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// longPollFrame renders one `(pascal header, u32 body)` long-poll
// frame. The header is `<kind>:{"tableName":"..."}`.
func longPollFrame(kind, table string, body []byte) []byte {
	header := fmt.Sprintf(`%s:{"tableName":%q}`, kind, table)
	if len(header) > 255 {
		header = header[:255]
	}
	buf := make([]byte, 0, 1+len(header)+4+len(body))
	buf = append(buf, byte(len(header)))
	buf = append(buf, header...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(body)))
	return append(buf, body...)
}

// EncodeEventLongPoll renders a sync event as the long-poll frames
// appended to an HTTP GetChanges response body.
func EncodeEventLongPoll(ev events.SyncEvent) []byte {
	switch e := ev.(type) {
	case events.TableFirstInit:
		return longPollFrame(KindInitTable, e.TableName(), snapshotJSON(e.Snapshot))

	case events.InitTable:
		return longPollFrame(KindInitTable, e.TableName(), snapshotJSON(e.Snapshot))

	case events.InitPartitions:
		var body bytes.Buffer
		body.WriteByte('{')
		for i, pk := range sortedKeys(e.Partitions) {
			if i > 0 {
				body.WriteByte(',')
			}
			fmt.Fprintf(&body, "%q:", pk)
			if e.Partitions[pk] == nil {
				body.WriteString("null")
			} else {
				body.Write(events.RowsToJSONArray(e.Partitions[pk]))
			}
		}
		body.WriteByte('}')
		return longPollFrame(KindInitPartitions, e.TableName(), body.Bytes())

	case events.UpdateRows:
		var all []*db.Row
		for _, pk := range sortedKeys(e.Rows) {
			all = append(all, e.Rows[pk]...)
		}
		return longPollFrame(KindUpdateRows, e.TableName(), events.RowsToJSONArray(all))

	case events.DeleteRows:
		var body bytes.Buffer
		body.WriteByte('{')
		first := true
		for _, pk := range sortedKeys(e.Rows) {
			if !first {
				body.WriteByte(',')
			}
			first = false
			fmt.Fprintf(&body, "%q:[", pk)
			for i, rk := range e.Rows[pk] {
				if i > 0 {
					body.WriteByte(',')
				}
				fmt.Fprintf(&body, "%q", rk)
			}
			body.WriteByte(']')
		}
		for _, pk := range e.DeletedPartitions {
			if !first {
				body.WriteByte(',')
			}
			first = false
			fmt.Fprintf(&body, "%q:[]", pk)
		}
		body.WriteByte('}')
		return longPollFrame(KindDeleteRows, e.TableName(), body.Bytes())
	}
	return nil
}

// EmptyLongPoll is the body of a timed-out GetChanges response.
func EmptyLongPoll() []byte { return []byte{} }
