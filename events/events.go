// Package events defines the change notifications produced by writes
// and the single-consumer dispatcher that fans them out to reader
// sessions and the persistence planner.
package events

import (
	"bytes"
	"time"

	"github.com/MyJetTools/my-no-sql-server-sub000/db"
)

// SyncPeriod is the coarse delay bucket a client chooses on a write,
// deciding how soon persistence should commit the change.
type SyncPeriod int

// Sync periods, as accepted by the syncPeriod query parameter.
const (
	Immediately SyncPeriod = iota
	Sec1
	Sec5
	Sec15
	Sec30
	Min1
	Asap
)

// DefaultSyncPeriod applies when a request does not choose one.
const DefaultSyncPeriod = Sec5

// ParseSyncPeriod maps the wire form (`i|1|5|15|30|60|a`) to a sync
// period, defaulting to Sec5.
func ParseSyncPeriod(value string) SyncPeriod {
	switch value {
	case "i":
		return Immediately
	case "1":
		return Sec1
	case "5":
		return Sec5
	case "15":
		return Sec15
	case "30":
		return Sec30
	case "60":
		return Min1
	case "a":
		return Asap
	default:
		return DefaultSyncPeriod
	}
}

// Duration returns the persistence delay of the period.
func (s SyncPeriod) Duration() time.Duration {
	switch s {
	case Sec1:
		return time.Second
	case Sec5:
		return 5 * time.Second
	case Sec15:
		return 15 * time.Second
	case Sec30:
		return 30 * time.Second
	case Min1:
		return time.Minute
	default:
		return 0
	}
}

// SourceKind distinguishes who produced an event.
type SourceKind int

// Event sources.
const (
	SourceClient SourceKind = iota
	SourceGarbageCollector
	SourceNodeInit
)

// Source tags an event with its producer and, for client writes, the
// requested sync period.
type Source struct {
	Kind       SourceKind
	SyncPeriod SyncPeriod
}

// ClientSource builds a client-originated source.
func ClientSource(period SyncPeriod) Source {
	return Source{Kind: SourceClient, SyncPeriod: period}
}

// GCSource is the source of garbage-collector events.
var GCSource = Source{Kind: SourceGarbageCollector}

// SyncEvent is a logical change produced by exactly one write.
type SyncEvent interface {
	TableName() string
	EventSource() Source
	// PersistTargetTime is the moment (micros) by which the change
	// should reach the persistence backend.
	PersistTargetTime() int64
}

// EventBase carries the fields shared by all events.
type EventBase struct {
	Table         string
	Source        Source
	PersistTarget int64
}

// NewEventBase stamps an event base with persist target = now + the
// source's sync period.
func NewEventBase(table string, src Source, now int64) EventBase {
	return EventBase{
		Table:         table,
		Source:        src,
		PersistTarget: now + src.SyncPeriod.Duration().Microseconds(),
	}
}

// TableName implements SyncEvent.
func (e EventBase) TableName() string { return e.Table }

// EventSource implements SyncEvent.
func (e EventBase) EventSource() Source { return e.Source }

// PersistTargetTime implements SyncEvent.
func (e EventBase) PersistTargetTime() int64 { return e.PersistTarget }

// InitTable announces that the table content was replaced wholesale;
// Snapshot is the full new content.
type InitTable struct {
	EventBase
	Snapshot map[string][]*db.Row
}

// InitPartitions announces that whole partitions were replaced or
// removed. A nil row slice means the partition is gone.
type InitPartitions struct {
	EventBase
	Partitions map[string][]*db.Row
}

// UpdateRows announces inserted or replaced rows, grouped by
// partition.
type UpdateRows struct {
	EventBase
	Rows map[string][]*db.Row
}

// DeleteRows announces removed rows (row keys by partition) and the
// partitions dropped for becoming empty.
type DeleteRows struct {
	EventBase
	Rows              map[string][]string
	DeletedPartitions []string
}

// DeleteTable announces that the table was removed.
type DeleteTable struct {
	EventBase
}

// UpdateTableAttributes announces an attribute change.
type UpdateTableAttributes struct {
	EventBase
	Attributes db.TableAttributes
}

// TableFirstInit is the snapshot-first delivery for a new subscriber;
// it targets exactly one session and is sent at most once per
// subscribe call.
type TableFirstInit struct {
	EventBase
	TargetSession int64
	Snapshot      map[string][]*db.Row
}

// RowsToJSONArray renders rows as the JSON array of their payloads.
// Rows are already JSON bytes, so this is a plain concatenation.
func RowsToJSONArray(rows []*db.Row) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, row := range rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(row.Data)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}
