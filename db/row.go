// Package db holds the in-memory data model: rows, partitions, tables
// and the table registry. Rows are immutable JSON payloads shared
// between the owning partition, reader snapshots and the expiration
// index; a row handed out by a read stays valid after the slot in the
// partition has been replaced.
package db

import (
	"sync/atomic"

	"github.com/MyJetTools/my-no-sql-server-sub000/entity"
)

// Row owns the data of a single stored row. The payload is the
// rewritten JSON body with the server-assigned TimeStamp. Everything
// but the read-access moment and the expiration is fixed at
// construction; expiration changes go through the owning partition so
// the expiration index stays consistent.
type Row struct {
	PartitionKey string
	RowKey       string
	Data         []byte

	// TimeStamp is the microsecond write moment, used for optimistic
	// concurrency on Replace.
	TimeStamp int64

	expires        int64 // micros
	hasExpires     bool
	lastReadAccess int64 // atomic micros
}

// NewRow builds a row from a parse result.
func NewRow(p *entity.Parsed) *Row {
	r := &Row{
		PartitionKey: p.PartitionKey,
		RowKey:       p.RowKey,
		Data:         p.Raw,
		TimeStamp:    p.TimeStamp,
	}
	if p.HasExpires {
		r.expires = p.Expires
		r.hasExpires = true
	}
	return r
}

// Expires returns the expiration moment and whether the row expires
// at all.
func (r *Row) Expires() (int64, bool) {
	return r.expires, r.hasExpires
}

// LastReadAccess returns the last read-access moment.
func (r *Row) LastReadAccess() int64 {
	return atomic.LoadInt64(&r.lastReadAccess)
}

// BumpReadAccess records a read of this row.
func (r *Row) BumpReadAccess(now int64) {
	atomic.StoreInt64(&r.lastReadAccess, now)
}

// Size returns the payload size in bytes.
func (r *Row) Size() int {
	return len(r.Data)
}
