package db

import (
	"sync/atomic"

	"github.com/google/btree"
)

const btreeDegree = 32

// expirationEntry is one entry of the secondary expiration index,
// ordered by (moment, row key).
type expirationEntry struct {
	at     int64
	rowKey string
	row    *Row
}

func expirationLess(a, b expirationEntry) bool {
	if a.at != b.at {
		return a.at < b.at
	}
	return a.rowKey < b.rowKey
}

func rowLess(a, b *Row) bool {
	return a.RowKey < b.RowKey
}

// Partition maps row keys to rows within one table partition. Row keys
// are unique and ordered, which range scans rely on. A secondary index
// orders rows by expiration moment so that expired-row GC never scans
// the whole partition. All mutating access is guarded by the owning
// table's exclusive section.
type Partition struct {
	Key string

	rows       *btree.BTreeG[*Row]
	expiration *btree.BTreeG[expirationEntry]

	lastReadAccess  int64 // atomic micros
	lastWriteMoment int64

	// expires is a client-managed partition expiration hint, settable
	// through the reader protocol. It is reported, not enforced.
	expires    int64
	hasExpires bool

	dataSize int
}

// NewPartition creates an empty partition for the given key.
func NewPartition(key string) *Partition {
	return &Partition{
		Key:        key,
		rows:       btree.NewG(btreeDegree, rowLess),
		expiration: btree.NewG(btreeDegree, expirationLess),
	}
}

// Insert adds the row if no row with its row key exists yet and
// reports whether it did.
func (p *Partition) Insert(row *Row) bool {
	if _, ok := p.rows.Get(row); ok {
		return false
	}
	p.rows.ReplaceOrInsert(row)
	p.indexExpiration(row)
	p.dataSize += row.Size()
	return true
}

// InsertOrReplace stores the row, returning the row previously held at
// its row key, if any.
func (p *Partition) InsertOrReplace(row *Row) *Row {
	prev, hadPrev := p.rows.ReplaceOrInsert(row)
	if hadPrev {
		p.unindexExpiration(prev)
		p.dataSize -= prev.Size()
	}
	p.indexExpiration(row)
	p.dataSize += row.Size()
	if !hadPrev {
		return nil
	}
	return prev
}

// Remove deletes the row at the given row key, returning it if it was
// present.
func (p *Partition) Remove(rowKey string) (*Row, bool) {
	removed, ok := p.rows.Delete(&Row{RowKey: rowKey})
	if !ok {
		return nil, false
	}
	p.unindexExpiration(removed)
	p.dataSize -= removed.Size()
	return removed, true
}

// Get returns a shared handle to the row at the given row key without
// touching access statistics.
func (p *Partition) Get(rowKey string) (*Row, bool) {
	return p.rows.Get(&Row{RowKey: rowKey})
}

// GetAndBumpRead returns the row at the given row key and records the
// read moment on it.
func (p *Partition) GetAndBumpRead(rowKey string, now int64) (*Row, bool) {
	row, ok := p.rows.Get(&Row{RowKey: rowKey})
	if !ok {
		return nil, false
	}
	row.BumpReadAccess(now)
	return row, true
}

// Rows returns all rows in ascending row-key order.
func (p *Partition) Rows() []*Row {
	result := make([]*Row, 0, p.rows.Len())
	p.rows.Ascend(func(row *Row) bool {
		result = append(result, row)
		return true
	})
	return result
}

// RowsCount returns the number of rows held.
func (p *Partition) RowsCount() int {
	return p.rows.Len()
}

// DataSize returns the summed payload size of all rows.
func (p *Partition) DataSize() int {
	return p.dataSize
}

// RangeBelow returns rows with row key strictly below the given key,
// ordered highest-first, up to limit rows. limit <= 0 means no limit.
func (p *Partition) RangeBelow(rowKey string, limit int) []*Row {
	var result []*Row
	p.rows.DescendLessOrEqual(&Row{RowKey: rowKey}, func(row *Row) bool {
		if row.RowKey == rowKey {
			return true
		}
		result = append(result, row)
		return limit <= 0 || len(result) < limit
	})
	return result
}

// RowsToExpire returns all rows whose expiration moment is at or
// before now, via the expiration index.
func (p *Partition) RowsToExpire(now int64) []*Row {
	var result []*Row
	p.expiration.AscendLessThan(expirationEntry{at: now + 1}, func(e expirationEntry) bool {
		result = append(result, e.row)
		return true
	})
	return result
}

// SetExpiration updates the row's expiration moment and keeps the
// expiration index consistent. has=false clears the expiration.
func (p *Partition) SetExpiration(row *Row, at int64, has bool) {
	p.unindexExpiration(row)
	row.hasExpires = has
	if has {
		row.expires = at
	} else {
		row.expires = 0
	}
	p.indexExpiration(row)
}

// LastReadAccess returns the partition's last read-access moment.
func (p *Partition) LastReadAccess() int64 {
	return atomic.LoadInt64(&p.lastReadAccess)
}

// BumpReadAccess records a read of this partition.
func (p *Partition) BumpReadAccess(now int64) {
	atomic.StoreInt64(&p.lastReadAccess, now)
}

// LastWriteMoment returns the partition's last write moment.
func (p *Partition) LastWriteMoment() int64 {
	return p.lastWriteMoment
}

// MarkWrite records a write on this partition.
func (p *Partition) MarkWrite(now int64) {
	p.lastWriteMoment = now
}

// Expires returns the partition-level expiration hint.
func (p *Partition) Expires() (int64, bool) {
	return p.expires, p.hasExpires
}

// SetExpires stores the partition-level expiration hint.
func (p *Partition) SetExpires(at int64, has bool) {
	p.hasExpires = has
	if has {
		p.expires = at
	} else {
		p.expires = 0
	}
}

func (p *Partition) indexExpiration(row *Row) {
	if at, ok := row.Expires(); ok {
		p.expiration.ReplaceOrInsert(expirationEntry{at: at, rowKey: row.RowKey, row: row})
	}
}

func (p *Partition) unindexExpiration(row *Row) {
	if at, ok := row.Expires(); ok {
		p.expiration.Delete(expirationEntry{at: at, rowKey: row.RowKey})
	}
}
